package server

import (
	"context"
	"time"
)

// runJanitor owns the periodic timers: the heartbeat sweep that drops idle
// connections and the hourly ledger/store cleanup. Both tolerate running
// concurrently with connection handlers.
func (s *Server) runJanitor(ctx context.Context) {
	heartbeatTicker := time.NewTicker(s.cfg.HeartbeatInterval)
	ledgerTicker := time.NewTicker(s.cfg.LedgerInterval)
	defer heartbeatTicker.Stop()
	defer ledgerTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			s.sweepConnections()
		case <-ledgerTicker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Server) sweepConnections() {
	n := s.registry.Sweep(s.cfg.ConnectionTimeout)
	if n == 0 {
		return
	}
	metricActiveConnections.Sub(float64(n))
	metricSweptConnectionsTotal.Add(float64(n))
	s.log.Warn("idle connections dropped", "count", n, "timeout", s.cfg.ConnectionTimeout)
}

func (s *Server) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s.authority.Sweep(cleanupCtx)
	if s.trimmer != nil {
		if n, err := s.trimmer.TrimAuditEntries(cleanupCtx, s.cfg.AuditRetention); err != nil {
			s.log.Warn("audit trim failed", "err", err)
		} else if n > 0 {
			s.log.Debug("audit entries trimmed", "count", n)
		}
	}
}

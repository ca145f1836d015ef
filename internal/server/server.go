// Package server implements the automatus bridge service: the WebSocket
// listener, the connection registry, and the command dispatch state
// machine that routes authenticated requests to the capability provider.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luCUBEratur/automatus/internal/audit"
	"github.com/luCUBEratur/automatus/internal/breaker"
	"github.com/luCUBEratur/automatus/internal/bridgeproto"
	"github.com/luCUBEratur/automatus/internal/config"
	"github.com/luCUBEratur/automatus/internal/domain"
	"github.com/luCUBEratur/automatus/internal/policy"
	"github.com/luCUBEratur/automatus/internal/provider"
	"github.com/luCUBEratur/automatus/internal/token"
)

// Lifecycle states for the bridge service.
const (
	stateCreated int32 = iota
	stateRunning
	stateStopping
	stateStopped
)

func stateName(state int32) string {
	switch state {
	case stateCreated:
		return "created"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	}
	return "unknown"
}

// AuditTrimmer caps the persisted audit trail. Optional.
type AuditTrimmer interface {
	TrimAuditEntries(ctx context.Context, keep int) (int64, error)
}

// Deps are the collaborators wired into a [Server]. Authority, Phase, and
// Provider are required; Trail and Trimmer may be nil.
type Deps struct {
	Authority *token.Authority
	Phase     *policy.PhaseController
	Provider  provider.Provider
	Trail     *audit.Trail
	Trimmer   AuditTrimmer
}

// Server is the bridge service orchestrator: it owns the socket listener,
// the connection registry, the circuit breakers, and the janitor.
type Server struct {
	cfg       config.ServerConfig
	log       *slog.Logger
	authority *token.Authority
	phase     *policy.PhaseController
	provider  provider.Provider
	trail     *audit.Trail
	trimmer   AuditTrimmer
	registry  *Registry
	breakers  *breaker.Registry

	state   atomic.Int32
	started time.Time

	commandsExecuted atomic.Int64
	errorCount       atomic.Int64

	httpServer *http.Server
	listener   net.Listener
	cancelJan  context.CancelFunc
	wg         sync.WaitGroup
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New wires a bridge server. It does not start listening; call [Server.Start]
// or [Server.Run].
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		log:       logger,
		authority: deps.Authority,
		phase:     deps.Phase,
		provider:  deps.Provider,
		trail:     deps.Trail,
		trimmer:   deps.Trimmer,
		registry:  NewRegistry(cfg.MessageLimit, cfg.MessageWindow),
		breakers: breaker.NewRegistry(breaker.Config{
			Threshold: cfg.BreakerThreshold,
			Window:    cfg.BreakerWindow,
			CoolDown:  cfg.BreakerCoolDown,
		}),
	}
}

// Registry exposes the connection registry for health reporting and tests.
func (s *Server) Registry() *Registry { return s.registry }

// Breakers exposes the circuit-breaker registry for health reporting and
// tests.
func (s *Server) Breakers() *breaker.Registry { return s.breakers }

// Addr returns the bound listen address once the server is running.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and begins accepting connections. A second
// Start on a running or stopped instance is a warning, not a crash.
func (s *Server) Start() error {
	if !s.state.CompareAndSwap(stateCreated, stateRunning) {
		s.log.Warn("start ignored", "state", stateName(s.state.Load()))
		return domain.ErrAlreadyRunning
	}
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bridge", s.handleBridge)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	raw, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.state.Store(stateStopped)
		return fmt.Errorf("bridge listen: %w", err)
	}
	ln, err := s.wrapTLS(raw)
	if err != nil {
		_ = raw.Close()
		s.state.Store(stateStopped)
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	janCtx, cancel := context.WithCancel(context.Background())
	s.cancelJan = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJanitor(janCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("bridge server failed", "err", err)
		}
	}()

	s.log.Info("bridge listening", "addr", ln.Addr().String(), "tls", s.cfg.TLSMode, "safety_phase", s.phase.Current())
	return nil
}

// Stop gracefully closes all live sockets, releases the port, and stops
// the janitor. Idempotent; tolerates zero connections.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateRunning, stateStopping) {
		return nil
	}
	defer s.state.Store(stateStopped)

	s.registry.CloseAll()
	if s.cancelJan != nil {
		s.cancelJan()
	}
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	s.log.Info("bridge stopped", "uptime", time.Since(s.started).Round(time.Second).String())
	return err
}

// Run starts the server and blocks until ctx is cancelled, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	c := s.registry.Accept(conn, host)
	metricConnectionsTotal.Inc()
	metricActiveConnections.Inc()
	s.log.Info("client connected", "conn_id", c.id, "addr", host)

	if err := c.writeJSON(bridgeproto.NewAuthChallenge(c.id)); err != nil {
		s.log.Warn("failed to send auth challenge", "conn_id", c.id, "err", err)
		s.teardown(c)
		return
	}

	s.readLoop(r.Context(), c)
}

// readLoop processes a connection's frames strictly in arrival order, so
// responses for one socket are never reordered.
func (s *Server) readLoop(ctx context.Context, c *Connection) {
	defer s.teardown(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("connection read error", "conn_id", c.id, "err", err)
			}
			return
		}
		s.dispatch(ctx, c, data)
	}
}

func (s *Server) teardown(c *Connection) {
	c.close()
	if s.registry.Remove(c.id) {
		metricActiveConnections.Dec()
		s.log.Info("client disconnected", "conn_id", c.id)
	}
}

type healthStatus struct {
	Status           string `json:"status"`
	Connections      int    `json:"connections"`
	CommandsExecuted int64  `json:"commandsExecuted"`
	Errors           int64  `json:"errors"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	SafetyPhase      int    `json:"safetyPhase"`
	ActiveTokens     int    `json:"activeTokens"`
	OpenBreakers     int    `json:"openBreakers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{
		Status:           "ok",
		Connections:      s.registry.Count(),
		CommandsExecuted: s.commandsExecuted.Load(),
		Errors:           s.errorCount.Load(),
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		SafetyPhase:      s.phase.Current(),
		ActiveTokens:     s.authority.ActiveTokenCount(),
		OpenBreakers:     s.breakers.OpenCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

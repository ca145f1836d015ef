package token

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Ledger defaults mirror the bridge abuse policy: 20 failures from one
// address inside a rolling hour creates a one-hour block, and attempts are
// capped at 10 per rolling five minutes before signature verification is
// even attempted.
const (
	DefaultFailureThreshold = 20
	DefaultFailureWindow    = time.Hour
	DefaultBlockDuration    = time.Hour
	DefaultAttemptLimit     = 10
	DefaultAttemptWindow    = 5 * time.Minute

	// ledgerIdleAge is how long an address with no activity is kept before
	// the sweep evicts its entry.
	ledgerIdleAge = 2 * time.Hour
)

// LedgerConfig tunes the IP reputation ledger.
type LedgerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	BlockDuration    time.Duration
	AttemptLimit     int
	AttemptWindow    time.Duration
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = DefaultBlockDuration
	}
	if c.AttemptLimit <= 0 {
		c.AttemptLimit = DefaultAttemptLimit
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = DefaultAttemptWindow
	}
	return c
}

// reputation is the per-address ledger entry: a rolling failure window, an
// optional block, and the attempt limiter.
type reputation struct {
	failures     []time.Time
	blockedUntil time.Time
	blockReason  string
	limiter      *rate.Limiter
	lastSeen     time.Time
}

// Ledger tracks authentication abuse per source address. All methods are
// safe for concurrent use by connection handlers and the sweep timer.
type Ledger struct {
	mu    sync.Mutex
	cfg   LedgerConfig
	addrs map[string]*reputation
	now   func() time.Time
}

// NewLedger creates a ledger with the given config.
func NewLedger(cfg LedgerConfig) *Ledger {
	return &Ledger{
		cfg:   cfg.withDefaults(),
		addrs: make(map[string]*reputation),
		now:   time.Now,
	}
}

func (l *Ledger) entry(addr string) *reputation {
	r := l.addrs[addr]
	if r == nil {
		r = &reputation{
			limiter: rate.NewLimiter(
				rate.Every(l.cfg.AttemptWindow/time.Duration(l.cfg.AttemptLimit)),
				l.cfg.AttemptLimit,
			),
		}
		l.addrs[addr] = r
	}
	r.lastSeen = l.now()
	return r
}

// Blocked reports whether addr is currently blocked, and the reason.
// Expired blocks are cleared lazily.
func (l *Ledger) Blocked(addr string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.addrs[addr]
	if r == nil {
		return "", false
	}
	if r.blockedUntil.IsZero() {
		return "", false
	}
	if l.now().After(r.blockedUntil) {
		r.blockedUntil = time.Time{}
		r.blockReason = ""
		return "", false
	}
	return r.blockReason, true
}

// AllowAttempt consumes one authentication attempt for addr and reports
// whether it is under the attempt rate limit.
func (l *Ledger) AllowAttempt(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry(addr).limiter.Allow()
}

// RecordFailure adds a timestamped failure for addr. Reaching the failure
// threshold inside the rolling window auto-creates a block; the return
// value reports whether this failure did so.
func (l *Ledger) RecordFailure(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r := l.entry(addr)
	cutoff := now.Add(-l.cfg.FailureWindow)
	kept := r.failures[:0]
	for _, ts := range r.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.failures = append(kept, now)

	if len(r.failures) >= l.cfg.FailureThreshold && r.blockedUntil.IsZero() {
		r.blockedUntil = now.Add(l.cfg.BlockDuration)
		r.blockReason = "authentication failure threshold exceeded"
		return true
	}
	return false
}

// Block creates an administrative block for addr, independent of the
// automatic failure threshold.
func (l *Ledger) Block(addr, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.entry(addr)
	r.blockedUntil = l.now().Add(l.cfg.BlockDuration)
	r.blockReason = reason
}

// Unblock clears any block for addr along with its failure history.
func (l *Ledger) Unblock(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.addrs[addr]
	if r == nil {
		return
	}
	r.blockedUntil = time.Time{}
	r.blockReason = ""
	r.failures = nil
}

// BlockedUntil returns the block expiry for addr, if blocked.
func (l *Ledger) BlockedUntil(addr string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.addrs[addr]
	if r == nil || r.blockedUntil.IsZero() || l.now().After(r.blockedUntil) {
		return time.Time{}, false
	}
	return r.blockedUntil, true
}

// Sweep purges expired blocks, failures outside the rolling window, and
// idle entries. Called periodically by the janitor.
func (l *Ledger) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.cfg.FailureWindow)
	for addr, r := range l.addrs {
		if !r.blockedUntil.IsZero() && now.After(r.blockedUntil) {
			r.blockedUntil = time.Time{}
			r.blockReason = ""
		}
		kept := r.failures[:0]
		for _, ts := range r.failures {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		r.failures = kept
		if len(r.failures) == 0 && r.blockedUntil.IsZero() && now.Sub(r.lastSeen) > ledgerIdleAge {
			delete(l.addrs, addr)
		}
	}
}

// Size returns the number of tracked addresses, for health reporting.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.addrs)
}

// Package breaker implements the per-command circuit breaker registry.
// Breakers are keyed by (command kind, error code): each key fails
// independently, but a success for a kind clears every error-code counter
// under that kind.
package breaker

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the consecutive-failure count that opens a breaker.
	DefaultThreshold = 5

	// DefaultWindow bounds how long a failure streak stays relevant. A
	// failure arriving after the window restarts the streak at one.
	DefaultWindow = 2 * time.Minute
)

// Config tunes a [Registry].
type Config struct {
	// Threshold is the consecutive failures that open a breaker.
	Threshold int

	// Window is the tracking window for a failure streak.
	Window time.Duration

	// CoolDown, when positive, closes an open breaker after it elapses.
	// Zero disables the timed safety valve; breakers then only close on a
	// success for their kind.
	CoolDown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

type counter struct {
	failures   int
	firstAt    time.Time
	open       bool
	openedAt   time.Time
}

// Registry tracks breaker state across all command kinds. It is shared by
// every connection handler and safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	cfg   Config
	kinds map[string]map[string]*counter
	now   func() time.Time
}

// NewRegistry creates a registry with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:   cfg.withDefaults(),
		kinds: make(map[string]map[string]*counter),
		now:   time.Now,
	}
}

// RecordFailure counts a handler failure for (kind, code). It returns true
// when this failure opened the breaker.
func (r *Registry) RecordFailure(kind, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	codes := r.kinds[kind]
	if codes == nil {
		codes = make(map[string]*counter)
		r.kinds[kind] = codes
	}
	c := codes[code]
	if c == nil {
		c = &counter{}
		codes[code] = c
	}
	if c.open {
		return false
	}
	if c.failures == 0 || now.Sub(c.firstAt) > r.cfg.Window {
		c.failures = 0
		c.firstAt = now
	}
	c.failures++
	if c.failures >= r.cfg.Threshold {
		c.open = true
		c.openedAt = now
		return true
	}
	return false
}

// RecordSuccess clears all breaker state for a kind. The reset is scoped
// per kind, not per (kind, code): one successful command closes every
// error-code breaker it had accumulated.
func (r *Registry) RecordSuccess(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kinds, kind)
}

// IsOpen reports whether the breaker for exactly (kind, code) is open.
func (r *Registry) IsOpen(kind, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.kinds[kind]
	if codes == nil {
		return false
	}
	c := codes[code]
	if c == nil {
		return false
	}
	return r.stillOpen(c)
}

// OpenCode returns the error code of an open breaker for kind, if any.
// The dispatcher uses this to short-circuit before invoking a handler.
func (r *Registry) OpenCode(kind string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, c := range r.kinds[kind] {
		if r.stillOpen(c) {
			return code, true
		}
	}
	return "", false
}

// OpenCount returns how many breakers are currently open, for health
// reporting.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, codes := range r.kinds {
		for _, c := range codes {
			if r.stillOpen(c) {
				n++
			}
		}
	}
	return n
}

// stillOpen applies the optional cool-down. Must be called with the lock
// held.
func (r *Registry) stillOpen(c *counter) bool {
	if !c.open {
		return false
	}
	if r.cfg.CoolDown > 0 && r.now().Sub(c.openedAt) >= r.cfg.CoolDown {
		c.open = false
		c.failures = 0
		return false
	}
	return true
}

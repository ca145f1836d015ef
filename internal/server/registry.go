package server

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// Connection is one live bridge socket. Writes are serialized through
// writeMu; everything else is independently synchronized so the read loop,
// the sweep, and Stop never contend on a single lock.
type Connection struct {
	id         string
	remoteAddr string
	createdAt  time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex

	lastActivity  atomic.Int64 // unix nanos
	authenticated atomic.Bool
	closing       atomic.Bool

	payloadMu sync.Mutex
	payload   domain.TokenPayload

	window *messageWindow
}

// ID returns the registry-assigned connection id.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the client's network address (host only).
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Authenticated reports whether the connection has completed auth.
func (c *Connection) Authenticated() bool { return c.authenticated.Load() }

func (c *Connection) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

func (c *Connection) lastSeen() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// authenticate stamps the decoded token payload onto the connection. The
// unauthenticated-to-authenticated transition happens at most once;
// re-authentication only refreshes the stamped payload.
func (c *Connection) authenticate(payload domain.TokenPayload) {
	c.payloadMu.Lock()
	c.payload = payload
	c.payloadMu.Unlock()
	c.authenticated.Store(true)
}

// Payload returns the token payload stamped at authenticate time.
func (c *Connection) Payload() domain.TokenPayload {
	c.payloadMu.Lock()
	defer c.payloadMu.Unlock()
	return c.payload
}

// writeJSON writes a frame to the socket. Safe for concurrent use; a write
// to a closed socket returns the transport error, never panics.
func (c *Connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// close tears down the socket. Idempotent.
func (c *Connection) close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	_ = c.conn.Close()
}

// Registry tracks live connections keyed by a registry-assigned id, never
// by network address: multiple connections may share an address.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	messageLimit  int
	messageWindow time.Duration
}

// NewRegistry creates a registry whose connections carry a fresh
// message-rate window with the given limit.
func NewRegistry(messageLimit int, messageWindow time.Duration) *Registry {
	return &Registry{
		conns:         make(map[string]*Connection),
		messageLimit:  messageLimit,
		messageWindow: messageWindow,
	}
}

// Accept creates an unauthenticated record for a freshly upgraded socket.
func (r *Registry) Accept(conn *websocket.Conn, remoteAddr string) *Connection {
	now := time.Now()
	c := &Connection{
		id:         newConnectionID(now),
		remoteAddr: remoteAddr,
		createdAt:  now,
		conn:       conn,
		window:     newMessageWindow(r.messageLimit, r.messageWindow),
	}
	c.touch(now)

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	return c
}

// Get returns the connection for id, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Authenticate stamps a decoded token payload onto the connection for id.
func (r *Registry) Authenticate(id string, payload domain.TokenPayload) error {
	c := r.Get(id)
	if c == nil {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	c.authenticate(payload)
	return nil
}

// Touch refreshes last-activity for the connection with id.
func (r *Registry) Touch(id string) error {
	c := r.Get(id)
	if c == nil {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	c.touch(time.Now())
	return nil
}

// Remove drops a connection from the registry and closes its socket.
// Safe to call multiple times and from any goroutine; reports whether the
// connection was still registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if c == nil {
		return false
	}
	c.close()
	return true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Sweep closes and removes every connection idle longer than timeout and
// returns how many were dropped. Closing the socket makes its read loop
// fail, which performs the rest of the teardown.
func (r *Registry) Sweep(timeout time.Duration) int {
	now := time.Now()

	r.mu.RLock()
	stale := make([]*Connection, 0)
	for _, c := range r.conns {
		if now.Sub(c.lastSeen()) > timeout {
			stale = append(stale, c)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, c := range stale {
		if r.Remove(c.id) {
			removed++
		}
	}
	return removed
}

// CloseAll closes every live socket. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

var connEntropy = ulid.Monotonic(rand.Reader, 0)
var connEntropyMu sync.Mutex

func newConnectionID(t time.Time) string {
	connEntropyMu.Lock()
	defer connEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), connEntropy).String()
}

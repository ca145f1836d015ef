// Package audit keeps a bounded, append-only trail of privileged bridge
// operations: token issuance and revocation, address blocks, phase
// changes, and gated command executions.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// DefaultRetention is the in-memory entry cap; oldest entries are evicted
// first.
const DefaultRetention = 1000

// Sink receives entries for durable storage. Sink failures are logged and
// never fail the recording path.
type Sink interface {
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error
}

// Trail is the in-memory FIFO audit log, optionally mirrored to a sink.
type Trail struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	max     int
	sink    Sink
	log     *slog.Logger
}

// NewTrail creates a trail retaining at most max entries. sink may be nil.
func NewTrail(max int, sink Sink, logger *slog.Logger) *Trail {
	if max <= 0 {
		max = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{max: max, sink: sink, log: logger}
}

// Record appends an entry, evicting the oldest once retention is reached.
func (t *Trail) Record(operation string, phase int, data map[string]any) {
	entry := domain.AuditEntry{
		Operation:   operation,
		Data:        data,
		SafetyPhase: phase,
		Timestamp:   time.Now().UTC(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.max {
		// FIFO eviction; shift rather than reslice to release the backing
		// array's oldest entries.
		overflow := len(t.entries) - t.max
		t.entries = append(t.entries[:0], t.entries[overflow:]...)
	}
	t.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.AppendAuditEntry(context.Background(), entry); err != nil {
			t.log.Warn("audit sink append failed", "operation", operation, "err", err)
		}
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (t *Trail) Entries() []domain.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.AuditEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of retained entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

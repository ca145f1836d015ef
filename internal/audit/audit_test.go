package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/luCUBEratur/automatus/internal/domain"
)

func TestTrailEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	tr := NewTrail(3, nil, discardLogger())
	for i := range 5 {
		tr.Record(fmt.Sprintf("op-%d", i), 1, nil)
	}

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(entries))
	}
	if entries[0].Operation != "op-2" || entries[2].Operation != "op-4" {
		t.Fatalf("expected FIFO eviction, got %s..%s", entries[0].Operation, entries[2].Operation)
	}
}

func TestTrailRecordsPhaseAndData(t *testing.T) {
	t.Parallel()

	tr := NewTrail(10, nil, discardLogger())
	tr.Record("token.issue", 2, map[string]any{"subject": "dev"})

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SafetyPhase != 2 || e.Data["subject"] != "dev" || e.Timestamp.IsZero() {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

type failingSink struct{ calls int }

func (s *failingSink) AppendAuditEntry(context.Context, domain.AuditEntry) error {
	s.calls++
	return errors.New("disk full")
}

func TestTrailToleratesSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &failingSink{}
	tr := NewTrail(10, sink, discardLogger())
	tr.Record("phase.set", 1, nil)

	if sink.calls != 1 {
		t.Fatalf("expected sink to be invoked once, got %d", sink.calls)
	}
	if tr.Len() != 1 {
		t.Fatal("sink failure must not drop the in-memory entry")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

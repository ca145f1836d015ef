package token

import (
	"testing"
	"time"
)

func TestLedgerAutoBlocksAtFailureThreshold(t *testing.T) {
	t.Parallel()

	l := NewLedger(LedgerConfig{FailureThreshold: 20})

	for i := range 19 {
		if blocked := l.RecordFailure("10.0.0.1"); blocked {
			t.Fatalf("blocked early at failure %d", i+1)
		}
	}
	if !l.RecordFailure("10.0.0.1") {
		t.Fatal("expected auto-block on the 20th failure")
	}
	if _, blocked := l.Blocked("10.0.0.1"); !blocked {
		t.Fatal("expected address to report blocked")
	}
	if _, blocked := l.Blocked("10.0.0.2"); blocked {
		t.Fatal("unrelated address must not be blocked")
	}
}

func TestLedgerFailureWindowIsRolling(t *testing.T) {
	t.Parallel()

	l := NewLedger(LedgerConfig{FailureThreshold: 3, FailureWindow: time.Hour})
	base := time.Unix(10000, 0)
	l.now = func() time.Time { return base }

	l.RecordFailure("addr")
	l.RecordFailure("addr")

	// Two hours later the earlier failures have aged out.
	l.now = func() time.Time { return base.Add(2 * time.Hour) }
	if l.RecordFailure("addr") {
		t.Fatal("stale failures must not count toward the threshold")
	}
}

func TestLedgerBlockExpires(t *testing.T) {
	t.Parallel()

	l := NewLedger(LedgerConfig{BlockDuration: time.Hour})
	base := time.Unix(10000, 0)
	l.now = func() time.Time { return base }

	l.Block("addr", "manual")
	if reason, blocked := l.Blocked("addr"); !blocked || reason != "manual" {
		t.Fatalf("expected manual block, got %q blocked=%v", reason, blocked)
	}

	l.now = func() time.Time { return base.Add(61 * time.Minute) }
	if _, blocked := l.Blocked("addr"); blocked {
		t.Fatal("expected block to expire after its duration")
	}
}

func TestLedgerUnblockClearsHistory(t *testing.T) {
	t.Parallel()

	l := NewLedger(LedgerConfig{FailureThreshold: 3})
	l.RecordFailure("addr")
	l.RecordFailure("addr")
	l.Block("addr", "manual")
	l.Unblock("addr")

	if _, blocked := l.Blocked("addr"); blocked {
		t.Fatal("expected unblock to lift the block")
	}
	// Failure history restarts; two more failures must not trip the
	// threshold of three.
	if l.RecordFailure("addr") || l.RecordFailure("addr") {
		t.Fatal("expected failure history to be cleared by unblock")
	}
}

func TestLedgerAttemptLimit(t *testing.T) {
	t.Parallel()

	l := NewLedger(LedgerConfig{AttemptLimit: 10, AttemptWindow: 5 * time.Minute})

	for i := range 10 {
		if !l.AllowAttempt("addr") {
			t.Fatalf("attempt %d within the burst must be allowed", i+1)
		}
	}
	if l.AllowAttempt("addr") {
		t.Fatal("the 11th immediate attempt must be rejected")
	}
	if !l.AllowAttempt("other") {
		t.Fatal("attempt limits must be scoped per address")
	}
}

func TestLedgerSweepEvictsIdleAndExpired(t *testing.T) {
	t.Parallel()

	l := NewLedger(LedgerConfig{FailureThreshold: 3, FailureWindow: time.Hour, BlockDuration: time.Hour})
	base := time.Unix(10000, 0)
	l.now = func() time.Time { return base }

	l.RecordFailure("stale")
	l.Block("blocked", "manual")
	if l.Size() != 2 {
		t.Fatalf("expected 2 tracked addresses, got %d", l.Size())
	}

	l.now = func() time.Time { return base.Add(3 * time.Hour) }
	l.Sweep()

	if l.Size() != 0 {
		t.Fatalf("expected sweep to evict idle entries, got %d", l.Size())
	}
	if _, blocked := l.Blocked("blocked"); blocked {
		t.Fatal("expected expired block to be purged by sweep")
	}
}

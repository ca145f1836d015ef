package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/luCUBEratur/automatus/internal/domain"
	"github.com/luCUBEratur/automatus/internal/policy"
)

var testClient = domain.ClientDescriptor{Name: "remote-cli", Version: "1.0.0", Platform: "linux"}

func newTestAuthority(t *testing.T, phase int, cfg Config) *Authority {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = []byte("test-secret-test-secret-test-secret")
	}
	a, err := NewAuthority(cfg, policy.NewPhaseController(phase), nil, nil, discardLogger())
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return a
}

func TestIssueValidateRoundTrip(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{})
	ctx := context.Background()

	signed, issued, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.SafetyPhase != 1 {
		t.Fatalf("expected phase 1 token, got %d", issued.SafetyPhase)
	}
	if !slices.Contains(issued.Permissions, domain.PermissionRead) {
		t.Fatalf("expected read permission, got %v", issued.Permissions)
	}
	if slices.Contains(issued.Permissions, domain.PermissionWriteControlled) {
		t.Fatalf("phase 1 token must not carry write_controlled: %v", issued.Permissions)
	}

	got, err := a.Validate(ctx, signed, "10.0.0.1")
	if err != nil {
		t.Fatalf("validate freshly issued token: %v", err)
	}
	if got.Subject != "dev" || got.TokenID != issued.TokenID || got.SessionID != issued.SessionID {
		t.Fatalf("decoded payload mismatch: %+v vs %+v", got, issued)
	}
	if got.Client != testClient {
		t.Fatalf("client descriptor mismatch: %+v", got.Client)
	}
	if a.ActiveTokenCount() != 1 {
		t.Fatalf("expected 1 active token, got %d", a.ActiveTokenCount())
	}
}

func TestValidateFailsAfterExpiry(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{TTL: time.Millisecond})
	ctx := context.Background()

	signed, _, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := a.Validate(ctx, signed, "10.0.0.1"); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateFailsAfterRevocation(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{})
	ctx := context.Background()

	signed, issued, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := a.Revoke(ctx, signed, "compromised"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Idempotent.
	if err := a.Revoke(ctx, signed, "compromised"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	if _, err := a.Validate(ctx, signed, "10.0.0.1"); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	var revokedMeta *domain.TokenMetadata
	for _, meta := range a.Tokens() {
		if meta.TokenID == issued.TokenID {
			m := meta
			revokedMeta = &m
		}
	}
	if revokedMeta == nil || revokedMeta.RevokedAt == nil || revokedMeta.RevokeReason != "compromised" {
		t.Fatalf("expected revocation recorded in metadata, got %+v", revokedMeta)
	}
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{})
	ctx := context.Background()

	t1, _, _ := a.Issue(ctx, testClient, "dev-1")
	t2, _, _ := a.Issue(ctx, testClient, "dev-2")
	a.RevokeAll(ctx, "rotation")

	if _, err := a.Validate(ctx, t1, "10.0.0.1"); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("expected first token revoked, got %v", err)
	}
	if _, err := a.Validate(ctx, t2, "10.0.0.1"); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("expected second token revoked, got %v", err)
	}
}

func TestPhaseDowngradeInvalidatesToken(t *testing.T) {
	t.Parallel()

	pc := policy.NewPhaseController(3)
	a, err := NewAuthority(Config{Secret: []byte("test-secret-test-secret-test-secret")}, pc, nil, nil, discardLogger())
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	ctx := context.Background()

	signed, _, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Validate(ctx, signed, "10.0.0.1"); err != nil {
		t.Fatalf("validate at issuing phase: %v", err)
	}

	// Administrative downgrade must immediately restrict the token even
	// though it has not expired.
	if err := pc.Set(1); err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if _, err := a.Validate(ctx, signed, "10.0.0.1"); !errors.Is(err, domain.ErrPhaseMismatch) {
		t.Fatalf("expected ErrPhaseMismatch, got %v", err)
	}
}

func TestRepeatedFailuresBlockAddress(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{
		// Generous attempt limit so the failure threshold, not the attempt
		// limiter, is what trips.
		Ledger: LedgerConfig{FailureThreshold: 20, AttemptLimit: 1000, AttemptWindow: time.Minute},
	})
	ctx := context.Background()

	for i := range 20 {
		_, err := a.Validate(ctx, "garbage-token", "192.0.2.7")
		if errors.Is(err, domain.ErrAddressBlocked) {
			t.Fatalf("blocked early at attempt %d", i+1)
		}
	}

	// The 21st attempt is rejected on the blocklist, before signature
	// verification.
	if _, err := a.Validate(ctx, "garbage-token", "192.0.2.7"); !errors.Is(err, domain.ErrAddressBlocked) {
		t.Fatalf("expected ErrAddressBlocked, got %v", err)
	}

	// A valid token from the blocked address is rejected too.
	signed, _, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Validate(ctx, signed, "192.0.2.7"); !errors.Is(err, domain.ErrAddressBlocked) {
		t.Fatalf("expected valid token to be rejected for blocked address, got %v", err)
	}
	if _, err := a.Validate(ctx, signed, "192.0.2.8"); err != nil {
		t.Fatalf("other addresses must be unaffected: %v", err)
	}
}

func TestAttemptLimiterRejectsCheaply(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{
		Ledger: LedgerConfig{AttemptLimit: 10, AttemptWindow: 5 * time.Minute, FailureThreshold: 1000},
	})
	ctx := context.Background()

	signed, _, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for range 10 {
		if _, err := a.Validate(ctx, signed, "198.51.100.1"); err != nil {
			t.Fatalf("in-limit attempt failed: %v", err)
		}
	}
	if _, err := a.Validate(ctx, signed, "198.51.100.1"); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestAdministrativeBlockAndUnblock(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{})
	ctx := context.Background()

	signed, _, err := a.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	a.BlockAddress(ctx, "203.0.113.9", "operator action")
	if _, err := a.Validate(ctx, signed, "203.0.113.9"); !errors.Is(err, domain.ErrAddressBlocked) {
		t.Fatalf("expected ErrAddressBlocked, got %v", err)
	}

	a.UnblockAddress(ctx, "203.0.113.9")
	if _, err := a.Validate(ctx, signed, "203.0.113.9"); err != nil {
		t.Fatalf("expected unblocked address to validate: %v", err)
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	t.Parallel()

	issuerA := newTestAuthority(t, 1, Config{Secret: []byte("secret-a-secret-a-secret-a-secret-a")})
	issuerB := newTestAuthority(t, 1, Config{Secret: []byte("secret-b-secret-b-secret-b-secret-b")})
	ctx := context.Background()

	signed, _, err := issuerA.Issue(ctx, testClient, "dev")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuerB.Validate(ctx, signed, "10.0.0.1"); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestSweepDropsExpiredTokens(t *testing.T) {
	t.Parallel()

	a := newTestAuthority(t, 1, Config{TTL: time.Millisecond})
	ctx := context.Background()

	if _, _, err := a.Issue(ctx, testClient, "dev"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	a.Sweep(ctx)

	if a.ActiveTokenCount() != 0 {
		t.Fatalf("expected sweep to drop expired tokens, got %d", a.ActiveTokenCount())
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

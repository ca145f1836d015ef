// Package token implements the bridge token authority: issuance,
// validation, and revocation of signed session tokens, together with the
// IP-abuse ledger that throttles and blocks misbehaving addresses.
package token

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/luCUBEratur/automatus/internal/audit"
	"github.com/luCUBEratur/automatus/internal/domain"
	"github.com/luCUBEratur/automatus/internal/policy"
)

// DefaultTTL is the validity window for issued tokens.
const DefaultTTL = 24 * time.Hour

// Store persists token metadata and block state across restarts. All
// methods must be safe for concurrent use. A nil store keeps the
// authority purely in-memory.
type Store interface {
	SaveIssuedToken(ctx context.Context, meta domain.TokenMetadata) error
	MarkTokenRevoked(ctx context.Context, tokenID, reason string, at time.Time) error
	TouchToken(ctx context.Context, tokenID string, at time.Time) error
	ActiveTokens(ctx context.Context, now time.Time) ([]domain.TokenMetadata, error)
	RevokedTokenIDs(ctx context.Context, now time.Time) (map[string]string, error)
	SaveIPBlock(ctx context.Context, block domain.IPBlock) error
	DeleteIPBlock(ctx context.Context, address string) error
	ActiveIPBlocks(ctx context.Context, now time.Time) ([]domain.IPBlock, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	PurgeExpiredIPBlocks(ctx context.Context, now time.Time) (int64, error)
}

// Claims is the signed content of a session token.
type Claims struct {
	jwt.RegisteredClaims

	SessionID   string                  `json:"sid"`
	Permissions []string                `json:"permissions"`
	SafetyPhase int                     `json:"safety_phase"`
	Client      domain.ClientDescriptor `json:"client"`
}

// Config tunes an [Authority].
type Config struct {
	// Secret is the HMAC signing secret. Required.
	Secret []byte

	// Issuer is the iss claim stamped on issued tokens.
	Issuer string

	// TTL is the token validity window; defaults to [DefaultTTL].
	TTL time.Duration

	// Ledger tunes the IP reputation ledger.
	Ledger LedgerConfig
}

// Authority issues, validates, and revokes session tokens, and owns the
// IP-abuse ledger. It is shared by all connection handlers.
type Authority struct {
	secret []byte
	issuer string
	ttl    time.Duration
	phase  *policy.PhaseController
	ledger *Ledger
	store  Store
	trail  *audit.Trail
	log    *slog.Logger

	mu      sync.Mutex
	active  map[string]*domain.TokenMetadata
	revoked map[string]string // token id -> revocation reason
}

// NewAuthority creates an authority. store and trail may be nil.
func NewAuthority(cfg Config, phase *policy.PhaseController, store Store, trail *audit.Trail, logger *slog.Logger) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token authority requires a signing secret")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "automatus-bridge"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{
		secret:  cfg.Secret,
		issuer:  cfg.Issuer,
		ttl:     cfg.TTL,
		phase:   phase,
		ledger:  NewLedger(cfg.Ledger),
		store:   store,
		trail:   trail,
		log:     logger,
		active:  make(map[string]*domain.TokenMetadata),
		revoked: make(map[string]string),
	}, nil
}

// Ledger exposes the IP reputation ledger for health reporting and tests.
func (a *Authority) Ledger() *Ledger {
	return a.ledger
}

// Hydrate loads persisted revocations, active token metadata, and blocks
// from the store. Called once at boot, before the listener starts.
func (a *Authority) Hydrate(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	now := time.Now().UTC()

	tokens, err := a.store.ActiveTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("hydrate tokens: %w", err)
	}
	// Revoked rows are excluded from ActiveTokens, so the revoked set is
	// rebuilt from its own query. A revocation must outlive a restart for
	// as long as the token itself would.
	revoked, err := a.store.RevokedTokenIDs(ctx, now)
	if err != nil {
		return fmt.Errorf("hydrate revocations: %w", err)
	}
	blocks, err := a.store.ActiveIPBlocks(ctx, now)
	if err != nil {
		return fmt.Errorf("hydrate blocks: %w", err)
	}

	a.mu.Lock()
	for _, meta := range tokens {
		m := meta
		a.active[m.TokenID] = &m
	}
	for id, reason := range revoked {
		a.revoked[id] = reason
	}
	a.mu.Unlock()

	for _, b := range blocks {
		a.ledger.Block(b.Address, b.Reason)
	}
	a.log.Info("token authority hydrated",
		"tokens", len(tokens), "revoked", len(revoked), "blocks", len(blocks))
	return nil
}

// Issue mints a token bound to the permission set of the current live
// safety phase, records it in the active-token index, and returns the
// signed token string alongside its decoded payload.
func (a *Authority) Issue(ctx context.Context, client domain.ClientDescriptor, subject string) (string, domain.TokenPayload, error) {
	if subject == "" {
		return "", domain.TokenPayload{}, errors.New("issue token: subject required")
	}

	now := time.Now().UTC()
	currentPhase := a.phase.Current()
	payload := domain.TokenPayload{
		Subject:     subject,
		SessionID:   newID(now),
		TokenID:     newID(now),
		Permissions: policy.PermissionsForPhase(currentPhase),
		SafetyPhase: currentPhase,
		Client:      client,
		IssuedAt:    now,
		ExpiresAt:   now.Add(a.ttl),
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			ID:        payload.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(payload.ExpiresAt),
		},
		SessionID:   payload.SessionID,
		Permissions: payload.Permissions,
		SafetyPhase: payload.SafetyPhase,
		Client:      client,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", domain.TokenPayload{}, fmt.Errorf("sign token: %w", err)
	}

	meta := domain.TokenMetadata{
		TokenID:     payload.TokenID,
		Subject:     subject,
		SessionID:   payload.SessionID,
		Client:      client,
		SafetyPhase: payload.SafetyPhase,
		Permissions: payload.Permissions,
		IssuedAt:    now,
		ExpiresAt:   payload.ExpiresAt,
	}
	a.mu.Lock()
	a.active[meta.TokenID] = &meta
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.SaveIssuedToken(ctx, meta); err != nil {
			a.log.Warn("failed to persist issued token", "token_id", meta.TokenID, "err", err)
		}
	}
	a.auditRecord("token.issue", map[string]any{
		"subject":  subject,
		"token_id": meta.TokenID,
		"client":   client.Name,
	})
	return signed, payload, nil
}

// Validate checks a presented token from sourceAddr. Order of checks:
// blocklist, attempt rate limit, revocation, signature and expiry, then
// the safety-phase invariant against the live phase. Every failure counts
// against the source address's reputation.
func (a *Authority) Validate(ctx context.Context, tokenStr, sourceAddr string) (domain.TokenPayload, error) {
	if reason, blocked := a.ledger.Blocked(sourceAddr); blocked {
		return domain.TokenPayload{}, fmt.Errorf("%w: %s", domain.ErrAddressBlocked, reason)
	}
	if !a.ledger.AllowAttempt(sourceAddr) {
		a.recordFailure(ctx, sourceAddr)
		return domain.TokenPayload{}, domain.ErrTooManyAttempts
	}

	// Revocation is keyed by token id, which requires decoding the claims
	// but not verifying the signature. A revoked token is rejected before
	// signature verification is paid for.
	unverified := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, unverified); err != nil {
		a.recordFailure(ctx, sourceAddr)
		return domain.TokenPayload{}, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	a.mu.Lock()
	_, isRevoked := a.revoked[unverified.ID]
	a.mu.Unlock()
	if isRevoked {
		a.recordFailure(ctx, sourceAddr)
		return domain.TokenPayload{}, domain.ErrTokenRevoked
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		a.recordFailure(ctx, sourceAddr)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.TokenPayload{}, domain.ErrTokenExpired
		}
		return domain.TokenPayload{}, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	// The live phase is re-read on every validation: an administrative
	// downgrade must immediately restrict already-issued tokens.
	if claims.SafetyPhase > a.phase.Current() {
		a.recordFailure(ctx, sourceAddr)
		return domain.TokenPayload{}, fmt.Errorf("%w: token phase %d exceeds live phase %d",
			domain.ErrPhaseMismatch, claims.SafetyPhase, a.phase.Current())
	}

	payload := domain.TokenPayload{
		Subject:     claims.Subject,
		SessionID:   claims.SessionID,
		TokenID:     claims.ID,
		Permissions: claims.Permissions,
		SafetyPhase: claims.SafetyPhase,
		Client:      claims.Client,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}

	now := time.Now().UTC()
	a.mu.Lock()
	if meta := a.active[claims.ID]; meta != nil {
		meta.LastUsedAt = &now
	}
	a.mu.Unlock()
	if a.store != nil {
		if err := a.store.TouchToken(ctx, claims.ID, now); err != nil {
			a.log.Warn("failed to persist token last-used time", "token_id", claims.ID, "err", err)
		}
	}

	return payload, nil
}

// Revoke adds the presented token to the revoked set. Idempotent.
func (a *Authority) Revoke(ctx context.Context, tokenStr, reason string) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	return a.RevokeID(ctx, claims.ID, reason)
}

// RevokeID revokes by token id, for admin tooling that holds metadata but
// not the token itself. Idempotent.
func (a *Authority) RevokeID(ctx context.Context, tokenID, reason string) error {
	if tokenID == "" {
		return fmt.Errorf("%w: missing token id", domain.ErrTokenInvalid)
	}
	now := time.Now().UTC()

	a.mu.Lock()
	if _, done := a.revoked[tokenID]; done {
		a.mu.Unlock()
		return nil
	}
	a.revoked[tokenID] = reason
	if meta := a.active[tokenID]; meta != nil {
		meta.RevokedAt = &now
		meta.RevokeReason = reason
	}
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.MarkTokenRevoked(ctx, tokenID, reason, now); err != nil {
			a.log.Warn("failed to persist revocation", "token_id", tokenID, "err", err)
		}
	}
	a.auditRecord("token.revoke", map[string]any{"token_id": tokenID, "reason": reason})
	return nil
}

// RevokeAll revokes every token in the active index. Idempotent.
func (a *Authority) RevokeAll(ctx context.Context, reason string) {
	a.mu.Lock()
	ids := make([]string, 0, len(a.active))
	for id := range a.active {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		if err := a.RevokeID(ctx, id, reason); err != nil {
			a.log.Warn("revoke all: skipping token", "token_id", id, "err", err)
		}
	}
	a.auditRecord("token.revoke_all", map[string]any{"reason": reason, "count": len(ids)})
}

// BlockAddress creates an administrative block, independent of automatic
// blocking.
func (a *Authority) BlockAddress(ctx context.Context, address, reason string) {
	a.ledger.Block(address, reason)
	if a.store != nil {
		until, _ := a.ledger.BlockedUntil(address)
		err := a.store.SaveIPBlock(ctx, domain.IPBlock{
			Address:   address,
			Reason:    reason,
			BlockedAt: time.Now().UTC(),
			ExpiresAt: until,
		})
		if err != nil {
			a.log.Warn("failed to persist address block", "address", address, "err", err)
		}
	}
	a.auditRecord("address.block", map[string]any{"address": address, "reason": reason})
}

// UnblockAddress lifts a block and clears the address's failure history.
func (a *Authority) UnblockAddress(ctx context.Context, address string) {
	a.ledger.Unblock(address)
	if a.store != nil {
		if err := a.store.DeleteIPBlock(ctx, address); err != nil {
			a.log.Warn("failed to remove persisted block", "address", address, "err", err)
		}
	}
	a.auditRecord("address.unblock", map[string]any{"address": address})
}

// ActiveTokenCount returns the size of the active-token index.
func (a *Authority) ActiveTokenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Tokens returns a snapshot of the active-token index for introspection.
func (a *Authority) Tokens() []domain.TokenMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.TokenMetadata, 0, len(a.active))
	for _, meta := range a.active {
		out = append(out, *meta)
	}
	return out
}

// Sweep purges expired blocks and attempt windows from the ledger, drops
// expired tokens from the active index, and runs store cleanup. Routine
// bookkeeping: persistence failures are logged, never fatal.
func (a *Authority) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	a.ledger.Sweep()

	a.mu.Lock()
	for id, meta := range a.active {
		if now.After(meta.ExpiresAt) {
			delete(a.active, id)
			delete(a.revoked, id)
		}
	}
	a.mu.Unlock()

	if a.store == nil {
		return
	}
	if n, err := a.store.PurgeExpiredTokens(ctx, now); err != nil {
		a.log.Warn("token purge failed", "err", err)
	} else if n > 0 {
		a.log.Debug("expired tokens purged", "count", n)
	}
	if n, err := a.store.PurgeExpiredIPBlocks(ctx, now); err != nil {
		a.log.Warn("block purge failed", "err", err)
	} else if n > 0 {
		a.log.Debug("expired blocks purged", "count", n)
	}
}

// recordFailure counts an authentication failure and persists an
// auto-created block when the threshold trips.
func (a *Authority) recordFailure(ctx context.Context, sourceAddr string) {
	if !a.ledger.RecordFailure(sourceAddr) {
		return
	}
	a.log.Warn("address auto-blocked after repeated auth failures", "address", sourceAddr)
	if a.store != nil {
		until, _ := a.ledger.BlockedUntil(sourceAddr)
		err := a.store.SaveIPBlock(ctx, domain.IPBlock{
			Address:   sourceAddr,
			Reason:    "authentication failure threshold exceeded",
			BlockedAt: time.Now().UTC(),
			ExpiresAt: until,
		})
		if err != nil {
			a.log.Warn("failed to persist auto-block", "address", sourceAddr, "err", err)
		}
	}
	a.auditRecord("address.auto_block", map[string]any{"address": sourceAddr})
}

func (a *Authority) auditRecord(operation string, data map[string]any) {
	if a.trail == nil {
		return
	}
	a.trail.Record(operation, a.phase.Current(), data)
}

var ulidEntropy = ulid.Monotonic(rand.Reader, 0)
var ulidMu sync.Mutex

func newID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}

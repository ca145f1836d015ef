package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// SaveIssuedToken inserts or replaces the issuance record for a token.
func (s *Store) SaveIssuedToken(ctx context.Context, meta domain.TokenMetadata) error {
	perms, err := json.Marshal(meta.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO issued_tokens(
	token_id, subject, session_id,
	client_name, client_version, client_platform,
	safety_phase, permissions, issued_at, expires_at,
	last_used_at, revoked_at, revoke_reason
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(token_id) DO UPDATE SET
	last_used_at = excluded.last_used_at,
	revoked_at = excluded.revoked_at,
	revoke_reason = excluded.revoke_reason`,
		meta.TokenID, meta.Subject, meta.SessionID,
		meta.Client.Name, meta.Client.Version, meta.Client.Platform,
		meta.SafetyPhase, string(perms), meta.IssuedAt.UTC(), meta.ExpiresAt.UTC(),
		nullableTime(meta.LastUsedAt), nullableTime(meta.RevokedAt), nullableString(meta.RevokeReason))
	return err
}

// MarkTokenRevoked records a revocation against a token id. Revoking an
// unknown or already revoked token is not an error.
func (s *Store) MarkTokenRevoked(ctx context.Context, tokenID, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE issued_tokens SET revoked_at = ?, revoke_reason = ?
WHERE token_id = ? AND revoked_at IS NULL`, at.UTC(), reason, tokenID)
	return err
}

// TouchToken updates the last-used timestamp for a token id.
func (s *Store) TouchToken(ctx context.Context, tokenID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE issued_tokens SET last_used_at = ? WHERE token_id = ?`, at.UTC(), tokenID)
	return err
}

// ActiveTokens returns all issuance records that are neither revoked nor
// expired as of now. Used to rebuild the in-memory index at startup.
func (s *Store) ActiveTokens(ctx context.Context, now time.Time) ([]domain.TokenMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT token_id, subject, session_id,
	client_name, client_version, client_platform,
	safety_phase, permissions, issued_at, expires_at,
	last_used_at, revoked_at, revoke_reason
FROM issued_tokens
WHERE revoked_at IS NULL AND expires_at > ?
ORDER BY issued_at`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TokenMetadata
	for rows.Next() {
		meta, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// RevokedTokenIDs returns the ids and reasons of revoked tokens that have
// not yet expired. Expired revocations are irrelevant because expiry alone
// rejects the token.
func (s *Store) RevokedTokenIDs(ctx context.Context, now time.Time) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT token_id, COALESCE(revoke_reason, '')
FROM issued_tokens
WHERE revoked_at IS NOT NULL AND expires_at > ?`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, reason string
		if err := rows.Scan(&id, &reason); err != nil {
			return nil, err
		}
		out[id] = reason
	}
	return out, rows.Err()
}

// PurgeExpiredTokens deletes issuance records whose expiry has passed and
// returns the number of rows removed.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM issued_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.TokenMetadata, error) {
	var (
		meta         domain.TokenMetadata
		perms        string
		lastUsed     sql.NullTime
		revokedAt    sql.NullTime
		revokeReason sql.NullString
	)
	err := row.Scan(
		&meta.TokenID, &meta.Subject, &meta.SessionID,
		&meta.Client.Name, &meta.Client.Version, &meta.Client.Platform,
		&meta.SafetyPhase, &perms, &meta.IssuedAt, &meta.ExpiresAt,
		&lastUsed, &revokedAt, &revokeReason)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, ErrNotFound
	}
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal([]byte(perms), &meta.Permissions); err != nil {
		return meta, fmt.Errorf("unmarshal permissions: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		meta.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		meta.RevokedAt = &t
	}
	meta.RevokeReason = revokeReason.String
	return meta, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

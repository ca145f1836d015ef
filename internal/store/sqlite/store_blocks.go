package sqlite

import (
	"context"
	"time"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// SaveIPBlock inserts or replaces the block record for an address.
func (s *Store) SaveIPBlock(ctx context.Context, block domain.IPBlock) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ip_blocks(address, reason, blocked_at, expires_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET
	reason = excluded.reason,
	blocked_at = excluded.blocked_at,
	expires_at = excluded.expires_at`,
		block.Address, block.Reason, block.BlockedAt.UTC(), block.ExpiresAt.UTC())
	return err
}

// DeleteIPBlock removes the block record for an address. Deleting an
// unknown address is not an error.
func (s *Store) DeleteIPBlock(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ip_blocks WHERE address = ?`, address)
	return err
}

// ActiveIPBlocks returns all blocks that have not yet expired as of now.
func (s *Store) ActiveIPBlocks(ctx context.Context, now time.Time) ([]domain.IPBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT address, reason, blocked_at, expires_at
FROM ip_blocks
WHERE expires_at > ?
ORDER BY blocked_at`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.IPBlock
	for rows.Next() {
		var b domain.IPBlock
		if err := rows.Scan(&b.Address, &b.Reason, &b.BlockedAt, &b.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PurgeExpiredIPBlocks deletes blocks whose expiry has passed and returns
// the number of rows removed.
func (s *Store) PurgeExpiredIPBlocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ip_blocks WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

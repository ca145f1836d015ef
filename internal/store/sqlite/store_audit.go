package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// AppendAuditEntry persists an audit record.
func (s *Store) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal audit data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_entries(operation, data, safety_phase, created_at)
VALUES(?, ?, ?, ?)`,
		entry.Operation, string(data), entry.SafetyPhase, entry.Timestamp.UTC())
	return err
}

// RecentAuditEntries returns up to limit entries, newest first.
func (s *Store) RecentAuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT operation, data, safety_phase, created_at
FROM audit_entries
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			entry domain.AuditEntry
			data  string
		)
		if err := rows.Scan(&entry.Operation, &data, &entry.SafetyPhase, &entry.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
			return nil, fmt.Errorf("unmarshal audit data: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// TrimAuditEntries deletes all but the newest keep entries and returns the
// number of rows removed.
func (s *Store) TrimAuditEntries(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM audit_entries WHERE id NOT IN (
	SELECT id FROM audit_entries ORDER BY id DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

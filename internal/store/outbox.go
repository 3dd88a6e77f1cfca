package store

import (
	"context"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// PendingOutbox returns outbox entries in seq order. limit <= 0 returns all.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	return s.PendingOutboxThrough(ctx, 0, limit)
}

// PendingOutboxThrough returns outbox entries with seq <= through in seq
// order. through <= 0 means no upper bound; limit <= 0 returns all.
func (s *Store) PendingOutboxThrough(ctx context.Context, through int64, limit int) ([]model.OutboxEntry, error) {
	query := `
		SELECT seq, ts, entity_type, entity_id, op, payload, origin
		FROM outbox
	`
	args := []any{}
	if through > 0 {
		query += " WHERE seq <= ?"
		args = append(args, through)
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return scanOutbox(rows)
}

// LastOutboxSeq returns the highest pending seq, or 0 when the outbox is
// empty.
func (s *Store) LastOutboxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last outbox seq: %w", err)
	}
	return seq, nil
}

// PendingCount returns the number of entries not yet acknowledged by the
// remote.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// TrimOutbox removes every entry with seq <= through and reports how many
// were removed.
//
// Seqs are never reused, so entries appended after through was read always
// have a larger seq and survive the trim.
func (s *Store) TrimOutbox(ctx context.Context, through int64) (int64, error) {
	if through <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq <= ?`, through)
	if err != nil {
		return 0, fmt.Errorf("trim outbox: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim outbox: rows affected: %w", err)
	}
	return n, nil
}

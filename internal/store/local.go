package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LocalKey returns the key a local record is stored under: the category for
// suggestions, the id for everything else.
func LocalKey(kind model.EntityType, rec model.Record) string {
	if kind == model.Suggestions {
		return rec.String(model.FieldCategory)
	}
	return rec.ID()
}

// PutLocal upserts a local-only side record. No outbox entry is written and
// no notification is published.
func (s *Store) PutLocal(ctx context.Context, kind model.EntityType, rec model.Record) error {
	return putLocal(ctx, s.db, kind, rec)
}

// GetLocal returns a local-only side record, or ErrNotFound.
func (s *Store) GetLocal(ctx context.Context, kind model.EntityType, key string) (model.Record, error) {
	rec, ok, err := getLocal(ctx, s.db, kind, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}
	return rec, nil
}

// ListLocal returns every local record of kind ordered by key.
func (s *Store) ListLocal(ctx context.Context, kind model.EntityType) ([]model.Record, error) {
	recs, err := listLocal(ctx, s.db, kind)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.Record{}
	}
	return recs, nil
}

// DeleteLocal removes a local record. Removing a missing record is not an
// error.
func (s *Store) DeleteLocal(ctx context.Context, kind model.EntityType, key string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM local_records WHERE kind = ? AND key = ?
	`, string(kind), key); err != nil {
		return fmt.Errorf("delete local %s %s: %w", kind, key, err)
	}
	return nil
}

func putLocal(ctx context.Context, q queryer, kind model.EntityType, rec model.Record) error {
	if !kind.IsLocal() {
		return fmt.Errorf("put local: %q is not a local record kind", kind)
	}
	key := LocalKey(kind, rec)
	if key == "" {
		return fmt.Errorf("put local %s: %w", kind, ErrMissingID)
	}
	payload, err := encodePayload(rec)
	if err != nil {
		return fmt.Errorf("put local %s %s: %w", kind, key, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO local_records (kind, key, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, string(kind), key, payload, rec.UpdatedAt())
	if err != nil {
		return fmt.Errorf("put local %s %s: %w", kind, key, err)
	}
	return nil
}

func getLocal(ctx context.Context, q queryer, kind model.EntityType, key string) (model.Record, bool, error) {
	var payload string
	err := q.QueryRowContext(ctx, `
		SELECT payload FROM local_records WHERE kind = ? AND key = ?
	`, string(kind), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get local %s %s: %w", kind, key, err)
	}
	rec, err := decodePayload(payload)
	if err != nil {
		return nil, false, fmt.Errorf("get local %s %s: %w", kind, key, err)
	}
	return rec, true, nil
}

func listLocal(ctx context.Context, q queryer, kind model.EntityType) ([]model.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT payload FROM local_records WHERE kind = ?
		ORDER BY key COLLATE BINARY ASC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query local %s: %w", kind, err)
	}
	return scanRecords(rows, string(kind))
}

// Checkpoint returns a named sync cursor (0 if never set).
func (s *Store) Checkpoint(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	return v, nil
}

// SetCheckpoint stores a named sync cursor.
func (s *Store) SetCheckpoint(ctx context.Context, name string, v int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, v)
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", name, err)
	}
	return nil
}

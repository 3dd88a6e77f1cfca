package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// Tx is an open store transaction. All methods run on the transaction's
// connection; calling Store methods from inside fn would wait on the single
// connection forever.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// RunInTransaction executes fn within one database transaction.
//
// Transaction lifecycle:
//  1. BEGIN
//  2. Execute fn
//  3. On success: COMMIT
//  4. On error or panic: ROLLBACK (the panic is re-raised)
//
// Nothing fn wrote is visible to other readers unless COMMIT succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx, store: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Now reads the store clock.
func (t *Tx) Now() int64 {
	return t.store.clock.NowMillis()
}

// Get returns a copy of the entity, or ok=false if it does not exist.
func (t *Tx) Get(ctx context.Context, typ model.EntityType, id string) (rec model.Record, ok bool, err error) {
	var payload string
	err = t.tx.QueryRowContext(ctx, `
		SELECT payload FROM entities WHERE entity_type = ? AND id = ?
	`, string(typ), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s: %w", typ, id, err)
	}
	rec, err = decodePayload(payload)
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s: %w", typ, id, err)
	}
	return rec, true, nil
}

// All returns every entity of type typ ordered by id.
func (t *Tx) All(ctx context.Context, typ model.EntityType) ([]model.Record, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT payload FROM entities WHERE entity_type = ?
		ORDER BY id COLLATE BINARY ASC
	`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", typ, err)
	}
	return scanRecords(rows, string(typ))
}

// Tombstone returns the deletion marker for an entity, if any.
func (t *Tx) Tombstone(ctx context.Context, typ model.EntityType, id string) (model.Tombstone, bool, error) {
	ts := model.Tombstone{EntityType: typ, EntityID: id}
	err := t.tx.QueryRowContext(ctx, `
		SELECT deleted_at FROM tombstones WHERE entity_type = ? AND id = ?
	`, string(typ), id).Scan(&ts.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tombstone{}, false, nil
	}
	if err != nil {
		return model.Tombstone{}, false, fmt.Errorf("get tombstone %s %s: %w", typ, id, err)
	}
	return ts, true, nil
}

// Upsert writes the entity row and clears any tombstone for it, so a live
// row and a tombstone never coexist. No outbox entry is written.
func (t *Tx) Upsert(ctx context.Context, typ model.EntityType, rec model.Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("upsert %s: %w", typ, ErrMissingID)
	}
	payload, err := encodePayload(rec)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", typ, id, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, string(typ), id, payload, rec.UpdatedAt())
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", typ, id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM tombstones WHERE entity_type = ? AND id = ?
	`, string(typ), id); err != nil {
		return fmt.Errorf("clear tombstone %s %s: %w", typ, id, err)
	}
	return nil
}

// Remove deletes the entity row and records a tombstone at deletedAt.
// An existing later tombstone is kept. No outbox entry is written.
func (t *Tx) Remove(ctx context.Context, typ model.EntityType, id string, deletedAt int64) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM entities WHERE entity_type = ? AND id = ?
	`, string(typ), id); err != nil {
		return fmt.Errorf("remove %s %s: %w", typ, id, err)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tombstones (entity_type, id, deleted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			deleted_at = MAX(deleted_at, excluded.deleted_at)
	`, string(typ), id, deletedAt)
	if err != nil {
		return fmt.Errorf("write tombstone %s %s: %w", typ, id, err)
	}
	return nil
}

// AppendOutbox appends one entry and returns it with Seq (and Origin, when
// empty) filled in.
func (t *Tx) AppendOutbox(ctx context.Context, e model.OutboxEntry) (model.OutboxEntry, error) {
	if e.Origin == "" {
		e.Origin = t.store.origin
	}
	if e.Timestamp == 0 {
		e.Timestamp = t.Now()
	}
	if err := e.Validate(); err != nil {
		return model.OutboxEntry{}, err
	}

	var payload sql.NullString
	if e.Payload != nil {
		p, err := encodePayload(e.Payload)
		if err != nil {
			return model.OutboxEntry{}, fmt.Errorf("append outbox: %w", err)
		}
		payload = sql.NullString{String: p, Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, entity_type, entity_id, op, payload, origin)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Timestamp, string(e.EntityType), e.EntityID, string(e.Op), payload, e.Origin)
	if err != nil {
		return model.OutboxEntry{}, fmt.Errorf("append outbox: %w", err)
	}
	e.Seq, err = result.LastInsertId()
	if err != nil {
		return model.OutboxEntry{}, fmt.Errorf("append outbox: last insert id: %w", err)
	}
	return e, nil
}

// ClearType removes every entity and tombstone of type typ.
func (t *Tx) ClearType(ctx context.Context, typ model.EntityType) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ?`, string(typ)); err != nil {
		return fmt.Errorf("clear %s: %w", typ, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM tombstones WHERE entity_type = ?`, string(typ)); err != nil {
		return fmt.Errorf("clear %s tombstones: %w", typ, err)
	}
	return nil
}

// ClearOutbox removes every pending outbox entry. Sequence numbers keep
// increasing afterwards.
func (t *Tx) ClearOutbox(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM outbox`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

// PutLocal upserts a local-only side record.
func (t *Tx) PutLocal(ctx context.Context, kind model.EntityType, rec model.Record) error {
	return putLocal(ctx, t.tx, kind, rec)
}

// GetLocal returns a local-only side record by key.
func (t *Tx) GetLocal(ctx context.Context, kind model.EntityType, key string) (model.Record, bool, error) {
	return getLocal(ctx, t.tx, kind, key)
}

// ClearLocal removes every local record of kind.
func (t *Tx) ClearLocal(ctx context.Context, kind model.EntityType) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM local_records WHERE kind = ?`, string(kind)); err != nil {
		return fmt.Errorf("clear local %s: %w", kind, err)
	}
	return nil
}

// ListLocal returns every local record of kind ordered by key.
func (t *Tx) ListLocal(ctx context.Context, kind model.EntityType) ([]model.Record, error) {
	return listLocal(ctx, t.tx, kind)
}

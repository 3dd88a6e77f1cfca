package store

import (
	"context"
	"fmt"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
)

// PutEntity upserts one entity and appends a put entry to the outbox in a
// single transaction. Either both rows exist afterwards or neither does.
//
// The stored record is a copy of rec. When rec has no updatedAt the store
// clock stamps one. After commit a "data changed" notification carrying the
// entry is published.
func (s *Store) PutEntity(ctx context.Context, t model.EntityType, rec model.Record) (model.OutboxEntry, error) {
	entries, err := s.putEntities(ctx, t, []model.Record{rec}, nil)
	if err != nil {
		return model.OutboxEntry{}, fmt.Errorf("put entity: %w", err)
	}
	return entries[0], nil
}

// BulkPutEntities writes every record and one outbox entry per record in a
// single transaction, then publishes one "data changed" notification carrying
// all entries.
func (s *Store) BulkPutEntities(ctx context.Context, t model.EntityType, recs []model.Record) ([]model.OutboxEntry, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	entries, err := s.putEntities(ctx, t, recs, nil)
	if err != nil {
		return nil, fmt.Errorf("bulk put entities: %w", err)
	}
	return entries, nil
}

// ResolveFunc decides what to store for an incoming record given the local
// row (nil if absent) and tombstone (nil if none). It returns the record to
// write and false when nothing should change.
type ResolveFunc func(local model.Record, tomb *model.Tombstone, incoming model.Record) (model.Record, bool)

// MergeEntities resolves every record against local state and writes only
// the changed results, each with a put entry, in one transaction. Records
// without an updatedAt are stamped before resolve sees them. One "data
// changed" notification carrying all written entries is published after
// commit.
func (s *Store) MergeEntities(ctx context.Context, t model.EntityType, recs []model.Record, resolve ResolveFunc) ([]model.OutboxEntry, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	entries, err := s.putEntities(ctx, t, recs, resolve)
	if err != nil {
		return nil, fmt.Errorf("merge entities: %w", err)
	}
	return entries, nil
}

func (s *Store) putEntities(ctx context.Context, t model.EntityType, recs []model.Record, resolve ResolveFunc) ([]model.OutboxEntry, error) {
	if !t.IsReplicable() {
		return nil, fmt.Errorf("%s: %w", t, ErrNotReplicable)
	}

	now := s.clock.NowMillis()
	prepared := make([]model.Record, len(recs))
	for i, rec := range recs {
		if rec.ID() == "" {
			return nil, fmt.Errorf("%s record %d: %w", t, i, ErrMissingID)
		}
		c := rec.Clone()
		if !c.Has(model.FieldUpdatedAt) {
			c.SetUpdatedAt(now)
		}
		prepared[i] = c
	}

	var entries []model.OutboxEntry
	err := s.RunInTransaction(ctx, func(tx *Tx) error {
		entries = make([]model.OutboxEntry, 0, len(prepared))
		for _, rec := range prepared {
			if resolve != nil {
				resolved, ok, err := resolveInTx(ctx, tx, t, rec, resolve)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				rec = resolved
			}
			if err := tx.Upsert(ctx, t, rec); err != nil {
				return err
			}
			entry, err := tx.AppendOutbox(ctx, model.OutboxEntry{
				Timestamp:  now,
				EntityType: t,
				EntityID:   rec.ID(),
				Op:         model.OpPut,
				Payload:    rec,
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.PublishChanged(events.OriginLocal, entries)
	return entries, nil
}

func resolveInTx(ctx context.Context, tx *Tx, t model.EntityType, rec model.Record, resolve ResolveFunc) (model.Record, bool, error) {
	local, found, err := tx.Get(ctx, t, rec.ID())
	if err != nil {
		return nil, false, err
	}
	if !found {
		local = nil
	}
	var tomb *model.Tombstone
	ts, dead, err := tx.Tombstone(ctx, t, rec.ID())
	if err != nil {
		return nil, false, err
	}
	if dead {
		tomb = &ts
	}
	out, ok := resolve(local, tomb, rec)
	return out, ok, nil
}

// DeleteEntity removes an entity, writes its tombstone and appends a delete
// entry in one transaction. Deleting a missing entity still records the
// delete so it reaches replicas that hold a copy.
func (s *Store) DeleteEntity(ctx context.Context, t model.EntityType, id string) (model.OutboxEntry, error) {
	if !t.IsReplicable() {
		return model.OutboxEntry{}, fmt.Errorf("delete entity: %s: %w", t, ErrNotReplicable)
	}
	if id == "" {
		return model.OutboxEntry{}, fmt.Errorf("delete entity: %w", ErrMissingID)
	}

	now := s.clock.NowMillis()
	var entry model.OutboxEntry
	err := s.RunInTransaction(ctx, func(tx *Tx) error {
		if err := tx.Remove(ctx, t, id, now); err != nil {
			return err
		}
		var err error
		entry, err = tx.AppendOutbox(ctx, model.OutboxEntry{
			Timestamp:  now,
			EntityType: t,
			EntityID:   id,
			Op:         model.OpDelete,
		})
		return err
	})
	if err != nil {
		return model.OutboxEntry{}, fmt.Errorf("delete entity: %w", err)
	}

	s.bus.PublishChanged(events.OriginLocal, []model.OutboxEntry{entry})
	return entry, nil
}

// RenameEntity re-keys an entity from oldID to newID.
//
// If newID is already in use a *ConflictError is returned before anything is
// written. Otherwise one transaction removes the old row (with a tombstone),
// writes the record under newID and appends a delete and a put entry.
func (s *Store) RenameEntity(ctx context.Context, t model.EntityType, oldID, newID string) ([]model.OutboxEntry, error) {
	if !t.IsReplicable() {
		return nil, fmt.Errorf("rename entity: %s: %w", t, ErrNotReplicable)
	}
	if oldID == "" || newID == "" {
		return nil, fmt.Errorf("rename entity: %w", ErrMissingID)
	}
	if oldID == newID {
		return nil, nil
	}

	now := s.clock.NowMillis()
	var entries []model.OutboxEntry
	err := s.RunInTransaction(ctx, func(tx *Tx) error {
		if _, exists, err := tx.Get(ctx, t, newID); err != nil {
			return err
		} else if exists {
			return NewConflictError(t, newID)
		}

		rec, ok, err := tx.Get(ctx, t, oldID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %q: %w", t, oldID, ErrNotFound)
		}

		rec[model.FieldID] = newID
		rec.SetUpdatedAt(now)

		if err := tx.Remove(ctx, t, oldID, now); err != nil {
			return err
		}
		del, err := tx.AppendOutbox(ctx, model.OutboxEntry{
			Timestamp:  now,
			EntityType: t,
			EntityID:   oldID,
			Op:         model.OpDelete,
		})
		if err != nil {
			return err
		}
		if err := tx.Upsert(ctx, t, rec); err != nil {
			return err
		}
		put, err := tx.AppendOutbox(ctx, model.OutboxEntry{
			Timestamp:  now,
			EntityType: t,
			EntityID:   newID,
			Op:         model.OpPut,
			Payload:    rec,
		})
		if err != nil {
			return err
		}
		entries = []model.OutboxEntry{del, put}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rename entity: %w", err)
	}

	s.bus.PublishChanged(events.OriginLocal, entries)
	return entries, nil
}

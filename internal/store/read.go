package store

import (
	"context"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// GetEntity returns one entity by id, or ErrNotFound.
func (s *Store) GetEntity(ctx context.Context, t model.EntityType, id string) (model.Record, error) {
	var (
		rec model.Record
		ok  bool
	)
	err := s.RunInTransaction(ctx, func(tx *Tx) error {
		var err error
		rec, ok, err = tx.Get(ctx, t, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", t, id, ErrNotFound)
	}
	return rec, nil
}

// GetAllEntities returns every entity of type t ordered by id.
// Returns an empty (non-nil) slice for an empty type.
func (s *Store) GetAllEntities(ctx context.Context, t model.EntityType) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM entities WHERE entity_type = ?
		ORDER BY id COLLATE BINARY ASC
	`, string(t))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t, err)
	}
	recs, err := scanRecords(rows, string(t))
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.Record{}
	}
	return recs, nil
}

// GetTombstone returns the deletion marker for an entity, if one exists.
func (s *Store) GetTombstone(ctx context.Context, t model.EntityType, id string) (model.Tombstone, bool, error) {
	var (
		ts model.Tombstone
		ok bool
	)
	err := s.RunInTransaction(ctx, func(tx *Tx) error {
		var err error
		ts, ok, err = tx.Tombstone(ctx, t, id)
		return err
	})
	return ts, ok, err
}

// CountEntities returns the number of stored entities of type t.
func (s *Store) CountEntities(ctx context.Context, t model.EntityType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities WHERE entity_type = ?
	`, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	return n, nil
}

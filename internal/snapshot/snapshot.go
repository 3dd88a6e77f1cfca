// Package snapshot exports a scope of the dataset as one portable snapshot,
// restores a snapshot destructively, or merges one into local state item by
// item. Archives of exported snapshots are kept in a blob store and listed
// in the local backups catalog.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/benchsync/internal/blob"
	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/merge"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/normalize"
	"github.com/roach88/benchsync/internal/store"
)

// Normalizer cleans externally sourced records. *normalize.Normalizer
// satisfies it.
type Normalizer interface {
	Normalize(t model.EntityType, recs []model.Record) []model.Record
}

// Service runs snapshot operations against one store.
type Service struct {
	store      *store.Store
	engine     merge.Engine
	normalizer Normalizer
	blobs      blob.Store
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the merge engine used by MergeImport.
func WithEngine(e merge.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithNormalizer sets the normalizer applied to incoming snapshots.
func WithNormalizer(n Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithBlobStore sets the archive store used by Archive and Load.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service for st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		normalizer: normalize.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export reads every type in scope inside one read transaction, so the
// snapshot is never assembled from two different points in time. Every
// type of the scope is present, possibly as an empty array.
func (s *Service) Export(ctx context.Context, scope model.Scope) (model.Snapshot, error) {
	snap := make(model.Snapshot, len(scope.Types))
	err := s.store.RunInTransaction(ctx, func(tx *store.Tx) error {
		for _, t := range scope.Types {
			var (
				recs []model.Record
				err  error
			)
			if t.IsLocal() {
				recs, err = tx.ListLocal(ctx, t)
			} else {
				recs, err = tx.All(ctx, t)
			}
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []model.Record{}
			}
			snap[t] = recs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", scope.Name, err)
	}
	return snap, nil
}

// Counts maps an entity type to a number of records.
type Counts map[model.EntityType]int

// Total sums all counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Restore replaces local state for the scope with snap in one transaction.
//
// The outbox and the logs side records are cleared first: a restore is not
// a diffable change and nothing it replaces should still be replicated.
// Then each type present in snap has its rows and tombstones replaced by
// the normalized array. A type absent from snap, or whose non-empty array
// has no usable record, is left untouched. No outbox entries are written.
// One "data received" notification with origin restore is published.
func (s *Service) Restore(ctx context.Context, scope model.Scope, snap model.Snapshot) (Counts, error) {
	incoming := s.normalizeScope(scope, snap)

	counts := make(Counts, len(incoming))
	err := s.store.RunInTransaction(ctx, func(tx *store.Tx) error {
		if err := tx.ClearOutbox(ctx); err != nil {
			return err
		}
		if err := tx.ClearLocal(ctx, model.Logs); err != nil {
			return err
		}
		for _, t := range scope.Types {
			recs, ok := incoming[t]
			if !ok {
				continue
			}
			if t.IsLocal() {
				if err := tx.ClearLocal(ctx, t); err != nil {
					return err
				}
				for _, rec := range recs {
					if err := tx.PutLocal(ctx, t, rec); err != nil {
						return err
					}
				}
			} else {
				if err := tx.ClearType(ctx, t); err != nil {
					return err
				}
				for _, rec := range recs {
					if err := tx.Upsert(ctx, t, rec); err != nil {
						return err
					}
				}
			}
			counts[t] = len(recs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", scope.Name, err)
	}

	s.store.Bus().PublishReceived(events.OriginRestore, counts.Total(), 0)
	s.logger.Info("snapshot restored", "scope", scope.Name, "records", counts.Total())
	return counts, nil
}

// MergeImport merges snap into local state without deleting anything.
//
// Each normalized incoming record is merged with its local counterpart (by
// id, or by category for suggestions). Replicable types are written through
// the outbox so other replicas see the merge as a normal local mutation;
// only records whose merged result differs from local state are written.
// Suggestions are stored as local side records. The returned counts hold
// the written records per type.
func (s *Service) MergeImport(ctx context.Context, scope model.Scope, snap model.Snapshot) (Counts, error) {
	incoming := s.normalizeScope(scope, snap)

	counts := make(Counts, len(incoming))
	for _, t := range scope.Types {
		recs, ok := incoming[t]
		if !ok || len(recs) == 0 {
			continue
		}

		var (
			n   int
			err error
		)
		if t.IsLocal() {
			n, err = s.mergeLocal(ctx, t, recs)
		} else {
			var entries []model.OutboxEntry
			entries, err = s.store.MergeEntities(ctx, t, recs, s.resolve(t))
			n = len(entries)
		}
		if err != nil {
			return counts, fmt.Errorf("merge import %s/%s: %w", scope.Name, t, err)
		}
		counts[t] = n
	}

	s.logger.Info("snapshot merged", "scope", scope.Name, "written", counts.Total())
	return counts, nil
}

// resolve adapts the merge engine to store.ResolveFunc. Tombstones are
// honoured: an incoming record no newer than a local delete stays deleted.
func (s *Service) resolve(t model.EntityType) store.ResolveFunc {
	return func(local model.Record, tomb *model.Tombstone, in model.Record) (model.Record, bool) {
		d := s.engine.Resolve(local, tomb, model.OutboxEntry{
			EntityType: t,
			EntityID:   in.ID(),
			Op:         model.OpPut,
			Timestamp:  in.UpdatedAt(),
			Payload:    in,
		})
		if !d.Changed || d.Delete {
			return nil, false
		}
		return d.Record, true
	}
}

func (s *Service) mergeLocal(ctx context.Context, t model.EntityType, recs []model.Record) (int, error) {
	written := 0
	err := s.store.RunInTransaction(ctx, func(tx *store.Tx) error {
		written = 0
		for _, in := range recs {
			local, ok, err := tx.GetLocal(ctx, t, store.LocalKey(t, in))
			if err != nil {
				return err
			}
			if !ok {
				local = nil
			}
			merged := s.engine.Merge(t, local, in)
			if local != nil && model.RecordsEqual(local, merged) {
				continue
			}
			if err := tx.PutLocal(ctx, t, merged); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	return written, err
}

// normalizeScope returns the normalized arrays of the scope's types present
// in snap. Types whose raw array is non-empty but yields no usable record
// are dropped, so they stay untouched.
func (s *Service) normalizeScope(scope model.Scope, snap model.Snapshot) map[model.EntityType][]model.Record {
	out := make(map[model.EntityType][]model.Record, len(scope.Types))
	for _, t := range scope.Types {
		raw, ok := snap[t]
		if !ok {
			continue
		}
		recs := s.normalizer.Normalize(t, raw)
		if len(recs) == 0 && len(raw) > 0 {
			s.logger.Warn("snapshot type has no usable records", "type", t, "raw", len(raw))
			continue
		}
		out[t] = recs
	}
	return out
}

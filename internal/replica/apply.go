// Package replica applies changes received from other replicas (same-device
// windows or the remote feed) to the local entity store.
//
// Applied changes are merged against local state and written WITHOUT new
// outbox entries: they already live in their origin's outbox, and
// re-recording them would bounce every change back and forth forever.
package replica

import (
	"context"
	"fmt"
	"log/slog"

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

// Result summarizes one applied batch.
type Result struct {
	// Applied lists what was written, one entry per changed entity. Put
	// payloads carry the merged record.
	Applied []model.OutboxEntry
	// Skipped counts entries that were malformed or already reflected in
	// local state.
	Skipped int
}

// Applier merges incoming entries into a store.
type Applier struct {
	store      *store.Store
	engine     merge.Engine
	normalizer Normalizer
	logger     *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithEngine sets the merge engine. Default: merge.Engine{} (digest tie-break).
func WithEngine(e merge.Engine) Option {
	return func(a *Applier) { a.engine = e }
}

// WithNormalizer sets the normalizer applied to incoming payloads.
func WithNormalizer(n Normalizer) Option {
	return func(a *Applier) { a.normalizer = n }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

// NewApplier creates an Applier writing into s.
func NewApplier(s *store.Store, opts ...Option) *Applier {
	a := &Applier{
		store:      s,
		normalizer: normalize.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engine returns the merge engine used for applied changes.
func (a *Applier) Engine() merge.Engine {
	return a.engine
}

// Apply merges entries into the store in one transaction.
//
// Entries are applied in order, so a later entry for the same entity sees
// the result of an earlier one. Applying the same batch twice leaves the
// store unchanged the second time. After commit, a "data changed"
// notification (for the applied entries) and one "data received"
// notification are published with the given origin.
//
// A storage failure rolls back the whole batch and is returned; nothing is
// published in that case.
func (a *Applier) Apply(ctx context.Context, origin events.Origin, entries []model.OutboxEntry) (Result, error) {
	var res Result

	incoming := make([]model.OutboxEntry, 0, len(entries))
	for _, e := range entries {
		clean, ok := a.clean(e)
		if !ok {
			a.logger.Debug("skipping malformed entry",
				"origin", origin,
				"entity_type", e.EntityType,
				"entity_id", e.EntityID,
				"op", e.Op,
			)
			res.Skipped++
			continue
		}
		incoming = append(incoming, clean)
	}

	var applied []model.OutboxEntry
	skipped := 0
	err := a.store.RunInTransaction(ctx, func(tx *store.Tx) error {
		applied = applied[:0]
		skipped = 0
		for _, in := range incoming {
			out, changed, err := a.applyOne(ctx, tx, in)
			if err != nil {
				return err
			}
			if !changed {
				skipped++
				continue
			}
			applied = append(applied, out)
		}
		return nil
	})
	if err != nil {
		appliedTotal.WithLabelValues(string(origin), "error").Add(float64(len(entries)))
		return Result{}, fmt.Errorf("apply %d entries from %s: %w", len(entries), origin, err)
	}

	res.Applied = applied
	res.Skipped += skipped

	appliedTotal.WithLabelValues(string(origin), "applied").Add(float64(len(res.Applied)))
	appliedTotal.WithLabelValues(string(origin), "skipped").Add(float64(res.Skipped))

	bus := a.store.Bus()
	bus.PublishChanged(origin, res.Applied)
	bus.PublishReceived(origin, len(res.Applied), res.Skipped)

	a.logger.Debug("applied batch",
		"origin", origin,
		"received", len(entries),
		"applied", len(res.Applied),
		"skipped", res.Skipped,
	)
	return res, nil
}

// clean validates an incoming entry and normalizes its payload.
func (a *Applier) clean(e model.OutboxEntry) (model.OutboxEntry, bool) {
	if !e.EntityType.IsReplicable() || e.EntityID == "" || !e.Op.Valid() {
		return model.OutboxEntry{}, false
	}
	if e.Op == model.OpDelete {
		e.Payload = nil
		return e, true
	}
	recs := a.normalizer.Normalize(e.EntityType, []model.Record{e.Payload})
	if len(recs) != 1 || recs[0].ID() != e.EntityID {
		return model.OutboxEntry{}, false
	}
	e.Payload = recs[0]
	return e, true
}

func (a *Applier) applyOne(ctx context.Context, tx *store.Tx, in model.OutboxEntry) (model.OutboxEntry, bool, error) {
	local, ok, err := tx.Get(ctx, in.EntityType, in.EntityID)
	if err != nil {
		return model.OutboxEntry{}, false, err
	}
	if !ok {
		local = nil
	}

	var tomb *model.Tombstone
	if ts, found, err := tx.Tombstone(ctx, in.EntityType, in.EntityID); err != nil {
		return model.OutboxEntry{}, false, err
	} else if found {
		tomb = &ts
	}

	d := a.engine.Resolve(local, tomb, in)
	if !d.Changed {
		return model.OutboxEntry{}, false, nil
	}

	out := in
	if d.Delete {
		if err := tx.Remove(ctx, in.EntityType, in.EntityID, d.DeletedAt); err != nil {
			return model.OutboxEntry{}, false, err
		}
		out.Payload = nil
		return out, true, nil
	}

	if err := tx.Upsert(ctx, in.EntityType, d.Record); err != nil {
		return model.OutboxEntry{}, false, err
	}
	out.Payload = d.Record
	return out, true, nil
}

package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/merge"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/remote"
	"github.com/roach88/benchsync/internal/replica"
	"github.com/roach88/benchsync/internal/snapshot"
	"github.com/roach88/benchsync/internal/store"
	"github.com/roach88/benchsync/internal/syncer"
	"github.com/roach88/benchsync/internal/testutil"
)

// Harness holds the replicas and the shared remote of one scenario run.
type Harness struct {
	replicas  map[string]*node
	order     []string
	log       *remote.MemoryLog
	conn      *syncer.Flag
	snapshots map[string]model.Snapshot
	logger    *slog.Logger
}

// node is one replica under test.
type node struct {
	id       string
	clock    *testutil.DeterministicClock
	store    *store.Store
	recorder *events.Recorder
	applier  *replica.Applier
	snaps    *snapshot.Service
	pump     *syncer.Pump
	poller   *syncer.Poller

	mu       sync.Mutex
	outgoing []model.OutboxEntry
}

// Run executes a scenario and returns the result.
//
// Each replica runs in a fresh in-memory database with its own
// deterministic clock, so a scenario always produces the same state.
// A step that fails unexpectedly or an assertion that does not hold marks
// the result failed; the returned error is reserved for scenarios that
// could not be set up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i := range scenario.Steps {
		h.executeStep(ctx, i, &scenario.Steps[i], result)
	}

	for _, id := range h.order {
		state, err := h.replicas[id].state(ctx)
		if err != nil {
			return nil, fmt.Errorf("read final state of %s: %w", id, err)
		}
		result.State[id] = state
	}

	actx := &AssertionContext{Ctx: ctx, harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	tb, err := merge.ParseTieBreak(scenario.TieBreak)
	if err != nil {
		return nil, err
	}
	engine := merge.Engine{TieBreak: tb}

	h := &Harness{
		replicas:  make(map[string]*node, len(scenario.Replicas)),
		log:       remote.NewMemoryLog(),
		conn:      syncer.NewFlag(true),
		snapshots: make(map[string]model.Snapshot),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	for _, id := range scenario.Replicas {
		n, err := h.newNode(id, scenario.Start, engine)
		if err != nil {
			h.close()
			return nil, err
		}
		h.replicas[id] = n
		h.order = append(h.order, id)
	}
	return h, nil
}

func (h *Harness) newNode(id string, start int64, engine merge.Engine) (*node, error) {
	bus := events.NewBus()
	n := &node{
		id:       id,
		clock:    testutil.NewDeterministicClock(start),
		recorder: &events.Recorder{},
	}
	bus.Subscribe(n.recorder.Handle)
	bus.Subscribe(n.onChanged, events.KindDataChanged)

	st, err := store.Open(":memory:",
		store.WithBus(bus),
		store.WithOrigin(id),
		store.WithClock(n.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store for %s: %w", id, err)
	}
	n.store = st

	client := h.log.Client(id)
	n.applier = replica.NewApplier(st, replica.WithEngine(engine), replica.WithLogger(h.logger))
	n.snaps = snapshot.New(st, snapshot.WithEngine(engine), snapshot.WithLogger(h.logger))
	n.pump = syncer.NewPump(st, client, h.conn, syncer.WithPumpLogger(h.logger))
	n.poller = syncer.NewPoller(st, client, n.applier, h.conn,
		syncer.WithPollerLogger(h.logger),
		syncer.WithPump(n.pump),
	)
	return n, nil
}

func (h *Harness) close() {
	for _, n := range h.replicas {
		n.store.Close()
	}
}

// onChanged collects local writes for the next window broadcast.
func (n *node) onChanged(e events.Event) {
	if e.DataChanged == nil || e.DataChanged.Origin != events.OriginLocal {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, entry := range e.DataChanged.Entries {
		n.outgoing = append(n.outgoing, entry.Clone())
	}
}

func (n *node) takeOutgoing() []model.OutboxEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.outgoing
	n.outgoing = nil
	return out
}

func (n *node) state(ctx context.Context) (ReplicaState, error) {
	snap, err := n.snaps.Export(ctx, model.ScopeFull)
	if err != nil {
		return ReplicaState{}, err
	}
	for t, recs := range snap {
		if len(recs) == 0 {
			delete(snap, t)
		}
	}
	pending, err := n.store.PendingCount(ctx)
	if err != nil {
		return ReplicaState{}, err
	}
	return ReplicaState{Entities: snap, Pending: pending}, nil
}

// executeStep runs one step and records its outcome.
func (h *Harness) executeStep(ctx context.Context, index int, st *Step, result *Result) {
	ev := TraceEvent{Step: index, Action: st.Action(), Replica: st.Replica}

	if st.At != nil {
		h.replicas[st.Replica].clock.Set(*st.At)
	}

	var err error
	switch {
	case st.Put != nil:
		ev.Entries, err = h.put(ctx, h.replicas[st.Replica], st.Put)
	case st.Delete != nil:
		t := model.EntityType(st.Delete.Type)
		if t.IsLocal() {
			err = h.replicas[st.Replica].store.DeleteLocal(ctx, t, st.Delete.ID)
		} else {
			_, err = h.replicas[st.Replica].store.DeleteEntity(ctx, t, st.Delete.ID)
			if err == nil {
				ev.Entries = 1
			}
		}
	case st.Rename != nil:
		var entries []model.OutboxEntry
		entries, err = h.replicas[st.Replica].store.RenameEntity(ctx,
			model.EntityType(st.Rename.Type), st.Rename.From, st.Rename.To)
		ev.Entries = len(entries)
	case st.Window != nil:
		ev.Replica = st.Window.From
		ev.Entries, err = h.window(ctx, st.Window)
	case len(st.Sync) > 0:
		ev.Entries, ev.Offline, err = h.sync(ctx, st.Sync)
	case st.Online != nil:
		h.conn.Set(*st.Online)
		h.log.SetUnreachable(!*st.Online)
	case st.Export != nil:
		ev.Entries, err = h.export(ctx, h.replicas[st.Replica], st.Export)
	case st.Restore != nil:
		ev.Entries, err = h.applySnapshot(ctx, st.Restore, h.replicas[st.Replica].snaps.Restore)
	case st.Import != nil:
		ev.Entries, err = h.applySnapshot(ctx, st.Import, h.replicas[st.Replica].snaps.MergeImport)
	}

	if err != nil {
		ev.Error = err.Error()
	}
	result.AddTrace(ev)

	switch {
	case st.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", index, ev.Action, err))
	case st.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got success", index, ev.Action, st.ExpectError))
	case st.ExpectError != "" && !matchesError(st.ExpectError, err):
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got %v", index, ev.Action, st.ExpectError, err))
	}
}

func matchesError(want string, err error) bool {
	switch want {
	case ErrorConflict:
		return errors.Is(err, store.ErrIDConflict)
	case ErrorNotFound:
		return errors.Is(err, store.ErrNotFound)
	}
	return false
}

func (h *Harness) put(ctx context.Context, n *node, step *PutStep) (int, error) {
	raw := step.Records
	if step.Record != nil {
		raw = append([]map[string]any{step.Record}, raw...)
	}
	recs := make([]model.Record, 0, len(raw))
	for i, r := range raw {
		rec, err := toRecord(r)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		recs = append(recs, rec)
	}

	t := model.EntityType(step.Type)
	if t.IsLocal() {
		for _, rec := range recs {
			if err := n.store.PutLocal(ctx, t, rec); err != nil {
				return 0, err
			}
		}
		return len(recs), nil
	}
	entries, err := n.store.BulkPutEntities(ctx, t, recs)
	return len(entries), err
}

// toRecord converts a YAML mapping into a record with JSON-decoded values.
func toRecord(m map[string]any) (model.Record, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return model.DecodeRecord(data)
}

// window applies the sender's unbroadcast local writes to each receiver as
// same-device changes.
func (h *Harness) window(ctx context.Context, step *WindowStep) (int, error) {
	entries := h.replicas[step.From].takeOutgoing()
	total := 0
	for _, id := range step.To {
		if id == step.From {
			continue
		}
		res, err := h.replicas[id].applier.Apply(ctx, events.OriginWindow, entries)
		if err != nil {
			return total, fmt.Errorf("window %s -> %s: %w", step.From, id, err)
		}
		total += len(res.Applied)
	}
	return total, nil
}

// sync drains and then polls each replica in order.
func (h *Harness) sync(ctx context.Context, ids []string) (int, bool, error) {
	total := 0
	offline := false
	for _, id := range ids {
		n := h.replicas[id]
		dr, err := n.pump.DrainOnce(ctx)
		if err != nil {
			return total, offline, fmt.Errorf("drain %s: %w", id, err)
		}
		total += dr.Sent
		offline = offline || dr.Offline

		pr, err := n.poller.PollOnce(ctx)
		if err != nil {
			return total, offline, fmt.Errorf("poll %s: %w", id, err)
		}
		total += pr.Applied
		offline = offline || pr.Offline
	}
	return total, offline, nil
}

func (h *Harness) export(ctx context.Context, n *node, step *SnapshotStep) (int, error) {
	scope, err := model.LookupScope(step.Scope)
	if err != nil {
		return 0, err
	}
	snap, err := n.snaps.Export(ctx, scope)
	if err != nil {
		return 0, err
	}
	h.snapshots[step.Snapshot] = snap
	return snap.Count(), nil
}

type snapshotApply func(ctx context.Context, scope model.Scope, snap model.Snapshot) (snapshot.Counts, error)

func (h *Harness) applySnapshot(ctx context.Context, step *SnapshotStep, apply snapshotApply) (int, error) {
	scope, err := model.LookupScope(step.Scope)
	if err != nil {
		return 0, err
	}
	snap, ok := h.snapshots[step.Snapshot]
	if !ok {
		return 0, fmt.Errorf("snapshot %q was never exported", step.Snapshot)
	}
	counts, err := apply(ctx, scope, snap)
	if err != nil {
		return 0, err
	}
	return counts.Total(), nil
}

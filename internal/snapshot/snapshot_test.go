package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/blob"
	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/store"
	"github.com/roach88/benchsync/internal/testutil"
)

type fixture struct {
	store *store.Store
	clock *testutil.DeterministicClock
	rec   *events.Recorder
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := testutil.NewDeterministicClock(1000)
	bus := events.NewBus()
	rec := &events.Recorder{}
	bus.Subscribe(rec.Handle)

	st, err := store.Open(filepath.Join(t.TempDir(), "bench.db"),
		store.WithClock(clock), store.WithBus(bus), store.WithOrigin("bench-a"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{store: st, clock: clock, rec: rec, svc: New(st, opts...)}
}

func record(t *testing.T, s string) model.Record {
	t.Helper()
	r, err := model.DecodeRecord([]byte(s))
	require.NoError(t, err)
	return r
}

func (f *fixture) put(t *testing.T, typ model.EntityType, s string) {
	t.Helper()
	_, err := f.store.PutEntity(context.Background(), typ, record(t, s))
	require.NoError(t, err)
}

func (f *fixture) pending(t *testing.T) []model.OutboxEntry {
	t.Helper()
	entries, err := f.store.PendingOutbox(context.Background(), 100)
	require.NoError(t, err)
	return entries
}

func ids(recs []model.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID())
	}
	return out
}

func TestExport_EveryScopeTypePresent(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"s1","updatedAt":10}`)

	snap, err := f.svc.Export(context.Background(), model.ScopeFinance)
	require.NoError(t, err)

	assert.ElementsMatch(t, model.ScopeFinance.Types, snap.Types())
	assert.Len(t, snap[model.Stock], 1)
	assert.NotNil(t, snap[model.Invoices], "empty types export as empty arrays")
	assert.Empty(t, snap[model.Invoices])
}

func TestExport_GoldenContainer(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"s2","name":"Cable","price":3.00,"updatedAt":11}`)
	f.put(t, model.Stock, `{"id":"s1","name":"Battery","price":12.50,"updatedAt":10}`)
	f.put(t, model.Quotes, `{"id":"q1","total":40.00,"updatedAt":20}`)

	snap, err := f.svc.Export(context.Background(), model.ScopeFinance)
	require.NoError(t, err)
	data, err := model.EncodeSnapshot(snap)
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "finance_export", data)
}

func TestRestore_RoundTrip(t *testing.T) {
	src := newFixture(t)
	src.put(t, model.Stock, `{"id":"s1","name":"Battery","updatedAt":10}`)
	src.put(t, model.Tickets, `{"id":"T1","status":"open","createdAt":5,"updatedAt":12}`)
	require.NoError(t, src.store.PutLocal(context.Background(), model.Suggestions,
		record(t, `{"category":"brands","items":["Acme"],"updatedAt":3}`)))

	snap, err := src.svc.Export(context.Background(), model.ScopeFull)
	require.NoError(t, err)
	data, err := model.EncodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := model.DecodeSnapshot(data)
	require.NoError(t, err)

	dst := newFixture(t)
	dst.put(t, model.Stock, `{"id":"stale","updatedAt":1}`)
	counts, err := dst.svc.Restore(context.Background(), model.ScopeFull, decoded)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())

	stock, err := dst.store.GetAllEntities(context.Background(), model.Stock)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids(stock), "restore replaces the type wholesale")

	ticket, err := dst.store.GetEntity(context.Background(), model.Tickets, "T1")
	require.NoError(t, err)
	assert.Equal(t, "open", ticket.String("status"))

	sugg, err := dst.store.GetLocal(context.Background(), model.Suggestions, "brands")
	require.NoError(t, err)
	assert.Len(t, sugg.Array("items"), 1)
}

func TestRestore_ClearsOutboxAndLogs(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"s1","updatedAt":10}`)
	require.NoError(t, f.store.PutLocal(context.Background(), model.Logs,
		record(t, `{"id":"log-1","message":"drained"}`)))
	require.Len(t, f.pending(t), 1)

	snap := model.Snapshot{model.Stock: {record(t, `{"id":"s9","updatedAt":50}`)}}
	_, err := f.svc.Restore(context.Background(), model.ScopeFull, snap)
	require.NoError(t, err)

	assert.Empty(t, f.pending(t), "restore writes no outbox entries and clears pending ones")
	logs, err := f.store.ListLocal(context.Background(), model.Logs)
	require.NoError(t, err)
	assert.Empty(t, logs)

	received := f.rec.Events(events.KindDataReceived)
	require.Len(t, received, 1)
	assert.Equal(t, events.OriginRestore, received[0].DataReceived.Source)
	assert.Equal(t, 1, received[0].DataReceived.Applied)
}

func TestRestore_AbsentOrUnusableTypeUntouched(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"s1","updatedAt":10}`)
	f.put(t, model.Invoices, `{"id":"i1","updatedAt":10}`)

	snap := model.Snapshot{
		model.Invoices: {record(t, `{"name":"no id"}`)},
		model.Quotes:   {},
	}
	_, err := f.svc.Restore(context.Background(), model.ScopeFinance, snap)
	require.NoError(t, err)

	n, err := f.store.CountEntities(context.Background(), model.Stock)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "absent type is untouched")

	n, err = f.store.CountEntities(context.Background(), model.Invoices)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "type with no usable record is untouched")
}

func TestMergeImport_OlderStockLeavesLocal(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"S1","qty":5,"updatedAt":10}`)
	before := len(f.pending(t))

	snap := model.Snapshot{model.Stock: {record(t, `{"id":"S1","qty":9,"updatedAt":5}`)}}
	counts, err := f.svc.MergeImport(context.Background(), model.ScopeFinance, snap)
	require.NoError(t, err)

	assert.Equal(t, 0, counts.Total())
	got, err := f.store.GetEntity(context.Background(), model.Stock, "S1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), got["qty"])
	assert.Len(t, f.pending(t), before, "unchanged records produce no outbox entry")
}

func TestMergeImport_NewerAndNewRecordsWritten(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"S1","qty":5,"updatedAt":10}`)

	snap := model.Snapshot{model.Stock: {
		record(t, `{"id":"S1","qty":7,"updatedAt":30}`),
		record(t, `{"id":"S2","qty":1,"updatedAt":30}`),
	}}
	counts, err := f.svc.MergeImport(context.Background(), model.ScopeFinance, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.Stock])

	got, err := f.store.GetEntity(context.Background(), model.Stock, "S1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("7"), got["qty"])

	entries := f.pending(t)
	require.Len(t, entries, 3)
	assert.Equal(t, "S1", entries[1].EntityID)
	assert.Equal(t, "S2", entries[2].EntityID)
}

func TestMergeImport_TicketHistoryUnion(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Tickets, `{
		"id":"T1","createdAt":10,"updatedAt":20,"status":"diagnostic",
		"history":[{"timestamp":10,"action":"open"},{"timestamp":20,"action":"diagnostic"}]
	}`)

	snap := model.Snapshot{model.Tickets: {record(t, `{
		"id":"T1","createdAt":10,"updatedAt":15,"status":"open",
		"history":[{"timestamp":10,"action":"open"},{"timestamp":15,"action":"note added"}]
	}`)}}
	counts, err := f.svc.MergeImport(context.Background(), model.ScopeFull, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.Tickets])

	got, err := f.store.GetEntity(context.Background(), model.Tickets, "T1")
	require.NoError(t, err)
	assert.Equal(t, "diagnostic", got.String("status"))
	assert.Len(t, got.Array(model.FieldHistory), 3)
}

func TestMergeImport_RespectsTombstone(t *testing.T) {
	f := newFixture(t)
	f.put(t, model.Stock, `{"id":"S1","updatedAt":10}`)
	f.clock.Set(2000)
	_, err := f.store.DeleteEntity(context.Background(), model.Stock, "S1")
	require.NoError(t, err)

	snap := model.Snapshot{model.Stock: {record(t, `{"id":"S1","updatedAt":1500}`)}}
	counts, err := f.svc.MergeImport(context.Background(), model.ScopeFinance, snap)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())

	_, err = f.store.GetEntity(context.Background(), model.Stock, "S1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMergeImport_SuggestionsByCategory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.PutLocal(context.Background(), model.Suggestions,
		record(t, `{"category":"brands","items":["Acme"],"updatedAt":10}`)))

	snap := model.Snapshot{model.Suggestions: {
		record(t, `{"category":"brands","items":["Acme","Zenith"],"updatedAt":20}`),
		record(t, `{"category":"faults","items":["no power"],"updatedAt":5}`),
	}}
	counts, err := f.svc.MergeImport(context.Background(), model.ScopeFull, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.Suggestions])
	assert.Empty(t, f.pending(t), "suggestions never reach the outbox")

	brands, err := f.store.GetLocal(context.Background(), model.Suggestions, "brands")
	require.NoError(t, err)
	assert.Len(t, brands.Array("items"), 2)
}

func TestArchive_LoadAndList(t *testing.T) {
	f := newFixture(t, WithBlobStore(blob.NewMemory()))
	f.put(t, model.Stock, `{"id":"s1","updatedAt":10}`)

	b, err := f.svc.Archive(context.Background(), model.ScopeFinance)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/finance/1000.json", b.Key)
	assert.Equal(t, 1, b.Records)
	assert.Equal(t, "memory", b.Driver)
	assert.NotEmpty(t, b.Digest)

	snap, err := f.svc.Load(context.Background(), b.Key)
	require.NoError(t, err)
	assert.Len(t, snap[model.Stock], 1)

	list, err := f.svc.Backups(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b, list[0])
}

func TestLoad_DigestMismatch(t *testing.T) {
	blobs := blob.NewMemory()
	f := newFixture(t, WithBlobStore(blobs))
	_, err := blobs.Put(context.Background(), "snapshots/full/1.json", bytes.NewReader([]byte(`{"stock":[]}`)),
		blob.PutOptions{Metadata: map[string]string{"digest": "bogus"}})
	require.NoError(t, err)

	_, err = f.svc.Load(context.Background(), "snapshots/full/1.json")
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

// tickingClock advances one millisecond on every read.
type tickingClock struct{ ms atomic.Int64 }

func (c *tickingClock) NowMillis() int64 { return c.ms.Add(1) }

func TestArchive_KeyMatchesCreatedAt(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "bench.db"),
		store.WithClock(&tickingClock{}), store.WithOrigin("bench-a"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := New(st, WithBlobStore(blob.NewMemory()))
	b, err := svc.Archive(context.Background(), model.ScopeFull)
	require.NoError(t, err)
	assert.Equal(t, ArchiveKey(model.ScopeFull.Name, b.CreatedAt), b.Key)
}

func TestArchive_RequiresBlobStore(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Archive(context.Background(), model.ScopeFull)
	assert.ErrorIs(t, err, ErrNoBlobStore)
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/testutil"
)

// createTestStore creates a new store in a temp dir with a deterministic
// clock starting at 1000 and a fresh bus.
func createTestStore(t *testing.T) (*Store, *testutil.DeterministicClock, *events.Bus) {
	t.Helper()
	clock := testutil.NewDeterministicClock(1000)
	bus := events.NewBus()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock), WithBus(bus), WithOrigin("replica-a"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock, bus
}

// createTestRecord creates a record with an id, updatedAt and extra fields.
func createTestRecord(id string, updatedAt int64, kv ...any) model.Record {
	rec := model.Record{model.FieldID: id, model.FieldUpdatedAt: updatedAt}
	for i := 0; i+1 < len(kv); i += 2 {
		rec[kv[i].(string)] = kv[i+1]
	}
	return rec
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/model"
)

func TestTrimOutbox_KeepsEntriesAppendedAfterRead(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := s.PutEntity(ctx, model.Stock, createTestRecord(id, 1))
		require.NoError(t, err)
	}

	batch, err := s.PendingOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// Written while the batch is "in flight".
	_, err = s.PutEntity(ctx, model.Stock, createTestRecord("s4", 1))
	require.NoError(t, err)

	n, err := s.TrimOutbox(ctx, model.LastSeq(batch))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	left, err := s.PendingOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "s4", left[0].EntityID)
	assert.Equal(t, int64(4), left[0].Seq)
}

func TestOutbox_SeqNeverReused(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	e1, err := s.PutEntity(ctx, model.Stock, createTestRecord("s1", 1))
	require.NoError(t, err)
	_, err = s.TrimOutbox(ctx, e1.Seq)
	require.NoError(t, err)

	require.NoError(t, s.RunInTransaction(ctx, func(tx *Tx) error {
		return tx.ClearOutbox(ctx)
	}))

	e2, err := s.PutEntity(ctx, model.Stock, createTestRecord("s2", 1))
	require.NoError(t, err)
	assert.Greater(t, e2.Seq, e1.Seq)
}

func TestPendingOutbox_Limit(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.PutEntity(ctx, model.Stock, createTestRecord(id, 1))
		require.NoError(t, err)
	}

	batch, err := s.PendingOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].EntityID)
	assert.Equal(t, "b", batch[1].EntityID)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPendingOutboxThrough(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	last, err := s.LastOutboxSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := s.PutEntity(ctx, model.Stock, createTestRecord(id, 1))
		require.NoError(t, err)
	}
	last, err = s.LastOutboxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	got, err := s.PendingOutboxThrough(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), model.LastSeq(got))

	got, err = s.PendingOutboxThrough(ctx, 3, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].EntityID)

	got, err = s.PendingOutboxThrough(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestTrimOutbox_ZeroIsNoop(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutEntity(ctx, model.Stock, createTestRecord("s1", 1))
	require.NoError(t, err)

	n, err := s.TrimOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLocalRecords_NeverOutboxed(t *testing.T) {
	s, _, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLocal(ctx, model.Suggestions, model.Record{"category": "brands", "values": []any{"Acme"}}))
	require.NoError(t, s.PutLocal(ctx, model.Logs, model.Record{"id": "log-1", "message": "hello"}))

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := s.GetLocal(ctx, model.Suggestions, "brands")
	require.NoError(t, err)
	assert.Equal(t, []any{"Acme"}, rec.Array("values"))

	list, err := s.ListLocal(ctx, model.Logs)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteLocal(ctx, model.Logs, "log-1"))
	_, err = s.GetLocal(ctx, model.Logs, "log-1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.PutLocal(ctx, model.Stock, createTestRecord("s1", 1))
	assert.Error(t, err, "replicable types are not local records")

	err = s.PutLocal(ctx, model.Suggestions, model.Record{"values": []any{}})
	assert.ErrorIs(t, err, ErrMissingID)
}

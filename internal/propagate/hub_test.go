package propagate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/model"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHub_FanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()

	a, cancelA, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer cancelB()
	assert.Equal(t, 2, hub.Subscribers())

	payload := model.Record{"id": "s1", "updatedAt": 5, "serial": json.Number("9007199254740993")}
	msg := Message{ID: "m1", Sender: "x", Entries: []model.OutboxEntry{
		{Seq: 1, Timestamp: 5, EntityType: model.Stock, EntityID: "s1", Op: model.OpPut, Payload: payload},
	}}
	require.NoError(t, hub.Publish(ctx, msg))

	for _, ch := range []<-chan Message{a, b} {
		got := recv(t, ch)
		assert.Equal(t, "m1", got.ID)
		require.Len(t, got.Entries, 1)
		assert.Equal(t, json.Number("9007199254740993"), got.Entries[0].Payload["serial"])

		// Each receiver gets its own decoded copy.
		got.Entries[0].Payload["mutated"] = true
	}
	assert.False(t, payload.Has("mutated"))
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()

	ch, cancel, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	cancel()
	cancel() // idempotent

	assert.Zero(t, hub.Subscribers())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, Message{ID: "after"}))
}

func TestMessage_RoundTrip(t *testing.T) {
	msg := Message{ID: "m", Sender: "s", Entries: []model.OutboxEntry{
		{Seq: 7, Timestamp: 9, EntityType: model.Tickets, EntityID: "t", Op: model.OpDelete, Origin: "r"},
	}}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = DecodeMessage([]byte("{"))
	assert.Error(t, err)
}

package propagate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/benchsync/internal/model"
)

func TestQueue_DrainAllFIFO(t *testing.T) {
	q := newQueue[model.OutboxEntry]()

	require.True(t, q.Enqueue(model.OutboxEntry{Seq: 1}, model.OutboxEntry{Seq: 2}))
	require.True(t, q.Enqueue(model.OutboxEntry{Seq: 3}))
	assert.Equal(t, 3, q.Len())

	got := q.DrainAll()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Zero(t, q.Len())
	assert.Nil(t, q.DrainAll())
}

func TestQueue_DrainedSliceNotOverwritten(t *testing.T) {
	q := newQueue[int]()
	q.Enqueue(1, 2)
	first := q.DrainAll()
	q.Enqueue(3, 4)
	assert.Equal(t, []int{1, 2}, first)
}

func TestQueue_WaitSignalsCoalesced(t *testing.T) {
	q := newQueue[int]()
	q.Enqueue(1)
	q.Enqueue(2)

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("expected signal")
	}
	assert.Equal(t, []int{1, 2}, q.DrainAll())

	select {
	case <-q.Wait():
		t.Fatal("signal should have been coalesced")
	default:
	}
}

func TestQueue_Close(t *testing.T) {
	q := newQueue[int]()
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(1))
	_, open := <-q.Wait()
	assert.False(t, open, "Wait channel closes on Close")
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q := newQueue[int]()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(i*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, q.DrainAll(), 1000)
}

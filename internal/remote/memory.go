package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/benchsync/internal/model"
)

// ErrUnreachable is returned by a Memory client while its log is marked
// unreachable.
var ErrUnreachable = errors.New("remote unreachable")

// MemoryLog is an in-process remote: the same dedupe and feed rules as the
// relay, kept in a slice. Several replicas share one log through Client.
type MemoryLog struct {
	mu          sync.Mutex
	entries     []logged
	seen        map[originSeq]bool
	unreachable bool
	pageSize    int
	watchers    []chan struct{}
}

type logged struct {
	checkpoint int64
	entry      model.OutboxEntry
}

type originSeq struct {
	origin string
	seq    int64
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{seen: make(map[originSeq]bool), pageSize: 500}
}

// SetUnreachable makes every client call fail with ErrUnreachable.
func (m *MemoryLog) SetUnreachable(v bool) {
	m.mu.Lock()
	m.unreachable = v
	m.mu.Unlock()
}

// SetPageSize caps the entries returned per Changes call.
func (m *MemoryLog) SetPageSize(n int) {
	m.mu.Lock()
	m.pageSize = n
	m.mu.Unlock()
}

// Len returns the number of accepted entries.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a copy of the accepted entries in arrival order.
func (m *MemoryLog) Entries() []model.OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OutboxEntry, len(m.entries))
	for i, l := range m.entries {
		out[i] = l.entry.Clone()
	}
	return out
}

// Client returns a Remote and Watcher acting as replicaID.
func (m *MemoryLog) Client(replicaID string) *MemoryClient {
	return &MemoryClient{log: m, replica: replicaID}
}

func (m *MemoryLog) append(origin string, entries []model.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return ErrUnreachable
	}
	for _, e := range entries {
		if e.Origin == "" {
			e.Origin = origin
		}
		key := originSeq{origin: e.Origin, seq: e.Seq}
		if m.seen[key] {
			continue
		}
		m.seen[key] = true
		m.entries = append(m.entries, logged{checkpoint: int64(len(m.entries) + 1), entry: e.Clone()})
	}
	for _, w := range m.watchers {
		signal(w)
	}
	return nil
}

func (m *MemoryLog) changes(replica string, since int64) (ChangeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return ChangeSet{}, ErrUnreachable
	}

	cs := ChangeSet{Entries: []model.OutboxEntry{}, Checkpoint: since}
	scanned := 0
	for _, l := range m.entries {
		if l.checkpoint <= since {
			continue
		}
		if scanned == m.pageSize {
			cs.More = true
			break
		}
		scanned++
		cs.Checkpoint = l.checkpoint
		if l.entry.Origin == replica {
			continue
		}
		cs.Entries = append(cs.Entries, l.entry.Clone())
	}
	return cs, nil
}

// MemoryClient is one replica's view of a MemoryLog.
type MemoryClient struct {
	log     *MemoryLog
	replica string
}

// PushBatch implements Pusher.
func (c *MemoryClient) PushBatch(_ context.Context, entries []model.OutboxEntry) error {
	return c.log.append(c.replica, entries)
}

// Changes implements Feed.
func (c *MemoryClient) Changes(_ context.Context, since int64) (ChangeSet, error) {
	return c.log.changes(c.replica, since)
}

// Ping implements Pinger.
func (c *MemoryClient) Ping(context.Context) error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if c.log.unreachable {
		return ErrUnreachable
	}
	return nil
}

// Watch implements Watcher. The returned channel is signalled after every
// accepted batch.
func (c *MemoryClient) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	c.log.mu.Lock()
	c.log.watchers = append(c.log.watchers, ch)
	c.log.mu.Unlock()

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer c.log.removeWatcher(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				signal(out)
			}
		}
	}()
	return out, nil
}

func (m *MemoryLog) removeWatcher(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.watchers {
		if w == ch {
			m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
			return
		}
	}
}

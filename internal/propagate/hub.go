package propagate

import (
	"context"
	"sync"
)

// hubBuffer is the per-subscriber backlog. A subscriber that falls further
// behind loses messages, which matches at-most-once delivery; the remote
// feed repairs the gap.
const hubBuffer = 256

// Hub is an in-process Channel connecting replicas that share one process
// (and tests). Every message is serialized and decoded per subscriber, so
// receivers never share maps with the sender.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan []byte)}
}

// Publish implements Channel.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- data:
		default:
			droppedTotal.WithLabelValues("hub").Inc()
		}
	}
	return nil
}

// Subscribe implements Channel.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	raw := make(chan []byte, hubBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = raw
	h.mu.Unlock()

	out := make(chan Message)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(done)
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case data := <-raw:
				msg, err := DecodeMessage(data)
				if err != nil {
					droppedTotal.WithLabelValues("hub").Inc()
					continue
				}
				select {
				case out <- msg:
				case <-done:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

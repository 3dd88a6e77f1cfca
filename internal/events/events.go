// Package events carries the process-wide notifications of the replication
// core to late-binding subscribers (presentation layer, propagator, pump).
//
// Delivery is synchronous: Publish invokes every matching handler in
// subscription order before returning. Handlers must not block; the
// components in this module only enqueue work or signal a channel.
package events

import (
	"sort"
	"sync"

	"github.com/roach88/benchsync/internal/model"
)

// Kind distinguishes event payloads.
type Kind int

const (
	// KindDataChanged fires on every committed local or applied mutation.
	KindDataChanged Kind = iota + 1
	// KindDataReceived fires once per batch applied from another window,
	// the remote feed, or a snapshot restore.
	KindDataReceived
	// KindStatus carries the pending-count and connectivity signal.
	KindStatus
)

// Origin identifies where a mutation came from.
type Origin string

const (
	OriginLocal   Origin = "local"
	OriginWindow  Origin = "window"
	OriginRemote  Origin = "remote"
	OriginRestore Origin = "restore"
)

// DataChanged carries the outbox entries of a committed mutation. For
// applied changes (window/remote) the entries describe what was written
// but were not appended to the local outbox.
type DataChanged struct {
	Origin  Origin
	Entries []model.OutboxEntry
}

// DataReceived summarizes one applied batch.
type DataReceived struct {
	Source  Origin
	Applied int
	Skipped int
}

// Status is the sync signal exposed to the presentation layer.
type Status struct {
	Pending int
	Online  bool
}

// Event wraps one notification. Exactly one payload pointer is set,
// matching Kind.
type Event struct {
	Kind         Kind
	DataChanged  *DataChanged
	DataReceived *DataReceived
	Status       *Status
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      int
	kinds   map[Kind]bool
	handler Handler
}

// Bus is a typed publish/subscribe hub. The zero value is not usable;
// create one with NewBus. A nil *Bus silently drops publishes so optional
// wiring stays simple.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers h for the given kinds (all kinds when none given) and
// returns a function that removes the subscription. On a nil bus nothing is
// registered and the returned function does nothing.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, kinds: set, handler: h}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber of e.Kind.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if len(s.kinds) == 0 || s.kinds[e.Kind] {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	for _, s := range matched {
		s.handler(e)
	}
}

// PublishChanged is shorthand for a KindDataChanged event.
func (b *Bus) PublishChanged(origin Origin, entries []model.OutboxEntry) {
	if len(entries) == 0 {
		return
	}
	b.Publish(Event{Kind: KindDataChanged, DataChanged: &DataChanged{Origin: origin, Entries: entries}})
}

// PublishReceived is shorthand for a KindDataReceived event.
func (b *Bus) PublishReceived(source Origin, applied, skipped int) {
	b.Publish(Event{Kind: KindDataReceived, DataReceived: &DataReceived{Source: source, Applied: applied, Skipped: skipped}})
}

// PublishStatus is shorthand for a KindStatus event.
func (b *Bus) PublishStatus(pending int, online bool) {
	b.Publish(Event{Kind: KindStatus, Status: &Status{Pending: pending, Online: online}})
}

// Recorder collects events for inspection, mostly in tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle implements Handler.
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events, optionally filtered by kind.
func (r *Recorder) Events(kinds ...Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if len(kinds) == 0 {
			out = append(out, e)
			continue
		}
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

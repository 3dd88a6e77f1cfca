// Package propagate relays local mutations between windows (replicas) on the
// same device without a round trip to the remote service.
//
// Each committed local mutation is broadcast as one Message over a Channel.
// Received entries are queued; one worker goroutine drains the queue and
// applies everything drained so far as one batch through replica.Applier,
// so a burst of broadcasts produces one "data received" notification.
// The worker never runs twice at once: arrivals during an apply wait in the
// queue for the next drain.
package propagate

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/replica"
)

// Applier applies a batch of entries. *replica.Applier satisfies it.
type Applier interface {
	Apply(ctx context.Context, origin events.Origin, entries []model.OutboxEntry) (replica.Result, error)
}

// Propagator connects a store's local notifications to a Channel.
type Propagator struct {
	sender  string
	channel Channel
	applier Applier
	bus     *events.Bus
	ids     model.IDGenerator
	logger  *slog.Logger

	inbound  *queue[model.OutboxEntry]
	outbound *queue[Message]
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithSender sets the sender id stamped on outgoing messages. Messages
// carrying this id are ignored on receipt. Default: a fresh UUIDv7.
func WithSender(id string) Option {
	return func(p *Propagator) { p.sender = id }
}

// WithIDs sets the generator for message ids.
func WithIDs(g model.IDGenerator) Option {
	return func(p *Propagator) { p.ids = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Propagator) { p.logger = l }
}

// New creates a Propagator. bus must be the bus the local store publishes
// on; applier writes into that same store.
func New(ch Channel, applier Applier, bus *events.Bus, opts ...Option) *Propagator {
	p := &Propagator{
		channel:  ch,
		applier:  applier,
		bus:      bus,
		ids:      model.UUIDv7Generator{},
		logger:   slog.Default(),
		inbound:  newQueue[model.OutboxEntry](),
		outbound: newQueue[Message](),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sender == "" {
		p.sender = p.ids.NewID()
	}
	return p
}

// Sender returns the id stamped on outgoing messages.
func (p *Propagator) Sender() string {
	return p.sender
}

// Run subscribes to the channel and to local notifications and relays
// until ctx is cancelled. It returns nil on cancellation and an error if
// the subscription cannot be established.
func (p *Propagator) Run(ctx context.Context) error {
	// Local notifications are captured before the channel subscription
	// exists; they wait in the outbound queue.
	unsubscribe := p.bus.Subscribe(p.onDataChanged, events.KindDataChanged)
	defer unsubscribe()

	msgs, cancel, err := p.channel.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	defer p.inbound.Close()
	defer p.outbound.Close()

	p.logger.Info("propagator started", "sender", p.sender)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.receive(gctx, msgs) })
	g.Go(func() error { return p.applyLoop(gctx) })
	g.Go(func() error { return p.publishLoop(gctx) })
	err = g.Wait()

	p.logger.Info("propagator stopped", "sender", p.sender)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// onDataChanged runs on the bus publisher's goroutine and must not block:
// it only enqueues. Entries applied from elsewhere are not re-broadcast.
func (p *Propagator) onDataChanged(e events.Event) {
	if e.DataChanged == nil || e.DataChanged.Origin != events.OriginLocal {
		return
	}
	p.outbound.Enqueue(Message{
		ID:      p.ids.NewID(),
		Sender:  p.sender,
		Entries: e.DataChanged.Entries,
	})
}

func (p *Propagator) receive(ctx context.Context, msgs <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			if msg.Sender == p.sender {
				continue
			}
			receivedTotal.Add(float64(len(msg.Entries)))
			p.inbound.Enqueue(msg.Entries...)
		}
	}
}

func (p *Propagator) applyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.inbound.Wait():
		}

		batch := p.inbound.DrainAll()
		if len(batch) == 0 {
			continue
		}
		batchSize.Observe(float64(len(batch)))
		if _, err := p.applier.Apply(ctx, events.OriginWindow, batch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("apply broadcast batch", "entries", len(batch), "error", err)
		}
	}
}

func (p *Propagator) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.outbound.Wait():
		}

		for _, msg := range p.outbound.DrainAll() {
			if err := p.channel.Publish(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("broadcast failed", "message", msg.ID, "entries", len(msg.Entries), "error", err)
				continue
			}
			broadcastTotal.Inc()
		}
	}
}

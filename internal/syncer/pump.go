// Package syncer moves changes between a replica's store and the remote:
// the Pump delivers the outbox, the Poller applies the remote change feed.
//
// Neither loop holds a lock across a remote call. The Pump reads a page of
// the outbox, pushes it, and trims only through the last sequence number it
// read, so entries appended meanwhile stay queued. Failures are logged and
// retried on the next trigger; nothing here panics on remote errors.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/remote"
	"github.com/roach88/benchsync/internal/store"
)

// ErrRemoteUnavailable wraps every failure to reach the remote.
var ErrRemoteUnavailable = errors.New("remote unavailable")

// DefaultBatchSize caps the entries sent per push.
const DefaultBatchSize = 200

// DrainResult describes one DrainOnce call.
type DrainResult struct {
	// Sent is the number of entries the remote acknowledged.
	Sent int
	// Pending is the outbox length when the call returned.
	Pending int
	// Offline is set when delivery was skipped for lack of connectivity.
	Offline bool
	// Busy is set when another drain was already running.
	Busy bool
}

// Pump delivers outbox entries to the remote.
type Pump struct {
	store     *store.Store
	pusher    remote.Pusher
	conn      Connectivity
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
	limiter   *rate.Limiter

	inFlight atomic.Bool
}

// PumpOption configures a Pump.
type PumpOption func(*Pump)

// WithPumpLogger sets the logger. Default: slog.Default().
func WithPumpLogger(l *slog.Logger) PumpOption {
	return func(p *Pump) { p.logger = l }
}

// WithBatchSize sets the maximum entries per push.
func WithBatchSize(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDrainInterval sets how often Run drains without a trigger.
// Default: 30s.
func WithDrainInterval(d time.Duration) PumpOption {
	return func(p *Pump) { p.interval = d }
}

// WithDrainLimit sets the limiter that spaces out drains triggered by
// local writes. Default: at most one drain per 500ms.
func WithDrainLimit(l *rate.Limiter) PumpOption {
	return func(p *Pump) { p.limiter = l }
}

// NewPump creates a pump draining s into pusher.
func NewPump(s *store.Store, pusher remote.Pusher, conn Connectivity, opts ...PumpOption) *Pump {
	p := &Pump{
		store:     s,
		pusher:    pusher,
		conn:      conn,
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		interval:  30 * time.Second,
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InFlight reports whether a drain is currently running.
func (p *Pump) InFlight() bool {
	return p.inFlight.Load()
}

// DrainOnce delivers the outbox in batches until every entry pending at the
// start of the call is sent or a push fails. Entries appended during the
// drain wait for the next one. At most one drain runs at a time; a concurrent call returns
// immediately with Busy set. While offline it only refreshes the pending
// signal and returns a nil error.
func (p *Pump) DrainOnce(ctx context.Context) (DrainResult, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		drainTotal.WithLabelValues("busy").Inc()
		return DrainResult{Busy: true}, nil
	}
	defer p.inFlight.Store(false)

	if !p.conn.Online() {
		drainTotal.WithLabelValues("offline").Inc()
		pending, err := p.publishStatus(ctx)
		return DrainResult{Pending: pending, Offline: true}, err
	}

	var res DrainResult
	last, err := p.store.LastOutboxSeq(ctx)
	if err != nil {
		return res, fmt.Errorf("drain: %w", err)
	}
	for last > 0 {
		batch, err := p.store.PendingOutboxThrough(ctx, last, p.batchSize)
		if err != nil {
			return res, fmt.Errorf("drain: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := p.push(ctx, batch); err != nil {
			drainTotal.WithLabelValues("failed").Inc()
			p.logger.Warn("outbox push failed", "entries", len(batch), "error", err)
			res.Pending, _ = p.publishStatus(ctx)
			return res, fmt.Errorf("drain: %w: %w", ErrRemoteUnavailable, err)
		}

		if _, err := p.store.TrimOutbox(ctx, model.LastSeq(batch)); err != nil {
			return res, fmt.Errorf("drain: %w", err)
		}
		res.Sent += len(batch)
		pushedTotal.Add(float64(len(batch)))

		if len(batch) < p.batchSize || model.LastSeq(batch) >= last {
			break
		}
	}

	if res.Sent > 0 {
		drainTotal.WithLabelValues("sent").Inc()
		p.logger.Debug("outbox drained", "sent", res.Sent)
	} else {
		drainTotal.WithLabelValues("empty").Inc()
	}
	pending, err := p.publishStatus(ctx)
	res.Pending = pending
	return res, err
}

func (p *Pump) push(ctx context.Context, batch []model.OutboxEntry) error {
	start := time.Now()
	defer func() { pushDuration.Observe(time.Since(start).Seconds()) }()
	return p.pusher.PushBatch(ctx, batch)
}

// publishStatus emits the pending count and connectivity on the store's bus.
func (p *Pump) publishStatus(ctx context.Context) (int, error) {
	pending, err := p.store.PendingCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain: %w", err)
	}
	pendingGauge.Set(float64(pending))
	p.store.Bus().PublishStatus(pending, p.conn.Online())
	return pending, nil
}

// Run drains once at start, on every interval tick, and after local writes,
// until ctx is cancelled. Drain errors are logged, never returned.
func (p *Pump) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	unsubscribe := p.store.Bus().Subscribe(func(e events.Event) {
		if e.DataChanged != nil && e.DataChanged.Origin == events.OriginLocal {
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}, events.KindDataChanged)
	defer unsubscribe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("sync pump started", "interval", p.interval, "batch", p.batchSize)
	defer p.logger.Info("sync pump stopped")

	p.runDrain(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-trigger:
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		p.runDrain(ctx)
	}
}

func (p *Pump) runDrain(ctx context.Context) {
	if _, err := p.DrainOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("drain failed", "error", err)
	}
}

package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/remote"
	"github.com/roach88/benchsync/internal/replica"
	"github.com/roach88/benchsync/internal/store"
)

// CheckpointRemote names the persisted change feed cursor.
const CheckpointRemote = "remote"

// Applier applies a batch of entries. *replica.Applier satisfies it.
type Applier interface {
	Apply(ctx context.Context, origin events.Origin, entries []model.OutboxEntry) (replica.Result, error)
}

// InFlighter reports whether an outbound drain is running. *Pump satisfies it.
type InFlighter interface {
	InFlight() bool
}

// PollResult describes one PollOnce call.
type PollResult struct {
	Applied    int
	Skipped    int
	Checkpoint int64
	// Offline or Busy is set when the poll was not attempted.
	Offline bool
	Busy    bool
}

// Poller pulls the remote change feed into the store.
type Poller struct {
	store    *store.Store
	feed     remote.Feed
	applier  Applier
	conn     Connectivity
	pump     InFlighter
	watcher  remote.Watcher
	interval time.Duration
	maxPages int
	logger   *slog.Logger

	running atomic.Bool
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger. Default: slog.Default().
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollInterval sets the polling period. Default: 15s.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithWatcher adds push-based wake-ups on top of interval polling.
func WithWatcher(w remote.Watcher) PollerOption {
	return func(p *Poller) { p.watcher = w }
}

// WithPump makes the poller stand down while pump is draining.
func WithPump(pump InFlighter) PollerOption {
	return func(p *Poller) { p.pump = pump }
}

// NewPoller creates a poller applying feed into s through applier.
func NewPoller(s *store.Store, feed remote.Feed, applier Applier, conn Connectivity, opts ...PollerOption) *Poller {
	p := &Poller{
		store:    s,
		feed:     feed,
		applier:  applier,
		conn:     conn,
		interval: 15 * time.Second,
		maxPages: 100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollOnce fetches and applies everything after the stored checkpoint.
// It does nothing while offline, while a drain is in flight, or while
// another poll runs. The checkpoint advances only after the page it covers
// has been applied.
func (p *Poller) PollOnce(ctx context.Context) (PollResult, error) {
	if !p.conn.Online() {
		pollTotal.WithLabelValues("offline").Inc()
		return PollResult{Offline: true}, nil
	}
	if p.pump != nil && p.pump.InFlight() {
		pollTotal.WithLabelValues("busy").Inc()
		return PollResult{Busy: true}, nil
	}
	if !p.running.CompareAndSwap(false, true) {
		pollTotal.WithLabelValues("busy").Inc()
		return PollResult{Busy: true}, nil
	}
	defer p.running.Store(false)

	since, err := p.store.Checkpoint(ctx, CheckpointRemote)
	if err != nil {
		return PollResult{}, fmt.Errorf("poll: %w", err)
	}

	res := PollResult{Checkpoint: since}
	for page := 0; page < p.maxPages; page++ {
		cs, err := p.feed.Changes(ctx, res.Checkpoint)
		if err != nil {
			pollTotal.WithLabelValues("failed").Inc()
			return res, fmt.Errorf("poll: %w: %w", ErrRemoteUnavailable, err)
		}

		if len(cs.Entries) > 0 {
			applied, err := p.applier.Apply(ctx, events.OriginRemote, cs.Entries)
			if err != nil {
				return res, fmt.Errorf("poll: %w", err)
			}
			res.Applied += len(applied.Applied)
			res.Skipped += applied.Skipped
		}

		if cs.Checkpoint != res.Checkpoint {
			if err := p.store.SetCheckpoint(ctx, CheckpointRemote, cs.Checkpoint); err != nil {
				return res, fmt.Errorf("poll: %w", err)
			}
			res.Checkpoint = cs.Checkpoint
			checkpointGauge.Set(float64(cs.Checkpoint))
		}
		if !cs.More {
			break
		}
	}

	if res.Applied > 0 {
		pollTotal.WithLabelValues("applied").Inc()
		p.logger.Debug("remote changes applied", "applied", res.Applied, "skipped", res.Skipped, "checkpoint", res.Checkpoint)
	} else {
		pollTotal.WithLabelValues("empty").Inc()
	}
	return res, nil
}

// Run polls at start, on every interval tick, and on watcher signals until
// ctx is cancelled. If the watcher cannot connect the poller falls back to
// the interval alone. Poll errors are logged, never returned.
func (p *Poller) Run(ctx context.Context) error {
	var wake <-chan struct{}
	if p.watcher != nil {
		ch, err := p.watcher.Watch(ctx)
		if err != nil {
			p.logger.Warn("change watcher unavailable, polling only", "error", err)
		} else {
			wake = ch
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval, "watch", wake != nil)
	defer p.logger.Info("poller stopped")

	p.runPoll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
		}
		p.runPoll(ctx)
	}
}

func (p *Poller) runPoll(ctx context.Context) {
	if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("poll failed", "error", err)
	}
}

package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/benchsync/internal/remote"
)

// Connectivity reports whether the remote is believed reachable.
type Connectivity interface {
	Online() bool
}

// Flag is a settable Connectivity. The zero value is offline.
type Flag struct {
	online atomic.Bool
}

// NewFlag creates a flag with the given initial state.
func NewFlag(online bool) *Flag {
	f := &Flag{}
	f.online.Store(online)
	return f
}

// Online implements Connectivity.
func (f *Flag) Online() bool {
	return f.online.Load()
}

// Set updates the state and reports whether it changed.
func (f *Flag) Set(online bool) bool {
	return f.online.Swap(online) != online
}

// Probe derives connectivity from periodic health checks against the
// remote. It starts offline until the first successful check.
type Probe struct {
	Flag

	pinger   remote.Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	onChange func(online bool)
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithProbeInterval sets the time between checks. Default: 10s.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *Probe) { p.interval = d }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(p *Probe) { p.logger = l }
}

// OnConnectivityChange registers a callback run after each transition.
func OnConnectivityChange(fn func(online bool)) ProbeOption {
	return func(p *Probe) { p.onChange = fn }
}

// NewProbe creates a probe for pinger.
func NewProbe(pinger remote.Pinger, opts ...ProbeOption) *Probe {
	p := &Probe{
		pinger:   pinger,
		interval: 10 * time.Second,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check runs one health check and updates the flag.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if p.Set(online) {
		if online {
			p.logger.Info("remote reachable")
		} else {
			p.logger.Warn("remote unreachable", "error", err)
		}
		onlineGauge.Set(boolGauge(online))
		if p.onChange != nil {
			p.onChange(online)
		}
	}
	return online
}

// Run checks immediately and then on every interval until ctx is
// cancelled. It always returns nil.
func (p *Probe) Run(ctx context.Context) error {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

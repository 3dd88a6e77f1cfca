package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/propagate"
	"github.com/roach88/benchsync/internal/remote"
	"github.com/roach88/benchsync/internal/syncer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the replica: propagation, outbound pump and inbound poller",
		Long: `Run the replication loops until interrupted.

Local writes from other windows arrive over the same-device channel (Redis
pub/sub when propagate.redis-addr is set). With a remote configured, the
outbox is drained on every local write, on reconnect and periodically, and
the remote change feed is polled (and watched over a websocket when
remote.watch is on). Without a remote the replica runs offline and the
outbox keeps growing.

Example:
  benchsync run --db ./bench.db --remote http://relay.local:8780`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(opts, cmd)
		},
	}

	return cmd
}

func runReplica(opts *RunOptions, cmd *cobra.Command) error {
	a, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	logger := a.Logger
	cfg := a.Config
	applier := a.applier()

	ch, err := openChannel(ctx, a)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	prop := propagate.New(ch, applier, a.bus, propagate.WithLogger(logger))
	g.Go(func() error { return prop.Run(ctx) })

	unsubscribe := a.bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.KindDataReceived:
			logger.Info("changes received", "source", e.DataReceived.Source,
				"applied", e.DataReceived.Applied, "skipped", e.DataReceived.Skipped)
		case events.KindStatus:
			logger.Debug("sync status", "pending", e.Status.Pending, "online", e.Status.Online)
		}
	}, events.KindDataReceived, events.KindStatus)
	defer unsubscribe()

	if cfg.RemoteURL != "" {
		client, err := a.remoteClient()
		if err != nil {
			return err
		}

		var pump *syncer.Pump
		probe := syncer.NewProbe(client,
			syncer.WithProbeInterval(cfg.ProbeInterval),
			syncer.WithProbeLogger(logger),
			syncer.OnConnectivityChange(func(online bool) {
				if online && pump != nil {
					g.Go(func() error {
						if _, err := pump.DrainOnce(ctx); err != nil && ctx.Err() == nil {
							logger.Warn("drain after reconnect failed", "error", err)
						}
						return nil
					})
				}
			}),
		)
		pump = syncer.NewPump(a.store, client, probe,
			syncer.WithPumpLogger(logger),
			syncer.WithBatchSize(cfg.BatchSize),
			syncer.WithDrainInterval(cfg.DrainInterval),
		)

		pollOpts := []syncer.PollerOption{
			syncer.WithPollerLogger(logger),
			syncer.WithPollInterval(cfg.PollInterval),
			syncer.WithPump(pump),
		}
		if cfg.Watch {
			pollOpts = append(pollOpts, syncer.WithWatcher(remote.NewWSWatcher(client.WatchURL(), logger)))
		}
		poller := syncer.NewPoller(a.store, client, applier, probe, pollOpts...)

		g.Go(func() error { return probe.Run(ctx) })
		g.Go(func() error { return pump.Run(ctx) })
		g.Go(func() error { return poller.Run(ctx) })
	} else {
		logger.Info("no remote configured, running offline")
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr) })
	}

	logger.Info("replica running", "db", cfg.DB, "replica", cfg.Replica, "sender", prop.Sender())
	fmt.Fprintln(cmd.OutOrStdout(), "Replica running. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "replica error", err)
	}
	logger.Info("replica stopped gracefully")
	return nil
}

func openChannel(ctx context.Context, a *app) (propagate.Channel, error) {
	cfg := a.Config
	if cfg.RedisAddr == "" {
		return propagate.NewHub(), nil
	}
	client, err := propagate.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
	}
	return propagate.NewRedisChannel(client, cfg.RedisChannel, a.Logger), nil
}

// signalContext cancels on SIGINT/SIGTERM or when parent is done.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes the Prometheus registry on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

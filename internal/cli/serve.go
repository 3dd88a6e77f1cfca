package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/benchsync/internal/relay"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr, db string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference relay (remote batch endpoint and change feed)",
		Long: `Run the reference relay that replicas push to and poll from.

Batches are appended to a SQLite change log, deduplicated on origin and
seq. The feed serves entries after a checkpoint, excluding the caller's own
origin, and /v1/watch pushes a notice to websocket clients after every
accepted batch. Prometheus metrics are served on /metrics.

Example:
  benchsync serve --addr :8780 --relay-db ./relay.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if addr == "" {
				addr = cfg.RelayAddr
			}
			if db == "" {
				db = cfg.RelayDB
			}

			log, err := relay.OpenLog(db)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open relay log", err)
			}
			defer func() {
				if closeErr := log.Close(); closeErr != nil {
					rootOpts.Logger.Error("error closing relay log", "error", closeErr)
				}
			}()

			if !rootOpts.Verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := relay.NewServer(log,
				relay.WithServerLogger(rootOpts.Logger),
				relay.WithPageSize(cfg.RelayPageSize),
			)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s. Press Ctrl-C to stop.\n", addr)
			if err := srv.Serve(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "relay error", err)
			}
			rootOpts.Logger.Info("relay stopped gracefully")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (config: relay.addr)")
	cmd.Flags().StringVar(&db, "relay-db", "", "path to the relay change log (config: relay.db)")

	return cmd
}

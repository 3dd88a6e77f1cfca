package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/syncer"
)

// OutboxResult is printed by the outbox command.
type OutboxResult struct {
	Pending int                 `json:"pending"`
	Entries []model.OutboxEntry `json:"entries"`
}

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Show entries waiting for the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			n, err := a.store.PendingCount(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "outbox failed", err)
			}
			entries, err := a.store.PendingOutbox(ctx, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "outbox failed", err)
			}
			if a.Format == "json" {
				return a.out.Success(OutboxResult{Pending: n, Entries: entries})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d pending\n", n)
			for _, e := range entries {
				fmt.Fprintf(w, "%6d  %-6s %s/%s  origin=%s ts=%d\n",
					e.Seq, e.Op, e.EntityType, e.EntityID, e.Origin, e.Timestamp)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show (0 for all)")

	return cmd
}

// DrainReport is printed by the drain command.
type DrainReport struct {
	Online  bool `json:"online"`
	Sent    int  `json:"sent"`
	Pending int  `json:"pending"`
	Applied int  `json:"applied"`
	Skipped int  `json:"skipped"`
}

func (r DrainReport) String() string {
	if !r.Online {
		return fmt.Sprintf("remote unreachable, %d pending", r.Pending)
	}
	return fmt.Sprintf("sent %d, %d pending, applied %d, skipped %d", r.Sent, r.Pending, r.Applied, r.Skipped)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	var pull bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Send the outbox to the remote once",
		Long: `Check the remote, send every pending outbox entry, and with --pull also
apply the remote's changes since the stored checkpoint.

An unreachable remote is not an error: the outbox is kept and the pending
count printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.remoteClient()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			probe := syncer.NewProbe(client, syncer.WithProbeLogger(a.Logger))
			probe.Check(ctx)

			pump := syncer.NewPump(a.store, client, probe,
				syncer.WithPumpLogger(a.Logger), syncer.WithBatchSize(a.Config.BatchSize))
			res, err := pump.DrainOnce(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "drain failed", err)
			}
			report := DrainReport{Online: !res.Offline, Sent: res.Sent, Pending: res.Pending}

			if pull && report.Online {
				poller := syncer.NewPoller(a.store, client, a.applier(), probe,
					syncer.WithPollerLogger(a.Logger), syncer.WithPump(pump))
				pr, err := poller.PollOnce(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "pull failed", err)
				}
				report.Applied, report.Skipped = pr.Applied, pr.Skipped
			}
			return a.out.Success(report)
		},
	}

	cmd.Flags().BoolVar(&pull, "pull", false, "also apply remote changes")

	return cmd
}

package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/snapshot"
)

// CountsReport prints per-type record counts.
type CountsReport struct {
	Scope   string         `json:"scope"`
	Records int            `json:"records"`
	Types   map[string]int `json:"types"`
}

func newCountsReport(scope model.Scope, c snapshot.Counts) CountsReport {
	r := CountsReport{Scope: scope.Name, Records: c.Total(), Types: make(map[string]int, len(c))}
	for t, n := range c {
		r.Types[string(t)] = n
	}
	return r
}

func (r CountsReport) String() string {
	names := make([]string, 0, len(r.Types))
	for name := range r.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, r.Types[name]))
	}
	return fmt.Sprintf("%s: %d record(s) %s", r.Scope, r.Records, strings.Join(parts, " "))
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		output  string
		archive bool
	)

	cmd := &cobra.Command{
		Use:   "export <scope>",
		Short: "Export a scope as a snapshot",
		Long: `Export every entity type of a scope (full, finance, editor) as one
snapshot, read in a single transaction.

The snapshot is written to --output, to stdout, or with --archive to the
configured archive store and listed in the backups catalog.

Example:
  benchsync export full -o full.json
  benchsync export finance --archive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			svc, err := a.snapshots(ctx, archive)
			if err != nil {
				return err
			}

			if archive {
				b, err := svc.Archive(ctx, scope)
				if err != nil {
					return WrapExitError(ExitFailure, "archive failed", err)
				}
				return a.out.Success(b)
			}

			snap, err := svc.Export(ctx, scope)
			if err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			data, err := model.EncodeSnapshot(snap)
			if err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return WrapExitError(ExitFailure, "failed to write snapshot", err)
			}
			a.out.VerboseLog("wrote %d record(s) to %s", snap.Count(), output)
			return a.out.Success(fmt.Sprintf("exported %d record(s) to %s", snap.Count(), output))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the snapshot to a file")
	cmd.Flags().BoolVar(&archive, "archive", false, "write the snapshot to the archive store")

	return cmd
}

// loadSnapshot reads a snapshot from a file, stdin, or the archive store.
func loadSnapshot(ctx context.Context, cmd *cobra.Command, svc *snapshot.Service, file, key string) (model.Snapshot, error) {
	if key != "" {
		snap, err := svc.Load(ctx, key)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "failed to load archive", err)
		}
		return snap, nil
	}
	data, err := readInput(cmd, file)
	if err != nil {
		return nil, err
	}
	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid snapshot", err)
	}
	return snap, nil
}

type snapshotApply func(svc *snapshot.Service, ctx context.Context, scope model.Scope, snap model.Snapshot) (snapshot.Counts, error)

func newSnapshotApplyCommand(rootOpts *RootOptions, use, short, long, failure string, apply snapshotApply) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   use + " <scope> [file]",
		Short: short,
		Long:  long,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(args[0])
			if err != nil {
				return err
			}
			file := ""
			if len(args) == 2 {
				file = args[1]
			}

			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			svc, err := a.snapshots(ctx, key != "")
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(ctx, cmd, svc, file, key)
			if err != nil {
				return err
			}
			counts, err := apply(svc, ctx, scope, snap)
			if err != nil {
				return WrapExitError(ExitFailure, failure, err)
			}
			return a.out.Success(newCountsReport(scope, counts))
		},
	}

	cmd.Flags().StringVar(&key, "from-archive", "", "read the snapshot from the archive store by key")

	return cmd
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return newSnapshotApplyCommand(rootOpts, "restore",
		"Replace local state with a snapshot",
		`Replace the scope's local state with a snapshot in one transaction.

The outbox and the local logs are cleared and nothing is queued for the
remote. Entity types missing from the snapshot are left untouched.`,
		"restore failed", (*snapshot.Service).Restore)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return newSnapshotApplyCommand(rootOpts, "import",
		"Merge a snapshot into local state",
		`Merge a snapshot into local state item by item without deleting
anything. Records that change are written through the outbox.`,
		"import failed", (*snapshot.Service).MergeImport)
}

// NewBackupsCommand creates the backups command.
func NewBackupsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List archived snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.snapshots(cmd.Context(), false)
			if err != nil {
				return err
			}
			list, err := svc.Backups(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "backups failed", err)
			}
			if a.Format == "json" {
				return a.out.Success(list)
			}
			w := cmd.OutOrStdout()
			for _, b := range list {
				fmt.Fprintf(w, "%s  scope=%s records=%d size=%d driver=%s\n", b.Key, b.Scope, b.Records, b.Size, b.Driver)
			}
			return nil
		},
	}
}

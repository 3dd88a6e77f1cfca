package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/benchsync/internal/blob"
	"github.com/roach88/benchsync/internal/config"
	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/merge"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/remote"
	"github.com/roach88/benchsync/internal/replica"
	"github.com/roach88/benchsync/internal/snapshot"
	"github.com/roach88/benchsync/internal/store"
)

// app bundles the replica resources a command works with.
type app struct {
	*RootOptions
	store *store.Store
	bus   *events.Bus
	out   *OutputFormatter
}

// openApp opens the replica database named by the configuration.
func (o *RootOptions) openApp(cmd *cobra.Command) (*app, error) {
	bus := events.NewBus()
	st, err := store.Open(o.Config.DB,
		store.WithBus(bus),
		store.WithOrigin(o.Config.Replica),
		store.WithDerivedOrigin(func(id string) string { return config.DefaultReplica(o.Config.DB, id) }),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	o.Config.Replica = st.Origin()
	o.Logger.Debug("database ready", "path", o.Config.DB, "replica", o.Config.Replica)
	return &app{RootOptions: o, store: st, bus: bus, out: o.formatter(cmd)}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.Logger.Error("error closing database", "error", err)
	}
}

func (a *app) engine() merge.Engine {
	return merge.Engine{TieBreak: a.Config.TieBreak}
}

func (a *app) applier() *replica.Applier {
	return replica.NewApplier(a.store, replica.WithEngine(a.engine()), replica.WithLogger(a.Logger))
}

// snapshots returns the snapshot service, with the archive store attached
// when withBlobs is set.
func (a *app) snapshots(ctx context.Context, withBlobs bool) (*snapshot.Service, error) {
	opts := []snapshot.Option{snapshot.WithEngine(a.engine()), snapshot.WithLogger(a.Logger)}
	if withBlobs {
		b, err := blob.Open(ctx, a.Config.Blob)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open archive store", err)
		}
		opts = append(opts, snapshot.WithBlobStore(b))
	}
	return snapshot.New(a.store, opts...), nil
}

// remoteClient returns the HTTP client for the configured remote.
func (a *app) remoteClient() (*remote.Client, error) {
	if a.Config.RemoteURL == "" {
		return nil, NewExitError(ExitCommandError, "no remote configured (set --remote or remote.url)")
	}
	c, err := remote.NewClient(a.Config.RemoteURL, a.Config.Replica)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid remote", err)
	}
	return c, nil
}

// parseType validates an entity type argument.
func parseType(s string) (model.EntityType, error) {
	t, err := model.ParseEntityType(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid entity type", err)
	}
	return t, nil
}

// parseScope validates a scope argument.
func parseScope(s string) (model.Scope, error) {
	scope, err := model.LookupScope(s)
	if err != nil {
		return model.Scope{}, WrapExitError(ExitCommandError, "invalid scope", err)
	}
	return scope, nil
}

// readInput returns the bytes of the file at path, or stdin for "" and "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read input", err)
	}
	return data, nil
}

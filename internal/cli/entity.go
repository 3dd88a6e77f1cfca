package cli

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/store"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	File string

	// IDs generates ids for records without one (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs model.IDGenerator
}

// PutResult reports the outbox entries written by put.
type PutResult struct {
	Entries []EntryRef `json:"entries"`
}

// EntryRef identifies one outbox entry.
type EntryRef struct {
	Seq int64  `json:"seq"`
	ID  string `json:"id"`
	Op  string `json:"op"`
}

func (r PutResult) String() string {
	var b bytes.Buffer
	for i, e := range r.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s (seq %d)", e.Op, e.ID, e.Seq)
	}
	return b.String()
}

func refs(entries []model.OutboxEntry) PutResult {
	out := PutResult{Entries: make([]EntryRef, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, EntryRef{Seq: e.Seq, ID: e.EntityID, Op: string(e.Op)})
	}
	return out
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <type> [json]",
		Short: "Create or update entities",
		Long: `Create or update entities of one type.

The record is read from the argument, from --file, or from stdin. A JSON
array writes every record in one transaction. Records without an id get a
fresh one. Local side records (suggestions) are stored without an outbox
entry.

Example:
  benchsync put stock '{"id":"S1","name":"Battery","qty":4}'
  benchsync put tickets --file tickets.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return putEntities(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read records from file (- for stdin)")

	return cmd
}

func putEntities(opts *PutOptions, cmd *cobra.Command, args []string) error {
	t, err := parseType(args[0])
	if err != nil {
		return err
	}

	var data []byte
	if len(args) == 2 {
		data = []byte(args[1])
	} else if data, err = readInput(cmd, opts.File); err != nil {
		return err
	}

	recs, err := decodeInput(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid record JSON", err)
	}
	if len(recs) == 0 {
		return NewExitError(ExitCommandError, "no records given")
	}

	ids := opts.IDs
	if ids == nil {
		ids = model.UUIDv7Generator{}
	}
	for _, rec := range recs {
		if t != model.Suggestions && rec.ID() == "" {
			rec[model.FieldID] = ids.NewID()
		}
	}

	a, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if t.IsLocal() {
		for _, rec := range recs {
			if store.LocalKey(t, rec) == "" {
				return NewExitError(ExitCommandError, "local record has no key")
			}
			if err := a.store.PutLocal(ctx, t, rec); err != nil {
				return WrapExitError(ExitFailure, "put failed", err)
			}
		}
		return a.out.Success(fmt.Sprintf("stored %d %s record(s)", len(recs), t))
	}

	entries, err := a.store.BulkPutEntities(ctx, t, recs)
	if err != nil {
		return WrapExitError(ExitFailure, "put failed", err)
	}
	return a.out.Success(refs(entries))
}

// decodeInput accepts one JSON object or an array of objects.
func decodeInput(data []byte) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return model.DecodeRecords(trimmed)
	}
	rec, err := model.DecodeRecord(trimmed)
	if err != nil {
		return nil, err
	}
	return []model.Record{rec}, nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Print one entity",
		Long: `Print one entity by id, or one local side record by key
(the category for suggestions).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var rec model.Record
			if t.IsLocal() {
				rec, err = a.store.GetLocal(cmd.Context(), t, args[1])
			} else {
				rec, err = a.store.GetEntity(cmd.Context(), t, args[1])
			}
			if err != nil {
				return WrapExitError(ExitFailure, "get failed", err)
			}
			return a.out.Records([]model.Record{rec})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "Print every entity of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var recs []model.Record
			if t.IsLocal() {
				recs, err = a.store.ListLocal(cmd.Context(), t)
			} else {
				recs, err = a.store.GetAllEntities(cmd.Context(), t)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "list failed", err)
			}
			return a.out.Records(recs)
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete an entity",
		Long: `Delete an entity and record the delete in the outbox. Deleting an id
that does not exist locally still records the delete.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if t.IsLocal() {
				if err := a.store.DeleteLocal(cmd.Context(), t, args[1]); err != nil {
					return WrapExitError(ExitFailure, "delete failed", err)
				}
				return a.out.Success(fmt.Sprintf("deleted %s %s", t, args[1]))
			}
			entry, err := a.store.DeleteEntity(cmd.Context(), t, args[1])
			if err != nil {
				return WrapExitError(ExitFailure, "delete failed", err)
			}
			return a.out.Success(refs([]model.OutboxEntry{entry}))
		},
	}
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <type> <old-id> <new-id>",
		Short: "Re-key an entity",
		Long: `Re-key an entity. Fails without writing anything when the new id is
already in use.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[0])
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.RenameEntity(cmd.Context(), t, args[1], args[2])
			if err != nil {
				return WrapExitError(ExitFailure, "rename failed", err)
			}
			return a.out.Success(refs(entries))
		},
	}
}

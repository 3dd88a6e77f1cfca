// Package remote defines the contract between a replica and the remote
// store, plus an HTTP client, a websocket change watcher and an in-memory
// implementation for tests and local development.
//
// The remote accepts whole batches of outbox entries (no partial
// acknowledgement) and serves a change feed addressed by an opaque integer
// checkpoint. Entries a replica pushed itself are excluded from the feed it
// reads.
package remote

import (
	"context"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// Pusher delivers a batch of outbox entries. A nil error acknowledges the
// whole batch; any error means none of it may be considered delivered.
type Pusher interface {
	PushBatch(ctx context.Context, entries []model.OutboxEntry) error
}

// Feed returns changes recorded after a checkpoint.
type Feed interface {
	Changes(ctx context.Context, since int64) (ChangeSet, error)
}

// Pinger checks that the remote is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Watcher signals that new changes may be available. Signals are coalesced;
// the channel closes when ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Remote is the full client surface used by the sync loops.
type Remote interface {
	Pusher
	Feed
	Pinger
}

// ChangeSet is one page of the change feed.
type ChangeSet struct {
	Entries []model.OutboxEntry `json:"entries"`
	// Checkpoint is the cursor to pass as since on the next call.
	Checkpoint int64 `json:"checkpoint"`
	// More is set when the page was truncated.
	More bool `json:"more,omitempty"`
}

// BatchRequest is the body of POST /v1/batch.
type BatchRequest struct {
	Origin  string              `json:"origin"`
	Entries []model.OutboxEntry `json:"entries"`
}

// WatchNotice is sent on /v1/watch after each accepted batch.
type WatchNotice struct {
	Checkpoint int64 `json:"checkpoint"`
}

// HTTP endpoints of the reference relay.
const (
	PathBatch   = "/v1/batch"
	PathChanges = "/v1/changes"
	PathHealth  = "/v1/healthz"
	PathWatch   = "/v1/watch"
)

// StatusError reports an unexpected HTTP status from the remote.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

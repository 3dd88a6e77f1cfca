package merge

import (
	"github.com/roach88/benchsync/internal/model"
)

// Decision is the outcome of applying one incoming change to local state.
type Decision struct {
	// Record is the version to store when Delete is false.
	Record model.Record
	// Delete requests removal; DeletedAt is the tombstone time to record.
	Delete    bool
	DeletedAt int64
	// Changed is false when local state already reflects the change, so
	// the apply path can skip the write.
	Changed bool
}

// Resolve decides how an incoming outbox entry changes local state.
//
// local is the current row (nil if absent) and tomb the current tombstone,
// if any. Puts are merged against the local row; a put no newer than an
// existing tombstone is dropped. A delete removes the local row unless the
// row was edited strictly after the delete.
func (e Engine) Resolve(local model.Record, tomb *model.Tombstone, in model.OutboxEntry) Decision {
	switch in.Op {
	case model.OpDelete:
		return e.resolveDelete(local, tomb, in)
	case model.OpPut:
		return e.resolvePut(local, tomb, in)
	}
	return Decision{}
}

func (e Engine) resolvePut(local model.Record, tomb *model.Tombstone, in model.OutboxEntry) Decision {
	if in.Payload == nil {
		return Decision{}
	}
	if local == nil {
		if tomb != nil && tomb.DeletedAt >= in.Payload.UpdatedAt() {
			return Decision{}
		}
		return Decision{Record: in.Payload.Clone(), Changed: true}
	}

	merged := e.Merge(in.EntityType, local, in.Payload)
	return Decision{Record: merged, Changed: !model.RecordsEqual(merged, local)}
}

func (e Engine) resolveDelete(local model.Record, tomb *model.Tombstone, in model.OutboxEntry) Decision {
	at := in.Timestamp
	if local != nil {
		if local.UpdatedAt() > at {
			return Decision{}
		}
		return Decision{Delete: true, DeletedAt: at, Changed: true}
	}
	if tomb != nil && tomb.DeletedAt >= at {
		return Decision{}
	}
	return Decision{Delete: true, DeletedAt: at, Changed: true}
}

package model

import "fmt"

// Op is the kind of mutation an outbox entry records.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Valid reports whether op is a known operation.
func (op Op) Valid() bool {
	return op == OpPut || op == OpDelete
}

// OutboxEntry records that one entity changed.
//
// Seq is assigned by the store and never reused, so "every entry with
// seq <= N" is exactly the set of entries that existed when N was read.
// Timestamp is the mutation time; for deletes it is the deletion time the
// merge engine compares against concurrent edits.
type OutboxEntry struct {
	Seq        int64      `json:"seq"`
	Timestamp  int64      `json:"timestamp"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Op         Op         `json:"op"`
	Payload    Record     `json:"payload,omitempty"`
	Origin     string     `json:"origin,omitempty"`
}

// Validate checks the fields every entry must carry.
func (e OutboxEntry) Validate() error {
	if !e.EntityType.IsReplicable() {
		return fmt.Errorf("outbox entry: entity type %q is not replicable", e.EntityType)
	}
	if e.EntityID == "" {
		return fmt.Errorf("outbox entry: missing entity id")
	}
	if !e.Op.Valid() {
		return fmt.Errorf("outbox entry: invalid op %q", e.Op)
	}
	if e.Op == OpPut && e.Payload == nil {
		return fmt.Errorf("outbox entry: put without payload")
	}
	return nil
}

// Tombstone marks an entity as deleted at DeletedAt. It lets a delete and a
// concurrent edit on another replica be ordered deterministically.
type Tombstone struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	DeletedAt  int64      `json:"deletedAt"`
}

// LastSeq returns the highest sequence number in entries (0 if empty).
func LastSeq(entries []OutboxEntry) int64 {
	var last int64
	for _, e := range entries {
		if e.Seq > last {
			last = e.Seq
		}
	}
	return last
}

// Clone returns a copy of e whose payload shares no maps with e.
func (e OutboxEntry) Clone() OutboxEntry {
	e.Payload = e.Payload.Clone()
	return e
}

// Package store provides SQLite-backed durable storage for one benchsync
// replica.
//
// The store holds:
//   - Entities: one row per (entity_type, id), payload stored as JSON
//   - Outbox: append-only log of pending outbound mutations
//   - Tombstones: deletion markers used to order delete-vs-edit races
//   - Local records: suggestions, logs and the backup catalog; never replicated
//   - Sync state: named integer checkpoints (remote feed position)
//
// # Atomic dual write
//
// Every replicable mutation (PutEntity, DeleteEntity, BulkPutEntities,
// RenameEntity) writes the entity row(s) and the matching outbox entry
// (entries) in ONE transaction. A reader never observes an entity change
// without its outbox entry, or an outbox entry for a change that did not
// commit. The "data changed" notification is published only after commit.
//
// Changes applied from other replicas go through RunInTransaction and the
// Tx primitives directly: they are written without new outbox entries
// because they already live in their origin's outbox.
//
// # Outbox sequence numbers
//
// outbox.seq is INTEGER PRIMARY KEY AUTOINCREMENT, so a sequence number is
// never reused even after trimming or a full restore. TrimOutbox(N) removes
// exactly the entries that existed when N was read.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: transactions are serialized
package store

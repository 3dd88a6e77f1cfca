// Package model defines the replicated data model shared by every benchsync
// component.
//
// The model is deliberately schemaless at the record level: a Record is a
// JSON object holding one entity, and unknown fields always survive a round
// trip through the store, the merge engine and snapshots. Only the fields the
// replication core reasons about have typed accessors:
//
//   - id:        stable unique identifier (string)
//   - updatedAt: Unix milliseconds of the last mutation
//   - createdAt, history: ticket-only audit fields
//
// # Canonical JSON
//
// Snapshots and digests use MarshalCanonical: object keys sorted by UTF-16
// code units, no HTML escaping, NFC strings, numbers emitted verbatim. The
// same record always produces the same bytes, which keeps archives stable and
// lets the merge engine break timestamp ties deterministically.
package model

// Package merge decides which version of an entity becomes authoritative
// when a local copy meets an incoming one.
//
// Merge is pure: it never mutates its arguments and always returns a fresh
// record. For every type except tickets it is last-writer-wins on the whole
// record. Tickets are reconciled field by field so the audit history,
// captured evidence and technician notes of both sides survive.
//
// # Equal timestamps
//
// Two versions with the same updatedAt are ordered by a tie-break.
// TieBreakDigest (the default) picks the side whose canonical digest is
// greater, which gives the same answer whichever side is local, so replicas
// that see the two versions in opposite orders converge. TieBreakRemote
// always prefers the incoming side.
//
// # Deletes
//
// Resolve extends Merge with tombstones. A delete and an edit are ordered
// by their timestamps; on a tie the delete wins.
package merge

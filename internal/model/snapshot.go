package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is the portable backup container: one array of records per
// entity type, keyed by the type name. It is the only persisted export
// artifact, so its shape must stay stable across versions.
type Snapshot map[EntityType][]Record

// Types returns the entity types present in the snapshot, sorted by name.
func (s Snapshot) Types() []EntityType {
	types := make([]EntityType, 0, len(s))
	for t := range s {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Count returns the total number of records across all types.
func (s Snapshot) Count() int {
	n := 0
	for _, recs := range s {
		n += len(recs)
	}
	return n
}

// EncodeSnapshot serializes s as canonical JSON.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	data, err := MarshalCanonical(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot container. Keys that are not known
// entity types are ignored so newer archives stay readable.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := make(Snapshot, len(raw))
	for key, body := range raw {
		t, err := ParseEntityType(key)
		if err != nil {
			continue
		}
		recs, err := DecodeRecords(body)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
		}
		snap[t] = recs
	}
	return snap, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Field names the replication core reads or writes.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedAt = "createdAt"
	FieldHistory   = "history"
	FieldTimestamp = "timestamp"
	FieldCategory  = "category"
)

// Record is one entity as a JSON object.
//
// Numbers decoded through DecodeRecord are json.Number, so integer ids and
// money amounts keep full precision. Accessors accept json.Number, float64,
// int, int64 and numeric strings.
type Record map[string]any

// DecodeRecord parses a JSON object into a Record using json.Number.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode record: not an object")
	}
	return rec, nil
}

// DecodeRecords parses a JSON array of objects.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return recs, nil
}

// ID returns the record's identifier, or "" when absent.
// Numeric ids are rendered in decimal form.
func (r Record) ID() string {
	switch v := r[FieldID].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		if n, ok := AsInt64(v); ok {
			return strconv.FormatInt(n, 10)
		}
		return fmt.Sprint(v)
	}
}

// UpdatedAt returns the updatedAt timestamp in Unix milliseconds (0 if absent).
func (r Record) UpdatedAt() int64 {
	n, _ := AsInt64(r[FieldUpdatedAt])
	return n
}

// SetUpdatedAt stamps the record.
func (r Record) SetUpdatedAt(ms int64) {
	r[FieldUpdatedAt] = ms
}

// String returns the string field key, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Object returns the nested object under key, or nil.
func (r Record) Object(key string) map[string]any {
	switch v := r[key].(type) {
	case map[string]any:
		return v
	case Record:
		return v
	}
	return nil
}

// Array returns the nested array under key, or nil.
func (r Record) Array(key string) []any {
	a, _ := r[key].([]any)
	return a
}

// Has reports whether key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// Clone returns a deep copy. The store and merge engine only ever hand out
// clones so callers cannot mutate shared state.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// CloneValue deep-copies a decoded JSON value.
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Record:
		return Record(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}

// Marshal encodes the record as compact JSON with HTML escaping disabled.
func (r Record) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(r)); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// AsInt64 converts a decoded JSON number to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

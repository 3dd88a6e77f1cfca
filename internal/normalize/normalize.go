// Package normalize cleans externally sourced records before they reach the
// entity store.
//
// Normalize is total and pure: malformed input is repaired with safe
// defaults or discarded, never reported as an error, and the input slice is
// never modified.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/benchsync/internal/model"
)

// moneyFields are coerced to two-decimal numbers on every entity type.
var moneyFields = []string{
	"total", "subtotal", "tax", "discount", "deposit",
	"price", "cost", "amount", "balance", "unitPrice",
}

// lineItemFields hold arrays of priced line items.
var lineItemFields = []string{"items", "lines"}

// historyEntry is the minimum shape of a ticket history item.
type historyEntry struct {
	Timestamp int64  `validate:"required,gt=0"`
	Action    string `validate:"required"`
}

// header is the minimum shape of every record.
type header struct {
	Key       string `validate:"required"`
	UpdatedAt int64  `validate:"gte=0"`
}

// Normalizer validates and coerces records. Safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

var std = New()

// Normalize cleans recs with the package default Normalizer.
func Normalize(t model.EntityType, recs []model.Record) []model.Record {
	return std.Normalize(t, recs)
}

// Normalize returns the usable records of recs, cleaned:
//   - records without an id (or category, for suggestions) are dropped
//   - updatedAt becomes a non-negative integer, 0 when missing or invalid
//   - strings are NFC normalized
//   - money fields become two-decimal numbers, 0 when unparseable
//   - ticket history keeps only items with a positive timestamp and an
//     action; tickets without createdAt get their updatedAt
//   - duplicate keys collapse to the version with the greatest updatedAt
//
// The result is never nil.
func (n *Normalizer) Normalize(t model.EntityType, recs []model.Record) []model.Record {
	out := make([]model.Record, 0, len(recs))
	index := make(map[string]int, len(recs))

	for _, raw := range recs {
		rec, ok := n.normalizeRecord(t, raw)
		if !ok {
			continue
		}
		key := keyOf(t, rec)
		if i, dup := index[key]; dup {
			if rec.UpdatedAt() >= out[i].UpdatedAt() {
				out[i] = rec
			}
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}

func keyOf(t model.EntityType, rec model.Record) string {
	if t == model.Suggestions {
		return rec.String(model.FieldCategory)
	}
	return rec.ID()
}

func (n *Normalizer) normalizeRecord(t model.EntityType, raw model.Record) (model.Record, bool) {
	if raw == nil {
		return nil, false
	}
	rec := model.Record(nfcValue(map[string]any(raw.Clone())).(map[string]any))

	if id, ok := rec[model.FieldID]; ok && id != nil {
		if _, isString := id.(string); !isString {
			rec[model.FieldID] = rec.ID()
		}
	}

	updatedAt, ok := model.AsInt64(rec[model.FieldUpdatedAt])
	if !ok || updatedAt < 0 {
		updatedAt = 0
	}
	rec[model.FieldUpdatedAt] = updatedAt

	if err := n.validate.Struct(header{Key: strings.TrimSpace(keyOf(t, rec)), UpdatedAt: updatedAt}); err != nil {
		return nil, false
	}

	for _, f := range moneyFields {
		if v, ok := rec[f]; ok {
			rec[f] = money(v)
		}
	}
	for _, f := range lineItemFields {
		if v, ok := rec[f]; ok {
			rec[f] = lineItems(v)
		}
	}

	if t == model.Tickets {
		n.normalizeTicket(rec)
	}
	return rec, true
}

func (n *Normalizer) normalizeTicket(rec model.Record) {
	if _, ok := model.AsInt64(rec[model.FieldCreatedAt]); !ok {
		rec[model.FieldCreatedAt] = rec[model.FieldUpdatedAt]
	}

	raw, present := rec[model.FieldHistory]
	if !present {
		rec[model.FieldHistory] = []any{}
		return
	}
	items, _ := raw.([]any)
	history := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ts, _ := model.AsInt64(obj[model.FieldTimestamp])
		action, _ := obj["action"].(string)
		if err := n.validate.Struct(historyEntry{Timestamp: ts, Action: action}); err != nil {
			continue
		}
		obj[model.FieldTimestamp] = ts
		history = append(history, obj)
	}
	rec[model.FieldHistory] = history
}

// lineItems keeps the object items of an array and coerces their money
// fields. Anything that is not an array becomes an empty one.
func lineItems(v any) []any {
	items, _ := v.([]any)
	out := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, f := range moneyFields {
			if mv, ok := obj[f]; ok {
				obj[f] = money(mv)
			}
		}
		if q, ok := obj["quantity"]; ok {
			obj["quantity"] = quantity(q)
		}
		out = append(out, obj)
	}
	return out
}

// money converts a number or numeric string (with thousands separators or a
// currency suffix) to a two-decimal json.Number. Unparseable values become 0.
func money(v any) json.Number {
	d, ok := toDecimal(v)
	if !ok {
		d = decimal.Zero
	}
	return json.Number(d.StringFixed(2))
}

func quantity(v any) json.Number {
	d, ok := toDecimal(v)
	if !ok || d.IsNegative() {
		d = decimal.Zero
	}
	return json.Number(d.String())
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case string:
		clean := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, val)
		if clean == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(clean)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// nfcValue NFC-normalizes every string (and object key) inside v in place
// and returns it.
func nfcValue(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case map[string]any:
		for k, e := range val {
			nk := norm.NFC.String(k)
			if nk != k {
				delete(val, k)
			}
			val[nk] = nfcValue(e)
		}
		return val
	case model.Record:
		return model.Record(nfcValue(map[string]any(val)).(map[string]any))
	case []any:
		for i, e := range val {
			val[i] = nfcValue(e)
		}
		return val
	}
	return v
}

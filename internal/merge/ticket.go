package merge

import (
	"sort"
	"strings"

	"github.com/roach88/benchsync/internal/model"
)

// Ticket fields reconciled individually.
const (
	fieldDiagnosticSheetB = "diagnosticSheetB"
	fieldClientSignature  = "clientSignature"
	fieldDiagnosticReport = "diagnosticReport"
	fieldTechnicianNotes  = "technicianNotes"
	fieldCustomFields     = "customFields"
	fieldClient           = "client"
	fieldChecks           = "checks"
)

// Section labels used when both sides wrote unrelated technician notes.
const (
	notesNewerLabel   = "[Latest notes]"
	notesEarlierLabel = "[Earlier notes]"
)

// evidenceFields are kept from the older side when the newer side lacks them.
var evidenceFields = []string{fieldDiagnosticSheetB, fieldClientSignature}

// mergeTicket reconciles two ticket versions. Base fields come from the
// newest side; history, evidence, report, notes and custom fields are
// combined so neither side's data is lost.
func (e Engine) mergeTicket(local, remote model.Record) model.Record {
	newest, oldest := local, remote
	if e.ticketRemoteIsNewest(local, remote) {
		newest, oldest = remote, local
	}

	out := newest.Clone()

	if local.Has(model.FieldHistory) || remote.Has(model.FieldHistory) {
		out[model.FieldHistory] = e.mergeHistory(local.Array(model.FieldHistory), remote.Array(model.FieldHistory))
	}

	for _, f := range evidenceFields {
		if !present(newest[f]) && present(oldest[f]) {
			out[f] = model.CloneValue(oldest[f])
		}
	}

	if checkCount(oldest[fieldDiagnosticReport]) > checkCount(newest[fieldDiagnosticReport]) {
		out[fieldDiagnosticReport] = model.CloneValue(oldest[fieldDiagnosticReport])
	}

	if notes := mergeNotes(newest.String(fieldTechnicianNotes), oldest.String(fieldTechnicianNotes)); notes != "" {
		out[fieldTechnicianNotes] = notes
	}

	if cf := overlay(oldest.Object(fieldCustomFields), newest.Object(fieldCustomFields)); cf != nil {
		out[fieldCustomFields] = cf
	}

	if client := model.Record(out.Object(fieldClient)); client != nil {
		oc := model.Record(oldest.Object(fieldClient)).Object(fieldCustomFields)
		nc := model.Record(newest.Object(fieldClient)).Object(fieldCustomFields)
		if cf := overlay(oc, nc); cf != nil {
			client[fieldCustomFields] = cf
		}
	}

	return out
}

// ticketRemoteIsNewest orders two ticket versions. Equal timestamps are
// broken on the base fields first and, when those match, on the whole
// record, so the order never depends on which side is local.
func (e Engine) ticketRemoteIsNewest(local, remote model.Record) bool {
	if local.UpdatedAt() != remote.UpdatedAt() || e.TieBreak == TieBreakRemote {
		return e.remoteIsNewest(local, remote, local, remote)
	}
	lb, rb := ticketBase(local), ticketBase(remote)
	if sameDigest(lb, rb) {
		return digestAtLeast(remote, local)
	}
	return digestAtLeast(rb, lb)
}

// sameDigest reports whether a and b have equal digests. Records that cannot
// be digested are never the same.
func sameDigest(a, b model.Record) bool {
	da, errA := model.RecordDigest(a)
	db, errB := model.RecordDigest(b)
	return errA == nil && errB == nil && da == db
}

// ticketBase strips the reconciled fields so the tie-break only looks at the
// fields that are taken wholesale from one side.
func ticketBase(r model.Record) model.Record {
	base := r.Clone()
	delete(base, model.FieldHistory)
	delete(base, fieldDiagnosticSheetB)
	delete(base, fieldClientSignature)
	delete(base, fieldDiagnosticReport)
	delete(base, fieldTechnicianNotes)
	delete(base, fieldCustomFields)
	if client := base.Object(fieldClient); client != nil {
		delete(client, fieldCustomFields)
	}
	return base
}

type historyItem struct {
	key   string
	ts    int64
	hasTS bool
	value any
}

// mergeHistory unions both histories keyed by timestamp and sorts the
// result ascending. Remote entries are offered after local ones so they win
// duplicate keys under TieBreakRemote.
func (e Engine) mergeHistory(local, remote []any) []any {
	byKey := make(map[string]*historyItem, len(local)+len(remote))
	var items []*historyItem

	add := func(entry any) {
		item := newHistoryItem(entry)
		if existing, ok := byKey[item.key]; ok {
			if e.preferIncoming(existing.value, entry) {
				existing.value = entry
			}
			return
		}
		byKey[item.key] = item
		items = append(items, item)
	}
	for _, entry := range local {
		add(entry)
	}
	for _, entry := range remote {
		add(entry)
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.hasTS && b.hasTS && a.ts != b.ts {
			return a.ts < b.ts
		}
		if a.hasTS != b.hasTS {
			return a.hasTS
		}
		return a.key < b.key
	})

	out := make([]any, len(items))
	for i, item := range items {
		out[i] = model.CloneValue(item.value)
	}
	return out
}

// newHistoryItem derives the dedupe key of a history entry from its
// timestamp. Entries without a timestamp are keyed by their content.
func newHistoryItem(entry any) *historyItem {
	item := &historyItem{value: entry}
	obj, ok := entry.(map[string]any)
	if rec, isRec := entry.(model.Record); isRec {
		obj, ok = rec, true
	}
	if ok {
		if ts, ok := obj[model.FieldTimestamp]; ok && ts != nil {
			if data, err := model.MarshalCanonical(ts); err == nil {
				item.key = "t:" + string(data)
				item.ts, item.hasTS = model.AsInt64(ts)
				return item
			}
		}
	}
	data, err := model.MarshalCanonical(entry)
	if err != nil {
		data = []byte("?")
	}
	item.key = "x:" + string(data)
	return item
}

// present reports whether a captured-evidence value is actually filled in.
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	return true
}

// checkCount returns the length of a diagnostic report's check list. The
// report is either the list itself or an object holding it under "checks".
func checkCount(v any) int {
	switch val := v.(type) {
	case []any:
		return len(val)
	case map[string]any:
		checks, _ := val[fieldChecks].([]any)
		return len(checks)
	}
	return 0
}

// mergeNotes keeps both texts when they diverged, newest first. When one is
// empty or contains the other, the longer text is kept.
func mergeNotes(newest, oldest string) string {
	switch {
	case oldest == "" || newest == oldest:
		return newest
	case newest == "":
		return oldest
	case strings.Contains(newest, oldest):
		return newest
	case strings.Contains(oldest, newest):
		return oldest
	}
	return notesNewerLabel + "\n" + newest + "\n\n" + notesEarlierLabel + "\n" + oldest
}

// overlay shallow-merges base then top into a new map. Returns nil when both
// are nil.
func overlay(base, top map[string]any) map[string]any {
	if base == nil && top == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = model.CloneValue(v)
	}
	for k, v := range top {
		out[k] = model.CloneValue(v)
	}
	return out
}

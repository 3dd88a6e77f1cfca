package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/model"
	"github.com/roach88/benchsync/internal/store"
)

// historyActionField is the history item field compared by entity
// assertions with a history list.
const historyActionField = "action"

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s entries=%d", event.Step, event.Action, event.Replica, event.Entries)
			if event.Offline {
				buf.WriteString(" offline")
			}
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%q", event.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the replicas of a run.
type AssertionContext struct {
	Ctx     context.Context
	harness *Harness
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(actx, a); err != nil {
			var ae *AssertionError
			if errors.As(err, &ae) {
				ae.Trace = result.Trace
			}
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluateAssertion(actx *AssertionContext, a Assertion) error {
	switch a.Type {
	case AssertConverged:
		return assertConverged(actx, a)
	case AssertEntity:
		return assertEntity(actx, a)
	case AssertAbsent:
		return assertAbsent(actx, a)
	case AssertCount:
		return assertCount(actx, a)
	case AssertPending:
		return assertPending(actx, a)
	case AssertReceived:
		return assertReceived(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertConverged(actx *AssertionContext, a Assertion) error {
	ids := a.Replicas
	if len(ids) == 0 {
		ids = actx.harness.order
	}
	types := model.ReplicableTypes
	if len(a.Types) > 0 {
		types = make([]model.EntityType, len(a.Types))
		for i, t := range a.Types {
			types[i] = model.EntityType(t)
		}
	}

	for _, t := range types {
		var (
			base   []byte
			baseID string
		)
		for _, id := range ids {
			recs, err := readAll(actx, actx.harness.replicas[id].store, t)
			if err != nil {
				return err
			}
			data, err := model.MarshalCanonical(recs)
			if err != nil {
				return err
			}
			if base == nil {
				base, baseID = data, id
				continue
			}
			if !bytes.Equal(base, data) {
				return &AssertionError{
					Type:     AssertConverged,
					Expected: fmt.Sprintf("%s on %s: %s", t, baseID, base),
					Actual:   fmt.Sprintf("%s on %s: %s", t, id, data),
				}
			}
		}
	}
	return nil
}

func readAll(actx *AssertionContext, s *store.Store, t model.EntityType) ([]model.Record, error) {
	if t.IsLocal() {
		return s.ListLocal(actx.Ctx, t)
	}
	return s.GetAllEntities(actx.Ctx, t)
}

func lookup(actx *AssertionContext, a Assertion) (model.Record, error) {
	s := actx.harness.replicas[a.Replica].store
	t := model.EntityType(a.EntityType)
	if t.IsLocal() {
		return s.GetLocal(actx.Ctx, t, a.ID)
	}
	return s.GetEntity(actx.Ctx, t, a.ID)
}

func assertEntity(actx *AssertionContext, a Assertion) error {
	rec, err := lookup(actx, a)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s %q on %s", a.EntityType, a.ID, a.Replica),
			Actual:   "not found",
		}
	}
	if err != nil {
		return err
	}

	if len(a.Expect) > 0 {
		want, err := toRecord(a.Expect)
		if err != nil {
			return fmt.Errorf("entity: expect: %w", err)
		}
		keys := make([]string, 0, len(want))
		for k := range want {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			wantData, err := model.MarshalCanonical(want[k])
			if err != nil {
				return err
			}
			got, ok := rec[k]
			if !ok {
				return &AssertionError{
					Type:     AssertEntity,
					Expected: fmt.Sprintf("%s.%s = %s", a.ID, k, wantData),
					Actual:   "field missing",
				}
			}
			gotData, err := model.MarshalCanonical(got)
			if err != nil {
				return err
			}
			if !sameValue(wantData, gotData) {
				return &AssertionError{
					Type:     AssertEntity,
					Expected: fmt.Sprintf("%s.%s = %s", a.ID, k, wantData),
					Actual:   fmt.Sprintf("%s.%s = %s", a.ID, k, gotData),
				}
			}
		}
	}

	if a.History != nil {
		got := historyActions(rec)
		if !slices.Equal(got, a.History) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s history %q", a.ID, a.History),
				Actual:   fmt.Sprintf("%s history %q", a.ID, got),
			}
		}
	}
	return nil
}

// sameValue compares two canonical encodings with numbers read as float64,
// so 40 and 40.00 match.
func sameValue(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func historyActions(rec model.Record) []string {
	items := rec.Array(model.FieldHistory)
	out := make([]string, 0, len(items))
	for _, item := range items {
		obj, _ := item.(map[string]any)
		action, _ := obj[historyActionField].(string)
		out = append(out, action)
	}
	return out
}

func assertAbsent(actx *AssertionContext, a Assertion) error {
	rec, err := lookup(actx, a)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	data, _ := model.MarshalCanonical(rec)
	return &AssertionError{
		Type:     AssertAbsent,
		Expected: fmt.Sprintf("no %s %q on %s", a.EntityType, a.ID, a.Replica),
		Actual:   string(data),
	}
}

func assertCount(actx *AssertionContext, a Assertion) error {
	recs, err := readAll(actx, actx.harness.replicas[a.Replica].store, model.EntityType(a.EntityType))
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s on %s", a.Count, a.EntityType, a.Replica),
			Actual:   fmt.Sprintf("%d %s", len(recs), a.EntityType),
		}
	}
	return nil
}

func assertPending(actx *AssertionContext, a Assertion) error {
	n, err := actx.harness.replicas[a.Replica].store.PendingCount(actx.Ctx)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending on %s", a.Count, a.Replica),
			Actual:   fmt.Sprintf("%d pending", n),
		}
	}
	return nil
}

func assertReceived(actx *AssertionContext, a Assertion) error {
	n := 0
	for _, e := range actx.harness.replicas[a.Replica].recorder.Events(events.KindDataReceived) {
		if e.DataReceived.Source == events.Origin(a.Source) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertReceived,
			Expected: fmt.Sprintf("%d %s notification(s) on %s", a.Count, a.Source, a.Replica),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

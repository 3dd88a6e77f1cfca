package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/benchsync/internal/model"
)

// StateSnapshot is the final state of every replica of a scenario.
type StateSnapshot struct {
	ScenarioName string
	Replicas     map[string]ReplicaState
}

// toCanonicalMap converts the snapshot to plain maps for canonical JSON.
func (s *StateSnapshot) toCanonicalMap() map[string]any {
	replicas := make(map[string]any, len(s.Replicas))
	for id, st := range s.Replicas {
		replicas[id] = map[string]any{
			"entities": st.Entities,
			"pending":  st.Pending,
		}
	}
	return map[string]any{
		"scenario": s.ScenarioName,
		"replicas": replicas,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *StateSnapshot) MarshalCanonical() ([]byte, error) {
	return model.MarshalCanonical(s.toCanonicalMap())
}

// GoldenBytes renders the final state of a run in the golden file format.
func GoldenBytes(scenario *Scenario, result *Result) ([]byte, error) {
	snap := &StateSnapshot{ScenarioName: scenario.Name, Replicas: result.State}
	return snap.MarshalCanonical()
}

// RunWithGolden executes a scenario and compares the final replica state
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	data, err := GoldenBytes(scenario, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}

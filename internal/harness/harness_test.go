package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}

func TestRunWithGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/offline_stock_convergence.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
}

func TestRun_TraceRecordsOfflineRounds(t *testing.T) {
	scenario := mustParse(t, `
name: offline_round
description: "sync while unreachable"
replicas: [a]
steps:
  - replica: a
    at: 5
    put: {type: stock, record: {id: S1}}
  - online: false
  - sync: [a]
assertions:
  - type: pending
    replica: a
    count: 1
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, TraceEvent{Step: 0, Action: "put", Replica: "a", Entries: 1}, result.Trace[0])
	assert.Equal(t, "online", result.Trace[1].Action)
	assert.True(t, result.Trace[2].Offline)
	assert.Zero(t, result.Trace[2].Entries)

	assert.Equal(t, 1, result.State["a"].Pending)
	assert.Len(t, result.State["a"].Entities["stock"], 1)
}

func TestRun_UnexpectedStepErrorFails(t *testing.T) {
	scenario := mustParse(t, `
name: missing_rename
description: "rename of a missing entity"
replicas: [a]
steps:
  - replica: a
    rename: {type: stock, from: S1, to: S2}
assertions:
  - type: pending
    replica: a
    count: 0
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0] rename")
	assert.Contains(t, result.Trace[0].Error, "not found")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := mustParse(t, `
name: no_conflict
description: "rename onto a free id"
replicas: [a]
steps:
  - replica: a
    put: {type: stock, record: {id: S1}}
  - replica: a
    rename: {type: stock, from: S1, to: S2}
    expect_error: conflict
assertions:
  - type: count
    replica: a
    entity_type: stock
    count: 1
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected conflict error, got success")
}

func TestRun_LocalSuggestionsStayLocal(t *testing.T) {
	scenario := mustParse(t, `
name: local_suggestions
description: "suggestions never leave the replica"
replicas: [a, b]
steps:
  - replica: a
    put: {type: suggestions, record: {category: brands, values: [Acme]}}
  - window: {from: a, to: [b]}
  - sync: [a, b]
assertions:
  - type: entity
    replica: a
    entity_type: suggestions
    id: brands
    expect: {values: [Acme]}
  - type: absent
    replica: b
    entity_type: suggestions
    id: brands
  - type: pending
    replica: a
    count: 0
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
}

func TestRun_RemoteTieBreak(t *testing.T) {
	// Both replicas stamp the same updatedAt; with the remote tie-break each
	// side takes the other's version, so they swap instead of converging.
	scenario := mustParse(t, `
name: remote_tie_break
description: "equal timestamps resolve to the incoming side"
replicas: [a, b]
tie_break: remote
steps:
  - replica: a
    at: 50
    put: {type: services, record: {id: V1, name: Screen}}
  - replica: b
    at: 50
    put: {type: services, record: {id: V1, name: Battery}}
  - sync: [a, b, a]
assertions:
  - type: entity
    replica: a
    entity_type: services
    id: V1
    expect: {name: Battery}
  - type: entity
    replica: b
    entity_type: services
    id: V1
    expect: {name: Screen}
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(strings.TrimSpace(doc)))
	require.NoError(t, err)
	return s
}

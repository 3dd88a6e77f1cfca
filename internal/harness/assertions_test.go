package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertPending,
		Expected: "0 pending on a",
		Actual:   "2 pending",
		Trace: []TraceEvent{
			{Step: 0, Action: "put", Replica: "a", Entries: 2},
			{Step: 1, Action: "sync", Entries: 0, Offline: true},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: pending")
	assert.Contains(t, msg, "Expected: 0 pending on a")
	assert.Contains(t, msg, "Actual: 2 pending")
	assert.Contains(t, msg, "[0] put a entries=2")
	assert.Contains(t, msg, "[1] sync  entries=0 offline")
}

func TestAssertions_Failures(t *testing.T) {
	scenario := mustParse(t, `
name: diverged
description: "the second replica never syncs"
replicas: [a, b]
steps:
  - replica: a
    at: 10
    put: {type: stock, record: {id: S1, name: Battery, price: 12.5}}
  - sync: [a]
assertions:
  - type: converged
  - type: entity
    replica: a
    entity_type: stock
    id: S1
    expect: {name: Cable}
  - type: entity
    replica: b
    entity_type: stock
    id: S1
    expect: {name: Battery}
  - type: absent
    replica: a
    entity_type: stock
    id: S1
  - type: count
    replica: a
    entity_type: stock
    count: 3
  - type: pending
    replica: a
    count: 1
  - type: received
    replica: b
    source: remote
    count: 1
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 7, strings.Join(result.Errors, "\n"))

	assert.Contains(t, result.Errors[0], "Assertion failed: converged")
	assert.Contains(t, result.Errors[1], `Actual: S1.name = "Battery"`)
	assert.Contains(t, result.Errors[2], "Actual: not found")
	assert.Contains(t, result.Errors[3], "Assertion failed: absent")
	assert.Contains(t, result.Errors[4], "Actual: 1 stock")
	assert.Contains(t, result.Errors[5], "Actual: 0 pending")
	assert.Contains(t, result.Errors[6], "Assertion failed: received")
}

func TestAssertions_EntityMatchesNumbersCanonically(t *testing.T) {
	scenario := mustParse(t, `
name: numbers
description: "money values are compared in canonical form"
replicas: [a, b]
steps:
  - replica: a
    at: 10
    put: {type: invoices, record: {id: I1, total: 40, lines: [{name: Labour, price: 40}]}}
  - sync: [a, b]
assertions:
  - type: entity
    replica: b
    entity_type: invoices
    id: I1
    expect: {total: 40.00, lines: [{name: Labour, price: 40.00}], updatedAt: 10}
  - type: received
    replica: b
    source: remote
    count: 1
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
}

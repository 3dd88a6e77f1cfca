// Package harness runs replication scenarios against real replicas.
//
// A scenario names a set of replicas, drives them through a sequence of
// steps (local writes, same-device window broadcasts, remote sync rounds,
// connectivity changes, snapshot export/restore/import) and then asserts on
// the state each replica converged to. Every replica is a fresh in-memory
// store with its own deterministic clock; the shared remote is an in-memory
// change log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_edit
//	description: "Edits made offline reach the other replica on reconnect"
//	replicas: [a, b]
//	steps:
//	  - replica: a
//	    at: 10
//	    put: {type: stock, record: {id: S1, name: Battery}}
//	  - online: false
//	  - sync: [a, b]
//	  - online: true
//	  - sync: [a, b]
//	assertions:
//	  - type: converged
//	  - type: entity
//	    replica: b
//	    entity_type: stock
//	    id: S1
//	    expect: {name: Battery}
//
// # Steps
//
// Each step performs exactly one action:
//
//   - put, delete, rename: a local write on the step's replica
//   - window: apply one replica's unbroadcast local writes to other replicas
//     as same-device changes
//   - sync: for each named replica in order, drain its outbox to the remote
//     and then poll the remote change feed
//   - online: make the remote reachable or unreachable
//   - export, restore, import: snapshot operations on the step's replica
//
// "at" sets the replica's clock before the action runs. "expect_error"
// names the error a write must fail with (conflict, not_found).
//
// # Assertion Types
//
//   - converged: the listed replicas (default all) hold identical records
//   - entity: a record exists and its fields are a superset of expect
//   - absent: a record does not exist
//   - count: a replica holds exactly count records of a type
//   - pending: a replica's outbox holds exactly count entries
//   - received: a replica published count "data received" notifications
//     from a source (window, remote, restore)
package harness

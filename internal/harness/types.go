package harness

import "github.com/roach88/benchsync/internal/model"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Replica string `json:"replica,omitempty"`
	// Entries is the number of entries written, sent or applied.
	Entries int `json:"entries"`
	// Offline is set when a sync round found the remote unreachable.
	Offline bool   `json:"offline,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final full-scope state of each replica, keyed by replica
	// id. Empty entity types are omitted.
	State map[string]ReplicaState `json:"state"`
}

// ReplicaState is the final state of one replica.
type ReplicaState struct {
	Entities model.Snapshot `json:"entities"`
	Pending  int            `json:"pending"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ReplicaState),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}

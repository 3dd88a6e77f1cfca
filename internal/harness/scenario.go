package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/benchsync/internal/events"
	"github.com/roach88/benchsync/internal/merge"
	"github.com/roach88/benchsync/internal/model"
)

// Scenario defines a replication scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas lists the replica ids taking part.
	Replicas []string `yaml:"replicas"`

	// TieBreak selects the merge tie-break ("digest" or "remote").
	TieBreak string `yaml:"tie_break,omitempty"`

	// Start is the initial clock reading of every replica.
	Start int64 `yaml:"start,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action in a scenario. Exactly one action field is set.
type Step struct {
	// Replica is the replica a write or snapshot action runs on.
	Replica string `yaml:"replica,omitempty"`

	// At sets the replica's clock before the action.
	At *int64 `yaml:"at,omitempty"`

	Put     *PutStep      `yaml:"put,omitempty"`
	Delete  *EntityRef    `yaml:"delete,omitempty"`
	Rename  *RenameStep   `yaml:"rename,omitempty"`
	Window  *WindowStep   `yaml:"window,omitempty"`
	Sync    []string      `yaml:"sync,omitempty"`
	Online  *bool         `yaml:"online,omitempty"`
	Export  *SnapshotStep `yaml:"export,omitempty"`
	Restore *SnapshotStep `yaml:"restore,omitempty"`
	Import  *SnapshotStep `yaml:"import,omitempty"`

	// ExpectError names the error the action must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// PutStep writes one or more records of a type.
type PutStep struct {
	Type    string           `yaml:"type"`
	Record  map[string]any   `yaml:"record,omitempty"`
	Records []map[string]any `yaml:"records,omitempty"`
}

// EntityRef names one entity.
type EntityRef struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`
}

// RenameStep changes an entity's id.
type RenameStep struct {
	Type string `yaml:"type"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// WindowStep broadcasts From's local writes to the To replicas.
type WindowStep struct {
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

// SnapshotStep exports into, or restores/imports from, a named snapshot
// kept for the rest of the scenario.
type SnapshotStep struct {
	Scope    string `yaml:"scope"`
	Snapshot string `yaml:"snapshot"`
}

// Assertion validates the final state of one or more replicas.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Replica    string         `yaml:"replica,omitempty"`
	Replicas   []string       `yaml:"replicas,omitempty"`
	EntityType string         `yaml:"entity_type,omitempty"`
	Types      []string       `yaml:"types,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
	History    []string       `yaml:"history,omitempty"`
	Source     string         `yaml:"source,omitempty"`
	Count      int            `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertConverged = "converged"
	AssertEntity    = "entity"
	AssertAbsent    = "absent"
	AssertCount     = "count"
	AssertPending   = "pending"
	AssertReceived  = "received"
)

// Errors a write step can be expected to fail with.
const (
	ErrorConflict = "conflict"
	ErrorNotFound = "not_found"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// replica, type and scope a step names exists.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Replicas) == 0 {
		return errors.New("replicas list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Replicas))
	for _, r := range s.Replicas {
		if r == "" {
			return errors.New("replica ids must be non-empty")
		}
		if seen[r] {
			return fmt.Errorf("duplicate replica %q", r)
		}
		seen[r] = true
	}
	if _, err := merge.ParseTieBreak(s.TieBreak); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(seen, &s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(seen, &s.Assertions[i]); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// Action returns the name of the step's action, or "" when none is set.
func (st *Step) Action() string {
	name, _ := st.action()
	return name
}

func (st *Step) action() (string, int) {
	var name string
	n := 0
	set := func(ok bool, action string) {
		if ok {
			name = action
			n++
		}
	}
	set(st.Put != nil, "put")
	set(st.Delete != nil, "delete")
	set(st.Rename != nil, "rename")
	set(st.Window != nil, "window")
	set(len(st.Sync) > 0, "sync")
	set(st.Online != nil, "online")
	set(st.Export != nil, "export")
	set(st.Restore != nil, "restore")
	set(st.Import != nil, "import")
	return name, n
}

func validateStep(replicas map[string]bool, st *Step) error {
	action, n := st.action()
	switch n {
	case 0:
		return errors.New("no action set")
	case 1:
	default:
		return fmt.Errorf("%d actions set, want exactly one", n)
	}

	needsReplica := action == "put" || action == "delete" || action == "rename" ||
		action == "export" || action == "restore" || action == "import"
	if needsReplica && !replicas[st.Replica] {
		return fmt.Errorf("%s: unknown replica %q", action, st.Replica)
	}
	if st.At != nil && !replicas[st.Replica] {
		return fmt.Errorf("at: unknown replica %q", st.Replica)
	}

	switch st.ExpectError {
	case "", ErrorConflict, ErrorNotFound:
	default:
		return fmt.Errorf("unknown expect_error %q", st.ExpectError)
	}

	switch action {
	case "put":
		if err := validateType(st.Put.Type); err != nil {
			return err
		}
		if st.Put.Record == nil && len(st.Put.Records) == 0 {
			return errors.New("put: record or records is required")
		}
	case "delete":
		if err := validateType(st.Delete.Type); err != nil {
			return err
		}
		if st.Delete.ID == "" {
			return errors.New("delete: id is required")
		}
	case "rename":
		if err := validateType(st.Rename.Type); err != nil {
			return err
		}
		if st.Rename.From == "" || st.Rename.To == "" {
			return errors.New("rename: from and to are required")
		}
	case "window":
		if !replicas[st.Window.From] {
			return fmt.Errorf("window: unknown replica %q", st.Window.From)
		}
		if len(st.Window.To) == 0 {
			return errors.New("window: to is required")
		}
		for _, r := range st.Window.To {
			if !replicas[r] {
				return fmt.Errorf("window: unknown replica %q", r)
			}
		}
	case "sync":
		for _, r := range st.Sync {
			if !replicas[r] {
				return fmt.Errorf("sync: unknown replica %q", r)
			}
		}
	case "export", "restore", "import":
		ss := st.snapshotStep()
		if _, err := model.LookupScope(ss.Scope); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		if ss.Snapshot == "" {
			return fmt.Errorf("%s: snapshot name is required", action)
		}
	}
	return nil
}

func (st *Step) snapshotStep() *SnapshotStep {
	switch {
	case st.Export != nil:
		return st.Export
	case st.Restore != nil:
		return st.Restore
	default:
		return st.Import
	}
}

func validateType(name string) error {
	if _, err := model.ParseEntityType(name); err != nil {
		return err
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(replicas map[string]bool, a *Assertion) error {
	checkReplica := func() error {
		if !replicas[a.Replica] {
			return fmt.Errorf("%s: unknown replica %q", a.Type, a.Replica)
		}
		return nil
	}

	switch a.Type {
	case "":
		return errors.New("type is required")
	case AssertConverged:
		for _, r := range a.Replicas {
			if !replicas[r] {
				return fmt.Errorf("converged: unknown replica %q", r)
			}
		}
		for _, t := range a.Types {
			if err := validateType(t); err != nil {
				return err
			}
		}
	case AssertEntity, AssertAbsent:
		if err := checkReplica(); err != nil {
			return err
		}
		if err := validateType(a.EntityType); err != nil {
			return err
		}
		if a.ID == "" {
			return fmt.Errorf("%s: id is required", a.Type)
		}
		if a.Type == AssertEntity && len(a.Expect) == 0 && a.History == nil {
			return errors.New("entity: expect or history is required")
		}
	case AssertCount:
		if err := checkReplica(); err != nil {
			return err
		}
		if err := validateType(a.EntityType); err != nil {
			return err
		}
	case AssertPending:
		if err := checkReplica(); err != nil {
			return err
		}
	case AssertReceived:
		if err := checkReplica(); err != nil {
			return err
		}
		sources := []events.Origin{events.OriginWindow, events.OriginRemote, events.OriginRestore}
		if !slices.Contains(sources, events.Origin(a.Source)) {
			return fmt.Errorf("received: unknown source %q", a.Source)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("%s: count must be non-negative", a.Type)
	}
	return nil
}

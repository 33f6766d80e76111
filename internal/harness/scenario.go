package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario. Scenarios exercise a
// sequence of store operations against a fresh in-memory repository and
// assert on the resulting trace and final state.
//
// Flows are referred to by alias names of the scenario's choosing;
// the harness maps aliases to the real generated ids, so traces stay
// stable across runs.
type Scenario struct {
	// Name uniquely identifies this scenario. Used as the golden file
	// name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup contains steps executed before the main flow. Setup steps
	// must succeed and do not appear in the trace.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the main steps. Each step may carry an expect
	// clause validating its outcome.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single operation against the store.
type Step struct {
	// Op names the operation: create, append, branch, prune, delete,
	// status, snapshot, rehydrate.
	Op string `yaml:"op"`

	// Flow is the alias of the flow the operation targets. For create
	// and branch it names the new flow.
	Flow string `yaml:"flow"`

	// Name and Status apply to create and branch (and Status to the
	// status op).
	Name   string `yaml:"name,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Parent is the parent flow alias for branch.
	Parent string `yaml:"parent,omitempty"`

	// Cursor is the parent cursor for branch and the from cursor for
	// prune.
	Cursor int64 `yaml:"cursor,omitempty"`

	// Key and Payload apply to append.
	Key     string         `yaml:"key,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// CommandID makes an append idempotent.
	CommandID string `yaml:"command_id,omitempty"`

	// Expect validates the step's outcome. If nil the step must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected step outcome.
type ExpectClause struct {
	// Error is the expected error code (NOT_FOUND, CONFLICT). Empty
	// means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Version is the expected version after a successful append.
	// Zero means unchecked.
	Version int64 `yaml:"version,omitempty"`
}

// Assertion validates the trace or final state after all steps ran.
type Assertion struct {
	// Type is one of record_contains, record_order, record_count,
	// final_meta, final_state.
	Type string `yaml:"type"`

	// Flow is the alias the assertion targets.
	Flow string `yaml:"flow"`

	// Key is the record key (record_contains, record_count).
	Key string `yaml:"key,omitempty"`

	// Payload is a subset match on the record payload
	// (record_contains).
	Payload map[string]any `yaml:"payload,omitempty"`

	// Keys is the expected key order (record_order).
	Keys []string `yaml:"keys,omitempty"`

	// Count is the expected occurrence count (record_count).
	Count int `yaml:"count,omitempty"`

	// Expect holds expected values. For final_meta the recognized
	// keys are cursor, version, status, and name. For final_state it
	// is a subset match on the rehydrated state.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordContains = "record_contains"
	AssertRecordOrder    = "record_order"
	AssertRecordCount    = "record_count"
	AssertFinalMeta      = "final_meta"
	AssertFinalState     = "final_state"
)

var validOps = map[string]bool{
	"create":    true,
	"append":    true,
	"branch":    true,
	"prune":     true,
	"delete":    true,
	"status":    true,
	"snapshot":  true,
	"rehydrate": true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Error != "" {
			return fmt.Errorf("setup[%d]: setup steps must succeed", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(&assertion); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step *Step) error {
	if step.Op == "" {
		return fmt.Errorf("op is required")
	}
	if !validOps[step.Op] {
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.Flow == "" {
		return fmt.Errorf("flow alias is required")
	}
	switch step.Op {
	case "append":
		if step.Key == "" {
			return fmt.Errorf("key is required for append")
		}
	case "branch":
		if step.Parent == "" {
			return fmt.Errorf("parent is required for branch")
		}
	case "status":
		if step.Status == "" {
			return fmt.Errorf("status is required for status")
		}
	}
	return nil
}

func validateAssertion(a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if a.Flow == "" {
		return fmt.Errorf("flow alias is required")
	}
	switch a.Type {
	case AssertRecordContains:
		if a.Key == "" {
			return fmt.Errorf("key is required for record_contains")
		}
	case AssertRecordOrder:
		if len(a.Keys) == 0 {
			return fmt.Errorf("keys list is required for record_order")
		}
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for record_count")
		}
	case AssertFinalMeta, AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for %s", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

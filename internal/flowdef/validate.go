package flowdef

import (
	"fmt"
	"strings"
)

// Validation error codes.
const (
	ErrNameEmpty       = "D101" // name is required
	ErrNoSteps         = "D102" // at least one step required
	ErrDuplicateStepID = "D103" // duplicate step id
	ErrUnknownNeed     = "D104" // needs references an undeclared step
	ErrInvalidKind     = "D105" // kind must be compute or gate
	ErrDependencyCycle = "D106" // step dependencies form a cycle
	ErrNegativeEvery   = "D107" // snapshot_every must be >= 0
)

// ValidationError is one schema violation in a compiled definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled definition against the schema rules.
// Returns all errors found; it does not fail fast.
func Validate(def *Definition) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrNameEmpty,
		})
	}

	if len(def.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "at least one step is required",
			Code:    ErrNoSteps,
		})
	}

	if def.SnapshotEvery < 0 {
		errs = append(errs, ValidationError{
			Field:   "snapshot_every",
			Message: "snapshot_every must not be negative",
			Code:    ErrNegativeEvery,
		})
	}

	ids := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		if ids[step.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("steps[%d].id", i),
				Message: fmt.Sprintf("duplicate step id: %q", step.ID),
				Code:    ErrDuplicateStepID,
			})
		}
		ids[step.ID] = true

		if step.Kind != "compute" && step.Kind != "gate" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("steps[%d].kind", i),
				Message: fmt.Sprintf("kind %q is not one of compute, gate", step.Kind),
				Code:    ErrInvalidKind,
			})
		}
	}

	for i, step := range def.Steps {
		for _, need := range step.Needs {
			if !ids[need] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("steps[%d].needs", i),
					Message: fmt.Sprintf("step %q needs undeclared step %q", step.ID, need),
					Code:    ErrUnknownNeed,
				})
			}
		}
	}

	if cycle := findCycle(def.Steps); len(cycle) > 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "dependency cycle: " + strings.Join(cycle, " -> "),
			Code:    ErrDependencyCycle,
		})
	}

	return errs
}

// findCycle runs a DFS over the needs graph and returns one cycle when
// present, as a list of step ids ending where it began.
func findCycle(steps []Step) []string {
	needs := make(map[string][]string, len(steps))
	for _, step := range steps {
		needs[step.ID] = step.Needs
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)
		for _, need := range needs[id] {
			switch state[need] {
			case inStack:
				// Found a back edge; slice the cycle out of the stack.
				for i, s := range stack {
					if s == need {
						cycle = append(append([]string{}, stack[i:]...), need)
						return true
					}
				}
			case unvisited:
				if _, declared := needs[need]; declared && visit(need) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, step := range steps {
		if state[step.ID] == unvisited && visit(step.ID) {
			return cycle
		}
	}
	return nil
}

// Package flowdef compiles and validates flow definitions written in
// CUE. A definition names the steps a flow is expected to record, the
// dependencies between them, and which steps gate on external input.
//
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
package flowdef

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
)

// Definition is a compiled flow definition.
type Definition struct {
	// Name identifies the flow type ("cadma-admetsa").
	Name string

	// Description is optional free text.
	Description string

	// Steps in declaration order.
	Steps []Step

	// SnapshotEvery is the automatic snapshot interval in records.
	// Zero disables automatic snapshots.
	SnapshotEvery int64
}

// Step is one declared step of a flow.
type Step struct {
	// ID is the step's record key suffix ("admetsa" appends under
	// "step_state:admetsa").
	ID string

	// Kind classifies the step: "compute" runs unattended, "gate"
	// waits for external input before it can complete.
	Kind string

	// Needs lists step ids that must complete before this one runs.
	Needs []string
}

// Gate reports whether the step waits on external input.
func (s Step) Gate() bool {
	return s.Kind == "gate"
}

// CompileError is a compilation error carrying the source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles a definition from CUE source. The source
// must declare a top-level "flow" struct.
func CompileString(src string) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("parse flow definition: %w", err)
	}

	root := v.LookupPath(cue.ParsePath("flow"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "flow",
			Message: "top-level flow struct is required",
			Pos:     v.Pos(),
		}
	}
	return Compile(root)
}

// Compile parses a CUE value into a Definition. The value should be
// the flow struct itself.
func Compile(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("flow definition: %w", err)
	}

	def := &Definition{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{
			Field:   "name",
			Message: "name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, &CompileError{
			Field:   "name",
			Message: "name must be a string",
			Pos:     nameVal.Pos(),
		}
	}
	def.Name = name

	if descVal := v.LookupPath(cue.ParsePath("description")); descVal.Exists() {
		def.Description, err = descVal.String()
		if err != nil {
			return nil, &CompileError{
				Field:   "description",
				Message: "description must be a string",
				Pos:     descVal.Pos(),
			}
		}
	}

	if snapVal := v.LookupPath(cue.ParsePath("snapshot_every")); snapVal.Exists() {
		def.SnapshotEvery, err = snapVal.Int64()
		if err != nil {
			return nil, &CompileError{
				Field:   "snapshot_every",
				Message: "snapshot_every must be an integer",
				Pos:     snapVal.Pos(),
			}
		}
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{
			Field:   "steps",
			Message: "steps list is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := stepsVal.List()
	if err != nil {
		return nil, &CompileError{
			Field:   "steps",
			Message: "steps must be a list",
			Pos:     stepsVal.Pos(),
		}
	}
	for iter.Next() {
		step, err := compileStep(iter.Value(), len(def.Steps))
		if err != nil {
			return nil, err
		}
		def.Steps = append(def.Steps, step)
	}

	return def, nil
}

func compileStep(v cue.Value, index int) (Step, error) {
	var step Step

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return step, &CompileError{
			Field:   fmt.Sprintf("steps[%d].id", index),
			Message: "id is required",
			Pos:     v.Pos(),
		}
	}
	id, err := idVal.String()
	if err != nil {
		return step, &CompileError{
			Field:   fmt.Sprintf("steps[%d].id", index),
			Message: "id must be a string",
			Pos:     idVal.Pos(),
		}
	}
	step.ID = id

	step.Kind = "compute"
	if kindVal := v.LookupPath(cue.ParsePath("kind")); kindVal.Exists() {
		step.Kind, err = kindVal.String()
		if err != nil {
			return step, &CompileError{
				Field:   fmt.Sprintf("steps[%d].kind", index),
				Message: "kind must be a string",
				Pos:     kindVal.Pos(),
			}
		}
	}

	if needsVal := v.LookupPath(cue.ParsePath("needs")); needsVal.Exists() {
		needsIter, err := needsVal.List()
		if err != nil {
			return step, &CompileError{
				Field:   fmt.Sprintf("steps[%d].needs", index),
				Message: "needs must be a list of step ids",
				Pos:     needsVal.Pos(),
			}
		}
		for needsIter.Next() {
			need, err := needsIter.Value().String()
			if err != nil {
				return step, &CompileError{
					Field:   fmt.Sprintf("steps[%d].needs", index),
					Message: "needs entries must be strings",
					Pos:     needsIter.Value().Pos(),
				}
			}
			step.Needs = append(step.Needs, need)
		}
	}

	return step, nil
}

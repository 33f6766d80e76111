// Package harness runs conformance scenarios against the record store.
//
// A scenario is a YAML file describing a sequence of flow operations
// and assertions over the resulting records and state. Each scenario
// runs in a fresh in-memory repository with a deterministic clock, so
// traces are reproducible and can be compared against golden files.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadmalab/flowstore/internal/blobstore"
	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/engine"
	"github.com/cadmalab/flowstore/internal/flow"
	"github.com/cadmalab/flowstore/internal/memstore"
	"github.com/cadmalab/flowstore/internal/service"
	"github.com/cadmalab/flowstore/internal/testutil"
)

type runner struct {
	svc *service.Service

	// ids maps scenario aliases to generated flow ids.
	ids map[string]string
}

// Run executes a scenario and returns its result. Setup or
// infrastructure failures return an error; expect clause and assertion
// mismatches are reported through Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock()
	repo := memstore.New().WithClock(clock.Now)
	eng := engine.New(repo, blobstore.Inline{})

	r := &runner{
		svc: service.New(repo, eng),
		ids: make(map[string]string),
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Setup {
		if err := r.execute(ctx, &step, nil); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
	}
	for i, step := range scenario.Flow {
		if err := r.execute(ctx, &step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		}
	}

	r.evaluateAssertions(ctx, scenario.Assertions, result)
	return result, nil
}

// execute runs one step. When result is non-nil the step's outcome is
// traced and validated against its expect clause; a nil result (setup)
// requires plain success.
func (r *runner) execute(ctx context.Context, step *Step, result *Result) error {
	event, err := r.dispatch(ctx, step)

	if result == nil {
		return err
	}

	wantCode := ""
	if step.Expect != nil {
		wantCode = step.Expect.Error
	}

	if err != nil {
		var fe *flow.Error
		if !errors.As(err, &fe) {
			return err
		}
		if wantCode == "" {
			result.AddError(fmt.Sprintf("%s %s: unexpected error %s", step.Op, step.Flow, fe.Code))
		} else if string(fe.Code) != wantCode {
			result.AddError(fmt.Sprintf("%s %s: expected error %s, got %s", step.Op, step.Flow, wantCode, fe.Code))
		}
		result.addEvent(TraceEvent{
			Op:    step.Op,
			Flow:  step.Flow,
			Extra: docval.Object{"error": docval.String(string(fe.Code))},
		})
		return nil
	}

	if wantCode != "" {
		result.AddError(fmt.Sprintf("%s %s: expected error %s, got success", step.Op, step.Flow, wantCode))
	}
	if step.Expect != nil && step.Expect.Version != 0 && event.Version != step.Expect.Version {
		result.AddError(fmt.Sprintf("%s %s: expected version %d, got %d", step.Op, step.Flow, step.Expect.Version, event.Version))
	}
	result.addEvent(event)
	return nil
}

// dispatch performs the operation and builds its trace event. Errors
// carrying a repository code are candidates for expect clauses; any
// other error is an infrastructure failure.
func (r *runner) dispatch(ctx context.Context, step *Step) (TraceEvent, error) {
	event := TraceEvent{Op: step.Op, Flow: step.Flow}

	switch step.Op {
	case "create":
		metadata, err := toDoc(step.Payload)
		if err != nil {
			return event, err
		}
		id, err := r.svc.StartFlow(ctx, step.Name, step.Status, metadata)
		if err != nil {
			return event, err
		}
		r.ids[step.Flow] = id

	case "append":
		id, err := r.resolve(step.Flow)
		if err != nil {
			return event, err
		}
		payload, err := toDoc(step.Payload)
		if err != nil {
			return event, err
		}
		res, err := r.svc.Append(ctx, id, engine.RecordInput{
			Key:       step.Key,
			Payload:   payload,
			CommandID: step.CommandID,
		})
		if err != nil {
			return event, err
		}
		event.Key = step.Key
		event.Payload = payload
		event.Version = res.NewVersion

	case "branch":
		parentID, err := r.resolve(step.Parent)
		if err != nil {
			return event, err
		}
		metadata, err := toDoc(step.Payload)
		if err != nil {
			return event, err
		}
		id, err := r.svc.Branch(ctx, parentID, step.Name, step.Status, step.Cursor, metadata)
		if err != nil {
			return event, err
		}
		r.ids[step.Flow] = id
		event.Extra = docval.Object{
			"parent":        docval.String(step.Parent),
			"parent_cursor": docval.Int(step.Cursor),
		}

	case "prune":
		id, err := r.resolve(step.Flow)
		if err != nil {
			return event, err
		}
		if err := r.svc.Prune(ctx, id, step.Cursor); err != nil {
			return event, err
		}
		event.Extra = docval.Object{"from_cursor": docval.Int(step.Cursor)}

	case "delete":
		id, err := r.resolve(step.Flow)
		if err != nil {
			return event, err
		}
		if err := r.svc.DeleteFlow(ctx, id); err != nil {
			return event, err
		}
		return event, nil

	case "status":
		id, err := r.resolve(step.Flow)
		if err != nil {
			return event, err
		}
		if _, err := r.svc.SetStatus(ctx, id, step.Status); err != nil {
			return event, err
		}
		event.Extra = docval.Object{"status": docval.String(step.Status)}

	case "snapshot":
		id, err := r.resolve(step.Flow)
		if err != nil {
			return event, err
		}
		if _, err := r.svc.Snapshot(ctx, id); err != nil {
			return event, err
		}

	case "rehydrate":
		id, err := r.resolve(step.Flow)
		if err != nil {
			return event, err
		}
		state, cursor, err := r.svc.Rehydrate(ctx, id)
		if err != nil {
			return event, err
		}
		extra := docval.Object{"replayed_to": docval.Int(cursor)}
		if state != nil {
			extra["state"] = state
		}
		event.Extra = extra

	default:
		return event, fmt.Errorf("unknown op %q", step.Op)
	}

	// Stamp the post-operation position. Deleted and pruned-away flows
	// were handled above.
	id, err := r.resolve(step.Flow)
	if err != nil {
		return event, err
	}
	meta, err := r.svc.Meta(ctx, id)
	if err != nil {
		return event, err
	}
	event.Cursor = meta.Cursor
	event.Version = meta.Version
	return event, nil
}

func (r *runner) resolve(alias string) (string, error) {
	id, ok := r.ids[alias]
	if !ok {
		return "", fmt.Errorf("unknown flow alias %q", alias)
	}
	return id, nil
}

// toDoc converts a YAML-decoded map into a document object. A JSON
// round trip gives the same number semantics the store uses.
func toDoc(m map[string]any) (docval.Object, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return docval.DecodeObject(data)
}

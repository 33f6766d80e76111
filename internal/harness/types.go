package harness

import (
	"github.com/cadmalab/flowstore/internal/docval"
)

// TraceEvent records one completed flow step. Flows appear under their
// scenario aliases rather than generated ids so traces are stable
// across runs.
type TraceEvent struct {
	Op      string        `json:"op"`
	Flow    string        `json:"flow"`
	Cursor  int64         `json:"cursor"`
	Version int64         `json:"version"`
	Key     string        `json:"key,omitempty"`
	Payload docval.Object `json:"payload,omitempty"`
	Extra   docval.Object `json:"extra,omitempty"`
	Seq     int64         `json:"seq"`
}

// toCanonicalValue renders the event for canonical serialization.
func (e TraceEvent) toCanonicalValue() docval.Object {
	obj := docval.Object{
		"op":      docval.String(e.Op),
		"flow":    docval.String(e.Flow),
		"cursor":  docval.Int(e.Cursor),
		"version": docval.Int(e.Version),
		"seq":     docval.Int(e.Seq),
	}
	if e.Key != "" {
		obj["key"] = docval.String(e.Key)
	}
	if e.Payload != nil {
		obj["payload"] = e.Payload
	}
	if e.Extra != nil {
		obj["extra"] = e.Extra
	}
	return obj
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains one event per flow step, in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation failures. Empty iff Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
	}
}

// AddError records a validation failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

func (r *Result) addEvent(e TraceEvent) {
	e.Seq = int64(len(r.Trace))
	r.Trace = append(r.Trace, e)
}

package engine

import (
	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// Folder reduces a record log to a state document. Implementations
// must be deterministic: Apply may depend only on the incoming state
// and record, never on wall-clock time or external lookups, so that
// replay from any snapshot converges on the same state.
type Folder interface {
	// Init returns the empty state a flow starts from.
	Init() docval.Object

	// Apply folds one record into the state. It may return the input
	// object mutated or a fresh one; the engine treats the return value
	// as the sole owner of the state afterwards.
	Apply(state docval.Object, rec flow.Record) (docval.Object, error)
}

// KeyStateFolder is the default reducer: each record's payload replaces
// the state entry under the record's key. The folded state is a map
// from record key to the latest payload seen for it, which models
// per-step workflow state where every step writes under its own key.
type KeyStateFolder struct{}

var _ Folder = KeyStateFolder{}

// Init returns an empty state.
func (KeyStateFolder) Init() docval.Object {
	return docval.Object{}
}

// Apply stores the record's payload under its key, last write wins.
func (KeyStateFolder) Apply(state docval.Object, rec flow.Record) (docval.Object, error) {
	state[rec.Key] = rec.Payload
	return state, nil
}

package flow

import (
	"time"

	"github.com/cadmalab/flowstore/internal/docval"
)

// Meta holds the lightweight per-flow bookkeeping row. Cursor counts
// the records currently stored; Version counts successful appends and
// is the value callers present as expectedVersion. The two are equal
// for a flow that has never been pruned or branched.
type Meta struct {
	// ID is the flow's immutable identifier, generated at creation.
	ID string

	// Name is an optional human-readable label.
	Name string

	// Status is a free-form label ("queued", "running", ...). The store
	// does not enforce a state machine; it stores and returns it.
	Status string

	// CreatedBy tags the creator. Optional.
	CreatedBy string

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time

	// Cursor is the number of records stored for the flow. The next
	// appended record takes this value as its position.
	Cursor int64

	// Version increments by exactly one per successful append.
	Version int64

	// ParentID and ParentCursor are set only for flows created by
	// branching. A flow orphaned by its parent's deletion has both
	// cleared.
	ParentID     string
	ParentCursor int64

	// Metadata is an open-ended structured payload.
	Metadata docval.Object
}

// IsBranch reports whether the flow was created by branching and still
// references its parent.
func (m Meta) IsBranch() bool {
	return m.ParentID != ""
}

// Record is one immutable unit of a flow's history. Records are
// self-contained: replaying them in cursor order reconstructs state.
type Record struct {
	// ID identifies the record independently of its position. Branch
	// copies get fresh IDs.
	ID string

	// FlowID is the owning flow.
	FlowID string

	// Cursor is the record's position in the flow's total order,
	// starting at 0 (or at the branch point for branched flows).
	Cursor int64

	// Key classifies the record's purpose (e.g. "step_state:admetsa").
	Key string

	// Payload carries the record's data.
	Payload docval.Object

	// Metadata carries auxiliary structured data.
	Metadata docval.Object

	// CommandID, when set, makes the append idempotent: a second append
	// with the same command ID for the same flow is a no-op returning
	// the original outcome.
	CommandID string

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
}

// Snapshot is a point-in-time capture of a flow's reconstructed state,
// used to bound replay distance during rehydration.
type Snapshot struct {
	ID     string
	FlowID string

	// Cursor is the position the captured state corresponds to: the
	// state after applying all records with cursor < Cursor.
	Cursor int64

	// StatePtr is an opaque reference to the serialized state, either
	// an inline encoding or a key into a blob store. The rehydration
	// engine resolves it through its BlobStore.
	StatePtr string

	Metadata  docval.Object
	CreatedAt time.Time
}

// PersistResult is the outcome of an append attempt. Exactly one of the
// two shapes occurs: success carrying the new version, or a conflict
// carrying no mutation. Storage failures are errors, not results.
type PersistResult struct {
	// Conflict is true when the expected version did not match the
	// flow's current version. Nothing was written.
	Conflict bool

	// NewVersion is the flow's version after the append. For an
	// idempotent replay of a previously applied command it is the
	// version recorded by the original append's flow state.
	NewVersion int64
}

// Ok builds a successful PersistResult.
func Ok(newVersion int64) PersistResult {
	return PersistResult{NewVersion: newVersion}
}

// Conflicted is the conflict outcome.
func Conflicted() PersistResult {
	return PersistResult{Conflict: true}
}

// WorkItem is a unit of claimable work handed to workers by the queue.
type WorkItem struct {
	FlowID  string
	StepID  string
	Payload docval.Object

	// ClaimedBy is the worker id set when the item is claimed.
	ClaimedBy string
}

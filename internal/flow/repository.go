package flow

import (
	"context"

	"github.com/cadmalab/flowstore/internal/docval"
)

// Repository is the record-store contract. It is the sole authority
// over creation, mutation, and deletion of flows, records, and
// snapshots. Every operation touching more than one row is atomic:
// fully applied or fully rolled back, with no partial state visible to
// concurrent readers.
//
// Concurrency: appends are serialized per flow by the version check in
// PersistData. Reads never block on in-flight appends. Operations on
// unrelated flows never contend.
type Repository interface {
	// CreateFlow allocates a new flow with cursor 0, version 0, and no
	// parent, returning its generated id.
	CreateFlow(ctx context.Context, name, status string, metadata docval.Object) (string, error)

	// GetFlowMeta returns the flow's bookkeeping row. NOT_FOUND if the
	// flow does not exist.
	GetFlowMeta(ctx context.Context, flowID string) (Meta, error)

	// PersistData appends one record. Atomically: (a) if the flow's
	// version differs from expectedVersion, returns Conflicted() and
	// writes nothing; (b) if the record's CommandID matches one already
	// stored for this flow, returns the original outcome without
	// writing; (c) otherwise inserts the record at the flow's current
	// cursor and bumps cursor and version by one.
	//
	// The record's Cursor field must equal the flow's current cursor;
	// a mismatch is a CONFLICT error (caller computed against stale
	// metadata in a way no retry can fix without re-reading).
	PersistData(ctx context.Context, rec Record, expectedVersion int64) (PersistResult, error)

	// ReadData returns all records with cursor strictly greater than
	// fromCursor, ordered ascending by cursor. An empty or nonexistent
	// range yields an empty slice, not an error. Pass fromCursor -1 to
	// read from the beginning.
	ReadData(ctx context.Context, flowID string, fromCursor int64) ([]Record, error)

	// CreateBranch forks a new flow whose history is the parent's
	// prefix up to and including parentCursor. Executed as one atomic
	// transaction: record and snapshot copies (with fresh ids,
	// preserved cursors) plus the new flow row with cursor and version
	// set to the number of records copied. parentCursor beyond the
	// parent's current cursor is a CONFLICT error.
	CreateBranch(ctx context.Context, parentID, name, status string, parentCursor int64, metadata docval.Object) (string, error)

	// FlowExists reports whether a flow with the given id exists.
	FlowExists(ctx context.Context, flowID string) (bool, error)

	// CountRecords returns the number of records stored for the flow,
	// or -1 if the flow does not exist. The sentinel lets callers
	// distinguish "missing flow" from "empty flow" without a second
	// round trip.
	CountRecords(ctx context.Context, flowID string) (int64, error)

	// DeleteFlow atomically removes the flow with its records and
	// snapshots. Children referencing it as parent are orphaned (their
	// parent reference cleared), never deleted.
	DeleteFlow(ctx context.Context, flowID string) error

	// PruneFromCursor removes the record at fromCursor and all later
	// records, resetting the flow's cursor to fromCursor. Child
	// branches forked at a cursor >= fromCursor reference history that
	// no longer exists and are deleted recursively. Snapshots taken
	// past the new cursor are removed; one at exactly fromCursor still
	// captures the surviving prefix and is kept.
	PruneFromCursor(ctx context.Context, flowID string, fromCursor int64) error

	// SetStatus updates the flow's status label and returns the updated
	// metadata.
	SetStatus(ctx context.Context, flowID, status string) (Meta, error)

	// SaveSnapshot records a snapshot pointer for the flow at the given
	// cursor and returns the snapshot id. A cursor beyond the flow's
	// current cursor is a CONFLICT error.
	SaveSnapshot(ctx context.Context, flowID string, cursor int64, statePtr string, metadata docval.Object) (string, error)

	// LoadSnapshot returns a snapshot by id. NOT_FOUND if absent.
	LoadSnapshot(ctx context.Context, snapshotID string) (Snapshot, error)

	// LoadLatestSnapshot returns the snapshot with the highest cursor
	// not exceeding the flow's current cursor, or ok=false when no
	// snapshot applies. Absence is not an error.
	LoadLatestSnapshot(ctx context.Context, flowID string) (Snapshot, bool, error)
}

// BlobStore is the narrow boundary for large serialized state. A
// snapshot's StatePtr resolves through it when the state is not inline.
type BlobStore interface {
	// Put stores a blob and returns an opaque key.
	Put(blob []byte) (string, error)

	// Get retrieves a blob previously stored under key.
	Get(key string) ([]byte, error)
}

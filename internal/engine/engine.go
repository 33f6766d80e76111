package engine

import (
	"context"
	"fmt"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// DefaultMaxRetries is how many times Append re-reads and retries
// after losing an optimistic-concurrency race.
const DefaultMaxRetries = 5

// Engine folds record logs into state and drives appends against a
// repository. Safe for concurrent use; all state lives in the
// repository.
type Engine struct {
	repo   flow.Repository
	blobs  flow.BlobStore
	folder Folder
	tokens TokenGenerator

	maxRetries int
	policy     SnapshotPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithFolder replaces the default KeyStateFolder.
func WithFolder(f Folder) Option {
	return func(e *Engine) { e.folder = f }
}

// WithTokenGenerator replaces the default UUIDv7 command tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithMaxRetries bounds conflict retries in Append. Zero disables
// retrying; the first conflict is returned to the caller.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithSnapshotPolicy enables automatic snapshots after appends.
func WithSnapshotPolicy(p SnapshotPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// SnapshotPolicy decides when Append takes an automatic snapshot.
// The zero value never snapshots.
type SnapshotPolicy struct {
	// EveryN snapshots whenever the flow's cursor reaches a multiple
	// of N. Zero disables automatic snapshots.
	EveryN int64
}

func (p SnapshotPolicy) shouldSnapshot(cursor int64) bool {
	return p.EveryN > 0 && cursor%p.EveryN == 0
}

// New creates an Engine over the given repository and blob store.
func New(repo flow.Repository, blobs flow.BlobStore, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		blobs:      blobs,
		folder:     KeyStateFolder{},
		tokens:     UUIDv7Generator{},
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewCommandID returns a fresh command token for an idempotent append.
func (e *Engine) NewCommandID() string {
	return e.tokens.Generate()
}

// RecordInput is the caller-supplied part of an appended record. The
// engine fills in cursor, flow id, record id, and timestamp.
type RecordInput struct {
	Key      string
	Payload  docval.Object
	Metadata docval.Object

	// CommandID, when set, makes the append idempotent across retries.
	CommandID string
}

// Append appends one record at the flow's current tip, retrying lost
// version races up to the configured bound. A conflicted result after
// the final retry is returned as-is; the caller decides whether to
// re-read and try again.
//
// When a snapshot policy is set and the append lands on a snapshot
// boundary, a snapshot is taken after the append commits. A snapshot
// failure is returned as an error even though the append itself has
// already committed; the result carries the append's outcome.
func (e *Engine) Append(ctx context.Context, flowID string, in RecordInput) (flow.PersistResult, error) {
	var res flow.PersistResult
	for attempt := 0; ; attempt++ {
		meta, err := e.repo.GetFlowMeta(ctx, flowID)
		if err != nil {
			return flow.PersistResult{}, err
		}

		rec := flow.Record{
			FlowID:    flowID,
			Cursor:    meta.Cursor,
			Key:       in.Key,
			Payload:   in.Payload,
			Metadata:  in.Metadata,
			CommandID: in.CommandID,
		}
		res, err = e.repo.PersistData(ctx, rec, meta.Version)
		if err != nil {
			return flow.PersistResult{}, err
		}
		if !res.Conflict {
			if e.policy.shouldSnapshot(meta.Cursor + 1) {
				if _, err := e.Snapshot(ctx, flowID); err != nil {
					return res, fmt.Errorf("post-append snapshot: %w", err)
				}
			}
			return res, nil
		}
		if attempt >= e.maxRetries {
			return res, nil
		}
	}
}

// Rehydrate reconstructs the flow's state, returning the state and the
// cursor it corresponds to. When an applicable snapshot exists, only
// the records past it are replayed; the result is identical to folding
// the full log from scratch.
//
// The returned cursor is derived from the records actually folded, not
// from a separate metadata read, so an append landing mid-rehydration
// is either fully reflected in both the state and the cursor or in
// neither.
func (e *Engine) Rehydrate(ctx context.Context, flowID string) (docval.Object, int64, error) {
	if _, err := e.repo.GetFlowMeta(ctx, flowID); err != nil {
		return nil, 0, err
	}

	state := e.folder.Init()
	cursor := int64(0)
	fromCursor := int64(-1)

	snap, ok, err := e.repo.LoadLatestSnapshot(ctx, flowID)
	if err != nil {
		return nil, 0, err
	}
	if ok {
		blob, err := e.blobs.Get(snap.StatePtr)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve snapshot %s: %w", snap.ID, err)
		}
		state, err = docval.DecodeObject(blob)
		if err != nil {
			return nil, 0, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
		// The snapshot covers records with cursor < snap.Cursor; replay
		// resumes at snap.Cursor.
		cursor = snap.Cursor
		fromCursor = snap.Cursor - 1
	}

	records, err := e.repo.ReadData(ctx, flowID, fromCursor)
	if err != nil {
		return nil, 0, err
	}
	for _, rec := range records {
		state, err = e.folder.Apply(state, rec)
		if err != nil {
			return nil, 0, fmt.Errorf("apply record at cursor %d: %w", rec.Cursor, err)
		}
		cursor = rec.Cursor + 1
	}
	return state, cursor, nil
}

// Snapshot rehydrates the flow and stores the state through the blob
// store, recording the pointer at the flow's current cursor. Returns
// the snapshot id.
func (e *Engine) Snapshot(ctx context.Context, flowID string) (string, error) {
	state, cursor, err := e.Rehydrate(ctx, flowID)
	if err != nil {
		return "", err
	}

	blob, err := docval.MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	ptr, err := e.blobs.Put(blob)
	if err != nil {
		return "", fmt.Errorf("store state blob: %w", err)
	}
	return e.repo.SaveSnapshot(ctx, flowID, cursor, ptr, nil)
}

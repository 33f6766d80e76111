// Package memstore is the in-memory flow.Repository. It mirrors the
// SQLite store's semantics exactly, including the idempotency and
// version-conflict rules, and exists for tests, the scenario harness,
// and embedders that want flow bookkeeping without a database file.
//
// Locking: a registry RWMutex guards the flow map; each flow carries
// its own mutex. Single-flow operations hold the registry read lock
// plus the flow lock, so appends and reads on unrelated flows run
// concurrently. Operations spanning flows (branch, delete, prune) take
// the registry write lock and run alone.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// Store is an in-memory flow repository. The zero value is not usable;
// call New.
type Store struct {
	mu    sync.RWMutex
	flows map[string]*memFlow

	now func() time.Time
}

type memFlow struct {
	mu        sync.Mutex
	meta      flow.Meta
	records   []flow.Record
	snapshots []flow.Snapshot
}

var _ flow.Repository = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		flows: make(map[string]*memFlow),
		now:   time.Now,
	}
}

// WithClock overrides the store's time source. For tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateFlow allocates a new flow with cursor 0 and version 0.
func (s *Store) CreateFlow(ctx context.Context, name, status string, metadata docval.Object) (string, error) {
	meta, err := cloneObject(metadata)
	if err != nil {
		return "", flow.StorageError("create flow", err)
	}

	id := uuid.Must(uuid.NewV7()).String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[id] = &memFlow{
		meta: flow.Meta{
			ID:        id,
			Name:      name,
			Status:    status,
			CreatedAt: s.now(),
			Metadata:  meta,
		},
	}
	return id, nil
}

// GetFlowMeta returns the flow's bookkeeping row.
func (s *Store) GetFlowMeta(ctx context.Context, flowID string) (flow.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return flow.Meta{}, flow.NotFound(flowID, "flow")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	meta, err := cloneMeta(f.meta)
	if err != nil {
		return flow.Meta{}, flow.StorageError("get flow meta", err)
	}
	return meta, nil
}

// PersistData appends one record under optimistic concurrency, with the
// same check order as the SQLite store: not-found, idempotent replay,
// version match, cursor match.
func (s *Store) PersistData(ctx context.Context, rec flow.Record, expectedVersion int64) (flow.PersistResult, error) {
	payload, err := cloneObject(rec.Payload)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data", err)
	}
	recMeta, err := cloneObject(rec.Metadata)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[rec.FlowID]
	if !ok {
		return flow.PersistResult{}, flow.NotFound(rec.FlowID, "flow")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// Idempotent replay succeeds regardless of the stale expected
	// version the retry carries.
	if rec.CommandID != "" {
		for _, stored := range f.records {
			if stored.CommandID == rec.CommandID {
				return flow.Ok(f.meta.Version), nil
			}
		}
	}

	if f.meta.Version != expectedVersion {
		return flow.Conflicted(), nil
	}

	if rec.Cursor != f.meta.Cursor {
		return flow.PersistResult{}, flow.Conflict(rec.FlowID,
			"record cursor does not match flow cursor")
	}

	rec.Payload = payload
	rec.Metadata = recMeta
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	f.records = append(f.records, rec)
	f.meta.Cursor++
	f.meta.Version++
	return flow.Ok(f.meta.Version), nil
}

// ReadData returns records with cursor strictly greater than fromCursor
// in ascending cursor order. Missing flows yield an empty slice. Records
// are cloned on the way out so callers cannot rewrite stored history
// through the returned maps.
func (s *Store) ReadData(ctx context.Context, flowID string, fromCursor int64) ([]flow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return []flow.Record{}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []flow.Record{}
	for _, rec := range f.records {
		if rec.Cursor > fromCursor {
			cloned, err := cloneRecord(rec)
			if err != nil {
				return nil, flow.StorageError("read data", err)
			}
			out = append(out, cloned)
		}
	}
	return out, nil
}

// CreateBranch forks a new flow carrying the parent's history up to and
// including parentCursor.
func (s *Store) CreateBranch(ctx context.Context, parentID, name, status string, parentCursor int64, metadata docval.Object) (string, error) {
	meta, err := cloneObject(metadata)
	if err != nil {
		return "", flow.StorageError("create branch", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.flows[parentID]
	if !ok {
		return "", flow.NotFound(parentID, "parent flow")
	}

	if parentCursor < 0 || parentCursor >= parent.meta.Cursor {
		return "", flow.Conflict(parentID, "branch cursor beyond parent history")
	}

	if name == "" {
		name = parent.meta.Name
	}
	if status == "" {
		status = parent.meta.Status
	}
	if meta == nil {
		meta, err = cloneObject(parent.meta.Metadata)
		if err != nil {
			return "", flow.StorageError("create branch", err)
		}
	}

	id := uuid.Must(uuid.NewV7()).String()
	copied := parentCursor + 1

	branch := &memFlow{
		meta: flow.Meta{
			ID:           id,
			Name:         name,
			Status:       status,
			CreatedAt:    s.now(),
			Cursor:       copied,
			Version:      copied,
			ParentID:     parentID,
			ParentCursor: parentCursor,
			Metadata:     meta,
		},
	}
	for _, rec := range parent.records {
		if rec.Cursor > parentCursor {
			continue
		}
		rec.ID = uuid.NewString()
		rec.FlowID = id
		branch.records = append(branch.records, rec)
	}
	for _, snap := range parent.snapshots {
		if snap.Cursor > parentCursor {
			continue
		}
		snap.ID = uuid.NewString()
		snap.FlowID = id
		branch.snapshots = append(branch.snapshots, snap)
	}

	s.flows[id] = branch
	return id, nil
}

// FlowExists reports whether the flow exists.
func (s *Store) FlowExists(ctx context.Context, flowID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flows[flowID]
	return ok, nil
}

// CountRecords returns the number of stored records, or -1 for a
// missing flow.
func (s *Store) CountRecords(ctx context.Context, flowID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return -1, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.records)), nil
}

// DeleteFlow removes the flow and orphans its children.
func (s *Store) DeleteFlow(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(flowID)
}

// deleteLocked removes one flow and clears its children's parent
// references. Caller holds the registry write lock.
func (s *Store) deleteLocked(flowID string) error {
	if _, ok := s.flows[flowID]; !ok {
		return flow.NotFound(flowID, "flow")
	}
	delete(s.flows, flowID)

	for _, f := range s.flows {
		if f.meta.ParentID == flowID {
			f.meta.ParentID = ""
			f.meta.ParentCursor = 0
		}
	}
	return nil
}

// PruneFromCursor truncates history at fromCursor and deletes child
// branches forked at a pruned position.
func (s *Store) PruneFromCursor(ctx context.Context, flowID string, fromCursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[flowID]
	if !ok {
		return flow.NotFound(flowID, "flow")
	}
	if fromCursor < 0 || fromCursor > f.meta.Cursor {
		return flow.Conflict(flowID, "prune cursor beyond flow history")
	}

	f.records = slices.DeleteFunc(f.records, func(rec flow.Record) bool {
		return rec.Cursor >= fromCursor
	})
	f.snapshots = slices.DeleteFunc(f.snapshots, func(snap flow.Snapshot) bool {
		return snap.Cursor > fromCursor
	})
	f.meta.Cursor = fromCursor
	// Version stays monotonic so stale writers still conflict.

	var stale []string
	for id, child := range s.flows {
		if child.meta.ParentID == flowID && child.meta.ParentCursor >= fromCursor {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if err := s.deleteLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus updates the status label and returns the updated metadata.
func (s *Store) SetStatus(ctx context.Context, flowID, status string) (flow.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return flow.Meta{}, flow.NotFound(flowID, "flow")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta.Status = status

	meta, err := cloneMeta(f.meta)
	if err != nil {
		return flow.Meta{}, flow.StorageError("set status", err)
	}
	return meta, nil
}

// SaveSnapshot records a snapshot pointer at the given cursor.
func (s *Store) SaveSnapshot(ctx context.Context, flowID string, cursor int64, statePtr string, metadata docval.Object) (string, error) {
	meta, err := cloneObject(metadata)
	if err != nil {
		return "", flow.StorageError("save snapshot", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return "", flow.NotFound(flowID, "flow")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if cursor < 0 || cursor > f.meta.Cursor {
		return "", flow.Conflict(flowID, "snapshot cursor beyond flow history")
	}

	id := uuid.NewString()
	f.snapshots = append(f.snapshots, flow.Snapshot{
		ID:        id,
		FlowID:    flowID,
		Cursor:    cursor,
		StatePtr:  statePtr,
		Metadata:  meta,
		CreatedAt: s.now(),
	})
	return id, nil
}

// LoadSnapshot returns a snapshot by id.
func (s *Store) LoadSnapshot(ctx context.Context, snapshotID string) (flow.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.flows {
		f.mu.Lock()
		for _, snap := range f.snapshots {
			if snap.ID == snapshotID {
				f.mu.Unlock()
				cloned, err := cloneSnapshot(snap)
				if err != nil {
					return flow.Snapshot{}, flow.StorageError("load snapshot", err)
				}
				return cloned, nil
			}
		}
		f.mu.Unlock()
	}
	return flow.Snapshot{}, flow.NotFound("", "snapshot")
}

// LoadLatestSnapshot returns the snapshot with the highest cursor not
// exceeding the flow's current cursor.
func (s *Store) LoadLatestSnapshot(ctx context.Context, flowID string) (flow.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return flow.Snapshot{}, false, flow.NotFound(flowID, "flow")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var best flow.Snapshot
	found := false
	for _, snap := range f.snapshots {
		if snap.Cursor > f.meta.Cursor {
			continue
		}
		if !found || snap.Cursor > best.Cursor ||
			(snap.Cursor == best.Cursor && snap.CreatedAt.After(best.CreatedAt)) {
			best = snap
			found = true
		}
	}
	if !found {
		return flow.Snapshot{}, false, nil
	}
	cloned, err := cloneSnapshot(best)
	if err != nil {
		return flow.Snapshot{}, false, flow.StorageError("load latest snapshot", err)
	}
	return cloned, true, nil
}

// cloneRecord deep-copies the record's payload and metadata. Reads hand
// out clones for the same reason writes take them: a record, once
// persisted, must be unreachable through caller-held maps.
func cloneRecord(rec flow.Record) (flow.Record, error) {
	payload, err := cloneObject(rec.Payload)
	if err != nil {
		return flow.Record{}, err
	}
	meta, err := cloneObject(rec.Metadata)
	if err != nil {
		return flow.Record{}, err
	}
	rec.Payload = payload
	rec.Metadata = meta
	return rec, nil
}

func cloneMeta(meta flow.Meta) (flow.Meta, error) {
	m, err := cloneObject(meta.Metadata)
	if err != nil {
		return flow.Meta{}, err
	}
	meta.Metadata = m
	return meta, nil
}

func cloneSnapshot(snap flow.Snapshot) (flow.Snapshot, error) {
	m, err := cloneObject(snap.Metadata)
	if err != nil {
		return flow.Snapshot{}, err
	}
	snap.Metadata = m
	return snap, nil
}

// cloneObject deep-copies an object through its canonical encoding, the
// same round trip the SQLite store performs. nil stays nil so callers
// can distinguish "absent" from "empty".
func cloneObject(o docval.Object) (docval.Object, error) {
	if o == nil {
		return nil, nil
	}
	data, err := docval.MarshalCanonical(o)
	if err != nil {
		return nil, err
	}
	return docval.DecodeObject(data)
}

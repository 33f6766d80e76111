package store

import (
	"context"
	"sync"
	"testing"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

func TestCreateFlow_InitialMeta(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.CreateFlow(ctx, "cadma-run", "queued",
		docval.Obj(docval.P("family", docval.String("alcohols"))))
	if err != nil {
		t.Fatalf("CreateFlow() failed: %v", err)
	}

	meta, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if meta.Name != "cadma-run" {
		t.Errorf("name = %q, want %q", meta.Name, "cadma-run")
	}
	if meta.Status != "queued" {
		t.Errorf("status = %q, want %q", meta.Status, "queued")
	}
	if meta.Cursor != 0 || meta.Version != 0 {
		t.Errorf("cursor/version = %d/%d, want 0/0", meta.Cursor, meta.Version)
	}
	if meta.IsBranch() {
		t.Error("new flow reports IsBranch()")
	}
	if !docval.Equal(meta.Metadata["family"], docval.String("alcohols")) {
		t.Errorf("metadata = %v, want family=alcohols", meta.Metadata)
	}
}

func TestPersistData_CursorAndVersionAdvance(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestFlow(t, s)

	for i := int64(0); i < 3; i++ {
		res := appendRecord(t, s, id, "step", docval.Obj(docval.P("i", docval.Int(i))))
		if res.NewVersion != i+1 {
			t.Errorf("append %d: NewVersion = %d, want %d", i, res.NewVersion, i+1)
		}
	}

	meta, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if meta.Cursor != 3 {
		t.Errorf("cursor = %d, want 3", meta.Cursor)
	}
	if meta.Version != 3 {
		t.Errorf("version = %d, want 3", meta.Version)
	}
}

func TestPersistData_StaleVersionConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestFlow(t, s)

	appendRecord(t, s, id, "step", docval.Object{})

	// Replay with the pre-append version.
	res, err := s.PersistData(ctx, flow.Record{FlowID: id, Cursor: 1, Key: "step"}, 0)
	if err != nil {
		t.Fatalf("PersistData() failed: %v", err)
	}
	if !res.Conflict {
		t.Error("stale expected version did not conflict")
	}

	// Nothing was written.
	n, err := s.CountRecords(ctx, id)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("records = %d after conflict, want 1", n)
	}
}

func TestPersistData_MissingFlow(t *testing.T) {
	s := createTestStore(t)

	_, err := s.PersistData(context.Background(),
		flow.Record{FlowID: "no-such-flow", Key: "step"}, 0)
	if !flow.IsNotFound(err) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestPersistData_CommandIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestFlow(t, s)

	rec := flow.Record{
		FlowID:    id,
		Cursor:    0,
		Key:       "step_state:admetsa",
		Payload:   docval.Obj(docval.P("logp", docval.Float(1.2))),
		CommandID: "cmd-42",
	}
	first, err := s.PersistData(ctx, rec, 0)
	if err != nil {
		t.Fatalf("first PersistData() failed: %v", err)
	}
	if first.Conflict {
		t.Fatal("first append conflicted")
	}

	// Retry with the original (now stale) expected version: success,
	// nothing written.
	again, err := s.PersistData(ctx, rec, 0)
	if err != nil {
		t.Fatalf("replayed PersistData() failed: %v", err)
	}
	if again.Conflict {
		t.Error("idempotent replay reported conflict")
	}
	if again.NewVersion != first.NewVersion {
		t.Errorf("replay NewVersion = %d, want %d", again.NewVersion, first.NewVersion)
	}

	meta, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if meta.Cursor != 1 || meta.Version != 1 {
		t.Errorf("cursor/version = %d/%d after replay, want 1/1", meta.Cursor, meta.Version)
	}
}

func TestPersistData_WrongCursorRejected(t *testing.T) {
	s := createTestStore(t)
	id := createTestFlow(t, s)

	_, err := s.PersistData(context.Background(),
		flow.Record{FlowID: id, Cursor: 5, Key: "step"}, 0)
	if !flow.IsConflict(err) {
		t.Errorf("err = %v, want CONFLICT", err)
	}
}

func TestPersistData_ConcurrentSameVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestFlow(t, s)

	const racers = 8
	var wg sync.WaitGroup
	results := make([]flow.PersistResult, racers)
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.PersistData(ctx, flow.Record{
				FlowID:  id,
				Cursor:  0,
				Key:     "step",
				Payload: docval.Obj(docval.P("racer", docval.Int(int64(i)))),
			}, 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			// Losers that read post-commit state see a cursor mismatch;
			// that is still "nothing written".
			if !flow.IsConflict(errs[i]) {
				t.Fatalf("racer %d: unexpected error %v", i, errs[i])
			}
			continue
		}
		if !results[i].Conflict {
			wins++
			if results[i].NewVersion != 1 {
				t.Errorf("winner NewVersion = %d, want 1", results[i].NewVersion)
			}
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}

	n, err := s.CountRecords(ctx, id)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
}

func TestSetStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestFlow(t, s)

	meta, err := s.SetStatus(ctx, id, "running")
	if err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}
	if meta.Status != "running" {
		t.Errorf("status = %q, want %q", meta.Status, "running")
	}

	if _, err := s.SetStatus(ctx, "no-such-flow", "x"); !flow.IsNotFound(err) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

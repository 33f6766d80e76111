package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

func createFlow(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.CreateFlow(context.Background(), "test-flow", "queued", nil)
	if err != nil {
		t.Fatalf("CreateFlow() failed: %v", err)
	}
	return id
}

func appendRecord(t *testing.T, s *Store, flowID, key string, payload docval.Object) flow.Record {
	t.Helper()
	ctx := context.Background()
	meta, err := s.GetFlowMeta(ctx, flowID)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	rec := flow.Record{FlowID: flowID, Cursor: meta.Cursor, Key: key, Payload: payload}
	res, err := s.PersistData(ctx, rec, meta.Version)
	if err != nil {
		t.Fatalf("PersistData() failed: %v", err)
	}
	if res.Conflict {
		t.Fatal("PersistData() conflicted unexpectedly")
	}
	return rec
}

func TestAppendAndRead(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)

	for i := int64(0); i < 3; i++ {
		appendRecord(t, s, id, "step", docval.Obj(docval.P("i", docval.Int(i))))
	}

	meta, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if meta.Cursor != 3 || meta.Version != 3 {
		t.Errorf("cursor/version = %d/%d, want 3/3", meta.Cursor, meta.Version)
	}

	recs, err := s.ReadData(ctx, id, 0)
	if err != nil {
		t.Fatalf("ReadData() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records past cursor 0 = %d, want 2", len(recs))
	}
	if recs[0].Cursor != 1 || recs[1].Cursor != 2 {
		t.Errorf("cursors = %d,%d, want 1,2", recs[0].Cursor, recs[1].Cursor)
	}
	if recs[0].ID == "" || recs[0].CreatedAt.IsZero() {
		t.Error("record id or timestamp not defaulted")
	}
}

func TestPersistData_VersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)
	appendRecord(t, s, id, "step", docval.Object{})

	rec := flow.Record{FlowID: id, Cursor: 1, Key: "late"}
	res, err := s.PersistData(ctx, rec, 0)
	if err != nil {
		t.Fatalf("PersistData() failed: %v", err)
	}
	if !res.Conflict {
		t.Error("stale version accepted")
	}

	n, _ := s.CountRecords(ctx, id)
	if n != 1 {
		t.Errorf("records = %d after conflict, want 1", n)
	}
}

func TestPersistData_CommandIdempotency(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)

	rec := flow.Record{FlowID: id, Cursor: 0, Key: "step", CommandID: "cmd-1"}
	first, err := s.PersistData(ctx, rec, 0)
	if err != nil {
		t.Fatalf("PersistData() failed: %v", err)
	}

	// Replay with the stale expected version: succeeds without writing.
	replay, err := s.PersistData(ctx, rec, 0)
	if err != nil {
		t.Fatalf("PersistData() replay failed: %v", err)
	}
	if replay.Conflict {
		t.Error("replay reported conflict")
	}
	if replay.NewVersion != first.NewVersion {
		t.Errorf("replay version = %d, want %d", replay.NewVersion, first.NewVersion)
	}

	n, _ := s.CountRecords(ctx, id)
	if n != 1 {
		t.Errorf("records = %d after replay, want 1", n)
	}
}

func TestPersistData_ConcurrentSameVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)

	const writers = 8
	var wg sync.WaitGroup
	results := make([]flow.PersistResult, writers)
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := flow.Record{FlowID: id, Cursor: 0, Key: "racer"}
			results[i], errs[i] = s.PersistData(ctx, rec, 0)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			if !flow.IsConflict(errs[i]) {
				t.Fatalf("writer %d: unexpected error %v", i, errs[i])
			}
			continue
		}
		if !results[i].Conflict {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}

	n, _ := s.CountRecords(ctx, id)
	if n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
}

func TestReadData_MissingFlowYieldsEmpty(t *testing.T) {
	s := New()

	recs, err := s.ReadData(context.Background(), "no-such-flow", -1)
	if err != nil {
		t.Fatalf("ReadData() failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
}

func TestPayloadIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)

	payload := docval.Obj(docval.P("k", docval.String("original")))
	appendRecord(t, s, id, "step", payload)

	// Mutating the caller's object after the append must not leak into
	// the stored record.
	payload["k"] = docval.String("mutated")

	recs, err := s.ReadData(ctx, id, -1)
	if err != nil {
		t.Fatalf("ReadData() failed: %v", err)
	}
	if got := recs[0].Payload["k"]; !docval.Equal(got, docval.String("original")) {
		t.Errorf("stored payload = %v, want original", got)
	}
}

func TestReadDataIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)
	appendRecord(t, s, id, "step", docval.Obj(docval.P("k", docval.String("original"))))

	// Mutating a returned payload must not rewrite the stored record,
	// matching the SQLite store's decode-per-read behavior.
	recs, err := s.ReadData(ctx, id, -1)
	if err != nil {
		t.Fatalf("ReadData() failed: %v", err)
	}
	recs[0].Payload["k"] = docval.String("mutated")

	again, err := s.ReadData(ctx, id, -1)
	if err != nil {
		t.Fatalf("ReadData() failed: %v", err)
	}
	if got := again[0].Payload["k"]; !docval.Equal(got, docval.String("original")) {
		t.Errorf("stored payload = %v after mutating a read result, want original", got)
	}
}

func TestGetFlowMetaIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.CreateFlow(ctx, "test-flow", "queued",
		docval.Obj(docval.P("owner", docval.String("alice"))))
	if err != nil {
		t.Fatalf("CreateFlow() failed: %v", err)
	}

	meta, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	meta.Metadata["owner"] = docval.String("mallory")

	again, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if got := again.Metadata["owner"]; !docval.Equal(got, docval.String("alice")) {
		t.Errorf("stored metadata = %v after mutating a read result, want alice", got)
	}
}

func TestCreateBranch_PrefixCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	parent := createFlow(t, s)

	for i := int64(0); i < 3; i++ {
		appendRecord(t, s, parent, "step", docval.Obj(docval.P("i", docval.Int(i))))
	}

	child, err := s.CreateBranch(ctx, parent, "fork", "", 1, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	meta, err := s.GetFlowMeta(ctx, child)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if meta.Cursor != 2 || meta.Version != 2 {
		t.Errorf("branch cursor/version = %d/%d, want 2/2", meta.Cursor, meta.Version)
	}
	if meta.ParentID != parent || meta.ParentCursor != 1 {
		t.Errorf("parent refs = %s/%d, want %s/1", meta.ParentID, meta.ParentCursor, parent)
	}
	if meta.Status != "queued" {
		t.Errorf("status = %q, want inherited %q", meta.Status, "queued")
	}

	recs, err := s.ReadData(ctx, child, -1)
	if err != nil {
		t.Fatalf("ReadData() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("branch records = %d, want 2", len(recs))
	}
	for i, rec := range recs {
		if rec.FlowID != child {
			t.Errorf("record %d flow = %s, want %s", i, rec.FlowID, child)
		}
	}

	// Appending to the branch leaves the parent untouched.
	appendRecord(t, s, child, "divergent", docval.Object{})
	parentMeta, _ := s.GetFlowMeta(ctx, parent)
	if parentMeta.Cursor != 3 {
		t.Errorf("parent cursor = %d after branch append, want 3", parentMeta.Cursor)
	}
}

func TestCreateBranch_OutOfRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	parent := createFlow(t, s)
	appendRecord(t, s, parent, "step", docval.Object{})

	for _, cursor := range []int64{-1, 1, 5} {
		_, err := s.CreateBranch(ctx, parent, "", "", cursor, nil)
		if !flow.IsConflict(err) {
			t.Errorf("CreateBranch(cursor=%d) err = %v, want CONFLICT", cursor, err)
		}
	}
}

func TestDeleteFlow_OrphansChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	parent := createFlow(t, s)
	appendRecord(t, s, parent, "step", docval.Object{})

	child, err := s.CreateBranch(ctx, parent, "child", "", 0, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	if err := s.DeleteFlow(ctx, parent); err != nil {
		t.Fatalf("DeleteFlow() failed: %v", err)
	}

	meta, err := s.GetFlowMeta(ctx, child)
	if err != nil {
		t.Fatalf("GetFlowMeta(child) failed: %v", err)
	}
	if meta.IsBranch() {
		t.Errorf("child still references deleted parent %q", meta.ParentID)
	}

	n, _ := s.CountRecords(ctx, parent)
	if n != -1 {
		t.Errorf("deleted parent count = %d, want -1", n)
	}
}

func TestPruneFromCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)

	for i := int64(0); i < 4; i++ {
		appendRecord(t, s, id, "step", docval.Obj(docval.P("i", docval.Int(i))))
	}
	stale, err := s.CreateBranch(ctx, id, "stale", "", 3, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}
	kept, err := s.CreateBranch(ctx, id, "kept", "", 0, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	if err := s.PruneFromCursor(ctx, id, 2); err != nil {
		t.Fatalf("PruneFromCursor() failed: %v", err)
	}

	meta, _ := s.GetFlowMeta(ctx, id)
	if meta.Cursor != 2 {
		t.Errorf("cursor = %d after prune, want 2", meta.Cursor)
	}
	if meta.Version != 4 {
		t.Errorf("version = %d after prune, want 4", meta.Version)
	}

	if exists, _ := s.FlowExists(ctx, stale); exists {
		t.Error("branch forked at pruned cursor survived")
	}
	if exists, _ := s.FlowExists(ctx, kept); !exists {
		t.Error("branch forked before prune point was deleted")
	}
}

func TestSnapshots(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := createFlow(t, s)

	appendRecord(t, s, id, "step", docval.Object{})
	appendRecord(t, s, id, "step", docval.Object{})

	snapID, err := s.SaveSnapshot(ctx, id, 1, "ptr-1", nil)
	if err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}
	if _, err := s.SaveSnapshot(ctx, id, 2, "ptr-2", nil); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx, snapID)
	if err != nil {
		t.Fatalf("LoadSnapshot() failed: %v", err)
	}
	if snap.Cursor != 1 || snap.StatePtr != "ptr-1" {
		t.Errorf("snapshot = %+v, want cursor 1 ptr-1", snap)
	}

	latest, ok, err := s.LoadLatestSnapshot(ctx, id)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot() failed: %v", err)
	}
	if !ok || latest.StatePtr != "ptr-2" {
		t.Errorf("latest = %+v ok=%v, want ptr-2", latest, ok)
	}

	if _, err := s.SaveSnapshot(ctx, id, 3, "beyond", nil); !flow.IsConflict(err) {
		t.Errorf("snapshot beyond cursor: err = %v, want CONFLICT", err)
	}
	if _, err := s.LoadSnapshot(ctx, "no-such-snapshot"); !flow.IsNotFound(err) {
		t.Errorf("missing snapshot: err = %v, want NOT_FOUND", err)
	}
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return fixed })
	ctx := context.Background()
	id := createFlow(t, s)

	meta, err := s.GetFlowMeta(ctx, id)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	if !meta.CreatedAt.Equal(fixed) {
		t.Errorf("created at = %v, want %v", meta.CreatedAt, fixed)
	}
}

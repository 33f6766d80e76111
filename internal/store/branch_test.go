package store

import (
	"context"
	"testing"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

func TestCreateBranch_PrefixCopy(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	parent := createTestFlow(t, s)

	for i := int64(0); i < 3; i++ {
		appendRecord(t, s, parent, "step", docval.Obj(docval.P("i", docval.Int(i))))
	}

	branch, err := s.CreateBranch(ctx, parent, "fork", "", 1, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	// Branch has exactly the records at cursors 0 and 1, identical in
	// content to the parent's.
	branchRecs, err := s.ReadData(ctx, branch, -1)
	if err != nil {
		t.Fatalf("ReadData(branch) failed: %v", err)
	}
	parentRecs, err := s.ReadData(ctx, parent, -1)
	if err != nil {
		t.Fatalf("ReadData(parent) failed: %v", err)
	}
	if len(branchRecs) != 2 {
		t.Fatalf("branch records = %d, want 2", len(branchRecs))
	}
	for i, rec := range branchRecs {
		if rec.Cursor != parentRecs[i].Cursor {
			t.Errorf("record %d: cursor = %d, want %d", i, rec.Cursor, parentRecs[i].Cursor)
		}
		if rec.Key != parentRecs[i].Key {
			t.Errorf("record %d: key = %q, want %q", i, rec.Key, parentRecs[i].Key)
		}
		if !docval.Equal(rec.Payload, parentRecs[i].Payload) {
			t.Errorf("record %d: payload differs from parent", i)
		}
		if rec.ID == parentRecs[i].ID {
			t.Errorf("record %d: copy shares id with original", i)
		}
		if rec.FlowID != branch {
			t.Errorf("record %d: flow id = %q, want branch", i, rec.FlowID)
		}
	}

	// Branch meta starts where the parent was at the fork.
	meta, err := s.GetFlowMeta(ctx, branch)
	if err != nil {
		t.Fatalf("GetFlowMeta(branch) failed: %v", err)
	}
	if meta.Cursor != 2 || meta.Version != 2 {
		t.Errorf("branch cursor/version = %d/%d, want 2/2", meta.Cursor, meta.Version)
	}
	if meta.ParentID != parent || meta.ParentCursor != 1 {
		t.Errorf("branch parent = %q@%d, want %q@1", meta.ParentID, meta.ParentCursor, parent)
	}
	if meta.Name != "fork" {
		t.Errorf("branch name = %q, want %q", meta.Name, "fork")
	}
}

func TestCreateBranch_ParentUnaffected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	parent := createTestFlow(t, s)

	for i := int64(0); i < 3; i++ {
		appendRecord(t, s, parent, "step", docval.Obj(docval.P("i", docval.Int(i))))
	}

	branch, err := s.CreateBranch(ctx, parent, "", "", 1, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	// Appending to the branch leaves the parent untouched.
	appendRecord(t, s, branch, "divergent", docval.Object{})

	parentMeta, err := s.GetFlowMeta(ctx, parent)
	if err != nil {
		t.Fatalf("GetFlowMeta(parent) failed: %v", err)
	}
	if parentMeta.Cursor != 3 || parentMeta.Version != 3 {
		t.Errorf("parent cursor/version = %d/%d, want 3/3", parentMeta.Cursor, parentMeta.Version)
	}

	branchMeta, err := s.GetFlowMeta(ctx, branch)
	if err != nil {
		t.Fatalf("GetFlowMeta(branch) failed: %v", err)
	}
	if branchMeta.Cursor != 3 {
		t.Errorf("branch cursor = %d, want 3", branchMeta.Cursor)
	}
	recs, err := s.ReadData(ctx, branch, 1)
	if err != nil {
		t.Fatalf("ReadData(branch) failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "divergent" {
		t.Errorf("branch tail = %+v, want one divergent record at cursor 2", recs)
	}
}

func TestCreateBranch_CommandIDsPreserved(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	parent := createTestFlow(t, s)

	res, err := s.PersistData(ctx, flow.Record{
		FlowID:    parent,
		Cursor:    0,
		Key:       "step",
		CommandID: "cmd-1",
	}, 0)
	if err != nil || res.Conflict {
		t.Fatalf("PersistData() = %+v, %v", res, err)
	}

	branch, err := s.CreateBranch(ctx, parent, "", "", 0, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	// The copied command id guards the branch too: replaying cmd-1 on
	// the branch is a no-op.
	meta, err := s.GetFlowMeta(ctx, branch)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	res, err = s.PersistData(ctx, flow.Record{
		FlowID:    branch,
		Cursor:    meta.Cursor,
		Key:       "step",
		CommandID: "cmd-1",
	}, meta.Version)
	if err != nil {
		t.Fatalf("PersistData(branch) failed: %v", err)
	}
	if res.Conflict {
		t.Error("replay on branch conflicted")
	}
	n, err := s.CountRecords(ctx, branch)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("branch records = %d after replay, want 1", n)
	}
}

func TestCreateBranch_SnapshotsCopied(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	parent := createTestFlow(t, s)

	appendRecord(t, s, parent, "step", docval.Object{})
	appendRecord(t, s, parent, "step", docval.Object{})

	if _, err := s.SaveSnapshot(ctx, parent, 1, "ptr-at-1", nil); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	branch, err := s.CreateBranch(ctx, parent, "", "", 1, nil)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	snap, ok, err := s.LoadLatestSnapshot(ctx, branch)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot() failed: %v", err)
	}
	if !ok {
		t.Fatal("branch has no copied snapshot")
	}
	if snap.Cursor != 1 || snap.StatePtr != "ptr-at-1" {
		t.Errorf("snapshot = %d/%q, want 1/ptr-at-1", snap.Cursor, snap.StatePtr)
	}
	if snap.FlowID != branch {
		t.Errorf("snapshot flow = %q, want branch", snap.FlowID)
	}
}

func TestCreateBranch_CursorOutOfRange(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	parent := createTestFlow(t, s)
	appendRecord(t, s, parent, "step", docval.Object{})

	// Past the tip, and negative: both rejected, never clamped.
	for _, cursor := range []int64{1, 5, -1} {
		_, err := s.CreateBranch(ctx, parent, "", "", cursor, nil)
		if !flow.IsConflict(err) {
			t.Errorf("CreateBranch(cursor=%d) err = %v, want CONFLICT", cursor, err)
		}
	}
}

func TestCreateBranch_MissingParent(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CreateBranch(context.Background(), "no-such-flow", "", "", 0, nil)
	if !flow.IsNotFound(err) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

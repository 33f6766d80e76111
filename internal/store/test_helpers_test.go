package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFlow creates a flow and returns its id.
func createTestFlow(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.CreateFlow(context.Background(), "test-flow", "queued", docval.Object{})
	if err != nil {
		t.Fatalf("CreateFlow() failed: %v", err)
	}
	return id
}

// appendRecord appends one record at the flow's current cursor/version,
// failing the test on conflict.
func appendRecord(t *testing.T, s *Store, flowID, key string, payload docval.Object) flow.PersistResult {
	t.Helper()
	ctx := context.Background()
	meta, err := s.GetFlowMeta(ctx, flowID)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	res, err := s.PersistData(ctx, flow.Record{
		FlowID:  flowID,
		Cursor:  meta.Cursor,
		Key:     key,
		Payload: payload,
	}, meta.Version)
	if err != nil {
		t.Fatalf("PersistData() failed: %v", err)
	}
	if res.Conflict {
		t.Fatalf("PersistData() conflicted at version %d", meta.Version)
	}
	return res
}

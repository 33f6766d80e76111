package testutil

import (
	"context"
	"testing"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// SeedFlow creates a flow and appends the given step payloads in
// order, each under "step_state:<id>". Fails the test on any error or
// conflict. Returns the flow id.
func SeedFlow(t *testing.T, repo flow.Repository, name string, steps map[string]docval.Object, order []string) string {
	t.Helper()
	ctx := context.Background()

	id, err := repo.CreateFlow(ctx, name, "running", nil)
	if err != nil {
		t.Fatalf("CreateFlow() failed: %v", err)
	}
	for _, stepID := range order {
		AppendStep(t, repo, id, "step_state:"+stepID, steps[stepID])
	}
	return id
}

// AppendStep appends one record at the flow's tip, failing the test on
// error or conflict.
func AppendStep(t *testing.T, repo flow.Repository, flowID, key string, payload docval.Object) flow.Record {
	t.Helper()
	ctx := context.Background()

	meta, err := repo.GetFlowMeta(ctx, flowID)
	if err != nil {
		t.Fatalf("GetFlowMeta() failed: %v", err)
	}
	rec := flow.Record{
		FlowID:  flowID,
		Cursor:  meta.Cursor,
		Key:     key,
		Payload: payload,
	}
	res, err := repo.PersistData(ctx, rec, meta.Version)
	if err != nil {
		t.Fatalf("PersistData() failed: %v", err)
	}
	if res.Conflict {
		t.Fatalf("PersistData() conflicted at cursor %d", meta.Cursor)
	}
	return rec
}

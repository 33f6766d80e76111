package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadmalab/flowstore/internal/blobstore"
	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
	"github.com/cadmalab/flowstore/internal/memstore"
	"github.com/cadmalab/flowstore/internal/testutil"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memstore.Store) {
	t.Helper()
	repo := memstore.New()
	return New(repo, blobstore.Inline{}, opts...), repo
}

func createFlow(t *testing.T, repo *memstore.Store) string {
	t.Helper()
	id, err := repo.CreateFlow(context.Background(), "test-flow", "running", nil)
	require.NoError(t, err)
	return id
}

func TestAppend_AdvancesCursorAndVersion(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	id := createFlow(t, repo)

	for i := int64(1); i <= 3; i++ {
		res, err := e.Append(ctx, id, RecordInput{
			Key:     "step",
			Payload: docval.Obj(docval.P("i", docval.Int(i))),
		})
		require.NoError(t, err)
		require.False(t, res.Conflict)
		assert.Equal(t, i, res.NewVersion)
	}

	meta, err := repo.GetFlowMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Cursor)
	assert.Equal(t, int64(3), meta.Version)
}

func TestAppend_MissingFlow(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Append(context.Background(), "no-such-flow", RecordInput{Key: "step"})
	assert.True(t, flow.IsNotFound(err))
}

func TestAppend_RetriesThroughContention(t *testing.T) {
	e, repo := newTestEngine(t, WithMaxRetries(50))
	ctx := context.Background()
	id := createFlow(t, repo)

	// All writers race on the same flow; retries absorb the version
	// conflicts so every append eventually lands.
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	conflicts := make([]bool, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Append(ctx, id, RecordInput{Key: "racer"})
			errs[i] = err
			conflicts[i] = res.Conflict
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i], "writer %d", i)
		assert.False(t, conflicts[i], "writer %d gave up", i)
	}

	n, err := repo.CountRecords(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), n)
}

func TestRehydrate_FoldsLog(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	id := createFlow(t, repo)

	steps := []RecordInput{
		{Key: "step_state:prepare", Payload: docval.Obj(docval.P("done", docval.Bool(true)))},
		{Key: "step_state:score", Payload: docval.Obj(docval.P("value", docval.Float(0.4)))},
		{Key: "step_state:score", Payload: docval.Obj(docval.P("value", docval.Float(0.9)))},
	}
	for _, in := range steps {
		_, err := e.Append(ctx, id, in)
		require.NoError(t, err)
	}

	state, cursor, err := e.Rehydrate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)

	// Last write wins per key.
	want := docval.Obj(
		docval.P("step_state:prepare", docval.Obj(docval.P("done", docval.Bool(true)))),
		docval.P("step_state:score", docval.Obj(docval.P("value", docval.Float(0.9)))),
	)
	assert.True(t, docval.Equal(state, want), "state = %v", state)
}

func TestRehydrate_SeededRepository(t *testing.T) {
	e, repo := newTestEngine(t)

	id := testutil.SeedFlow(t, repo, "seeded", map[string]docval.Object{
		"prepare": docval.Obj(docval.P("done", docval.Bool(true))),
		"score":   docval.Obj(docval.P("value", docval.Float(0.7))),
	}, []string{"prepare", "score"})

	state, cursor, err := e.Rehydrate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cursor)
	assert.Contains(t, state, "step_state:prepare")
	assert.Contains(t, state, "step_state:score")
}

func TestRehydrate_EmptyFlow(t *testing.T) {
	e, repo := newTestEngine(t)
	id := createFlow(t, repo)

	state, cursor, err := e.Rehydrate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
	assert.Empty(t, state)
}

func TestRehydrate_MissingFlow(t *testing.T) {
	e, _ := newTestEngine(t)

	_, _, err := e.Rehydrate(context.Background(), "no-such-flow")
	assert.True(t, flow.IsNotFound(err))
}

// countingFolder counts Apply calls so tests can observe how much of
// the log a rehydration actually replayed.
type countingFolder struct {
	KeyStateFolder
	applied int
}

func (f *countingFolder) Apply(state docval.Object, rec flow.Record) (docval.Object, error) {
	f.applied++
	return f.KeyStateFolder.Apply(state, rec)
}

func TestSnapshot_BoundsReplay(t *testing.T) {
	counter := &countingFolder{}
	e, repo := newTestEngine(t, WithFolder(counter))
	ctx := context.Background()
	id := createFlow(t, repo)

	for i := int64(0); i < 3; i++ {
		_, err := e.Append(ctx, id, RecordInput{
			Key:     "step",
			Payload: docval.Obj(docval.P("i", docval.Int(i))),
		})
		require.NoError(t, err)
	}

	snapID, err := e.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, snapID)

	for i := int64(3); i < 5; i++ {
		_, err := e.Append(ctx, id, RecordInput{
			Key:     "step",
			Payload: docval.Obj(docval.P("i", docval.Int(i))),
		})
		require.NoError(t, err)
	}

	counter.applied = 0
	state, cursor, err := e.Rehydrate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cursor)
	assert.Equal(t, 2, counter.applied, "should replay only records past the snapshot")

	// Snapshot-assisted rehydration matches folding the raw log from
	// scratch.
	records, err := repo.ReadData(ctx, id, -1)
	require.NoError(t, err)
	wantState := docval.Object{}
	for _, rec := range records {
		wantState, err = KeyStateFolder{}.Apply(wantState, rec)
		require.NoError(t, err)
	}
	assert.True(t, docval.Equal(state, wantState), "state = %v, want %v", state, wantState)
}

// interposingRepo injects an append between the engine's snapshot
// lookup and its record read, simulating a writer landing while a
// rehydration is in flight.
type interposingRepo struct {
	flow.Repository
	store *memstore.Store
	armed bool
}

func (r *interposingRepo) ReadData(ctx context.Context, flowID string, fromCursor int64) ([]flow.Record, error) {
	if r.armed {
		r.armed = false
		meta, err := r.store.GetFlowMeta(ctx, flowID)
		if err != nil {
			return nil, err
		}
		rec := flow.Record{
			FlowID:  flowID,
			Cursor:  meta.Cursor,
			Key:     "late",
			Payload: docval.Obj(docval.P("late", docval.Bool(true))),
		}
		if _, err := r.store.PersistData(ctx, rec, meta.Version); err != nil {
			return nil, err
		}
	}
	return r.Repository.ReadData(ctx, flowID, fromCursor)
}

func TestSnapshot_CursorMatchesFoldedState(t *testing.T) {
	store := memstore.New()
	repo := &interposingRepo{Repository: store, store: store}
	e := New(repo, blobstore.Inline{})
	ctx := context.Background()

	id, err := store.CreateFlow(ctx, "test-flow", "running", nil)
	require.NoError(t, err)
	for i := int64(0); i < 2; i++ {
		_, err := e.Append(ctx, id, RecordInput{
			Key:     "step",
			Payload: docval.Obj(docval.P("i", docval.Int(i))),
		})
		require.NoError(t, err)
	}

	// A record lands mid-rehydration. The folded state includes it, so
	// the persisted snapshot cursor must account for it too; otherwise
	// a later rehydration would replay the record a second time.
	repo.armed = true
	_, err = e.Snapshot(ctx, id)
	require.NoError(t, err)

	snap, ok, err := store.LoadLatestSnapshot(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.Cursor)

	// Rehydrating from that snapshot replays nothing and still matches
	// folding the raw log from scratch.
	counter := &countingFolder{}
	verify := New(store, blobstore.Inline{}, WithFolder(counter))
	state, cursor, err := verify.Rehydrate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)
	assert.Equal(t, 0, counter.applied, "snapshot cursor understates the folded state")

	records, err := store.ReadData(ctx, id, -1)
	require.NoError(t, err)
	wantState := docval.Object{}
	for _, rec := range records {
		wantState, err = KeyStateFolder{}.Apply(wantState, rec)
		require.NoError(t, err)
	}
	assert.True(t, docval.Equal(state, wantState), "state = %v, want %v", state, wantState)
}

func TestSnapshotPolicy_AutomaticSnapshots(t *testing.T) {
	e, repo := newTestEngine(t, WithSnapshotPolicy(SnapshotPolicy{EveryN: 2}))
	ctx := context.Background()
	id := createFlow(t, repo)

	for i := int64(0); i < 4; i++ {
		_, err := e.Append(ctx, id, RecordInput{
			Key:     "step",
			Payload: docval.Obj(docval.P("i", docval.Int(i))),
		})
		require.NoError(t, err)
	}

	snap, ok, err := repo.LoadLatestSnapshot(ctx, id)
	require.NoError(t, err)
	require.True(t, ok, "policy should have taken a snapshot")
	assert.Equal(t, int64(4), snap.Cursor)
}

func TestAppend_CommandIDSurvivesRetry(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	id := createFlow(t, repo)

	cmd := e.NewCommandID()
	in := RecordInput{Key: "step", CommandID: cmd}

	first, err := e.Append(ctx, id, in)
	require.NoError(t, err)
	require.False(t, first.Conflict)

	// A duplicate submission of the same command is a no-op.
	replay, err := e.Append(ctx, id, in)
	require.NoError(t, err)
	assert.False(t, replay.Conflict)
	assert.Equal(t, first.NewVersion, replay.NewVersion)

	n, err := repo.CountRecords(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

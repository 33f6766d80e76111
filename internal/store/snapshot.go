package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// SaveSnapshot records a snapshot pointer for the flow at the given
// cursor. The cursor may not exceed the flow's current cursor: a
// snapshot cannot capture state that has not been written.
func (s *Store) SaveSnapshot(ctx context.Context, flowID string, cursor int64, statePtr string, metadata docval.Object) (string, error) {
	metaJSON, err := marshalDoc(metadata)
	if err != nil {
		return "", flow.StorageError("save snapshot", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", flow.StorageError("save snapshot: begin tx", err)
	}
	defer tx.Rollback()

	var flowCursor int64
	err = tx.QueryRowContext(ctx,
		`SELECT cursor FROM flows WHERE id = ?`, flowID).Scan(&flowCursor)
	if err == sql.ErrNoRows {
		return "", flow.NotFound(flowID, "flow")
	}
	if err != nil {
		return "", flow.StorageError("save snapshot: read meta", err)
	}

	if cursor < 0 || cursor > flowCursor {
		return "", flow.Conflict(flowID, "snapshot cursor beyond flow history")
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, flow_id, cursor, state_ptr, metadata, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, flowID, cursor, statePtr, metaJSON, timeToMillis(time.Now()))
	if err != nil {
		return "", flow.StorageError("save snapshot: insert", err)
	}

	if err := tx.Commit(); err != nil {
		return "", flow.StorageError("save snapshot: commit", err)
	}
	return id, nil
}

// LoadSnapshot returns a snapshot by id. NOT_FOUND if absent.
func (s *Store) LoadSnapshot(ctx context.Context, snapshotID string) (flow.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, cursor, state_ptr, metadata, created_at_ms
		FROM snapshots
		WHERE id = ?
	`, snapshotID)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return flow.Snapshot{}, flow.NotFound("", "snapshot "+snapshotID)
	}
	if err != nil {
		return flow.Snapshot{}, flow.StorageError("load snapshot", err)
	}
	return snap, nil
}

// LoadLatestSnapshot returns the snapshot with the highest cursor not
// exceeding the flow's current cursor. ok=false when no snapshot
// applies; absence is not an error.
func (s *Store) LoadLatestSnapshot(ctx context.Context, flowID string) (flow.Snapshot, bool, error) {
	meta, err := s.GetFlowMeta(ctx, flowID)
	if err != nil {
		return flow.Snapshot{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, cursor, state_ptr, metadata, created_at_ms
		FROM snapshots
		WHERE flow_id = ? AND cursor <= ?
		ORDER BY cursor DESC, created_at_ms DESC
		LIMIT 1
	`, flowID, meta.Cursor)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return flow.Snapshot{}, false, nil
	}
	if err != nil {
		return flow.Snapshot{}, false, flow.StorageError("load latest snapshot", err)
	}
	return snap, true, nil
}

func scanSnapshot(row rowScanner) (flow.Snapshot, error) {
	var (
		snap        flow.Snapshot
		metaJSON    string
		createdAtMS int64
	)
	err := row.Scan(&snap.ID, &snap.FlowID, &snap.Cursor, &snap.StatePtr,
		&metaJSON, &createdAtMS)
	if err != nil {
		return flow.Snapshot{}, err
	}
	snap.CreatedAt = millisToTime(createdAtMS)
	snap.Metadata, err = unmarshalDoc(metaJSON)
	if err != nil {
		return flow.Snapshot{}, err
	}
	return snap, nil
}

// compile-time check that Store satisfies the repository contract.
var _ flow.Repository = (*Store)(nil)

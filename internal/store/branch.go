package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// CreateBranch forks a new flow from parentID at parentCursor. One
// transaction copies the parent's records and snapshots with cursor <=
// parentCursor (fresh ids, preserved cursors and content) and inserts
// the new flow row with cursor and version equal to the number of
// records copied, so the branch continues exactly where the parent was.
//
// parentCursor must name an existing record position: 0 <= parentCursor
// < parent cursor. Anything else is rejected with a CONFLICT error,
// never clamped to an empty copy: a silent clamp would let a caller
// branch "at" history that was never written.
func (s *Store) CreateBranch(ctx context.Context, parentID, name, status string, parentCursor int64, metadata docval.Object) (string, error) {
	metaJSON, err := marshalDoc(metadata)
	if err != nil {
		return "", flow.StorageError("create branch", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", flow.StorageError("create branch: begin tx", err)
	}
	defer tx.Rollback()

	var parentFlowCursor int64
	var parentName, parentStatus sql.NullString
	var parentMetaJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT cursor, name, status, metadata FROM flows WHERE id = ?`, parentID,
	).Scan(&parentFlowCursor, &parentName, &parentStatus, &parentMetaJSON)
	if err == sql.ErrNoRows {
		return "", flow.NotFound(parentID, "parent flow")
	}
	if err != nil {
		return "", flow.StorageError("create branch: read parent", err)
	}

	if parentCursor < 0 || parentCursor >= parentFlowCursor {
		return "", flow.Conflict(parentID, "branch cursor beyond parent history")
	}

	// Branch ergonomics follow the parent unless overridden.
	if name == "" {
		name = parentName.String
	}
	if status == "" {
		status = parentStatus.String
	}
	if metadata == nil {
		metaJSON = parentMetaJSON
	}

	newID := uuid.Must(uuid.NewV7()).String()
	copied := parentCursor + 1 // records at positions 0..parentCursor

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flows (id, name, status, created_by, created_at_ms, cursor, version,
		                   parent_flow_id, parent_cursor, metadata)
		VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?, ?)
	`,
		newID,
		nullable(name),
		nullable(status),
		timeToMillis(time.Now()),
		copied,
		copied,
		parentID,
		parentCursor,
		metaJSON,
	)
	if err != nil {
		return "", flow.StorageError("create branch: insert flow", err)
	}

	// Copy the record prefix. Fresh ids via randomblob keep the copies
	// independent of the originals; key, payload, metadata, command_id,
	// and cursor are preserved so replay on the branch is identical.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_data (id, flow_id, cursor, key, payload, metadata, command_id, created_at_ms)
		SELECT lower(hex(randomblob(16))), ?, cursor, key, payload, metadata, command_id, created_at_ms
		FROM flow_data
		WHERE flow_id = ? AND cursor <= ?
	`, newID, parentID, parentCursor)
	if err != nil {
		return "", flow.StorageError("create branch: copy records", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, flow_id, cursor, state_ptr, metadata, created_at_ms)
		SELECT lower(hex(randomblob(16))), ?, cursor, state_ptr, metadata, created_at_ms
		FROM snapshots
		WHERE flow_id = ? AND cursor <= ?
	`, newID, parentID, parentCursor)
	if err != nil {
		return "", flow.StorageError("create branch: copy snapshots", err)
	}

	if err := tx.Commit(); err != nil {
		return "", flow.StorageError("create branch: commit", err)
	}
	return newID, nil
}

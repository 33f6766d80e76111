package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// CreateFlow inserts a new flow row with cursor 0, version 0, and no
// parent, returning the generated id. Flow ids are UUIDv7 so they sort
// by creation time.
func (s *Store) CreateFlow(ctx context.Context, name, status string, metadata docval.Object) (string, error) {
	metaJSON, err := marshalDoc(metadata)
	if err != nil {
		return "", flow.StorageError("create flow", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, name, status, created_by, created_at_ms, cursor, version, metadata)
		VALUES (?, ?, ?, NULL, ?, 0, 0, ?)
	`,
		id,
		nullable(name),
		nullable(status),
		timeToMillis(time.Now()),
		metaJSON,
	)
	if err != nil {
		return "", flow.StorageError("create flow", err)
	}
	return id, nil
}

// PersistData appends one record under optimistic concurrency.
//
// The transaction:
//  1. loads the flow's cursor and version (NOT_FOUND if no row)
//  2. returns the prior outcome if the command id was already applied
//  3. returns Conflicted() if version != expectedVersion
//  4. inserts the record and bumps cursor/version with a guarded UPDATE
//
// The guarded UPDATE (WHERE version = ?) makes the version check and
// the insert indivisible: of two appends racing on the same expected
// version, the loser's UPDATE matches zero rows and the transaction
// reports Conflict without writing.
func (s *Store) PersistData(ctx context.Context, rec flow.Record, expectedVersion int64) (flow.PersistResult, error) {
	payloadJSON, err := marshalDoc(rec.Payload)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data", err)
	}
	metaJSON, err := marshalDoc(rec.Metadata)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data: begin tx", err)
	}
	defer tx.Rollback() // no-op if committed

	var cursor, version int64
	err = tx.QueryRowContext(ctx,
		`SELECT cursor, version FROM flows WHERE id = ?`, rec.FlowID,
	).Scan(&cursor, &version)
	if err == sql.ErrNoRows {
		return flow.PersistResult{}, flow.NotFound(rec.FlowID, "flow")
	}
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data: read meta", err)
	}

	// Idempotent replay: a command already applied succeeds without
	// writing, regardless of the (typically stale) expected version the
	// retry carries.
	if rec.CommandID != "" {
		var n int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM flow_data WHERE flow_id = ? AND command_id = ?`,
			rec.FlowID, rec.CommandID,
		).Scan(&n)
		if err != nil {
			return flow.PersistResult{}, flow.StorageError("persist data: command check", err)
		}
		if n > 0 {
			return flow.Ok(version), nil
		}
	}

	if version != expectedVersion {
		return flow.Conflicted(), nil
	}

	if rec.Cursor != cursor {
		return flow.PersistResult{}, flow.Conflict(rec.FlowID,
			"record cursor does not match flow cursor")
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_data (id, flow_id, cursor, key, payload, metadata, command_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		rec.FlowID,
		cursor,
		rec.Key,
		payloadJSON,
		metaJSON,
		nullable(rec.CommandID),
		timeToMillis(createdAt),
	)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data: insert record", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE flows SET cursor = cursor + 1, version = version + 1
		WHERE id = ? AND version = ?
	`, rec.FlowID, expectedVersion)
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data: bump version", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data: rows affected", err)
	}
	if affected == 0 {
		// Lost the race after our read; nothing is committed.
		return flow.Conflicted(), nil
	}

	if err := tx.Commit(); err != nil {
		return flow.PersistResult{}, flow.StorageError("persist data: commit", err)
	}
	return flow.Ok(expectedVersion + 1), nil
}

// SetStatus updates the flow's status label and returns the updated
// metadata.
func (s *Store) SetStatus(ctx context.Context, flowID, status string) (flow.Meta, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET status = ? WHERE id = ?`, nullable(status), flowID)
	if err != nil {
		return flow.Meta{}, flow.StorageError("set status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flow.Meta{}, flow.StorageError("set status: rows affected", err)
	}
	if affected == 0 {
		return flow.Meta{}, flow.NotFound(flowID, "flow")
	}
	return s.GetFlowMeta(ctx, flowID)
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

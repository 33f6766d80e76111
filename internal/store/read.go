package store

import (
	"context"
	"database/sql"

	"github.com/cadmalab/flowstore/internal/flow"
)

// GetFlowMeta returns the flow's bookkeeping row. NOT_FOUND if the flow
// does not exist.
func (s *Store) GetFlowMeta(ctx context.Context, flowID string) (flow.Meta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_by, created_at_ms, cursor, version,
		       parent_flow_id, parent_cursor, metadata
		FROM flows
		WHERE id = ?
	`, flowID)

	meta, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return flow.Meta{}, flow.NotFound(flowID, "flow")
	}
	if err != nil {
		return flow.Meta{}, flow.StorageError("get flow meta", err)
	}
	return meta, nil
}

// ReadData returns all records with cursor strictly greater than
// fromCursor, ordered ascending by cursor. An empty range yields an
// empty slice; a nonexistent flow yields an empty slice as well (the
// caller error surfaces from whichever operation first needs metadata).
func (s *Store) ReadData(ctx context.Context, flowID string, fromCursor int64) ([]flow.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, cursor, key, payload, metadata, command_id, created_at_ms
		FROM flow_data
		WHERE flow_id = ? AND cursor > ?
		ORDER BY cursor ASC
	`, flowID, fromCursor)
	if err != nil {
		return nil, flow.StorageError("read data", err)
	}
	defer rows.Close()

	records := []flow.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, flow.StorageError("read data: scan", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, flow.StorageError("read data: iterate", err)
	}
	return records, nil
}

// FlowExists reports whether a flow with the given id exists.
func (s *Store) FlowExists(ctx context.Context, flowID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flows WHERE id = ?`, flowID).Scan(&n)
	if err != nil {
		return false, flow.StorageError("flow exists", err)
	}
	return n > 0, nil
}

// CountRecords returns the number of records stored for the flow, or
// -1 if the flow does not exist. The sentinel distinguishes a missing
// flow from an empty one.
func (s *Store) CountRecords(ctx context.Context, flowID string) (int64, error) {
	exists, err := s.FlowExists(ctx, flowID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return -1, nil
	}

	var n int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flow_data WHERE flow_id = ?`, flowID).Scan(&n)
	if err != nil {
		return 0, flow.StorageError("count records", err)
	}
	return n, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (flow.Meta, error) {
	var (
		meta         flow.Meta
		name         sql.NullString
		status       sql.NullString
		createdBy    sql.NullString
		createdAtMS  int64
		parentID     sql.NullString
		parentCursor sql.NullInt64
		metaJSON     string
	)
	err := row.Scan(&meta.ID, &name, &status, &createdBy, &createdAtMS,
		&meta.Cursor, &meta.Version, &parentID, &parentCursor, &metaJSON)
	if err != nil {
		return flow.Meta{}, err
	}

	meta.Name = name.String
	meta.Status = status.String
	meta.CreatedBy = createdBy.String
	meta.CreatedAt = millisToTime(createdAtMS)
	meta.ParentID = parentID.String
	meta.ParentCursor = parentCursor.Int64

	meta.Metadata, err = unmarshalDoc(metaJSON)
	if err != nil {
		return flow.Meta{}, err
	}
	return meta, nil
}

func scanRecord(row rowScanner) (flow.Record, error) {
	var (
		rec         flow.Record
		payloadJSON string
		metaJSON    string
		commandID   sql.NullString
		createdAtMS int64
	)
	err := row.Scan(&rec.ID, &rec.FlowID, &rec.Cursor, &rec.Key,
		&payloadJSON, &metaJSON, &commandID, &createdAtMS)
	if err != nil {
		return flow.Record{}, err
	}

	rec.CommandID = commandID.String
	rec.CreatedAt = millisToTime(createdAtMS)

	if rec.Payload, err = unmarshalDoc(payloadJSON); err != nil {
		return flow.Record{}, err
	}
	if rec.Metadata, err = unmarshalDoc(metaJSON); err != nil {
		return flow.Record{}, err
	}
	return rec, nil
}

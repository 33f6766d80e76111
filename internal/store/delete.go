package store

import (
	"context"
	"database/sql"

	"github.com/cadmalab/flowstore/internal/flow"
)

// DeleteFlow atomically removes the flow with its records and
// snapshots (the latter two via foreign-key cascade). Children that
// referenced this flow as parent are orphaned (their parent reference
// cleared), never deleted. Orphaning over cascading keeps a branch's
// copied history usable after the parent is gone.
func (s *Store) DeleteFlow(ctx context.Context, flowID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flow.StorageError("delete flow: begin tx", err)
	}
	defer tx.Rollback()

	if err := deleteFlowTx(ctx, tx, flowID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return flow.StorageError("delete flow: commit", err)
	}
	return nil
}

// deleteFlowTx removes one flow inside an open transaction, orphaning
// its children.
func deleteFlowTx(ctx context.Context, tx *sql.Tx, flowID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, flowID)
	if err != nil {
		return flow.StorageError("delete flow", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return flow.StorageError("delete flow: rows affected", err)
	}
	if affected == 0 {
		return flow.NotFound(flowID, "flow")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE flows SET parent_flow_id = NULL, parent_cursor = NULL
		WHERE parent_flow_id = ?
	`, flowID)
	if err != nil {
		return flow.StorageError("delete flow: orphan children", err)
	}
	return nil
}

// PruneFromCursor removes the record at fromCursor and everything
// after it, resetting the flow's cursor to fromCursor. Child branches
// forked at a pruned position (parent_cursor >= fromCursor) would
// reference history that no longer exists, so they are deleted in the
// same transaction (orphaning their own children). Snapshots taken
// past the new cursor are removed.
//
// Version is left untouched: pruning is itself a mutation, and keeping
// the version monotonic means a writer holding pre-prune metadata still
// loses its optimistic check.
func (s *Store) PruneFromCursor(ctx context.Context, flowID string, fromCursor int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flow.StorageError("prune: begin tx", err)
	}
	defer tx.Rollback()

	var cursor int64
	err = tx.QueryRowContext(ctx,
		`SELECT cursor FROM flows WHERE id = ?`, flowID).Scan(&cursor)
	if err == sql.ErrNoRows {
		return flow.NotFound(flowID, "flow")
	}
	if err != nil {
		return flow.StorageError("prune: read meta", err)
	}

	if fromCursor < 0 || fromCursor > cursor {
		return flow.Conflict(flowID, "prune cursor beyond flow history")
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM flow_data WHERE flow_id = ? AND cursor >= ?`, flowID, fromCursor)
	if err != nil {
		return flow.StorageError("prune: delete records", err)
	}

	// Snapshots whose cursor exceeds the new tip capture pruned state.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE flow_id = ? AND cursor > ?`, flowID, fromCursor)
	if err != nil {
		return flow.StorageError("prune: delete snapshots", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE flows SET cursor = ? WHERE id = ?`, fromCursor, flowID)
	if err != nil {
		return flow.StorageError("prune: reset cursor", err)
	}

	// Children branched at a position being pruned lose their origin;
	// delete them (recursively orphaning their own children).
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM flows WHERE parent_flow_id = ? AND parent_cursor >= ?
	`, flowID, fromCursor)
	if err != nil {
		return flow.StorageError("prune: find stale branches", err)
	}
	var staleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return flow.StorageError("prune: scan stale branch", err)
		}
		staleIDs = append(staleIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return flow.StorageError("prune: iterate stale branches", err)
	}

	for _, id := range staleIDs {
		if err := deleteFlowTx(ctx, tx, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return flow.StorageError("prune: commit", err)
	}
	return nil
}

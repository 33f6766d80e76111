// Package store provides the SQLite-backed flow.Repository.
//
// The store persists three tables:
//   - flows: per-flow bookkeeping (cursor, version, parent refs, metadata)
//   - flow_data: append-only records, one row per cursor position
//   - snapshots: state pointers taken at a cursor
//
// # Write-path invariants
//
//   - Optimistic concurrency: the append transaction bumps cursor and
//     version with a guarded UPDATE (WHERE id = ? AND version = ?), so
//     version verification and record insertion are indivisible. Of two
//     concurrent appends presenting the same expected version, exactly
//     one commits.
//   - Command idempotency: UNIQUE(flow_id, command_id) plus an explicit
//     pre-check; replaying a persisted command is a success that writes
//     nothing.
//   - Cursor density: UNIQUE(flow_id, cursor); reads always ORDER BY
//     cursor ASC for deterministic replay.
//
// Multi-row operations (branch copy, delete, prune) run in a single
// transaction with deferred rollback, never leaving partial state
// visible.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: records and snapshots cascade with their flow
//
// Payload, metadata, and flow metadata columns store the canonical
// encoding from internal/docval, so byte comparison of stored text is
// content comparison.
package store

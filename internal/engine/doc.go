// Package engine implements append and rehydration over a
// flow.Repository.
//
// # Rehydration
//
// A flow's state is never stored directly; it is reconstructed by
// folding the record log through a Folder:
//
//	state := folder.Init()
//	for each record in cursor order:
//	    state = folder.Apply(state, record)
//
// Snapshots bound the replay distance. A snapshot at cursor c is the
// folded state after all records with cursor < c; rehydration loads
// the latest applicable snapshot and replays only the records past it.
// The result is identical to folding from scratch, which the tests
// assert directly.
//
// # Idempotent appends
//
// Append retries version conflicts by re-reading the flow's metadata
// and re-presenting the record at the fresh cursor. A command id makes
// this safe: if a retry races a duplicate of itself, the repository's
// command check turns the second application into a no-op returning
// the original outcome.
package engine

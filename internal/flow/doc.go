// Package flow defines the data model and persistence contract for
// append-only workflow lineages.
//
// A flow is an independently addressable history of immutable records
// (FlowData). Each record occupies one cursor position; the flow's
// version counts successful appends and backs optimistic concurrency.
// Branches are flows whose initial record prefix was copied from a
// parent flow as of a chosen cursor, making the branch indistinguishable
// from an independent flow that happened to share that history.
//
// Repository is the only component allowed to touch persisted state.
// Two backends implement it: the SQLite store (internal/store) and the
// in-memory store (internal/memstore). Everything above the contract
// (rehydration, branching helpers, the service layer) is backend
// agnostic.
package flow

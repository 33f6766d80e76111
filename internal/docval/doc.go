// Package docval defines the schema-free document value type used for
// record payloads, record metadata, and flow metadata.
//
// A Value is a sealed tagged union: Null, Bool, Int, Float, String,
// Array, Object. Keeping the union explicit (instead of passing
// map[string]any around) gives every layer the same answer to "what can
// a payload contain", and lets the store serialize documents to a
// canonical byte form.
//
// # Canonical form
//
// MarshalCanonical produces a deterministic byte encoding:
//   - object keys sorted by UTF-16 code units (RFC 8785 ordering)
//   - no HTML escaping (< > & appear literally)
//   - strings NFC-normalized at the serialization boundary
//   - floats in shortest round-trip form
//
// The canonical form is what the store persists and what golden traces
// compare against; two documents with equal content always produce the
// same bytes.
package docval

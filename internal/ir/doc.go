// Package ir provides the constrained value types used by document payloads
// and by content-addressed action identity.
//
// ir imports nothing internal. Every other package that needs values,
// canonical JSON or hashing imports ir, never the other way around.
//
// Constraints:
//   - No floats. Numbers are int64 so replays and hashes are deterministic.
//   - Canonical JSON follows RFC 8785 (UTF-16 key order, NFC strings, no HTML escaping).
//   - Ids derive from canonical bytes plus a logical sequence, never wall-clock time.
package ir

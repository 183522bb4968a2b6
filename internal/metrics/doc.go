// Package metrics provides lock-free counters for credo observability.
//
// # Design
//
// Counters are stored in cache-line-padded atomic uint64 slots. The write
// path is allocation-free.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import credo or any sibling package.
//   - Expose global metric registries.
package metrics

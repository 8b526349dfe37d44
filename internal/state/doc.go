// Package state holds the single authoritative in-memory representation of
// the business pipeline and every lead's position within it.
//
// # Ownership
//
// The Store is the sole owner of all entities. Other components receive
// read-only snapshots via Read() or submit mutations through Mutate(); no
// component keeps a private copy of canonical state.
//
// # Concurrency
//
// Mutations are strictly serialized: a second caller's mutation cannot
// interleave with an in-flight one. Each commit publishes a fresh deep copy
// (copy-on-write), so snapshots already handed to readers are never edited
// in place. Readers therefore need no locks, and a snapshot can be held
// across an arbitrarily long projection or broadcast without blocking
// writers.
//
// # Invariants
//
//   - Stage ordinals form a contiguous 1..N range; N is fixed once the
//     pipeline is installed.
//   - A lead's CurrentStage is always within [1, N]; leads cannot exist
//     before a pipeline is ready.
//   - Conversations are append-only.
//
// Reset() atomically replaces everything with the process-start empty
// snapshot.
package state

// Package ccengine is a research prototype for evaluating concurrency-control
// (CC) protocols on an in-memory, column-oriented, single-node relational
// store.
//
// What: four interchangeable transaction coordinators — strict two-phase
// locking with wait-die (internal/cc/twopl), a serialization-graph tester for
// the "no false negatives" (NFN) protocol (internal/cc/sgt), multi-version
// optimistic CC (internal/cc/mvocc), and TicToc (internal/cc/tictoc) — sharing
// a single lock-free row registry (internal/row) built on a lock-free
// substrate (internal/ds).
//
// How: every operation on a row is assigned a monotonic pre-read version
// (PRV) ticket that totally orders it against every other operation on the
// same row; the four protocols differ only in how they resolve conflicts
// once that order is established.
//
// Why: compare the NFN family of cycle-based serializability checks against
// classical baselines under the same row-registry machinery, so differences
// in measured throughput reflect the conflict-resolution strategy and not
// incidental implementation choices.
package ccengine

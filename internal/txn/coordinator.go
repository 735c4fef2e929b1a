// Package txn implements the four transaction coordinators (spec §6) that
// bind the row registry to one of the concurrency-control protocols:
// strict 2PL with wait-die, serialization-graph-tested NFN, MVOCC, and
// TicToc. Each coordinator exposes the same Begin/Read/Write/Commit/Abort
// surface; MVOCC additionally exposes Scan.
package txn

import (
	"github.com/google/uuid"
)

// Coordinator is the uniform transaction API described in spec §6. A
// driver (cmd/ccbench, or an embedding application) calls Begin once per
// transaction, then any number of Read/Write calls on table rows, then
// either Commit or Abort.
type Coordinator[V any] interface {
	// Begin starts a new transaction and returns its id.
	Begin() uint64

	// Read returns table row's current value as visible to txn.
	Read(txn, row uint64) (V, error)

	// Write stages or installs newValue at row for txn, protocol-dependent.
	Write(txn, row uint64, newValue V) error

	// Commit attempts to finalize txn. A non-nil error is always one of
	// the categorized kinds in internal/ccerrors (Conflict, CascadingAbort).
	Commit(txn uint64) error

	// Abort unconditionally reverses txn's writes and releases its
	// resources.
	Abort(txn uint64)
}

// Scanner is implemented only by the MVOCC coordinator (spec §6: "scan
// (read-only, MVOCC only)"), exposing a snapshot range scan.
type Scanner[V any] interface {
	Scan(txn, rowLo, rowHi uint64, sink func(row uint64, value V)) error
}

// traceID returns a fresh correlation id for a new coordinator instance or
// benchmark run — log correlation only, per the DOMAIN STACK's note that
// this never participates in PRV/commit-timestamp ordering.
func traceID() uuid.UUID { return uuid.New() }

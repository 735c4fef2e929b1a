// Package mvocc implements the multi-version optimistic protocol: readers
// take a start timestamp snapshot, writers stage a pending version head,
// and commit runs through a certifying Validator (spec §4.5.3).
package mvocc

import (
	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
)

// Table layers a per-row MVCC version chain on top of a *row.Registry[V].
// Per §3's data model, "version_chain[off] (MVCC only): pointer to head
// version" — Registry's own value column is left unused here; all reads
// and writes go exclusively through the chain.
type Table[V any] struct {
	Reg    *row.Registry[V]
	chains *ds.Vector[row.VersionChain[V]]
}

// NewTable wraps reg with an empty version chain per row. Rows already
// present in reg at construction time are not seeded from their Registry
// value: their chain starts empty, so ReadAt finds no version for them.
// Rows must be inserted through Insert to be readable.
func NewTable[V any](reg *row.Registry[V]) *Table[V] {
	return &Table[V]{Reg: reg, chains: ds.NewVector[row.VersionChain[V]]()}
}

// Insert allocates a new row in the underlying registry and installs its
// initial, already-committed version (begin_ts = 0, end_ts = infinity).
func (t *Table[V]) Insert(value V) uint64 {
	rowID := t.Reg.Insert(value)
	chain := &row.VersionChain[V]{}
	chain.Install(&row.Version[V]{Data: value, BeginTS: 0, EndTS: ^uint64(0)})
	t.chains.SetAt(rowID, chain)
	return rowID
}

// chain returns rowID's version chain, lazily materializing an empty one
// if this row predates the table (defensive; Insert always sets one).
func (t *Table[V]) chain(rowID uint64) *row.VersionChain[V] {
	t.chains.EnsureCapacity(rowID)
	c := t.chains.At(rowID)
	if c == nil {
		c = &row.VersionChain[V]{}
		if !t.chains.CompareExchange(rowID, nil, c) {
			c = t.chains.At(rowID)
		}
	}
	return c
}

// ReadAt returns the version visible to a reader with the given start
// timestamp, or false if no such version exists (row never committed a
// version at or before startTS — should not happen for rows returned by
// Insert, whose first version begins at ts 0).
func (t *Table[V]) ReadAt(rowID, startTS uint64) (V, bool) {
	v := t.chain(rowID).VisibleAt(startTS)
	if v == nil {
		var zero V
		return zero, false
	}
	return v.Data, true
}

// StageWrite installs a new pending head version for rowID, linked onto
// the current head, per §3's "begin_ts = writer_txn | PENDING_BIT". It
// spins (CAS retry) until it wins the race to extend the chain — there is
// no row lock in MVOCC, so concurrent writers to the same row race here
// directly; only one can be linked as the new pending head between two
// publishes. §6 places no restriction on repeated writes to the same row
// within one transaction, so a second StageWrite for a row this same
// writerTxn already has pending overwrites that version's data in place
// rather than chaining a second pending node — chaining would leave a
// stranded, permanently-pending node behind on unstage/publish, since only
// the latest pending version is ever tracked by the caller.
func (t *Table[V]) StageWrite(rowID, writerTxn uint64, value V) *row.Version[V] {
	c := t.chain(rowID)
	for {
		head := c.Head()
		if head != nil && head.Pending() {
			if head.WriterTxn == writerTxn {
				head.Data = value
				return head
			}
			continue // another writer's pending head is in flight; retry
		}
		pending := row.NewPendingVersion(value, writerTxn, head)
		if c.CompareAndSwapHead(head, pending) {
			return pending
		}
	}
}

// UnstageWrite undoes a staged-but-not-committed write by unlinking it
// from the chain head — spec §5's abort behavior, "unlink pending version
// heads."
func (t *Table[V]) UnstageWrite(rowID uint64, pending *row.Version[V]) {
	t.chain(rowID).CompareAndSwapHead(pending, pending.Prev)
}

// PublishWrite commits a previously staged version at commitTS.
func (t *Table[V]) PublishWrite(pending *row.Version[V], commitTS uint64) {
	pending.Publish(commitTS)
}

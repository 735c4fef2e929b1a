// Package twopl implements strict two-phase locking over the row registry,
// with wait-die deadlock avoidance (spec §4.5.1).
package twopl

import (
	"sync"

	"github.com/agilira/go-timecache"

	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
)

// lockWord is the per-row lock state: the exclusive holder (0 if none) and
// the set of shared holders. A new lockWord is built and CAS-installed on
// every acquire/release rather than mutated in place, mirroring the
// copy-on-CAS discipline of the source lock manager.
type lockWord struct {
	writerTxn uint64
	readers   map[uint64]struct{}
}

// cloneWord copies w (or builds an empty word if w is nil) out of m's
// arena. Lock/Unlock's CAS loops are otherwise lock-free; arenaMu scopes a
// small critical section around the arena alone.
func (m *LockManager[V]) cloneWord(w *lockWord) *lockWord {
	m.arenaMu.Lock()
	next := m.arena.Allocate()
	m.arenaMu.Unlock()

	if w == nil {
		next.readers = map[uint64]struct{}{}
		return next
	}
	next.writerTxn = w.writerTxn
	next.readers = make(map[uint64]struct{}, len(w.readers))
	for r := range w.readers {
		next.readers[r] = struct{}{}
	}
	return next
}

func (m *LockManager[V]) freeWord(w *lockWord) {
	if w == nil {
		return
	}
	m.arenaMu.Lock()
	m.arena.Free(w)
	m.arenaMu.Unlock()
}

// LockManager is a wait-die row lock manager layered on top of a
// *row.Registry[V]. Grounded directly on
// include/svcc/cc/2pl_table/lock_manager.hpp's LockManager: waitDie/lock/
// unlock translated from CAS-on-pointer to Go's atomic.Pointer +
// CompareAndSwap, and the per-transaction start-timestamp table
// (TimeStampTable) reimplemented with internal/ds.AtomicMap.
type LockManager[V any] struct {
	reg   *row.Registry[V]
	locks *ds.Vector[lockWord]
	epoch *ds.EpochManager

	// startNS mirrors the original's TimeStampTable: transaction id → start
	// timestamp, consulted by waitDie to decide who is senior.
	startNS *ds.AtomicMap[uint64, int64]

	arenaMu sync.Mutex
	arena   *ds.Arena[lockWord]
}

// New returns a lock manager over reg with capacity sized for up to
// maxTxns concurrently active transactions.
func New[V any](reg *row.Registry[V], epoch *ds.EpochManager, maxTxns int) *LockManager[V] {
	return &LockManager[V]{
		reg:     reg,
		locks:   ds.NewVector[lockWord](),
		epoch:   epoch,
		startNS: ds.NewAtomicMap[uint64, int64](maxTxns, ds.Uint64Hash),
		arena:   ds.NewChunkAllocator[lockWord]().NewArena(),
	}
}

// Start records transaction's start timestamp, using the cached clock
// (go-timecache) since waitDie is consulted on every lock attempt.
func (m *LockManager[V]) Start(transaction uint64) {
	m.startNS.Insert(transaction, timecache.CachedTimeNano())
}

// End removes transaction's start timestamp once it commits or aborts.
func (m *LockManager[V]) End(transaction uint64) {
	m.startNS.Erase(transaction)
}

// waitDie reports whether transaction should wait (true) for the holders
// recorded in word, or should die/abort (false). transaction waits only if
// it started strictly before every conflicting holder — i.e. it is the
// senior transaction (spec §4.5.1).
func (m *LockManager[V]) waitDie(transaction uint64, word *lockWord) bool {
	ns, _ := m.startNS.Lookup(transaction)

	check := func(holder uint64) bool {
		holderNS, found := m.startNS.Lookup(holder)
		return found && ns < holderNS
	}

	if word.writerTxn != 0 && word.writerTxn != transaction {
		if !check(word.writerTxn) {
			return false
		}
	}
	for r := range word.readers {
		if r == transaction {
			continue
		}
		if !check(r) {
			return false
		}
	}
	return true
}

// Lock acquires (exclusive or shared) ownership of row for transaction,
// blocking (CAS retry / wait-die wait) until granted. If wait-die
// determines that transaction is the junior party, Lock returns died=true
// at once: transaction itself must abort, and abortOthers lists the
// conflicting holders it lost to (the 2PL coordinator only reports them).
func (m *LockManager[V]) Lock(transaction, rowID uint64, exclusive bool) (abortOthers []uint64, died bool) {
	m.locks.EnsureCapacity(rowID)
	for {
		cur := m.locks.At(rowID)

		conflict := m.conflicts(cur, transaction, exclusive)
		if conflict {
			if m.waitDie(transaction, cur) {
				continue // senior: spin-wait for the lock to free up
			}
			return m.holders(cur), true // junior: die immediately
		}

		next := m.cloneWord(cur)
		if exclusive {
			next.writerTxn = transaction
		} else {
			next.readers[transaction] = struct{}{}
		}
		if m.locks.CompareExchange(rowID, cur, next) {
			if cur != nil {
				old := cur
				m.epoch.Retire(func() { m.freeWord(old) })
			}
			return nil, false
		}
	}
}

func (m *LockManager[V]) conflicts(word *lockWord, transaction uint64, exclusive bool) bool {
	if word == nil {
		return false
	}
	if word.writerTxn != 0 && word.writerTxn != transaction {
		return true
	}
	if exclusive {
		for r := range word.readers {
			if r != transaction {
				return true
			}
		}
	}
	return false
}

func (m *LockManager[V]) holders(word *lockWord) []uint64 {
	if word == nil {
		return nil
	}
	var out []uint64
	if word.writerTxn != 0 {
		out = append(out, word.writerTxn)
	}
	for r := range word.readers {
		out = append(out, r)
	}
	return out
}

// Unlock releases transaction's hold (shared or exclusive) on row.
func (m *LockManager[V]) Unlock(transaction, rowID uint64) {
	m.locks.EnsureCapacity(rowID)
	for {
		cur := m.locks.At(rowID)
		next := m.cloneWord(cur)
		if next.writerTxn == transaction {
			next.writerTxn = 0
		}
		delete(next.readers, transaction)
		if m.locks.CompareExchange(rowID, cur, next) {
			if cur != nil {
				old := cur
				m.epoch.Retire(func() { m.freeWord(old) })
			}
			return
		}
	}
}

// HeldExclusively reports whether transaction currently holds the
// exclusive lock on rowID — used by Registry.AwaitTurn's lockReady
// callback to gate admission on lock ownership rather than only PRV order.
func (m *LockManager[V]) HeldExclusively(transaction, rowID uint64) bool {
	cur := m.locks.At(rowID)
	return cur != nil && cur.writerTxn == transaction
}

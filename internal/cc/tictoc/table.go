package tictoc

import (
	"runtime"
	"sort"

	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
)

// Table layers a per-row composed Word (in place of a lock or version
// chain) over a *row.Registry[V]. Grounded on
// original_source/include/svcc/cc/tictoc/validator.hpp's Validator, whose
// `validate`/`unlock` operate over a transaction's recorded read/write
// set against exactly this kind of per-row timestamp word.
type Table[V any] struct {
	Reg    *row.Registry[V]
	words  *ds.Uint64Vector
	owners *ds.AtomicMap[uint64, uint64] // rowID -> txn currently holding the write lock
}

// NewTable wraps reg with a zero-valued timestamp word per row (wts=0,
// delta=0, unlocked), sized for up to maxTxns concurrent lock holders.
func NewTable[V any](reg *row.Registry[V], maxTxns int) *Table[V] {
	return &Table[V]{
		Reg:    reg,
		words:  ds.NewUint64Vector(),
		owners: ds.NewAtomicMap[uint64, uint64](maxTxns, ds.Uint64Hash),
	}
}

// Insert allocates a new row holding value, with an initial word of
// wts=0, delta=0, unlocked.
func (t *Table[V]) Insert(value V) uint64 {
	rowID := t.Reg.Insert(value)
	t.words.EnsureAt(rowID)
	return rowID
}

// Word returns rowID's current composed timestamp.
func (t *Table[V]) Word(rowID uint64) Word {
	t.words.EnsureAt(rowID)
	return Word(t.words.Load(rowID))
}

// ReadRecord is one entry of a transaction's read set: the row read and
// the word observed at read time.
type ReadRecord struct {
	RowID    uint64
	Observed Word
}

// WriteRecord is one entry of a transaction's write set: the row and the
// value staged for it. §4.5.4: "Write stages a new value" — the new value
// lives only in the transaction's own write set until commit installs it.
type WriteRecord[V any] struct {
	RowID uint64
	Value V
}

// Read records (row, word) for rowID as of now, for later validation.
func (t *Table[V]) Read(rowID uint64) (value V, rec ReadRecord) {
	w := t.Word(rowID)
	return t.Reg.Load(rowID), ReadRecord{RowID: rowID, Observed: w}
}

// dedupWrites collapses writes down to one record per RowID, keeping the
// last write — nothing in §6 stops a transaction from calling write twice
// on the same row, and Commit's lock-then-install loop must only ever take
// one lock per row.
func dedupWrites[V any](writes []WriteRecord[V]) []WriteRecord[V] {
	order := make([]uint64, 0, len(writes))
	latest := make(map[uint64]WriteRecord[V], len(writes))
	for _, w := range writes {
		if _, seen := latest[w.RowID]; !seen {
			order = append(order, w.RowID)
		}
		latest[w.RowID] = w
	}
	deduped := make([]WriteRecord[V], len(order))
	for i, rowID := range order {
		deduped[i] = latest[rowID]
	}
	return deduped
}

func (t *Table[V]) lockRow(txn, rowID uint64) {
	t.words.EnsureAt(rowID)
	for {
		cur := t.words.Load(rowID)
		if Word(cur).Locked() {
			runtime.Gosched()
			continue
		}
		next := Word(cur).withLock(true)
		if t.words.CompareAndSwap(rowID, cur, uint64(next)) {
			t.owners.Insert(rowID, txn)
			return
		}
	}
}

func (t *Table[V]) unlockRow(rowID uint64) {
	for {
		cur := t.words.Load(rowID)
		next := Word(cur).withLock(false)
		if t.words.CompareAndSwap(rowID, cur, uint64(next)) {
			t.owners.Erase(rowID)
			return
		}
	}
}

func (t *Table[V]) foreignLockHolder(rowID, txn uint64) bool {
	owner, ok := t.owners.Lookup(rowID)
	return ok && owner != txn
}

// Commit runs §4.5.4's four-step protocol over txn's recorded read and
// write sets: sort-and-lock the writes, compute commit_ts, validate each
// read (extending its delta or aborting), then install the writes and
// publish their new word. Returns the commit timestamp and whether the
// transaction committed; on failure all locks taken by this call are
// released before returning.
func (t *Table[V]) Commit(txn uint64, reads []ReadRecord, writes []WriteRecord[V]) (commitTS uint64, ok bool) {
	sorted := dedupWrites(writes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RowID < sorted[j].RowID })

	for _, w := range sorted {
		t.lockRow(txn, w.RowID)
	}
	unlockAll := func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			t.unlockRow(sorted[i].RowID)
		}
	}

	for _, r := range reads {
		if r.Observed.WTS() > commitTS {
			commitTS = r.Observed.WTS()
		}
	}
	for _, w := range sorted {
		cur := t.Word(w.RowID)
		if cur.RTS()+1 > commitTS {
			commitTS = cur.RTS() + 1
		}
	}

	for _, r := range reads {
		if r.Observed.RTS() >= commitTS {
			continue
		}
		for {
			v1 := t.Word(r.RowID)
			if v1.WTS() != r.Observed.WTS() {
				unlockAll()
				return 0, false
			}
			if v1.RTS() <= commitTS && v1.Locked() && t.foreignLockHolder(r.RowID, txn) {
				unlockAll()
				return 0, false
			}
			if v1.RTS() > commitTS {
				break
			}
			next := v1.extended(commitTS)
			if t.words.CompareAndSwap(r.RowID, uint64(v1), uint64(next)) {
				break
			}
		}
	}

	for _, w := range sorted {
		t.Reg.Store(w.RowID, w.Value)
		t.words.Store(w.RowID, uint64(NewWord(commitTS, 0, false)))
		t.owners.Erase(w.RowID)
	}
	return commitTS, true
}

// Abort releases every write lock this transaction holds without
// installing anything, per §5's "restore lock words via CAS."
func (t *Table[V]) Abort(writes []WriteRecord[V]) {
	for i := len(writes) - 1; i >= 0; i-- {
		t.unlockRow(writes[i].RowID)
	}
}

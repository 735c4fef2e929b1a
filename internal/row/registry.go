package row

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/nfncc/ccengine/internal/ds"
)

// OpKind tags a log entry as belonging to a read or a write.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
)

// LogEntry is one node of a row's rw_log: a lock-free, newest-first,
// singly-linked list of every in-flight or recently-finished operation on
// that row, keyed by PRV. Grounded on the rw_log description in the data
// model (§3/§4.4): "{prv, transaction_id, kind}", used both to let readers
// wait for earlier tickets to drain and to let the upper layer (2PL table,
// SGT, validator) learn what earlier operations touched the row.
type LogEntry struct {
	PRV    uint64
	TxnID  uint64
	Kind   OpKind
	done   atomic.Bool
	next   atomic.Pointer[LogEntry]
}

// Done reports whether the operation that produced this entry has posted
// its edges/validation and is no longer "in flight" for drain purposes.
func (e *LogEntry) Done() bool { return e.done.Load() }

// Registry is the row store for one table: parallel value/lsn/rw_log
// columns indexed by a dense rowID, plus the PRV admission protocol from
// §4.4. It is generic over the Go type actually stored per row — the
// column-oriented "templated per column" value array of the source design.
//
// Registry intentionally does not include a lock column: §6 describes the
// lock column as protocol-specific ("(value_column, lsn_column, rw_log_column,
// lock_column [, version_chain])"), so each protocol package (internal/cc/...)
// wraps a *Registry[V] with its own lock/version storage.
type Registry[V any] struct {
	name string
	cols []Column

	rowCounter atomic.Uint64
	values     *ds.Vector[V]
	lsn        *ds.Uint64Vector
	rwLog      *ds.Vector[LogEntry]

	epoch *ds.EpochManager

	// entryArena serves LogEntry nodes for BeginOp/Finish. rwLog's
	// prepend/unlink CAS loops are otherwise lock-free; entryMu scopes a
	// small critical section around the arena alone rather than forcing
	// Arena to be concurrency-safe on its own terms.
	entryMu    sync.Mutex
	entryArena *ds.Arena[LogEntry]
}

// NewRegistry returns an empty registry for a table with the given name
// and column schema (schema is carried for diagnostics; the value type
// itself is fixed by the V type parameter).
func NewRegistry[V any](name string, cols []Column, epoch *ds.EpochManager) *Registry[V] {
	return &Registry[V]{
		name:       name,
		cols:       cols,
		values:     ds.NewVector[V](),
		lsn:        ds.NewUint64Vector(),
		rwLog:      ds.NewVector[LogEntry](),
		epoch:      epoch,
		entryArena: ds.NewChunkAllocator[LogEntry]().NewArena(),
	}
}

// Name returns the table name.
func (r *Registry[V]) Name() string { return r.name }

// Columns returns the table's column schema.
func (r *Registry[V]) Columns() []Column { return r.cols }

// RowCount returns the number of rows ever inserted.
func (r *Registry[V]) RowCount() uint64 { return r.rowCounter.Load() }

// Insert allocates a new row holding value and returns its rowID. Rows are
// never freed in this prototype (§3 "Lifecycle": "never freed... tombstoned"
// is the source behavior for delete, which this research engine does not
// implement — see Non-goals).
func (r *Registry[V]) Insert(value V) uint64 {
	rowID := r.rowCounter.Add(1) - 1
	r.values.SetAt(rowID, &value)
	r.lsn.EnsureAt(rowID)
	r.rwLog.SetAt(rowID, (*LogEntry)(nil))
	return rowID
}

// Load returns the current value stored at rowID, with no PRV bookkeeping.
// Used internally after AwaitTurn has already admitted the caller.
func (r *Registry[V]) Load(rowID uint64) V {
	if p := r.values.At(rowID); p != nil {
		return *p
	}
	var zero V
	return zero
}

// Store installs a new value at rowID unconditionally. Used by protocols
// that do not keep a version chain (2PL and SGT on write, TicToc when
// commit installs its write set); MVOCC instead manages its own version
// chain layered on top of Registry.
func (r *Registry[V]) Store(rowID uint64, value V) {
	r.values.SetAt(rowID, &value)
}

// BeginOp assigns the next PRV ticket for rowID and publishes a log entry
// for (txnID, kind), per §4.4 steps 1-2.
func (r *Registry[V]) BeginOp(rowID, txnID uint64, kind OpKind) (prv uint64, entry *LogEntry) {
	prv = r.lsn.FetchAdd(rowID, 1)
	entry = r.allocEntry()
	entry.PRV, entry.TxnID, entry.Kind = prv, txnID, kind
	r.prepend(rowID, entry)
	return prv, entry
}

func (r *Registry[V]) allocEntry() *LogEntry {
	r.entryMu.Lock()
	defer r.entryMu.Unlock()
	return r.entryArena.Allocate()
}

func (r *Registry[V]) freeEntry(e *LogEntry) {
	r.entryMu.Lock()
	defer r.entryMu.Unlock()
	r.entryArena.Free(e)
}

// AwaitTurn spin-waits (§5 "Suspension points": spin loops only) until
// every log entry on rowID with an earlier PRV has finished, and — if
// lockReady is non-nil — until the protocol-specific lock condition also
// holds. This implements §4.4 step 3.
func (r *Registry[V]) AwaitTurn(rowID, prv uint64, lockReady func() bool) {
	for {
		if r.allPriorDrained(rowID, prv) && (lockReady == nil || lockReady()) {
			return
		}
		runtime.Gosched()
	}
}

// Finish retires entry: marks it done, unlinks it from rowID's rw_log, and
// hands its memory to the epoch manager for deferred reclamation. Finish
// always prunes on the entry's own completion rather than waiting for
// transaction end, resolving the prototype's "deleteFromRWTable bodies are
// commented out" ambiguity (§9) in favor of the behavior that keeps PRV
// drain from blocking on dead entries.
func (r *Registry[V]) Finish(rowID uint64, entry *LogEntry) {
	entry.done.Store(true)
	r.unlink(rowID, entry)
	r.epoch.Retire(func() { r.freeEntry(entry) })
}

func (r *Registry[V]) prepend(rowID uint64, e *LogEntry) {
	for {
		head := r.rwLog.At(rowID)
		e.next.Store(head)
		if r.rwLog.CompareExchange(rowID, head, e) {
			return
		}
	}
}

func (r *Registry[V]) unlink(rowID uint64, target *LogEntry) {
	for {
		head := r.rwLog.At(rowID)
		if head != target {
			break
		}
		if r.rwLog.CompareExchange(rowID, head, target.next.Load()) {
			return
		}
	}
	prev := r.rwLog.At(rowID)
	for prev != nil {
		next := prev.next.Load()
		if next == target {
			prev.next.CompareAndSwap(target, target.next.Load())
			return
		}
		prev = next
	}
}

func (r *Registry[V]) allPriorDrained(rowID, prv uint64) bool {
	cur := r.rwLog.At(rowID)
	for cur != nil {
		if cur.PRV < prv && !cur.done.Load() {
			return false
		}
		cur = cur.next.Load()
	}
	return true
}

// Entries returns a racy snapshot of rowID's rw_log, newest-first — used by
// the SGT to learn what earlier transactions did to a row (§4.5.2).
func (r *Registry[V]) Entries(rowID uint64) []LogEntry {
	var out []LogEntry
	cur := r.rwLog.At(rowID)
	for cur != nil {
		out = append(out, *cur)
		cur = cur.next.Load()
	}
	return out
}

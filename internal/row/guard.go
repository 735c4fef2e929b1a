package row

// ReadGuard is the scoped read acquisition described in §4.6: constructing
// one assigns a PRV and blocks until admission; Close retires the log
// entry and (via onFinish) lets the owning coordinator post whatever
// SGT/2PL/validator bookkeeping the read induces.
//
// Go has no destructors, so the "on destruction" half of §4.6 is Close,
// meant to be called via defer. A guard whose read ultimately failed
// still calls Close with its own entry — which Finish marks done and
// unlinks — so a failed reader never leaves behind a PRV gap that blocks
// later readers; no separate "skip" entry is needed the way the §4.6
// prototype describes, because Finish already prunes on completion
// regardless of outcome (see the rw-log-pruning decision in Registry.Finish).
type ReadGuard[V any] struct {
	reg      *Registry[V]
	rowID    uint64
	txnID    uint64
	prv      uint64
	entry    *LogEntry
	onFinish func(rowID uint64, prv uint64, entries []LogEntry)
	closed   bool
}

// BeginRead constructs a ReadGuard: assigns a PRV, spin-waits for
// admission (lockReady is the protocol-specific lock condition, nil if the
// protocol imposes none), and returns the guard for the caller to read
// from and eventually Close.
func BeginRead[V any](reg *Registry[V], rowID, txnID uint64, lockReady func() bool, onFinish func(rowID uint64, prv uint64, entries []LogEntry)) *ReadGuard[V] {
	prv, entry := reg.BeginOp(rowID, txnID, OpRead)
	reg.AwaitTurn(rowID, prv, lockReady)
	return &ReadGuard[V]{reg: reg, rowID: rowID, txnID: txnID, prv: prv, entry: entry, onFinish: onFinish}
}

// Value returns the row's current value as observed under this guard's
// admission.
func (g *ReadGuard[V]) Value() V { return g.reg.Load(g.rowID) }

// PRV returns the ticket assigned to this read.
func (g *ReadGuard[V]) PRV() uint64 { return g.prv }

// RowID returns the row this guard was opened against.
func (g *ReadGuard[V]) RowID() uint64 { return g.rowID }

// Close retires the guard's log entry and runs the coordinator's
// post-read bookkeeping. Safe to call more than once; only the first call
// has effect.
func (g *ReadGuard[V]) Close() {
	if g.closed {
		return
	}
	g.closed = true
	if g.onFinish != nil {
		g.onFinish(g.rowID, g.prv, g.reg.Entries(g.rowID))
	}
	g.reg.Finish(g.rowID, g.entry)
}

// WriteTicket is the write-side analog of ReadGuard's admission step: it
// assigns a PRV and blocks for admission, but leaves value installation
// and log retirement to the caller (protocols differ sharply in how a
// write stages its new value — direct store for 2PL/SGT, a pending
// version head for MVOCC, a write-set record for TicToc — so there is no
// single WriteGuard shape to share).
type WriteTicket[V any] struct {
	reg   *Registry[V]
	RowID uint64
	TxnID uint64
	PRV   uint64
	entry *LogEntry
}

// BeginWrite assigns a PRV for a write on rowID and blocks until
// admission.
func BeginWrite[V any](reg *Registry[V], rowID, txnID uint64, lockReady func() bool) *WriteTicket[V] {
	prv, entry := reg.BeginOp(rowID, txnID, OpWrite)
	reg.AwaitTurn(rowID, prv, lockReady)
	return &WriteTicket[V]{reg: reg, RowID: rowID, TxnID: txnID, PRV: prv, entry: entry}
}

// Finish retires the write's log entry.
func (t *WriteTicket[V]) Finish() {
	t.reg.Finish(t.RowID, t.entry)
}

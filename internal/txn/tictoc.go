package txn

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfncc/ccengine/internal/ccerrors"
	"github.com/nfncc/ccengine/internal/cc/tictoc"
)

// ticTocState is the per-transaction bookkeeping a TicTocCoordinator
// keeps: the read and write records §4.5.4's commit protocol certifies
// against, accumulated as the transaction proceeds.
type ticTocState[T any] struct {
	reads  []tictoc.ReadRecord
	writes []tictoc.WriteRecord[T]
}

// TicTocCoordinator implements the Coordinator API over TicToc (spec
// §4.5.4): reads record a row's composed timestamp word, writes stage a
// value in the transaction's own write set, and Commit runs the
// sort-lock-validate-publish protocol.
type TicTocCoordinator[T any] struct {
	id    uuid.UUID
	table *tictoc.Table[T]
	log   Logger

	txnCounter atomic.Uint64

	mu     sync.Mutex
	active map[uint64]*ticTocState[T]
}

// NewTicTocCoordinator wraps table.
func NewTicTocCoordinator[T any](table *tictoc.Table[T], log Logger) *TicTocCoordinator[T] {
	if log == nil {
		log = NoOpLogger{}
	}
	return &TicTocCoordinator[T]{
		id:     traceID(),
		table:  table,
		log:    log,
		active: make(map[uint64]*ticTocState[T]),
	}
}

func (c *TicTocCoordinator[T]) Begin() uint64 {
	txn := c.txnCounter.Add(1)
	c.mu.Lock()
	c.active[txn] = &ticTocState[T]{}
	c.mu.Unlock()
	c.log.Debug("tictoc begin", "coordinator", c.id, "txn", txn)
	return txn
}

func (c *TicTocCoordinator[T]) state(txn uint64) *ticTocState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[txn]
}

func (c *TicTocCoordinator[T]) Read(txn, rowID uint64) (T, error) {
	st := c.state(txn)
	value, rec := c.table.Read(rowID)
	st.reads = append(st.reads, rec)
	return value, nil
}

// Write stages newValue in txn's own write set; §4.5.4: "write stages a
// new value" — nothing is visible to other transactions until Commit
// installs it.
func (c *TicTocCoordinator[T]) Write(txn, rowID uint64, newValue T) error {
	st := c.state(txn)
	st.writes = append(st.writes, tictoc.WriteRecord[T]{RowID: rowID, Value: newValue})
	return nil
}

func (c *TicTocCoordinator[T]) Commit(txn uint64) error {
	st := c.state(txn)
	commitTS, ok := c.table.Commit(txn, st.reads, st.writes)
	c.forget(txn)
	if !ok {
		c.log.Warn("tictoc validation failed", "txn", txn)
		return ccerrors.NewValidationFailed(txn, 0, "tictoc re-validation")
	}
	c.log.Debug("tictoc commit", "txn", txn, "commit_ts", commitTS)
	return nil
}

func (c *TicTocCoordinator[T]) Abort(txn uint64) {
	st := c.state(txn)
	if st == nil {
		return
	}
	c.table.Abort(st.writes)
	c.forget(txn)
	c.log.Warn("tictoc abort", "txn", txn)
}

func (c *TicTocCoordinator[T]) forget(txn uint64) {
	c.mu.Lock()
	delete(c.active, txn)
	c.mu.Unlock()
}

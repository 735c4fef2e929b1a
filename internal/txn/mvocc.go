package txn

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfncc/ccengine/internal/ccerrors"
	"github.com/nfncc/ccengine/internal/cc/mvocc"
	"github.com/nfncc/ccengine/internal/row"
)

// MVOCCCoordinator implements the Coordinator and Scanner APIs over
// multi-version optimistic concurrency control (spec §4.5.3): readers
// snapshot a start_ts, writers stage a pending version, and commit
// certifies through a Validator before publishing.
type MVOCCCoordinator[T any] struct {
	id        uuid.UUID
	table     *mvocc.Table[T]
	validator *mvocc.Validator
	log       Logger

	txnCounter   atomic.Uint64
	commitCursor atomic.Uint64

	mu     sync.Mutex
	active map[uint64]*mvoccTxnState[T]
}

type mvoccTxnState[T any] struct {
	startTS uint64
	reads   map[uint64]struct{}
	pending map[uint64]*row.Version[T]
}

// NewMVOCCCoordinator wraps table with a fresh certifier.
func NewMVOCCCoordinator[T any](table *mvocc.Table[T], log Logger) *MVOCCCoordinator[T] {
	if log == nil {
		log = NoOpLogger{}
	}
	return &MVOCCCoordinator[T]{
		id:        traceID(),
		table:     table,
		validator: mvocc.NewValidator(),
		log:       log,
		active:    make(map[uint64]*mvoccTxnState[T]),
	}
}

func (c *MVOCCCoordinator[T]) Begin() uint64 {
	txn := c.txnCounter.Add(1)
	st := &mvoccTxnState[T]{
		startTS: c.commitCursor.Load(),
		reads:   make(map[uint64]struct{}),
		pending: make(map[uint64]*row.Version[T]),
	}
	c.mu.Lock()
	c.active[txn] = st
	c.mu.Unlock()
	c.log.Debug("mvocc begin", "coordinator", c.id, "txn", txn, "start_ts", st.startTS)
	return txn
}

func (c *MVOCCCoordinator[T]) state(txn uint64) *mvoccTxnState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[txn]
}

func (c *MVOCCCoordinator[T]) Read(txn, rowID uint64) (T, error) {
	var zero T
	st := c.state(txn)
	value, ok := c.table.ReadAt(rowID, st.startTS)
	if !ok {
		return zero, ccerrors.NewReadConflict(txn, rowID)
	}
	st.reads[rowID] = struct{}{}
	return value, nil
}

func (c *MVOCCCoordinator[T]) Write(txn, rowID uint64, newValue T) error {
	st := c.state(txn)
	pending := c.table.StageWrite(rowID, txn, newValue)
	st.pending[rowID] = pending
	return nil
}

// Scan implements the MVOCC-only read-only range scan (SUPPLEMENTED
// FEATURES #4): each offset in [rowLo, rowHi) is delivered to sink with
// its value as of txn's start_ts. The first offset with no version visible
// at that snapshot stops the scan with a ccerrors read-conflict error.
func (c *MVOCCCoordinator[T]) Scan(txn, rowLo, rowHi uint64, sink func(row uint64, value T)) error {
	st := c.state(txn)
	for r := rowLo; r < rowHi; r++ {
		value, ok := c.table.ReadAt(r, st.startTS)
		if !ok {
			return ccerrors.NewReadConflict(txn, r)
		}
		sink(r, value)
	}
	return nil
}

func (c *MVOCCCoordinator[T]) Commit(txn uint64) error {
	st := c.state(txn)

	reads := make([]uint64, 0, len(st.reads))
	for r := range st.reads {
		reads = append(reads, r)
	}
	writes := make([]uint64, 0, len(st.pending))
	for r := range st.pending {
		writes = append(writes, r)
	}

	commitTS := c.commitCursor.Add(1)
	if !c.validator.Validate(reads, writes, st.startTS, commitTS) {
		for rowID, pending := range st.pending {
			c.table.UnstageWrite(rowID, pending)
		}
		c.forget(txn)
		c.log.Warn("mvocc validation failed", "txn", txn, "commit_ts", commitTS)
		return ccerrors.NewValidationFailed(txn, 0, "mvocc certification")
	}

	for _, pending := range st.pending {
		c.table.PublishWrite(pending, commitTS)
	}
	c.forget(txn)
	c.log.Debug("mvocc commit", "txn", txn, "commit_ts", commitTS)
	return nil
}

func (c *MVOCCCoordinator[T]) Abort(txn uint64) {
	st := c.state(txn)
	if st == nil {
		return
	}
	for rowID, pending := range st.pending {
		c.table.UnstageWrite(rowID, pending)
	}
	c.forget(txn)
	c.log.Warn("mvocc abort", "txn", txn)
}

func (c *MVOCCCoordinator[T]) forget(txn uint64) {
	c.mu.Lock()
	delete(c.active, txn)
	c.mu.Unlock()
}

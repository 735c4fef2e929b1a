package txn

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfncc/ccengine/internal/ccerrors"
	"github.com/nfncc/ccengine/internal/cc/sgt"
	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
)

// nfnState is the per-transaction bookkeeping the NFNCoordinator keeps:
// its serialization-graph node and the original value of every row it has
// written, for abort rollback (the graph itself carries no data, only
// ordering edges).
type nfnState struct {
	node  *sgt.Node
	undo  map[uint64]any
}

// NFNCoordinator implements the Coordinator API over the serialization
// graph tester (spec §4.5.2): no locks are taken; every operation learns
// prior transactions from the row's rw_log and posts ww/rw edges, aborting
// immediately on a detected cycle.
type NFNCoordinator[V any] struct {
	id    uuid.UUID
	reg   *row.Registry[V]
	graph *sgt.Graph
	log   Logger

	txnCounter atomic.Uint64

	mu     sync.Mutex
	active map[uint64]*nfnState
}

// NewNFNCoordinator wraps reg with a serialization graph sized for maxTxns
// concurrently live transactions.
func NewNFNCoordinator[V any](reg *row.Registry[V], epoch *ds.EpochManager, maxTxns int, log Logger) *NFNCoordinator[V] {
	if log == nil {
		log = NoOpLogger{}
	}
	return &NFNCoordinator[V]{
		id:     traceID(),
		reg:    reg,
		graph:  sgt.New(epoch, maxTxns),
		log:    log,
		active: make(map[uint64]*nfnState),
	}
}

func (c *NFNCoordinator[V]) Begin() uint64 {
	txn := c.txnCounter.Add(1)
	node := c.graph.CreateNode(txn)
	c.mu.Lock()
	c.active[txn] = &nfnState{node: node, undo: make(map[uint64]any)}
	c.mu.Unlock()
	c.log.Debug("nfn begin", "coordinator", c.id, "txn", txn)
	return txn
}

func (c *NFNCoordinator[V]) state(txn uint64) *nfnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[txn]
}

// learnEdges inspects rowID's rw_log for every other transaction currently
// recorded there and posts the edge spec §4.5.2 calls for, given that self
// performed an operation of kind selfKind. It returns true if any edge
// insertion closed a cycle.
func (c *NFNCoordinator[V]) learnEdges(self *sgt.Node, rowID uint64, selfKind row.OpKind) bool {
	cycle := false
	for _, e := range c.reg.Entries(rowID) {
		if e.TxnID == self.TxnID {
			continue
		}
		sNode, ok := c.graph.Lookup(e.TxnID)
		if !ok {
			continue // s has already been cleaned up; no edge to post
		}

		var kind sgt.EdgeKind
		switch {
		case selfKind == row.OpRead && e.Kind == row.OpWrite:
			kind = sgt.EdgeWW // reader t sees writer s
		case selfKind == row.OpWrite && e.Kind == row.OpRead:
			kind = sgt.EdgeRW // writer t sees reader s
		case selfKind == row.OpWrite && e.Kind == row.OpWrite:
			kind = sgt.EdgeWW // writer t sees writer s
		default:
			continue // reader sees reader: no ordering edge needed
		}

		closed, err := c.graph.AddEdgeAndCheck(sNode, self, kind)
		if err != nil {
			c.log.Error("nfn edge insertion failed", "txn", self.TxnID, "row", rowID, "err", err)
			continue
		}
		if closed {
			cycle = true
		}
	}
	return cycle
}

func (c *NFNCoordinator[V]) Read(txn, rowID uint64) (V, error) {
	var zero V
	st := c.state(txn)

	prv, entry := c.reg.BeginOp(rowID, txn, row.OpRead)
	cycle := c.learnEdges(st.node, rowID, row.OpRead)
	c.reg.AwaitTurn(rowID, prv, nil)
	value := c.reg.Load(rowID)
	c.reg.Finish(rowID, entry)

	if cycle || st.node.Abort.Load() {
		c.graph.Abort(st.node)
		return zero, ccerrors.NewCycleDetected(txn, []uint64{rowID})
	}
	return value, nil
}

func (c *NFNCoordinator[V]) Write(txn, rowID uint64, newValue V) error {
	st := c.state(txn)

	ticket := row.BeginWrite[V](c.reg, rowID, txn, nil)
	cycle := c.learnEdges(st.node, rowID, row.OpWrite)

	if _, seen := st.undo[rowID]; !seen {
		st.undo[rowID] = c.reg.Load(rowID)
	}
	c.reg.Store(rowID, newValue)
	ticket.Finish()

	if cycle || st.node.Abort.Load() {
		c.graph.Abort(st.node)
		return ccerrors.NewCycleDetected(txn, []uint64{rowID})
	}
	return nil
}

func (c *NFNCoordinator[V]) Commit(txn uint64) error {
	st := c.state(txn)
	if st.node.Abort.Load() || st.node.CascadingAbort.Load() {
		return ccerrors.NewCascadingAbort(txn, st.node.AbortThrough.Load())
	}
	c.graph.Commit(st.node)
	c.graph.Cleanup(st.node)
	c.forget(txn)
	c.log.Debug("nfn commit", "txn", txn)
	return nil
}

func (c *NFNCoordinator[V]) Abort(txn uint64) {
	st := c.state(txn)
	if st == nil {
		return
	}
	c.graph.Abort(st.node)
	for rowID, old := range st.undo {
		c.reg.Store(rowID, old.(V))
	}
	c.forget(txn)
	c.log.Warn("nfn abort", "txn", txn)
}

func (c *NFNCoordinator[V]) forget(txn uint64) {
	c.mu.Lock()
	delete(c.active, txn)
	c.mu.Unlock()
}

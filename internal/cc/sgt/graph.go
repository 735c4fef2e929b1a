package sgt

import (
	"runtime"
	"sync"

	"github.com/nfncc/ccengine/internal/ds"
)

// Graph holds one Node per live transaction and implements edge insertion
// with cycle detection, cascading abort, and epoch-deferred cleanup, per
// spec §4.5.2. Grounded on serialization_graph.hpp's SerializationGraph
// class (createNode/insert_and_check/cycleCheckNaive/abort/cleanup), with
// node lifetime managed through internal/ds.EpochManager instead of the
// source's thread-local RecycledNodeSets pool (spec §9: "node lifetime
// should be managed via epoch SMR rather than ownership").
type Graph struct {
	mu    sync.Mutex // guards node creation/removal in g.nodes, and nodeArena
	nodes *ds.AtomicMap[uint64, *Node]
	epoch *ds.EpochManager

	nodeArena *ds.Arena[Node]
}

// New returns an empty graph sized for up to maxTxns concurrently live
// transactions.
func New(epoch *ds.EpochManager, maxTxns int) *Graph {
	return &Graph{
		nodes:     ds.NewAtomicMap[uint64, *Node](maxTxns, ds.Uint64Hash),
		epoch:     epoch,
		nodeArena: ds.NewChunkAllocator[Node]().NewArena(),
	}
}

// CreateNode allocates and registers a node for txnID.
func (g *Graph) CreateNode(txnID uint64) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := newNode(g.nodeArena, txnID)
	g.nodes.Insert(txnID, n)
	return n
}

// Lookup returns the node for txnID, if it is still in the graph.
func (g *Graph) Lookup(txnID uint64) (*Node, bool) {
	return g.nodes.Lookup(txnID)
}

// AddEdgeAndCheck posts an edge s → t of the given kind and then runs a
// cycle check rooted at t. Grounded on §4.5.2: "take a shared lock on s's
// node mutex, insert into s.outgoing and t.incoming, release. Then run
// cycle check: DFS from t following outgoing edges." If the check finds a
// path leading back to t, t.Abort is set and AddEdgeAndCheck returns true.
func (g *Graph) AddEdgeAndCheck(s, t *Node, kind EdgeKind) (cycle bool, err error) {
	s.mu.Lock()
	err = s.addOutgoing(Edge{Target: t, Kind: kind})
	if err == nil {
		err = t.addIncoming(Edge{Target: s, Kind: kind})
	}
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	if g.hasCycleThrough(t) {
		t.Abort.Store(true)
		return true, nil
	}
	return false, nil
}

// hasCycleThrough runs a DFS from start following outgoing edges, looking
// for a path back to start. The NFN optimization noted in §4.5.2 (an rw
// chain of length ≥ 2 need not be completed) falls out naturally here:
// the very first edge back to start, of any kind, terminates the search.
func (g *Graph) hasCycleThrough(start *Node) bool {
	visited := make(map[*Node]bool)
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		for _, e := range n.Outgoing.Elements() {
			if e.Target == nil {
				continue
			}
			if e.Target == start {
				return true
			}
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			if visit(e.Target) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

// Abort marks n aborted and cascades the abort to every node reachable
// along n's outgoing edges, per §4.5.2: "cascade to every node u reachable
// along outgoing edges by setting u.cascading_abort = true and
// u.abort_through = t.id."
func (g *Graph) Abort(n *Node) {
	n.Abort.Store(true)
	seen := make(map[*Node]bool)
	g.cascade(n, n.TxnID, seen)
}

func (g *Graph) cascade(n *Node, rootTxn uint64, seen map[*Node]bool) {
	for _, e := range n.Outgoing.Elements() {
		u := e.Target
		if u == nil || seen[u] {
			continue
		}
		seen[u] = true
		u.CascadingAbort.Store(true)
		u.AbortThrough.Store(rootTxn)
		g.cascade(u, rootTxn, seen)
	}
}

// Commit marks n committed once ReadyToCommit holds, spin-waiting in the
// meantime (spec §5: "spin loops only... waiting for SGT predecessors to
// commit before committing").
func (g *Graph) Commit(n *Node) {
	for !n.ReadyToCommit() {
		runtime.Gosched()
	}
	n.Committed.Store(true)
}

// Cleanup removes n from the graph once it is committed and every
// incoming edge comes from an already-committed node, unlinking its
// outgoing edges first and then retiring the node itself via the epoch
// manager — grounded on §4.5.2's "Cleanup (epoch-deferred)" paragraph.
func (g *Graph) Cleanup(n *Node) bool {
	if !n.Committed.Load() {
		return false
	}
	for _, e := range n.Incoming.Elements() {
		if e.Target != nil && !e.Target.Committed.Load() {
			return false
		}
	}

	for _, e := range n.Outgoing.Elements() {
		if e.Target != nil {
			e.Target.Incoming.Erase(Edge{Target: n, Kind: e.Kind})
		}
		n.Outgoing.Erase(e)
	}

	g.mu.Lock()
	g.nodes.Erase(n.TxnID)
	g.mu.Unlock()

	n.Cleaned.Store(true)
	g.epoch.Retire(func() {
		g.mu.Lock()
		g.nodeArena.Free(n)
		g.mu.Unlock()
	})
	return true
}

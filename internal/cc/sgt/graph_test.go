package sgt

import (
	"testing"

	"github.com/nfncc/ccengine/internal/ds"
)

func newGraph(t *testing.T) *Graph {
	t.Helper()
	return New(ds.NewEpochManager(), 64)
}

func TestAddEdgeNoCycle(t *testing.T) {
	g := newGraph(t)
	s := g.CreateNode(1)
	u := g.CreateNode(2)

	cycle, err := g.AddEdgeAndCheck(s, u, EdgeWW)
	if err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}
	if cycle {
		t.Fatal("a single s->u edge cannot be a cycle")
	}
	if u.Abort.Load() {
		t.Fatal("u should not be marked for abort")
	}
}

// TestCycleG1c is testable-properties scenario 3: T1 reads A then writes
// B; T2 reads B then writes A. The resulting rw edges close a cycle, so
// exactly one of T1/T2 must be flagged to abort.
func TestCycleG1c(t *testing.T) {
	g := newGraph(t)
	t1 := g.CreateNode(1)
	t2 := g.CreateNode(2)

	// T2 read B, T1 writes B: rw edge T2 -> T1.
	cycle1, err := g.AddEdgeAndCheck(t2, t1, EdgeRW)
	if err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}
	if cycle1 {
		t.Fatal("no cycle should exist after the first edge")
	}

	// T1 read A, T2 writes A: rw edge T1 -> T2, closing the cycle.
	cycle2, err := g.AddEdgeAndCheck(t1, t2, EdgeRW)
	if err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}
	if !cycle2 {
		t.Fatal("expected a cycle once T1 -> T2 -> T1 closes")
	}
	if !t2.Abort.Load() {
		t.Fatal("expected the transaction that closed the cycle to be marked for abort")
	}
}

func TestCascadingAbort(t *testing.T) {
	g := newGraph(t)
	s := g.CreateNode(1)
	mid := g.CreateNode(2)
	leaf := g.CreateNode(3)

	if _, err := g.AddEdgeAndCheck(s, mid, EdgeWW); err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}
	if _, err := g.AddEdgeAndCheck(mid, leaf, EdgeWW); err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}

	g.Abort(s)

	if !mid.CascadingAbort.Load() {
		t.Fatal("expected mid to be cascading-aborted")
	}
	if mid.AbortThrough.Load() != s.TxnID {
		t.Fatalf("expected mid.AbortThrough = %d, got %d", s.TxnID, mid.AbortThrough.Load())
	}
	if !leaf.CascadingAbort.Load() {
		t.Fatal("expected leaf (two hops away) to be cascading-aborted")
	}
}

func TestCommitRequiresPredecessorsCommitted(t *testing.T) {
	g := newGraph(t)
	s := g.CreateNode(1)
	t1 := g.CreateNode(2)

	if _, err := g.AddEdgeAndCheck(s, t1, EdgeRW); err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}

	done := make(chan struct{})
	go func() {
		g.Commit(t1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("t1 should not commit while its rw predecessor s is uncommitted")
	default:
	}

	g.Commit(s)
	<-done
	if !t1.Committed.Load() {
		t.Fatal("expected t1 committed after s committed")
	}
}

func TestCleanupRemovesNodeOnceAllIncomingCommitted(t *testing.T) {
	g := newGraph(t)
	s := g.CreateNode(1)
	t1 := g.CreateNode(2)

	if _, err := g.AddEdgeAndCheck(s, t1, EdgeWW); err != nil {
		t.Fatalf("AddEdgeAndCheck: %v", err)
	}

	// t1 has an incoming edge from s but is not itself committed yet:
	// Cleanup(t1) must fail regardless of s's state.
	if g.Cleanup(t1) {
		t.Fatal("t1 should not be cleaned up before it commits")
	}

	// s has no incoming edges at all, so once committed it can be cleaned
	// up immediately.
	g.Commit(s)
	if !g.Cleanup(s) {
		t.Fatal("s should be cleaned up once committed (no incoming edges)")
	}
	if _, ok := g.Lookup(s.TxnID); ok {
		t.Fatal("s should be removed from the graph after Cleanup")
	}

	// Now commit t1 and confirm it too can be cleaned up.
	g.Commit(t1)
	if !g.Cleanup(t1) {
		t.Fatal("t1 should be cleaned up once committed")
	}
}

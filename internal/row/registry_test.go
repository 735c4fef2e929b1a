package row

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nfncc/ccengine/internal/ds"
)

func newTestRegistry(t *testing.T) (*Registry[int64], *ds.EpochManager) {
	t.Helper()
	epoch := ds.NewEpochManager()
	return NewRegistry[int64]("t", []Column{{Name: "v", Type: Int64Type}}, epoch), epoch
}

func TestRegistryInsertAssignsDenseRowIDs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for i := int64(0); i < 100; i++ {
		rowID := reg.Insert(i)
		if rowID != uint64(i) {
			t.Fatalf("expected rowID %d, got %d", i, rowID)
		}
	}
	if reg.RowCount() != 100 {
		t.Fatalf("expected RowCount 100, got %d", reg.RowCount())
	}
	if v := reg.Load(50); v != 50 {
		t.Fatalf("Load(50) = %d, want 50", v)
	}
}

// TestPRVMonotonicity is the §8 property test: concurrent BeginOp calls on
// one row must yield exactly the ticket set {0,...,N-1}.
func TestPRVMonotonicity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rowID := reg.Insert(0)

	const n = 5000
	tickets := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prv, entry := reg.BeginOp(rowID, uint64(i), OpRead)
			tickets[i] = prv
			reg.Finish(rowID, entry)
		}(i)
	}
	wg.Wait()

	sorted := append([]uint64(nil), tickets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, tk := range sorted {
		if tk != uint64(i) {
			t.Fatalf("ticket set not dense: want %d at position %d, got %d", i, i, tk)
		}
	}
}

func TestAwaitTurnBlocksUntilPriorDrain(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rowID := reg.Insert(0)

	_, firstEntry := reg.BeginOp(rowID, 1, OpWrite)

	done := make(chan struct{})
	go func() {
		prv, entry := reg.BeginOp(rowID, 2, OpRead)
		reg.AwaitTurn(rowID, prv, nil)
		reg.Finish(rowID, entry)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second operation was admitted before the first finished")
	default:
	}

	reg.Finish(rowID, firstEntry)
	<-done
}

func TestReadGuardClosePrunesLogEntry(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rowID := reg.Insert(7)

	g := BeginRead[int64](reg, rowID, 1, nil, nil)
	if g.Value() != 7 {
		t.Fatalf("Value() = %d, want 7", g.Value())
	}
	g.Close()
	g.Close() // idempotent

	if entries := reg.Entries(rowID); len(entries) != 0 {
		t.Fatalf("expected rw_log empty after Close, got %d entries", len(entries))
	}
}

func TestWriteTicketAdmissionRespectsLockReady(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rowID := reg.Insert(0)

	var locked atomic.Bool
	var observedBlocked atomic.Bool
	done := make(chan struct{})
	go func() {
		ticket := BeginWrite(reg, rowID, 1, func() bool {
			if !locked.Load() {
				observedBlocked.Store(true)
			}
			return locked.Load()
		})
		ticket.Finish()
		close(done)
	}()

	for !observedBlocked.Load() {
		runtime.Gosched()
	}

	select {
	case <-done:
		t.Fatal("write was admitted before lockReady ever returned true")
	default:
	}

	locked.Store(true)
	<-done
	if !observedBlocked.Load() {
		t.Fatal("expected lockReady to be polled at least once while false")
	}
}

package twopl

import (
	"testing"

	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
)

func newManager(t *testing.T) (*LockManager[int64], *row.Registry[int64]) {
	t.Helper()
	epoch := ds.NewEpochManager()
	reg := row.NewRegistry[int64]("t", []row.Column{{Name: "v", Type: row.Int64Type}}, epoch)
	return New(reg, epoch, 64), reg
}

func TestExclusiveLockExcludesOthers(t *testing.T) {
	m, reg := newManager(t)
	rowID := reg.Insert(0)

	m.Start(1)
	m.Start(2)
	defer m.End(1)
	defer m.End(2)

	abort, died := m.Lock(1, rowID, true)
	if died || abort != nil {
		t.Fatalf("first exclusive lock should succeed uncontested, got died=%v abort=%v", died, abort)
	}
	if !m.HeldExclusively(1, rowID) {
		t.Fatal("expected txn 1 to hold the exclusive lock")
	}
	m.Unlock(1, rowID)
	if m.HeldExclusively(1, rowID) {
		t.Fatal("expected lock released")
	}
}

// TestWaitDieSeniorWaitsJuniorDies is scenario 4 from the testable
// properties: the older transaction waits for a younger holder, while in
// the reverse order the younger transaction dies immediately.
func TestWaitDieSeniorWaitsJuniorDies(t *testing.T) {
	m, reg := newManager(t)
	rowID := reg.Insert(0)

	const young, old = uint64(1), uint64(2)
	m.startNS.Insert(young, 100) // younger: started later (bigger ns)
	m.startNS.Insert(old, 50)    // older: started earlier (smaller ns)

	if _, died := m.Lock(young, rowID, true); died {
		t.Fatal("young txn's uncontested first lock should not die")
	}

	// old (senior) conflicts with young's exclusive hold: must wait, not die.
	done := make(chan struct{})
	go func() {
		abort, died := m.Lock(old, rowID, true)
		if died {
			t.Error("senior transaction should wait, not die")
		}
		_ = abort
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("senior transaction should still be waiting for the junior holder to release")
	default:
	}

	m.Unlock(young, rowID)
	<-done
	if !m.HeldExclusively(old, rowID) {
		t.Fatal("expected senior transaction to acquire the lock after junior released")
	}
	m.Unlock(old, rowID)
}

func TestWaitDieJuniorDiesAgainstSeniorHolder(t *testing.T) {
	m, reg := newManager(t)
	rowID := reg.Insert(0)

	const old, young = uint64(1), uint64(2)
	m.startNS.Insert(old, 50)
	m.startNS.Insert(young, 100)

	if _, died := m.Lock(old, rowID, true); died {
		t.Fatal("senior's first lock should not die")
	}

	abort, died := m.Lock(young, rowID, true)
	if !died {
		t.Fatal("junior transaction conflicting with a senior holder should die immediately")
	}
	if len(abort) != 1 || abort[0] != old {
		t.Fatalf("expected abort list [%d], got %v", old, abort)
	}
	m.Unlock(old, rowID)
}

func TestSharedLocksCoexist(t *testing.T) {
	m, reg := newManager(t)
	rowID := reg.Insert(0)

	m.startNS.Insert(1, 10)
	m.startNS.Insert(2, 20)

	if _, died := m.Lock(1, rowID, false); died {
		t.Fatal("first shared lock should succeed")
	}
	if _, died := m.Lock(2, rowID, false); died {
		t.Fatal("second shared lock should coexist with the first")
	}
	m.Unlock(1, rowID)
	m.Unlock(2, rowID)
}

package ds

import (
	"sync"
	"sync/atomic"
)

// noEpoch marks a slot as "not currently inside a guard".
const noEpoch int64 = -1

// EpochManager implements epoch-based safe memory reclamation (SMR, spec
// §4.3). A goroutine that touches a lock-free structure registers one Slot
// (held by that goroutine rather than looked up by thread id) and wraps its
// critical section in an EpochGuard. A retirement is only
// run once every registered slot has either left its guard or advanced past
// the retirement's epoch — the manager's core contract: "any access to an
// object retired while the accessor's guard was active is safe; the
// callback will not run until the last such guard is released."
type EpochManager struct {
	global atomic.Int64

	mu    sync.Mutex
	slots []*atomic.Int64

	pmu     sync.Mutex
	pending []retirement
}

type retirement struct {
	epoch int64
	run   func()
}

// NewEpochManager returns a manager with the global epoch starting at 0.
func NewEpochManager() *EpochManager {
	return &EpochManager{}
}

// Slot is one goroutine's published epoch. The zero value reads as
// noEpoch-equivalent only after NewSlot initializes it.
type Slot struct {
	v atomic.Int64
}

// NewSlot registers a new per-goroutine epoch slot with the manager. Call
// once per goroutine and keep the result with that goroutine's own state.
func (m *EpochManager) NewSlot() *Slot {
	s := &Slot{}
	s.v.Store(noEpoch)
	m.mu.Lock()
	m.slots = append(m.slots, &s.v)
	m.mu.Unlock()
	return s
}

// CurrentEpoch returns the manager's global epoch counter.
func (m *EpochManager) CurrentEpoch() int64 { return m.global.Load() }

// EpochGuard is a scoped critical-section marker. Enter publishes the
// current global epoch into slot; Exit publishes "none". All lock-free
// container mutation in this module happens inside a guard (spec §5
// "Shared-resource policy").
type EpochGuard struct {
	slot *Slot
}

// Enter publishes the current epoch into slot and returns a guard that must
// be closed with Exit (typically via defer).
func (m *EpochManager) Enter(slot *Slot) *EpochGuard {
	slot.v.Store(m.global.Load())
	return &EpochGuard{slot: slot}
}

// Exit publishes "none", making this goroutine invisible to the epoch
// minimum computation until its next Enter.
func (g *EpochGuard) Exit() {
	g.slot.v.Store(noEpoch)
}

// Retire enqueues fn to run once no guard could still observe an object
// retired at the current epoch. fn should close over the object being
// freed (e.g. returning it to an Arena) rather than receiving a raw address
// plus a separate destructor — this resolves the prototype's
// Validator::removeSet anomaly (spec §9) by making the retired value's
// lifetime explicit in the closure instead of implicit in a void*.
func (m *EpochManager) Retire(fn func()) {
	m.pmu.Lock()
	m.pending = append(m.pending, retirement{epoch: m.global.Load(), run: fn})
	m.pmu.Unlock()
}

// Tick advances the global epoch by one and reclaims every retirement whose
// epoch is strictly older than the minimum epoch currently published by any
// registered slot. It is meant to be called periodically by a maintenance
// goroutine (internal/txn.Reclaimer), not on every operation.
func (m *EpochManager) Tick() (reclaimed int) {
	m.global.Add(1)

	min := m.minActiveEpoch()

	m.pmu.Lock()
	kept := m.pending[:0]
	var due []retirement
	for _, r := range m.pending {
		if min < 0 || r.epoch < min {
			due = append(due, r)
		} else {
			kept = append(kept, r)
		}
	}
	m.pending = kept
	m.pmu.Unlock()

	for _, r := range due {
		r.run()
	}
	return len(due)
}

// minActiveEpoch returns the smallest epoch currently published by any
// registered slot, or -1 if no slot is currently inside a guard.
func (m *EpochManager) minActiveEpoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	min := int64(-1)
	for _, s := range m.slots {
		e := s.Load()
		if e == noEpoch {
			continue
		}
		if min == -1 || e < min {
			min = e
		}
	}
	return min
}

// PendingCount reports the number of retirements awaiting reclamation
// (diagnostic only).
func (m *EpochManager) PendingCount() int {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	return len(m.pending)
}

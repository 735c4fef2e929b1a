// Command ccbench drives the six literal scenarios and the segmented-vector
// stress test. Each scenario runs against the one concurrency-control
// protocol (or lock manager) it is written for.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nfncc/ccengine/internal/cc/mvocc"
	"github.com/nfncc/ccengine/internal/cc/tictoc"
	"github.com/nfncc/ccengine/internal/cc/twopl"
	"github.com/nfncc/ccengine/internal/ds"
	"github.com/nfncc/ccengine/internal/row"
	"github.com/nfncc/ccengine/internal/txn"
)

var (
	flagScenario = flag.String("scenario", "all", "scenario to run: 1-6, stress, or all")
	flagConfig   = flag.String("config", "", "path to a YAML RuntimeConfig (defaults used if empty)")
	flagVerbose  = flag.Bool("v", false, "verbose logging")
)

func main() {
	flag.Parse()

	cfg := txn.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := txn.LoadConfig(*flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var log txn.Logger = txn.NoOpLogger{}
	if *flagVerbose {
		log = txn.NewStdLogger()
	}

	runID := uuid.New()
	fmt.Printf("ccbench run %s (protocol=%s workers=%d maxTxns=%d)\n", runID, cfg.Protocol, cfg.Workers, cfg.MaxTxns)

	scenarios := map[string]func(txn.Logger, txn.RuntimeConfig) error{
		"1":      scenarioSingleRowWW,
		"2":      scenarioLostUpdate,
		"3":      scenarioCycleG1c,
		"4":      scenarioWaitDie,
		"5":      scenarioMVCCSnapshot,
		"6":      scenarioTicTocExtension,
		"stress": scenarioVectorStress,
	}

	order := []string{"1", "2", "3", "4", "5", "6", "stress"}
	toRun := order
	if *flagScenario != "all" {
		toRun = []string{*flagScenario}
	}

	failures := 0
	for _, name := range toRun {
		fn, ok := scenarios[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n", name)
			os.Exit(1)
		}
		start := time.Now()
		err := fn(log, cfg)
		elapsed := time.Since(start)
		if err != nil {
			failures++
			fmt.Printf("[FAIL] scenario %-6s (%s): %v\n", name, elapsed, err)
			continue
		}
		fmt.Printf("[ OK ] scenario %-6s (%s)\n", name, elapsed)
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func newEpoch(cfg txn.RuntimeConfig) (*ds.EpochManager, *txn.Reclaimer) {
	epoch := ds.NewEpochManager()
	reclaimer, err := txn.NewReclaimer(epoch, cfg.ReclaimInterval, txn.NoOpLogger{})
	if err != nil {
		// Reclamation is best-effort for a benchmark run; proceed without it
		// rather than fail the scenario.
		return epoch, nil
	}
	reclaimer.Start()
	return epoch, reclaimer
}

func newAccountsRegistry(epoch *ds.EpochManager) *row.Registry[int64] {
	return row.NewRegistry[int64]("accounts", []row.Column{{Name: "v", Type: row.Int64Type}}, epoch)
}

// scenarioSingleRowWW is spec scenario 1 under 2PL: T1 writes row 0 ← 10,
// T2 writes row 0 ← 20; both commit and the final value is 20.
func scenarioSingleRowWW(log txn.Logger, cfg txn.RuntimeConfig) error {
	epoch, reclaimer := newEpoch(cfg)
	if reclaimer != nil {
		defer reclaimer.Stop()
	}
	reg := newAccountsRegistry(epoch)
	rowID := reg.Insert(0)
	c := txn.NewTwoPLCoordinator[int64](reg, epoch, cfg.MaxTxns, log)

	t1 := c.Begin()
	if err := c.Write(t1, rowID, 10); err != nil {
		return fmt.Errorf("t1 write: %w", err)
	}
	if err := c.Commit(t1); err != nil {
		return fmt.Errorf("t1 commit: %w", err)
	}

	t2 := c.Begin()
	if err := c.Write(t2, rowID, 20); err != nil {
		return fmt.Errorf("t2 write: %w", err)
	}
	if err := c.Commit(t2); err != nil {
		return fmt.Errorf("t2 commit: %w", err)
	}

	v, err := c.Read(c.Begin(), rowID)
	if err != nil {
		return err
	}
	if v != 20 {
		return fmt.Errorf("final value = %d, want 20", v)
	}
	return nil
}

// scenarioLostUpdate is spec scenario 2, run under MVOCC: T1 and T2 both
// read row 0 (=0), then each writes 1 and commits, T1 first; at most one
// may commit.
func scenarioLostUpdate(log txn.Logger, cfg txn.RuntimeConfig) error {
	epoch, reclaimer := newEpoch(cfg)
	if reclaimer != nil {
		defer reclaimer.Stop()
	}
	reg := newAccountsRegistry(epoch)
	table := mvocc.NewTable[int64](reg)
	rowID := table.Insert(0)
	c := txn.NewMVOCCCoordinator[int64](table, log)

	t1 := c.Begin()
	t2 := c.Begin()
	if _, err := c.Read(t1, rowID); err != nil {
		return fmt.Errorf("t1 read: %w", err)
	}
	if _, err := c.Read(t2, rowID); err != nil {
		return fmt.Errorf("t2 read: %w", err)
	}
	if err := c.Write(t1, rowID, 1); err != nil {
		return fmt.Errorf("t1 write: %w", err)
	}
	err1 := c.Commit(t1)
	if err := c.Write(t2, rowID, 1); err != nil {
		return fmt.Errorf("t2 write: %w", err)
	}
	err2 := c.Commit(t2)
	committed := 0
	if err1 == nil {
		committed++
	}
	if err2 == nil {
		committed++
	}
	if committed > 1 {
		return fmt.Errorf("both t1 and t2 committed a write-write conflict")
	}
	if committed == 0 {
		return fmt.Errorf("neither t1 nor t2 committed")
	}
	return nil
}

// scenarioCycleG1c is spec scenario 3: T1 reads A then writes B=1; T2 reads
// B then writes A=1. The SGT must detect the resulting cycle.
func scenarioCycleG1c(log txn.Logger, cfg txn.RuntimeConfig) error {
	epoch, reclaimer := newEpoch(cfg)
	if reclaimer != nil {
		defer reclaimer.Stop()
	}
	reg := newAccountsRegistry(epoch)
	rowA := reg.Insert(0)
	rowB := reg.Insert(0)
	c := txn.NewNFNCoordinator[int64](reg, epoch, cfg.MaxTxns, log)

	t1 := c.Begin()
	t2 := c.Begin()

	if _, err := c.Read(t1, rowA); err != nil {
		return fmt.Errorf("t1 read A: %w", err)
	}
	if _, err := c.Read(t2, rowB); err != nil {
		return fmt.Errorf("t2 read B: %w", err)
	}
	if err := c.Write(t1, rowB, 1); err != nil {
		return fmt.Errorf("t1 write B: %w", err)
	}

	err := c.Write(t2, rowA, 1)
	if err == nil {
		return fmt.Errorf("expected t2's write to close the cycle and abort")
	}
	return nil
}

// scenarioWaitDie is spec scenario 4: an older transaction waits behind a
// younger lock holder and eventually acquires; reversed, the younger
// transaction dies immediately.
func scenarioWaitDie(log txn.Logger, cfg txn.RuntimeConfig) error {
	epoch, reclaimer := newEpoch(cfg)
	if reclaimer != nil {
		defer reclaimer.Stop()
	}
	reg := newAccountsRegistry(epoch)
	rowID := reg.Insert(0)
	lm := twopl.New[int64](reg, epoch, cfg.MaxTxns)

	const young, old = 100, 1 // lower id ~ earlier Start() call below
	lm.Start(old)
	lm.Start(young)

	if _, died := lm.Lock(young, rowID, true); died {
		return fmt.Errorf("younger transaction unexpectedly died acquiring an uncontended lock")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		lm.Lock(old, rowID, true)
	}()

	select {
	case <-done:
		return fmt.Errorf("older transaction acquired before the younger released")
	case <-time.After(20 * time.Millisecond):
	}

	lm.Unlock(young, rowID)
	lm.End(young)
	<-done
	lm.Unlock(old, rowID)
	lm.End(old)

	// Reversed roles: the older transaction now holds the lock and the
	// younger one requests it, so the younger must die rather than wait.
	lm2 := twopl.New[int64](reg, epoch, cfg.MaxTxns)
	lm2.Start(old)
	lm2.Start(young)
	lm2.Lock(old, rowID, true)
	if _, died := lm2.Lock(young, rowID, true); !died {
		return fmt.Errorf("younger transaction should have died under wait-die, but waited/acquired")
	}
	return nil
}

// scenarioMVCCSnapshot is spec scenario 5: a reader started before a
// concurrent writer's commit keeps seeing the pre-commit value.
func scenarioMVCCSnapshot(log txn.Logger, cfg txn.RuntimeConfig) error {
	epoch, reclaimer := newEpoch(cfg)
	if reclaimer != nil {
		defer reclaimer.Stop()
	}
	reg := newAccountsRegistry(epoch)
	table := mvocc.NewTable[int64](reg)
	rowID := table.Insert(100)
	c := txn.NewMVOCCCoordinator[int64](table, log)

	reader := c.Begin()
	writer := c.Begin()
	if err := c.Write(writer, rowID, 200); err != nil {
		return fmt.Errorf("writer write: %w", err)
	}
	if err := c.Commit(writer); err != nil {
		return fmt.Errorf("writer commit: %w", err)
	}

	v, err := c.Read(reader, rowID)
	if err != nil {
		return err
	}
	if v != 100 {
		return fmt.Errorf("reader saw %d, want 100 (snapshot isolation violated)", v)
	}
	return nil
}

// scenarioTicTocExtension is spec scenario 6: after a writer commits over
// an unrelated row, a transaction whose commit_ts lies past the rts of its
// earlier read commits by extending that row's delta rather than aborting.
func scenarioTicTocExtension(log txn.Logger, cfg txn.RuntimeConfig) error {
	epoch, reclaimer := newEpoch(cfg)
	if reclaimer != nil {
		defer reclaimer.Stop()
	}
	reg := newAccountsRegistry(epoch)
	table := tictoc.NewTable[int64](reg, cfg.MaxTxns)
	rowID := table.Insert(0)
	otherRow := table.Insert(0)
	c := txn.NewTicTocCoordinator[int64](table, log)

	reader := c.Begin()
	if _, err := c.Read(reader, rowID); err != nil {
		return fmt.Errorf("reader read: %w", err)
	}

	writer := c.Begin()
	if err := c.Write(writer, otherRow, 7); err != nil {
		return fmt.Errorf("writer write: %w", err)
	}
	if err := c.Commit(writer); err != nil {
		return fmt.Errorf("writer commit: %w", err)
	}

	// The reader's own write to otherRow puts its commit_ts above the rts
	// of its read of rowID, so commit must extend that read's delta.
	if err := c.Write(reader, otherRow, 8); err != nil {
		return fmt.Errorf("reader write: %w", err)
	}
	if err := c.Commit(reader); err != nil {
		return fmt.Errorf("reader should have extended rather than aborted: %w", err)
	}
	return nil
}

// scenarioVectorStress is a 16-goroutine stress test over the segmented
// vector: each goroutine stores 10,000 values at freshly claimed offsets,
// then one pass reads every offset back; the read sum must equal the sum
// stored and the number of offsets read must equal the number of stores.
// It does not erase entries and keeps no alive bitmap.
func scenarioVectorStress(log txn.Logger, cfg txn.RuntimeConfig) error {
	const threads = 16
	const perThread = 10000

	vec := ds.NewUint64Vector()
	var nextIdx atomic.Uint64
	var wantSum atomic.Uint64
	var liveCount atomic.Int64

	var wg sync.WaitGroup
	wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < perThread; i++ {
				idx := nextIdx.Add(1) - 1
				value := uint64(r.Int63n(1000))
				vec.EnsureAt(idx)
				vec.Store(idx, value)
				wantSum.Add(value)
				liveCount.Add(1)
			}
		}(int64(w))
	}
	wg.Wait()

	var gotSum uint64
	var gotCount int64
	total := nextIdx.Load()
	for i := uint64(0); i < total; i++ {
		gotSum += vec.Load(i)
		gotCount++
	}

	if gotSum != wantSum.Load() {
		return fmt.Errorf("sum = %d, want %d", gotSum, wantSum.Load())
	}
	if gotCount != liveCount.Load() {
		return fmt.Errorf("live count = %d, want %d", gotCount, liveCount.Load())
	}
	return nil
}

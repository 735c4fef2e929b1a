package txn

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nfncc/ccengine/internal/ds"
)

// Reclaimer drives an EpochManager's periodic maintenance tick on a
// cron schedule, replacing the teacher's Scheduler (internal/storage/
// scheduler.go), which drives SQL job execution the same way: a
// cron.Cron with one AddFunc entry, Start/Stop symmetry, and an interval
// expressed as "@every <duration>" rather than a five-field crontab,
// since this job runs on a fixed cadence rather than wall-clock time.
type Reclaimer struct {
	cron   *cron.Cron
	epoch  *ds.EpochManager
	log    Logger
	entry  cron.EntryID
}

// NewReclaimer builds (but does not start) a reclaimer that ticks epoch
// every interval.
func NewReclaimer(epoch *ds.EpochManager, interval time.Duration, log Logger) (*Reclaimer, error) {
	c := cron.New()
	r := &Reclaimer{cron: c, epoch: epoch, log: log}
	id, err := c.AddFunc("@every "+interval.String(), r.tick)
	if err != nil {
		return nil, err
	}
	r.entry = id
	return r, nil
}

func (r *Reclaimer) tick() {
	n := r.epoch.Tick()
	if n > 0 && r.log != nil {
		r.log.Debug("epoch reclaim tick", "reclaimed", n)
	}
}

// Start begins the cron-scheduled reclamation sweep.
func (r *Reclaimer) Start() { r.cron.Start() }

// Stop halts the sweep, blocking until any in-flight tick finishes.
func (r *Reclaimer) Stop() { <-r.cron.Stop().Done() }

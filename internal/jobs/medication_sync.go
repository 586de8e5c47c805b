package jobs

import (
	"context"
	"log"
	"time"
)

// MedicationReloader re-reads the medication file
type MedicationReloader interface {
	Reload() (bool, error)
	Path() string
}

// MedicationSyncJob re-reads the medication file on an interval. It backs
// up the file watcher, which misses changes on some network filesystems.
type MedicationSyncJob struct {
	store    MedicationReloader
	interval time.Duration
}

// NewMedicationSyncJob creates the periodic reload job
func NewMedicationSyncJob(store MedicationReloader, interval time.Duration) *MedicationSyncJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MedicationSyncJob{store: store, interval: interval}
}

// Run reloads the file. A changed schedule is picked up by the reminder
// service through the store's change signal.
func (j *MedicationSyncJob) Run(ctx context.Context) error {
	changed, err := j.store.Reload()
	if err != nil {
		return err
	}
	if changed {
		log.Printf("🔄 [MEDICATIONS] Periodic sync picked up changes in %s", j.store.Path())
	}
	return nil
}

// NextRunTime returns now plus the sync interval
func (j *MedicationSyncJob) NextRunTime(now time.Time) time.Time {
	return now.Add(j.interval)
}

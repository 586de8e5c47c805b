package jobs

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
)

// ResolvedPruner drops resolved dose instances from memory
type ResolvedPruner interface {
	PruneResolved(cutoff time.Time) int
}

// DoseRetentionJob trims resolved instances older than the retention
// window from the in-memory registry every night. The dose log keeps them.
type DoseRetentionJob struct {
	pruner        ResolvedPruner
	retentionDays int
	location      *time.Location
	clock         clockwork.Clock
}

// NewDoseRetentionJob creates the nightly prune job
func NewDoseRetentionJob(pruner ResolvedPruner, retentionDays int, loc *time.Location, clock clockwork.Clock) *DoseRetentionJob {
	if retentionDays < 1 {
		retentionDays = 1
	}
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DoseRetentionJob{pruner: pruner, retentionDays: retentionDays, location: loc, clock: clock}
}

// Run prunes instances scheduled before midnight retentionDays days ago
func (j *DoseRetentionJob) Run(ctx context.Context) error {
	cutoff := j.Cutoff(j.clock.Now())
	pruned := j.pruner.PruneResolved(cutoff)
	if pruned > 0 {
		log.Printf("🧹 [RETENTION] Pruned %d resolved doses scheduled before %s", pruned, cutoff.Format(time.RFC3339))
	}
	return nil
}

// Cutoff returns local midnight retentionDays days before now
func (j *DoseRetentionJob) Cutoff(now time.Time) time.Time {
	y, m, d := now.In(j.location).AddDate(0, 0, -j.retentionDays).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, j.location)
}

// NextRunTime returns 03:00 local time on the next day it has not passed
func (j *DoseRetentionJob) NextRunTime(now time.Time) time.Time {
	local := now.In(j.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), 3, 0, 0, 0, j.location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

package reminder

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"pillpal/internal/models"
)

// GocronScheduler is the LocalScheduler backed by a gocron scheduler. Every
// job runs on its own goroutine, so a slow callback never delays another
// trigger.
type GocronScheduler struct {
	scheduler gocron.Scheduler
	clock     clockwork.Clock

	mu   sync.Mutex
	jobs map[Handle]uuid.UUID
}

// NewGocronScheduler creates a scheduler firing daily jobs in loc
func NewGocronScheduler(loc *time.Location, clock clockwork.Clock) (*GocronScheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(loc),
		gocron.WithClock(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &GocronScheduler{
		scheduler: scheduler,
		clock:     clock,
		jobs:      make(map[Handle]uuid.UUID),
	}, nil
}

// Start begins firing jobs
func (g *GocronScheduler) Start() {
	g.scheduler.Start()
	log.Println("✅ [SCHEDULER] Local scheduler started")
}

// Shutdown stops the scheduler and waits for running jobs
func (g *GocronScheduler) Shutdown() error {
	log.Println("⏹️  [SCHEDULER] Stopping local scheduler...")
	return g.scheduler.Shutdown()
}

// ScheduleDaily registers fn to run every day at the given time
func (g *GocronScheduler) ScheduleDaily(at models.TimeOfDay, fn func()) (Handle, error) {
	job, err := g.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(at.Hour), uint(at.Minute), 0))),
		gocron.NewTask(fn),
		gocron.WithName("reminder@"+at.String()),
		gocron.WithTags("reminder"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create daily job at %s: %w", at, err)
	}

	return g.track(job.ID()), nil
}

// ScheduleOnce registers fn to run once after delay. The job forgets itself
// after running.
func (g *GocronScheduler) ScheduleOnce(delay time.Duration, fn func()) (Handle, error) {
	start := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		start = gocron.OneTimeJobStartDateTime(g.clock.Now().Add(delay))
	}

	var handle Handle
	registered := make(chan struct{})

	job, err := g.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			<-registered
			fn()
			g.forget(handle)
		}),
		gocron.WithName("timer"),
		gocron.WithTags("timer"),
	)
	if err != nil {
		close(registered)
		return "", fmt.Errorf("failed to create one-time job: %w", err)
	}

	handle = g.track(job.ID())
	close(registered)
	return handle, nil
}

// Cancel removes a job. Cancelling a job that already ran is not an error.
func (g *GocronScheduler) Cancel(h Handle) error {
	g.mu.Lock()
	id, exists := g.jobs[h]
	delete(g.jobs, h)
	g.mu.Unlock()

	if !exists {
		return nil
	}
	if err := g.scheduler.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		return fmt.Errorf("failed to remove job %s: %w", h, err)
	}
	return nil
}

// Pending returns the number of registered jobs
func (g *GocronScheduler) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.jobs)
}

func (g *GocronScheduler) track(id uuid.UUID) Handle {
	h := Handle(id.String())
	g.mu.Lock()
	g.jobs[h] = id
	g.mu.Unlock()
	return h
}

func (g *GocronScheduler) forget(h Handle) {
	if err := g.Cancel(h); err != nil {
		log.Printf("⚠️  [SCHEDULER] Failed to clean up one-time job %s: %v", h, err)
	}
}

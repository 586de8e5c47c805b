package reminder_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"pillpal/internal/models"
	"pillpal/internal/reminder"
	"pillpal/internal/reminder/remindertest"
)

const gocronWait = 2 * time.Second

func newGocronScheduler(t *testing.T, clock clockwork.FakeClock) *reminder.GocronScheduler {
	t.Helper()

	sched, err := reminder.NewGocronScheduler(time.UTC, clock)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	sched.Start()
	t.Cleanup(func() { sched.Shutdown() })
	return sched
}

// waitForTimers blocks until the scheduler has armed n timers on the clock
func waitForTimers(t *testing.T, clock clockwork.FakeClock, n int) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		clock.BlockUntil(n)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gocronWait):
		t.Fatalf("Timed out waiting for %d armed timers", n)
	}
}

func expectFire(t *testing.T, fired <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-fired:
		return at
	case <-time.After(gocronWait):
		t.Fatal("Expected the job to run")
		return time.Time{}
	}
}

func expectNoFire(t *testing.T, fired <-chan time.Time) {
	t.Helper()
	select {
	case at := <-fired:
		t.Fatalf("Unexpected run at %v", at)
	case <-time.After(100 * time.Millisecond):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(gocronWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGocronDailyJob(t *testing.T) {
	clock := clockwork.NewFakeClockAt(day.Add(7 * time.Hour))
	sched := newGocronScheduler(t, clock)

	fired := make(chan time.Time, 4)
	if _, err := sched.ScheduleDaily(morning, func() { fired <- clock.Now() }); err != nil {
		t.Fatalf("ScheduleDaily failed: %v", err)
	}
	waitForTimers(t, clock, 1)

	clock.Advance(59 * time.Minute)
	expectNoFire(t, fired)

	clock.Advance(time.Minute)
	if at := expectFire(t, fired); !at.Equal(day.Add(8 * time.Hour)) {
		t.Errorf("Expected run at 08:00, got %v", at)
	}

	// The job re-arms itself for the next day
	waitForTimers(t, clock, 1)
	clock.Advance(24 * time.Hour)
	if at := expectFire(t, fired); !at.Equal(day.Add(32 * time.Hour)) {
		t.Errorf("Expected run at 08:00 the next day, got %v", at)
	}
	if n := sched.Pending(); n != 1 {
		t.Errorf("Daily job must stay registered, got %d", n)
	}
}

func TestGocronOneTimeJobForgetsItself(t *testing.T) {
	clock := clockwork.NewFakeClockAt(day.Add(8 * time.Hour))
	sched := newGocronScheduler(t, clock)

	fired := make(chan time.Time, 1)
	h, err := sched.ScheduleOnce(15*time.Minute, func() { fired <- clock.Now() })
	if err != nil {
		t.Fatalf("ScheduleOnce failed: %v", err)
	}
	if n := sched.Pending(); n != 1 {
		t.Fatalf("Expected one pending job, got %d", n)
	}
	waitForTimers(t, clock, 1)

	clock.Advance(15 * time.Minute)
	expectFire(t, fired)
	eventually(t, "the one-time job to be forgotten", func() bool { return sched.Pending() == 0 })

	if err := sched.Cancel(h); err != nil {
		t.Errorf("Cancelling a job that already ran should succeed, got %v", err)
	}
}

func TestGocronOneTimeJobWithoutDelay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(day.Add(8 * time.Hour))
	sched := newGocronScheduler(t, clock)

	fired := make(chan time.Time, 1)
	if _, err := sched.ScheduleOnce(0, func() { fired <- clock.Now() }); err != nil {
		t.Fatalf("ScheduleOnce failed: %v", err)
	}

	expectFire(t, fired)
	eventually(t, "the immediate job to be forgotten", func() bool { return sched.Pending() == 0 })
}

func TestGocronCancelBeforeRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(day.Add(8 * time.Hour))
	sched := newGocronScheduler(t, clock)

	fired := make(chan time.Time, 1)
	h, err := sched.ScheduleOnce(15*time.Minute, func() { fired <- clock.Now() })
	if err != nil {
		t.Fatalf("ScheduleOnce failed: %v", err)
	}
	waitForTimers(t, clock, 1)

	if err := sched.Cancel(h); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if n := sched.Pending(); n != 0 {
		t.Errorf("Expected no pending job after cancel, got %d", n)
	}

	clock.Advance(30 * time.Minute)
	expectNoFire(t, fired)

	if err := sched.Cancel(h); err != nil {
		t.Errorf("Cancelling twice should succeed, got %v", err)
	}
}

func TestTrackerOverGocronScheduler(t *testing.T) {
	clock := clockwork.NewFakeClockAt(day.Add(8 * time.Hour))
	sched := newGocronScheduler(t, clock)
	doseLog := remindertest.NewMemoryLog()
	outcomes := make(chan models.DoseOutcome, 4)

	tracker := reminder.NewTracker(reminder.TrackerConfig{
		Clock:     clock,
		Location:  time.UTC,
		Scheduler: sched,
		Log:       doseLog,
		Prefs:     remindertest.NewPrefs(),
		Outcomes:  outcomes,
	})
	t.Cleanup(tracker.Stop)

	inst, err := tracker.Fire(context.Background(), remindertest.Amoxicillin(), morning)
	if err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	waitForTimers(t, clock, 1)

	clock.Advance(15*time.Minute - time.Second)
	time.Sleep(100 * time.Millisecond)
	if got, _ := tracker.Registry().Get(inst.ID); got.State != models.DoseStateNotified {
		t.Fatalf("Expected NOTIFIED at 08:14:59, got %s", got.State)
	}

	clock.Advance(time.Second)
	eventually(t, "the dose to be missed", func() bool {
		got, _ := tracker.Registry().Get(inst.ID)
		return got.State == models.DoseStateMissed
	})

	select {
	case outcome := <-outcomes:
		if outcome.Resolution != models.ResolutionMissed {
			t.Errorf("Expected missed outcome, got %s", outcome.Resolution)
		}
	case <-time.After(gocronWait):
		t.Fatal("Expected a missed outcome")
	}
	if n := doseLog.TerminalCount(inst.ID); n != 1 {
		t.Errorf("Expected one terminal record, got %d", n)
	}
}

package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pillpal/internal/logging"
	"pillpal/internal/models"
)

const (
	speechTimeout = 30 * time.Second

	// persistenceRetryDelay is how long a trigger or timer-driven transition
	// waits before trying again after the dose log rejected a write
	persistenceRetryDelay = time.Minute
)

// TrackerConfig holds the collaborators of a Tracker. Notifier, Speaker,
// Guard, Recorder and Outcomes are optional.
type TrackerConfig struct {
	Clock     clockwork.Clock
	Location  *time.Location
	Scheduler LocalScheduler
	Log       DoseLog
	Prefs     PreferenceSource
	Notifier  Notifier
	Speaker   Speaker
	Guard     FireGuard
	Recorder  Recorder
	Outcomes  chan<- models.DoseOutcome
}

// Tracker is the dose instance state machine. It is the only writer of the
// registry: every transition is logged before it becomes visible, and every
// terminal transition is handed to the outcomes channel exactly once.
type Tracker struct {
	clock     clockwork.Clock
	location  *time.Location
	scheduler LocalScheduler
	log       DoseLog
	prefs     PreferenceSource
	notifier  Notifier
	speaker   Speaker
	guard     FireGuard
	recorder  Recorder
	outcomes  chan<- models.DoseOutcome

	registry *Registry
	timers   *MissedDoseTimers

	// stopMu orders outcome sends against Stop, after which the outcomes
	// channel may be closed
	stopMu  sync.RWMutex
	stopped bool

	wg sync.WaitGroup
}

// NewTracker creates a state machine with an empty registry
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	t := &Tracker{
		clock:     cfg.Clock,
		location:  cfg.Location,
		scheduler: cfg.Scheduler,
		log:       cfg.Log,
		prefs:     cfg.Prefs,
		notifier:  cfg.Notifier,
		speaker:   cfg.Speaker,
		guard:     cfg.Guard,
		recorder:  cfg.Recorder,
		outcomes:  cfg.Outcomes,
		registry:  NewRegistry(),
	}
	t.timers = NewMissedDoseTimers(cfg.Clock, cfg.Scheduler, t.onMissedTimer)
	return t
}

// Registry exposes read access to tracked instances
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Timers exposes the missed-dose timer manager
func (t *Tracker) Timers() *MissedDoseTimers {
	return t.timers
}

// Wait blocks until background speech requests have finished
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Fire handles a reminder trigger for one time slot of entry. The instance
// identity comes from the most recent occurrence of the slot, so a late or
// repeated trigger resolves to the same instance. Returns the zero instance
// when the trigger is discarded.
func (t *Tracker) Fire(ctx context.Context, entry models.ScheduleEntry, at models.TimeOfDay) (models.DoseInstance, error) {
	now := t.now()
	scheduledAt := at.LastOccurrence(now)
	id := models.NewDoseInstanceID(entry.MedicationID, scheduledAt)

	if !entry.ActiveOn(id.Date) {
		log.Printf("⏭️  [REMINDER] Discarding trigger for inactive medication %s on %s", entry.MedicationID, id.Date)
		return models.DoseInstance{}, nil
	}

	s := t.registry.getOrCreate(id)
	s.mu.Lock()

	if s.inst.State != models.DoseStateScheduled {
		existing := s.inst
		s.mu.Unlock()
		logging.WithDose(id.String(), id.MedicationID).Debug("reusing existing dose instance", "state", existing.State)
		return existing, nil
	}

	claimed := false
	if t.guard != nil {
		ok, err := t.guard.ClaimFire(ctx, id)
		switch {
		case err != nil:
			log.Printf("⚠️  [REMINDER] Fire guard unavailable for %s, notifying anyway: %v", id, err)
		case !ok:
			s.mu.Unlock()
			log.Printf("⏭️  [REMINDER] Dose %s already notified by another instance", id)
			return models.DoseInstance{}, nil
		default:
			claimed = true
		}
	}

	prefs := t.prefs.Get()
	deadline := now.Add(prefs.MissedDoseTimeout())
	next := models.DoseInstance{
		ID:             id,
		MedicationName: entry.Name,
		Dosage:         entry.Dosage,
		Instructions:   entry.Instructions,
		State:          models.DoseStateNotified,
		ScheduledAt:    scheduledAt,
		NotifiedAt:     &now,
		DeadlineAt:     &deadline,
		UpdatedAt:      now,
	}

	if err := t.commit(ctx, s, next); err != nil {
		if claimed {
			if releaseErr := t.guard.ReleaseFire(ctx, id); releaseErr != nil {
				log.Printf("⚠️  [REMINDER] Failed to release fire claim for %s: %v", id, releaseErr)
			}
		}
		s.mu.Unlock()
		return models.DoseInstance{}, err
	}
	t.armLocked(next)
	s.mu.Unlock()

	log.Printf("💊 [REMINDER] %s notified, missed at %s", id, deadline.Format(time.Kitchen))
	t.announce(next, prefs, false)
	return next, nil
}

// ConfirmTaken resolves an open instance as taken. Confirming an instance
// that is already resolved is a no-op returning its current state.
func (t *Tracker) ConfirmTaken(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error) {
	s, err := t.open(id)
	if err != nil {
		return models.DoseInstance{}, err
	}

	s.mu.Lock()
	current := s.inst
	switch {
	case current.State == models.DoseStateScheduled:
		s.mu.Unlock()
		return models.DoseInstance{}, ErrUnknownInstance
	case current.State.IsTerminal():
		s.mu.Unlock()
		return current, nil
	}

	now := t.now()
	kind := classifyTaken(current, now)
	next, committed, err := t.resolveLocked(ctx, s, models.DoseStateTaken, kind, now)
	s.mu.Unlock()
	if err != nil {
		return current, err
	}

	if committed {
		t.notify(resolvedNotice(next))
		prefs := t.prefs.Get()
		if prefs.VoiceEnabled {
			t.speak(TakenSpeech(next, kind), prefs.VoiceLanguage)
		}
		t.publish(next)
	}
	return next, nil
}

// Skip resolves an open instance as deliberately skipped
func (t *Tracker) Skip(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error) {
	s, err := t.open(id)
	if err != nil {
		return models.DoseInstance{}, err
	}

	s.mu.Lock()
	current := s.inst
	switch {
	case current.State == models.DoseStateScheduled:
		s.mu.Unlock()
		return models.DoseInstance{}, ErrUnknownInstance
	case current.State.IsTerminal():
		s.mu.Unlock()
		return current, nil
	}

	next, committed, err := t.resolveLocked(ctx, s, models.DoseStateSkipped, models.ResolutionSkipped, t.now())
	s.mu.Unlock()
	if err != nil {
		return current, err
	}

	if committed {
		t.notify(resolvedNotice(next))
		t.publish(next)
	}
	return next, nil
}

// Snooze defers a notified instance by the snooze interval. The missed-dose
// timer is disarmed until the reminder fires again.
func (t *Tracker) Snooze(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error) {
	s, err := t.open(id)
	if err != nil {
		return models.DoseInstance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.inst
	switch {
	case current.State == models.DoseStateScheduled:
		return models.DoseInstance{}, ErrUnknownInstance
	case current.State != models.DoseStateNotified:
		return current, nil
	}

	prefs := t.prefs.Get()
	if prefs.MaxSnoozes > 0 && current.SnoozeCount >= prefs.MaxSnoozes {
		return current, fmt.Errorf("%w: %d of %d", ErrSnoozeLimit, current.SnoozeCount, prefs.MaxSnoozes)
	}

	now := t.now()
	next := current
	next.State = models.DoseStateSnoozed
	next.SnoozeCount++
	next.DeadlineAt = nil
	next.UpdatedAt = now

	generation := next.SnoozeCount
	wake, err := t.scheduler.ScheduleOnce(prefs.SnoozeInterval(), func() {
		t.wake(id, generation)
	})
	if err != nil {
		return current, fmt.Errorf("failed to schedule snooze for %s: %w", id, err)
	}

	if err := t.commit(ctx, s, next); err != nil {
		t.cancelHandle(wake)
		return current, err
	}

	t.timers.Cancel(id)
	s.wake = wake

	log.Printf("😴 [REMINDER] %s snoozed (%d) for %v", id, next.SnoozeCount, prefs.SnoozeInterval())
	return next, nil
}

// Restore installs an instance rebuilt from the dose log and re-arms the
// timer or snooze wake-up it was waiting on. Returns false if the registry
// already tracks the instance.
func (t *Tracker) Restore(inst models.DoseInstance) bool {
	s, added := t.registry.restore(inst)
	if !added {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch inst.State {
	case models.DoseStateNotified:
		if inst.NotifiedAt == nil {
			return true
		}
		if inst.DeadlineAt == nil {
			deadline := inst.NotifiedAt.Add(t.prefs.Get().MissedDoseTimeout())
			s.inst.DeadlineAt = &deadline
		}
		t.armLocked(s.inst)

	case models.DoseStateSnoozed:
		delay := inst.UpdatedAt.Add(t.prefs.Get().SnoozeInterval()).Sub(t.now())
		if delay < 0 {
			delay = 0
		}
		generation := inst.SnoozeCount
		wake, err := t.scheduler.ScheduleOnce(delay, func() {
			t.wake(inst.ID, generation)
		})
		if err != nil {
			log.Printf("❌ [REMINDER] Failed to restore snooze for %s: %v", inst.ID, err)
			return true
		}
		s.wake = wake
	}
	return true
}

// Stop disarms every missed-dose timer and snooze wake-up
func (t *Tracker) Stop() {
	t.stopMu.Lock()
	t.stopped = true
	t.stopMu.Unlock()

	t.timers.CancelAll()
	t.registry.each(func(s *slot) {
		if s.wake != "" {
			t.cancelHandle(s.wake)
			s.wake = ""
		}
	})
}

// wake returns a snoozed instance to NOTIFIED with a fresh missed-dose
// window. generation is the snooze count the wake-up was scheduled for.
func (t *Tracker) wake(id models.DoseInstanceID, generation int) {
	s, exists := t.registry.lookup(id)
	if !exists {
		return
	}

	s.mu.Lock()
	current := s.inst
	if current.State != models.DoseStateSnoozed || current.SnoozeCount != generation {
		s.mu.Unlock()
		return
	}
	s.wake = ""

	prefs := t.prefs.Get()
	now := t.now()
	deadline := now.Add(prefs.MissedDoseTimeout())

	next := current
	next.State = models.DoseStateNotified
	next.NotifiedAt = &now
	next.DeadlineAt = &deadline
	next.UpdatedAt = now

	if err := t.commit(context.Background(), s, next); err != nil {
		log.Printf("❌ [REMINDER] Failed to re-notify snoozed dose %s: %v", id, err)
		if retry, err := t.scheduler.ScheduleOnce(persistenceRetryDelay, func() { t.wake(id, generation) }); err == nil {
			s.wake = retry
		}
		s.mu.Unlock()
		return
	}
	t.armLocked(next)
	s.mu.Unlock()

	log.Printf("⏰ [REMINDER] %s re-notified after snooze", id)
	t.announce(next, prefs, true)
}

// onMissedTimer is the missed-dose check. It only acts on an instance that
// is still NOTIFIED for the same notify time the timer was armed for.
func (t *Tracker) onMissedTimer(id models.DoseInstanceID, token time.Time) {
	s, exists := t.registry.lookup(id)
	if !exists {
		return
	}

	logger := logging.WithDose(id.String(), id.MedicationID)

	s.mu.Lock()
	current := s.inst
	if current.State != models.DoseStateNotified || current.NotifiedAt == nil || !current.NotifiedAt.Equal(token) {
		s.mu.Unlock()
		logger.Debug("discarding stale missed-dose timer", "state", current.State)
		return
	}

	now := t.now()
	if current.DeadlineAt != nil && now.Before(*current.DeadlineAt) {
		if err := t.timers.Arm(id, token, *current.DeadlineAt); err != nil {
			log.Printf("❌ [REMINDER] Failed to re-arm early missed-dose timer for %s: %v", id, err)
		}
		s.mu.Unlock()
		return
	}

	next, committed, err := t.resolveLocked(context.Background(), s, models.DoseStateMissed, models.ResolutionMissed, now)
	if err != nil {
		log.Printf("❌ [REMINDER] Failed to record missed dose %s, retrying in %v: %v", id, persistenceRetryDelay, err)
		if err := t.timers.Arm(id, token, now.Add(persistenceRetryDelay)); err != nil {
			log.Printf("❌ [REMINDER] Failed to re-arm missed-dose timer for %s: %v", id, err)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !committed {
		return
	}

	log.Printf("⚠️  [REMINDER] %s missed", id)
	t.notify(missedNotice(next))
	prefs := t.prefs.Get()
	if prefs.VoiceEnabled {
		t.speak(MissedSpeech(next), prefs.VoiceLanguage)
	}
	t.publish(next)
}

// resolveLocked moves the instance held by s to a terminal state. committed
// is false when the log already held a terminal record for the identity, in
// which case the instance is closed without side effects.
func (t *Tracker) resolveLocked(ctx context.Context, s *slot, state models.DoseState, kind models.ResolutionKind, now time.Time) (models.DoseInstance, bool, error) {
	next := s.inst
	next.State = state
	next.Resolution = kind
	next.ResolvedAt = &now
	next.UpdatedAt = now

	err := t.commit(ctx, s, next)
	switch {
	case errors.Is(err, models.ErrAlreadyRecorded):
		t.releaseLocked(s)
		s.inst = next
		logging.WithDose(next.ID.String(), next.ID.MedicationID).Warn("terminal transition already recorded, skipping side effects", "resolution", kind)
		return next, false, nil
	case err != nil:
		return s.inst, false, err
	}

	t.releaseLocked(s)
	return next, true, nil
}

// commit writes the transition to the dose log and, only if that succeeds,
// makes it the instance's current state
func (t *Tracker) commit(ctx context.Context, s *slot, next models.DoseInstance) error {
	event := models.NewDoseEvent(next, next.UpdatedAt)
	if err := t.log.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("%w: %s transition for %s: %w", ErrPersistence, next.State, next.ID, err)
	}

	s.inst = next
	if t.recorder != nil {
		t.recorder.DoseTransition(next.State, next.Resolution)
	}
	logging.WithDose(next.ID.String(), next.ID.MedicationID).Info("dose transition",
		slog.String("state", string(next.State)),
		slog.String("resolution", string(next.Resolution)),
		slog.Int("snooze_count", next.SnoozeCount))
	return nil
}

// releaseLocked disarms everything pending for the instance held by s
func (t *Tracker) releaseLocked(s *slot) {
	t.timers.Cancel(s.inst.ID)
	if s.wake != "" {
		t.cancelHandle(s.wake)
		s.wake = ""
	}
}

func (t *Tracker) armLocked(inst models.DoseInstance) {
	if err := t.timers.Arm(inst.ID, *inst.NotifiedAt, *inst.DeadlineAt); err != nil {
		log.Printf("❌ [REMINDER] %v", err)
	}
}

func (t *Tracker) open(id models.DoseInstanceID) (*slot, error) {
	t.stopMu.RLock()
	stopped := t.stopped
	t.stopMu.RUnlock()
	if stopped {
		return nil, ErrStopped
	}

	s, exists := t.registry.lookup(id)
	if !exists {
		return nil, ErrUnknownInstance
	}
	return s, nil
}

func (t *Tracker) announce(inst models.DoseInstance, prefs models.Preferences, snoozed bool) {
	t.notify(reminderNotice(inst, snoozed))
	if prefs.VoiceEnabled {
		t.speak(ReminderSpeech(inst, prefs), prefs.VoiceLanguage)
	}
}

func (t *Tracker) notify(notice models.ReminderNotice) {
	if t.notifier != nil {
		t.notifier.Notify(notice)
	}
}

// speak runs the speech request on its own goroutine
func (t *Tracker) speak(u Utterance, language string) {
	if t.speaker == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), speechTimeout)
		defer cancel()

		if err := t.speaker.Speak(ctx, u.Text, language, u.Rate, u.Pitch); err != nil {
			log.Printf("⚠️  [REMINDER] Speech failed: %v", err)
		}
	}()
}

func (t *Tracker) publish(inst models.DoseInstance) {
	if t.outcomes == nil {
		return
	}

	t.stopMu.RLock()
	defer t.stopMu.RUnlock()
	if t.stopped {
		log.Printf("⚠️  [REMINDER] Stopped, not escalating %s (%s)", inst.ID, inst.Resolution)
		return
	}
	t.outcomes <- models.DoseOutcome{Instance: inst, Resolution: inst.Resolution, At: inst.UpdatedAt}
}

func (t *Tracker) cancelHandle(h Handle) {
	if err := t.scheduler.Cancel(h); err != nil {
		log.Printf("⚠️  [REMINDER] Failed to cancel snooze wake-up: %v", err)
	}
}

func (t *Tracker) now() time.Time {
	return t.clock.Now().In(t.location)
}

// classifyTaken decides how a confirmation resolves. The deadline is
// inclusive: a confirmation at exactly the deadline is on time.
func classifyTaken(inst models.DoseInstance, now time.Time) models.ResolutionKind {
	if inst.State == models.DoseStateSnoozed {
		return models.ResolutionSnoozedThenTaken
	}
	if inst.DeadlineAt != nil && now.After(*inst.DeadlineAt) {
		return models.ResolutionTakenLate
	}
	if inst.SnoozeCount > 0 {
		return models.ResolutionSnoozedThenTaken
	}
	return models.ResolutionTakenOnTime
}

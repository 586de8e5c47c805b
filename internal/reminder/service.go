package reminder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pillpal/internal/models"
)

const triggerTimeout = 30 * time.Second

// PreferenceStore is the durable preference store the service reads and updates
type PreferenceStore interface {
	PreferenceSource
	Update(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error)
}

// Service is the reminder core as seen by the rest of the application:
// it owns the state machine and the reminder scheduler and keeps them in
// sync with the medication store.
type Service struct {
	tracker     *Tracker
	scheduler   *ReminderScheduler
	local       LocalScheduler
	medications MedicationStore
	prefs       PreferenceStore
	log         DoseLog
	location    *time.Location

	retryMu sync.Mutex
	retries map[Handle]models.DoseInstanceID
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a tracker and reminder scheduler over the given collaborators
func NewService(cfg TrackerConfig, medications MedicationStore, prefs PreferenceStore) *Service {
	cfg.Prefs = prefs
	tracker := NewTracker(cfg)

	s := &Service{
		tracker:     tracker,
		local:       cfg.Scheduler,
		medications: medications,
		prefs:       prefs,
		log:         cfg.Log,
		location:    tracker.location,
		retries:     make(map[Handle]models.DoseInstanceID),
	}
	s.scheduler = NewReminderScheduler(cfg.Scheduler, s.onTrigger)
	return s
}

// Start rehydrates the registry from the dose log, arms the active
// medications and starts following medication store changes.
func (s *Service) Start(ctx context.Context) error {
	log.Println("⏰ [REMINDER] Starting reminder service...")

	restored, err := s.rehydrate(ctx)
	if err != nil {
		return err
	}
	log.Printf("✅ [REMINDER] Restored %d dose instances from the log", restored)

	if err := s.Reconcile(ctx); err != nil {
		log.Printf("⚠️  [REMINDER] Initial reconcile incomplete: %v", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if changes := s.medications.Changes(); changes != nil {
		s.wg.Add(1)
		go s.watch(watchCtx, changes)
	}

	log.Println("✅ [REMINDER] Reminder service started")
	return nil
}

// Stop stops following changes and disarms triggers and pending timers
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.cancelRetries()
	s.scheduler.DisarmAll()
	s.tracker.Stop()
	s.tracker.Wait()
	log.Println("✅ [REMINDER] Reminder service stopped")
}

// ConfirmTaken records that the user took the dose
func (s *Service) ConfirmTaken(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error) {
	return s.tracker.ConfirmTaken(ctx, id)
}

// Skip records that the user chose not to take the dose
func (s *Service) Skip(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error) {
	return s.tracker.Skip(ctx, id)
}

// Snooze defers the reminder by the snooze interval
func (s *Service) Snooze(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error) {
	return s.tracker.Snooze(ctx, id)
}

// Get returns a notified instance
func (s *Service) Get(id models.DoseInstanceID) (models.DoseInstance, bool) {
	return s.tracker.Registry().Get(id)
}

// List returns the instances of a calendar day
func (s *Service) List(date string) []models.DoseInstance {
	return s.tracker.Registry().List(date)
}

// Upcoming lists the next fire of every armed slot
func (s *Service) Upcoming() []models.UpcomingDose {
	return s.scheduler.Upcoming(s.tracker.now())
}

// Preferences returns the preferences in effect
func (s *Service) Preferences() models.Preferences {
	return s.prefs.Get()
}

// OnPreferenceChanged merges a partial preference change. Instances already
// notified keep the deadline they were given; the new timeout and snooze
// interval apply from the next notification.
func (s *Service) OnPreferenceChanged(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error) {
	return s.prefs.Update(ctx, update)
}

// Reconcile re-derives the armed triggers from the medication store
func (s *Service) Reconcile(ctx context.Context) error {
	entries, err := s.medications.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active medications: %w", err)
	}
	return s.scheduler.Reconcile(entries)
}

// PruneResolved drops resolved instances scheduled before cutoff from memory
func (s *Service) PruneResolved(cutoff time.Time) int {
	return s.tracker.Registry().PruneResolved(cutoff)
}

// OpenCount returns the number of instances awaiting an answer
func (s *Service) OpenCount() int {
	return s.tracker.Registry().Open()
}

// TriggerCount returns the number of armed daily triggers
func (s *Service) TriggerCount() int {
	return s.scheduler.TriggerCount()
}

// rehydrate restores the latest state of every instance in the log. Resolved
// instances older than yesterday are left in the log only.
func (s *Service) rehydrate(ctx context.Context) (int, error) {
	events, err := s.log.LoadEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load dose events: %w", err)
	}

	latest := make(map[models.DoseInstanceID]*models.DoseEvent, len(events))
	for _, event := range events {
		prev, exists := latest[event.InstanceID]
		if exists && prev.IsTerminal() && !event.IsTerminal() {
			continue
		}
		latest[event.InstanceID] = event
	}

	now := s.tracker.now()
	y, m, d := now.AddDate(0, 0, -1).Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, s.location)

	restored := 0
	for _, event := range latest {
		inst := event.Instance()
		if inst.State.IsTerminal() && inst.ScheduledAt.Before(cutoff) {
			continue
		}
		if s.tracker.Restore(inst) {
			restored++
		}
	}
	return restored, nil
}

func (s *Service) onTrigger(entry models.ScheduleEntry, at models.TimeOfDay) {
	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	if _, err := s.tracker.Fire(ctx, entry, at); err != nil {
		id := models.NewDoseInstanceID(entry.MedicationID, at.LastOccurrence(s.tracker.now()))
		log.Printf("❌ [REMINDER] Reminder %s failed, retrying in %v: %v", id, persistenceRetryDelay, err)
		s.retryTrigger(id, at)
	}
}

// retryTrigger fires the slot again after persistenceRetryDelay. The retry
// goes through the armed check, and is dropped once the slot's identity has
// moved on to the next day.
func (s *Service) retryTrigger(id models.DoseInstanceID, at models.TimeOfDay) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	if s.stopped {
		return
	}

	var handle Handle
	handle, err := s.local.ScheduleOnce(persistenceRetryDelay, func() {
		s.retryMu.Lock()
		_, pending := s.retries[handle]
		delete(s.retries, handle)
		s.retryMu.Unlock()
		if !pending {
			return
		}

		if current := models.NewDoseInstanceID(id.MedicationID, at.LastOccurrence(s.tracker.now())); current != id {
			log.Printf("⏭️  [REMINDER] Dropping retry for %s, the slot has passed", id)
			return
		}
		s.scheduler.trigger(id.MedicationID, at)
	})
	if err != nil {
		log.Printf("❌ [REMINDER] Failed to schedule retry for %s: %v", id, err)
		return
	}
	s.retries[handle] = id
}

// PendingRetries returns the number of reminders waiting to be fired again
func (s *Service) PendingRetries() int {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	return len(s.retries)
}

func (s *Service) cancelRetries() {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	s.stopped = true
	for handle, id := range s.retries {
		if err := s.local.Cancel(handle); err != nil {
			log.Printf("⚠️  [REMINDER] Failed to cancel retry for %s: %v", id, err)
		}
		delete(s.retries, handle)
	}
}

func (s *Service) watch(ctx context.Context, changes <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := s.Reconcile(ctx); err != nil {
				log.Printf("⚠️  [REMINDER] Reconcile after medication change failed: %v", err)
			}
		}
	}
}

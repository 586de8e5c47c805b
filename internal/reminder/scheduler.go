package reminder

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"pillpal/internal/models"
)

// armedMedication is the set of daily triggers registered for one medication
type armedMedication struct {
	entry    models.ScheduleEntry
	triggers map[models.TimeOfDay]Handle
}

// ReminderScheduler keeps one recurring daily trigger per (medication, time)
// slot registered with the local scheduler.
type ReminderScheduler struct {
	scheduler LocalScheduler
	fire      func(entry models.ScheduleEntry, at models.TimeOfDay)

	mu    sync.Mutex
	armed map[string]*armedMedication
}

// NewReminderScheduler creates a scheduler that calls fire for each trigger
func NewReminderScheduler(scheduler LocalScheduler, fire func(models.ScheduleEntry, models.TimeOfDay)) *ReminderScheduler {
	return &ReminderScheduler{
		scheduler: scheduler,
		fire:      fire,
		armed:     make(map[string]*armedMedication),
	}
}

// Arm registers the daily triggers of entry. Re-arming an armed medication
// only touches the time slots that changed.
func (r *ReminderScheduler) Arm(entry models.ScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.armLocked(entry)
}

// Disarm removes every trigger of a medication
func (r *ReminderScheduler) Disarm(medicationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disarmLocked(medicationID)
}

// DisarmAll removes every trigger
func (r *ReminderScheduler) DisarmAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for medicationID := range r.armed {
		r.disarmLocked(medicationID)
	}
}

// Reconcile makes the armed triggers match the active entries: new slots are
// armed, removed or deactivated ones disarmed, and unchanged slots left
// registered so no fire is lost.
func (r *ReminderScheduler) Reconcile(active []models.ScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]models.ScheduleEntry, len(active))
	var errs []error
	for _, entry := range active {
		if !entry.Active {
			continue
		}
		if err := entry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidEntry, err))
			continue
		}
		wanted[entry.MedicationID] = entry
	}

	for medicationID := range r.armed {
		if _, keep := wanted[medicationID]; !keep {
			r.disarmLocked(medicationID)
		}
	}

	for _, entry := range wanted {
		if err := r.armLocked(entry); err != nil {
			errs = append(errs, err)
		}
	}

	log.Printf("🔄 [REMINDER] Reconciled %d medications (%d triggers armed)", len(r.armed), r.triggerCountLocked())
	return errors.Join(errs...)
}

// Upcoming lists the next fire of every armed slot after the given time
func (r *ReminderScheduler) Upcoming(after time.Time) []models.UpcomingDose {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doses []models.UpcomingDose
	for _, med := range r.armed {
		for at := range med.triggers {
			next, err := at.NextOccurrence(after)
			if err != nil {
				continue
			}
			doses = append(doses, models.UpcomingDose{
				MedicationID: med.entry.MedicationID,
				Name:         med.entry.Name,
				Dosage:       med.entry.Dosage,
				Time:         at,
				NextRunAt:    next,
			})
		}
	}

	sort.Slice(doses, func(i, j int) bool {
		if !doses[i].NextRunAt.Equal(doses[j].NextRunAt) {
			return doses[i].NextRunAt.Before(doses[j].NextRunAt)
		}
		return doses[i].MedicationID < doses[j].MedicationID
	})
	return doses
}

// TriggerCount returns the number of registered daily triggers
func (r *ReminderScheduler) TriggerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggerCountLocked()
}

func (r *ReminderScheduler) armLocked(entry models.ScheduleEntry) error {
	med, exists := r.armed[entry.MedicationID]
	if !exists {
		med = &armedMedication{triggers: make(map[models.TimeOfDay]Handle)}
		r.armed[entry.MedicationID] = med
	}
	med.entry = entry

	for at, handle := range med.triggers {
		if !entry.HasTime(at) {
			r.cancel(entry.MedicationID, at, handle)
			delete(med.triggers, at)
		}
	}

	var errs []error
	for _, at := range entry.Times {
		if _, armed := med.triggers[at]; armed {
			continue
		}

		medicationID, slotTime := entry.MedicationID, at
		handle, err := r.scheduler.ScheduleDaily(at, func() {
			r.trigger(medicationID, slotTime)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to arm %s at %s: %w", medicationID, at, err))
			continue
		}
		med.triggers[at] = handle
		log.Printf("📅 [REMINDER] Armed %s (%s) daily at %s", entry.Name, entry.MedicationID, at)
	}

	if len(med.triggers) == 0 {
		delete(r.armed, entry.MedicationID)
	}
	return errors.Join(errs...)
}

func (r *ReminderScheduler) disarmLocked(medicationID string) {
	med, exists := r.armed[medicationID]
	if !exists {
		return
	}
	for at, handle := range med.triggers {
		r.cancel(medicationID, at, handle)
	}
	delete(r.armed, medicationID)
	log.Printf("🗑️  [REMINDER] Disarmed medication %s", medicationID)
}

// trigger runs on the local scheduler's goroutine. Fires for a slot that is
// no longer armed are discarded.
func (r *ReminderScheduler) trigger(medicationID string, at models.TimeOfDay) {
	r.mu.Lock()
	med, exists := r.armed[medicationID]
	if !exists {
		r.mu.Unlock()
		return
	}
	if _, armed := med.triggers[at]; !armed {
		r.mu.Unlock()
		return
	}
	entry := med.entry
	r.mu.Unlock()

	r.fire(entry, at)
}

func (r *ReminderScheduler) cancel(medicationID string, at models.TimeOfDay, h Handle) {
	if err := r.scheduler.Cancel(h); err != nil {
		log.Printf("⚠️  [REMINDER] Failed to cancel trigger %s at %s: %v", medicationID, at, err)
	}
}

func (r *ReminderScheduler) triggerCountLocked() int {
	count := 0
	for _, med := range r.armed {
		count += len(med.triggers)
	}
	return count
}

package reminder

import (
	"context"
	"time"

	"pillpal/internal/models"
)

// Handle identifies a trigger or timer registered with a LocalScheduler
type Handle string

// LocalScheduler fires callbacks at wall-clock times. Callbacks run on their
// own goroutines and must not assume any ordering between handles.
type LocalScheduler interface {
	ScheduleDaily(at models.TimeOfDay, fn func()) (Handle, error)
	ScheduleOnce(delay time.Duration, fn func()) (Handle, error)
	Cancel(h Handle) error
}

// DoseLog is the durable record of dose transitions
type DoseLog interface {
	AppendEvent(ctx context.Context, event *models.DoseEvent) error
	LoadEvents(ctx context.Context) ([]*models.DoseEvent, error)
}

// MedicationStore supplies the active schedule and signals when it changes
type MedicationStore interface {
	ListActive(ctx context.Context) ([]models.ScheduleEntry, error)
	Changes() <-chan struct{}
}

// PreferenceSource returns the preferences currently in effect
type PreferenceSource interface {
	Get() models.Preferences
}

// Notifier shows a visual notification to the user. Must not block.
type Notifier interface {
	Notify(notice models.ReminderNotice)
}

// Speaker plays a spoken message. Best effort.
type Speaker interface {
	Speak(ctx context.Context, text, language string, rate, pitch float64) error
}

// FireGuard lets only one process notify a given instance. A claim whose
// notification could not be recorded is released so another process may
// take it.
type FireGuard interface {
	ClaimFire(ctx context.Context, id models.DoseInstanceID) (bool, error)
	ReleaseFire(ctx context.Context, id models.DoseInstanceID) error
}

// Recorder observes committed transitions
type Recorder interface {
	DoseTransition(state models.DoseState, resolution models.ResolutionKind)
}

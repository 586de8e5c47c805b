package reminder

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pillpal/internal/models"
)

// armedTimer is the single missed-dose check armed for an instance
type armedTimer struct {
	gen    uint64
	handle Handle
	token  time.Time // notified-at the timer was armed for
	fireAt time.Time
}

// MissedDoseTimers keeps at most one armed missed-dose check per instance.
// Cancellation is advisory: a check already in flight still reaches onFire,
// which re-reads the instance before acting.
type MissedDoseTimers struct {
	clock     clockwork.Clock
	scheduler LocalScheduler
	onFire    func(id models.DoseInstanceID, token time.Time)

	mu    sync.Mutex
	seq   uint64
	armed map[models.DoseInstanceID]*armedTimer
}

// NewMissedDoseTimers creates a timer manager. onFire receives the instance
// and the notified-at time the timer was armed for.
func NewMissedDoseTimers(clock clockwork.Clock, scheduler LocalScheduler, onFire func(models.DoseInstanceID, time.Time)) *MissedDoseTimers {
	return &MissedDoseTimers{
		clock:     clock,
		scheduler: scheduler,
		onFire:    onFire,
		armed:     make(map[models.DoseInstanceID]*armedTimer),
	}
}

// Arm schedules the check for id at fireAt, replacing any armed check
func (m *MissedDoseTimers) Arm(id models.DoseInstanceID, token, fireAt time.Time) error {
	m.mu.Lock()
	var stale Handle
	if prev, exists := m.armed[id]; exists {
		stale = prev.handle
	}
	m.seq++
	gen := m.seq
	m.armed[id] = &armedTimer{gen: gen, token: token, fireAt: fireAt}
	m.mu.Unlock()

	if stale != "" {
		m.cancelHandle(id, stale)
	}

	delay := fireAt.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}

	handle, err := m.scheduler.ScheduleOnce(delay, func() {
		m.fire(id, gen, token)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.armed[id]
	if err != nil {
		if exists && current.gen == gen {
			delete(m.armed, id)
		}
		return fmt.Errorf("failed to arm missed-dose timer for %s: %w", id, err)
	}

	if exists && current.gen == gen {
		current.handle = handle
	} else if !exists || current.gen > gen {
		// Replaced or cancelled while registering
		go m.cancelHandle(id, handle)
	}
	return nil
}

// Cancel removes the armed check for id, if any
func (m *MissedDoseTimers) Cancel(id models.DoseInstanceID) {
	m.mu.Lock()
	timer, exists := m.armed[id]
	if exists {
		delete(m.armed, id)
	}
	m.mu.Unlock()

	if exists && timer.handle != "" {
		m.cancelHandle(id, timer.handle)
	}
}

// Armed reports the fire time of the check armed for id
func (m *MissedDoseTimers) Armed(id models.DoseInstanceID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer, exists := m.armed[id]
	if !exists {
		return time.Time{}, false
	}
	return timer.fireAt, true
}

// Len returns the number of armed checks
func (m *MissedDoseTimers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}

// CancelAll disarms every check
func (m *MissedDoseTimers) CancelAll() {
	m.mu.Lock()
	armed := m.armed
	m.armed = make(map[models.DoseInstanceID]*armedTimer)
	m.mu.Unlock()

	for id, timer := range armed {
		if timer.handle != "" {
			m.cancelHandle(id, timer.handle)
		}
	}
}

func (m *MissedDoseTimers) fire(id models.DoseInstanceID, gen uint64, token time.Time) {
	m.mu.Lock()
	if current, exists := m.armed[id]; exists && current.gen == gen {
		delete(m.armed, id)
	}
	m.mu.Unlock()

	m.onFire(id, token)
}

func (m *MissedDoseTimers) cancelHandle(id models.DoseInstanceID, h Handle) {
	if err := m.scheduler.Cancel(h); err != nil {
		log.Printf("⚠️  [REMINDER] Failed to cancel missed-dose timer for %s: %v", id, err)
	}
}

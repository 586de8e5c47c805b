// Package remindertest provides in-memory collaborators for exercising the
// reminder core with a fake clock.
package remindertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pillpal/internal/models"
	"pillpal/internal/reminder"
)

type job struct {
	seq   int
	at    time.Time
	daily bool
	fn    func()
}

// FakeScheduler is a LocalScheduler driven by a fake clock. Callbacks run
// synchronously inside Advance, in fire-time order.
type FakeScheduler struct {
	clock clockwork.FakeClock

	mu        sync.Mutex
	seq       int
	jobs      map[reminder.Handle]*job
	cancelled []func()
}

// NewFakeScheduler creates a scheduler bound to clock
func NewFakeScheduler(clock clockwork.FakeClock) *FakeScheduler {
	return &FakeScheduler{
		clock: clock,
		jobs:  make(map[reminder.Handle]*job),
	}
}

func (f *FakeScheduler) ScheduleDaily(at models.TimeOfDay, fn func()) (reminder.Handle, error) {
	now := f.clock.Now()
	next := at.On(now)
	if !next.After(now) {
		next = at.On(now.AddDate(0, 0, 1))
	}
	return f.add(next, true, fn), nil
}

func (f *FakeScheduler) ScheduleOnce(delay time.Duration, fn func()) (reminder.Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return f.add(f.clock.Now().Add(delay), false, fn), nil
}

func (f *FakeScheduler) Cancel(h reminder.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if j, exists := f.jobs[h]; exists {
		if !j.daily {
			f.cancelled = append(f.cancelled, j.fn)
		}
		delete(f.jobs, h)
	}
	return nil
}

// Advance moves the clock forward by d, running every job that comes due
func (f *FakeScheduler) Advance(d time.Duration) {
	target := f.clock.Now().Add(d)

	for {
		f.mu.Lock()
		var dueHandle reminder.Handle
		var due *job
		for h, j := range f.jobs {
			if j.at.After(target) {
				continue
			}
			if due == nil || j.at.Before(due.at) || (j.at.Equal(due.at) && j.seq < due.seq) {
				due, dueHandle = j, h
			}
		}
		if due == nil {
			f.mu.Unlock()
			break
		}

		at, fn := due.at, due.fn
		if due.daily {
			due.at = due.at.AddDate(0, 0, 1)
		} else {
			delete(f.jobs, dueHandle)
		}
		f.mu.Unlock()

		if wait := at.Sub(f.clock.Now()); wait > 0 {
			f.clock.Advance(wait)
		}
		fn()
	}

	if rest := target.Sub(f.clock.Now()); rest > 0 {
		f.clock.Advance(rest)
	}
}

// AdvanceTo moves the clock to t
func (f *FakeScheduler) AdvanceTo(t time.Time) {
	f.Advance(t.Sub(f.clock.Now()))
}

// RunCancelled invokes the callbacks of cancelled one-time jobs, as if they
// had already been in flight when they were cancelled
func (f *FakeScheduler) RunCancelled() {
	f.mu.Lock()
	fns := f.cancelled
	f.cancelled = nil
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Pending returns the number of registered jobs
func (f *FakeScheduler) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// Has reports whether h is still registered
func (f *FakeScheduler) Has(h reminder.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.jobs[h]
	return exists
}

func (f *FakeScheduler) add(at time.Time, daily bool, fn func()) reminder.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	h := reminder.Handle(fmt.Sprintf("job-%d", f.seq))
	f.jobs[h] = &job{seq: f.seq, at: at, daily: daily, fn: fn}
	return h
}

// MemoryLog is an in-memory dose log that enforces one terminal record per
// instance identity
type MemoryLog struct {
	mu       sync.Mutex
	events   []*models.DoseEvent
	outcomes []models.EscalationOutcome
	terminal map[models.DoseInstanceID]bool
	failure  error
}

// NewMemoryLog creates an empty log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{terminal: make(map[models.DoseInstanceID]bool)}
}

func (l *MemoryLog) AppendEvent(ctx context.Context, event *models.DoseEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failure != nil {
		return l.failure
	}
	if event.IsTerminal() {
		if l.terminal[event.InstanceID] {
			return models.ErrAlreadyRecorded
		}
		l.terminal[event.InstanceID] = true
	}

	copied := *event
	l.events = append(l.events, &copied)
	return nil
}

func (l *MemoryLog) LoadEvents(ctx context.Context) ([]*models.DoseEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failure != nil {
		return nil, l.failure
	}
	events := make([]*models.DoseEvent, len(l.events))
	for i, e := range l.events {
		copied := *e
		events[i] = &copied
	}
	return events, nil
}

func (l *MemoryLog) AppendOutcome(ctx context.Context, outcome *models.EscalationOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failure != nil {
		return l.failure
	}
	l.outcomes = append(l.outcomes, *outcome)
	return nil
}

// SetFailure makes every call fail with err until cleared with nil
func (l *MemoryLog) SetFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failure = err
}

// States returns the recorded states of one instance in order
func (l *MemoryLog) States(id models.DoseInstanceID) []models.DoseState {
	l.mu.Lock()
	defer l.mu.Unlock()

	var states []models.DoseState
	for _, e := range l.events {
		if e.InstanceID == id {
			states = append(states, e.State)
		}
	}
	return states
}

// TerminalCount returns how many terminal records exist for id
func (l *MemoryLog) TerminalCount(id models.DoseInstanceID) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.events {
		if e.InstanceID == id && e.IsTerminal() {
			count++
		}
	}
	return count
}

// EventCount returns the number of recorded transitions
func (l *MemoryLog) EventCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Outcomes returns the recorded escalation outcomes
func (l *MemoryLog) Outcomes() []models.EscalationOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.EscalationOutcome(nil), l.outcomes...)
}

// Prefs is a PreferenceStore held in memory
type Prefs struct {
	mu    sync.RWMutex
	prefs models.Preferences
}

// NewPrefs starts from the defaults
func NewPrefs() *Prefs {
	return &Prefs{prefs: models.DefaultPreferences()}
}

func (p *Prefs) Get() models.Preferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prefs
}

func (p *Prefs) Update(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := update.Apply(p.prefs)
	if err := next.Validate(); err != nil {
		return p.prefs, err
	}
	p.prefs = next
	return next, nil
}

// Set replaces the preferences
func (p *Prefs) Set(prefs models.Preferences) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs = prefs
}

// Notices records visual notifications
type Notices struct {
	mu      sync.Mutex
	notices []models.ReminderNotice
}

func (n *Notices) Notify(notice models.ReminderNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// All returns the notifications in order
func (n *Notices) All() []models.ReminderNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ReminderNotice(nil), n.notices...)
}

// Utterance is one recorded speech request
type Utterance struct {
	Text     string
	Language string
	Rate     float64
	Pitch    float64
}

// Speaker records speech requests
type Speaker struct {
	mu         sync.Mutex
	utterances []Utterance
	Err        error
}

func (s *Speaker) Speak(ctx context.Context, text, language string, rate, pitch float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, Utterance{Text: text, Language: language, Rate: rate, Pitch: pitch})
	return s.Err
}

// All returns the recorded requests
func (s *Speaker) All() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Utterance(nil), s.utterances...)
}

// Medications is a MedicationStore held in memory
type Medications struct {
	mu      sync.Mutex
	entries []models.ScheduleEntry
	changes chan struct{}
	err     error
}

// NewMedications creates a store holding entries
func NewMedications(entries ...models.ScheduleEntry) *Medications {
	return &Medications{entries: entries, changes: make(chan struct{}, 1)}
}

func (m *Medications) ListActive(ctx context.Context) ([]models.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	var active []models.ScheduleEntry
	for _, e := range m.entries {
		if e.Active {
			active = append(active, e)
		}
	}
	return active, nil
}

func (m *Medications) Changes() <-chan struct{} {
	return m.changes
}

// Set replaces the entries and signals a change
func (m *Medications) Set(entries ...models.ScheduleEntry) {
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// SetError makes ListActive fail
func (m *Medications) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Amoxicillin is the twice-daily entry used across tests
func Amoxicillin() models.ScheduleEntry {
	return models.ScheduleEntry{
		MedicationID: "amox",
		Name:         "Amoxicillin",
		Dosage:       "500mg",
		Times:        []models.TimeOfDay{{Hour: 8, Minute: 0}, {Hour: 20, Minute: 0}},
		Instructions: "Take after food",
		Active:       true,
	}
}

package reminder

import (
	"sort"
	"sync"
	"time"

	"pillpal/internal/models"
)

// slot holds one dose instance. All reads and writes of inst go through mu,
// which orders transitions for that instance.
type slot struct {
	mu   sync.Mutex
	inst models.DoseInstance

	// pending snooze wake-up, empty unless inst.State is SNOOZED
	wake Handle
}

// Registry is the in-memory map of dose instances. Entries start as SCHEDULED
// placeholders and are only ever advanced by the Tracker.
type Registry struct {
	mu    sync.RWMutex
	slots map[models.DoseInstanceID]*slot
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[models.DoseInstanceID]*slot),
	}
}

// getOrCreate returns the slot for id, creating a SCHEDULED placeholder if absent
func (r *Registry) getOrCreate(id models.DoseInstanceID) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.slots[id]
	if !exists {
		s = &slot{inst: models.DoseInstance{ID: id, State: models.DoseStateScheduled}}
		r.slots[id] = s
	}
	return s
}

func (r *Registry) lookup(id models.DoseInstanceID) (*slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.slots[id]
	return s, exists
}

// restore installs a rehydrated instance. An instance already present in
// memory wins over the log.
func (r *Registry) restore(inst models.DoseInstance) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.slots[inst.ID]; exists {
		return s, false
	}
	s := &slot{inst: inst}
	r.slots[inst.ID] = s
	return s, true
}

// Get returns a snapshot of a notified instance
func (r *Registry) Get(id models.DoseInstanceID) (models.DoseInstance, bool) {
	s, exists := r.lookup(id)
	if !exists {
		return models.DoseInstance{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inst.State == models.DoseStateScheduled {
		return models.DoseInstance{}, false
	}
	return s.inst, true
}

// List returns snapshots of all notified instances for a calendar day, in
// scheduled order. An empty date returns every instance.
func (r *Registry) List(date string) []models.DoseInstance {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for id, s := range r.slots {
		if date == "" || id.Date == date {
			slots = append(slots, s)
		}
	}
	r.mu.RUnlock()

	instances := make([]models.DoseInstance, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if s.inst.State != models.DoseStateScheduled {
			instances = append(instances, s.inst)
		}
		s.mu.Unlock()
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].ScheduledAt.Equal(instances[j].ScheduledAt) {
			return instances[i].ScheduledAt.Before(instances[j].ScheduledAt)
		}
		return instances[i].ID.MedicationID < instances[j].ID.MedicationID
	})
	return instances
}

// each calls fn for every slot with the slot locked
func (r *Registry) each(fn func(s *slot)) {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	for _, s := range slots {
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
	}
}

// Len returns the number of tracked instances, placeholders included
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Open returns the number of instances awaiting an answer
func (r *Registry) Open() int {
	open := 0
	r.each(func(s *slot) {
		if s.inst.State == models.DoseStateNotified || s.inst.State == models.DoseStateSnoozed {
			open++
		}
	})
	return open
}

// PruneResolved drops terminal instances scheduled before cutoff. Their
// record stays in the durable log.
func (r *Registry) PruneResolved(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, s := range r.slots {
		s.mu.Lock()
		drop := s.inst.State.IsTerminal() && s.inst.ScheduledAt.Before(cutoff)
		s.mu.Unlock()

		if drop {
			delete(r.slots, id)
			pruned++
		}
	}
	return pruned
}

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DoseState is the lifecycle state of a dose instance
type DoseState string

const (
	// DoseStateScheduled is virtual: the slot exists but has not been notified yet. Never persisted.
	DoseStateScheduled DoseState = "scheduled"
	DoseStateNotified  DoseState = "notified"
	DoseStateSnoozed   DoseState = "snoozed"
	DoseStateTaken     DoseState = "taken"
	DoseStateSkipped   DoseState = "skipped"
	DoseStateMissed    DoseState = "missed"
)

// IsTerminal reports whether no further transition is permitted
func (s DoseState) IsTerminal() bool {
	switch s {
	case DoseStateTaken, DoseStateSkipped, DoseStateMissed:
		return true
	}
	return false
}

// ResolutionKind records how a dose instance ended
type ResolutionKind string

const (
	ResolutionTakenOnTime      ResolutionKind = "taken_on_time"
	ResolutionTakenLate        ResolutionKind = "taken_late"
	ResolutionSnoozedThenTaken ResolutionKind = "snoozed_then_taken"
	ResolutionSkipped          ResolutionKind = "skipped"
	ResolutionMissed           ResolutionKind = "missed"
)

// EventCategory groups resolutions for caretaker subscriptions
type EventCategory string

const (
	EventMissed  EventCategory = "missed"
	EventTaken   EventCategory = "taken"
	EventSkipped EventCategory = "skipped"
)

// Category maps a resolution to the caretaker subscription it belongs to
func (k ResolutionKind) Category() EventCategory {
	switch k {
	case ResolutionMissed:
		return EventMissed
	case ResolutionSkipped:
		return EventSkipped
	default:
		return EventTaken
	}
}

// DoseInstanceID identifies one concrete occurrence of a schedule entry.
// It is derived only from the medication, calendar day and slot time, so
// re-arming after a restart reproduces the same identity.
type DoseInstanceID struct {
	MedicationID string
	Date         string // YYYY-MM-DD
	Time         TimeOfDay
}

// NewDoseInstanceID builds the identity for the slot occurring at scheduledAt
func NewDoseInstanceID(medicationID string, scheduledAt time.Time) DoseInstanceID {
	return DoseInstanceID{
		MedicationID: medicationID,
		Date:         scheduledAt.Format(DateLayout),
		Time:         TimeOfDay{Hour: scheduledAt.Hour(), Minute: scheduledAt.Minute()},
	}
}

// String renders the identity as <medicationID>@<date>T<HH:MM>
func (id DoseInstanceID) String() string {
	return fmt.Sprintf("%s@%sT%s", id.MedicationID, id.Date, id.Time)
}

// IsZero reports whether the identity is unset
func (id DoseInstanceID) IsZero() bool {
	return id == DoseInstanceID{}
}

// ParseDoseInstanceID parses the String form. The medication id may itself contain '@'.
func ParseDoseInstanceID(s string) (DoseInstanceID, error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return DoseInstanceID{}, fmt.Errorf("invalid dose instance id %q", s)
	}

	medicationID, rest := s[:at], s[at+1:]
	datePart, timePart, ok := strings.Cut(rest, "T")
	if !ok {
		return DoseInstanceID{}, fmt.Errorf("invalid dose instance id %q: missing time", s)
	}
	if _, err := time.Parse(DateLayout, datePart); err != nil {
		return DoseInstanceID{}, fmt.Errorf("invalid dose instance id %q: %w", s, err)
	}
	tod, err := ParseTimeOfDay(timePart)
	if err != nil {
		return DoseInstanceID{}, fmt.Errorf("invalid dose instance id %q: %w", s, err)
	}

	return DoseInstanceID{MedicationID: medicationID, Date: datePart, Time: tod}, nil
}

// MarshalText renders the String form so ids appear as plain strings in JSON
func (id DoseInstanceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the String form
func (id *DoseInstanceID) UnmarshalText(b []byte) error {
	parsed, err := ParseDoseInstanceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ScheduledAt returns the wall-clock instant of the slot in loc
func (id DoseInstanceID) ScheduledAt(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, id.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return id.Time.On(day), nil
}

// DoseInstance is one dated occurrence of a medication time and the unit of
// the adherence record. Instances are never deleted, only resolved.
type DoseInstance struct {
	ID             DoseInstanceID `json:"id"`
	MedicationName string         `json:"medicationName"`
	Dosage         string         `json:"dosage"`
	Instructions   string         `json:"instructions,omitempty"`
	State          DoseState      `json:"state"`
	ScheduledAt    time.Time      `json:"scheduledAt"`
	NotifiedAt     *time.Time     `json:"notifiedAt,omitempty"`
	DeadlineAt     *time.Time     `json:"deadlineAt,omitempty"` // notifiedAt + missed-dose timeout in effect when notified
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	Resolution     ResolutionKind `json:"resolution,omitempty"`
	SnoozeCount    int            `json:"snoozeCount"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Label is the "Name (Dosage)" form used in messages
func (d DoseInstance) Label() string {
	if d.Dosage == "" {
		return d.MedicationName
	}
	return fmt.Sprintf("%s (%s)", d.MedicationName, d.Dosage)
}

// DoseOutcome is a terminal transition handed to the escalation dispatcher
type DoseOutcome struct {
	Instance   DoseInstance   `json:"instance"`
	Resolution ResolutionKind `json:"resolution"`
	At         time.Time      `json:"at"`
}

// ErrAlreadyRecorded is returned by a dose log when a terminal transition
// for the same instance identity has already been written.
var ErrAlreadyRecorded = errors.New("terminal transition already recorded")

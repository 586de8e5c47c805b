package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DateLayout is the calendar-day format used in dose identities and duration windows
const DateLayout = "2006-01-02"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TimeOfDay is a wall-clock time within a day
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}

	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// Validate checks the hour and minute ranges
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour %d out of range", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute %d out of range", t.Minute)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText renders the time as "HH:MM"
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses "HH:MM"
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// On returns the instant this time of day occurs on the calendar day of date
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, date.Location())
}

// CronSpec returns the five-field daily cron expression for this time
func (t TimeOfDay) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

// LastOccurrence returns the most recent instant at or before now at which
// this time of day occurred. A trigger that fires a little late still maps
// to the day it was scheduled for.
func (t TimeOfDay) LastOccurrence(now time.Time) time.Time {
	candidate := t.On(now)
	if candidate.After(now) {
		candidate = t.On(now.AddDate(0, 0, -1))
	}
	return candidate
}

// NextOccurrence returns the next instant strictly after the given time
func (t TimeOfDay) NextOccurrence(after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(t.CronSpec())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron spec for %s: %w", t, err)
	}
	return schedule.Next(after), nil
}

// ScheduleEntry is one medication with its daily reminder times.
// Owned by the medication store; the reminder core only reads it.
type ScheduleEntry struct {
	MedicationID string      `json:"medicationId"`
	Name         string      `json:"name"`
	Dosage       string      `json:"dosage"`
	Times        []TimeOfDay `json:"times"`
	Instructions string      `json:"instructions,omitempty"`
	StartDate    string      `json:"startDate,omitempty"` // inclusive, YYYY-MM-DD
	EndDate      string      `json:"endDate,omitempty"`   // inclusive, YYYY-MM-DD
	Active       bool        `json:"active"`
}

// Validate checks required fields, times and the duration window
func (e ScheduleEntry) Validate() error {
	if e.MedicationID == "" {
		return fmt.Errorf("medication id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("medication %s: name is required", e.MedicationID)
	}
	if len(e.Times) == 0 {
		return fmt.Errorf("medication %s: at least one time is required", e.MedicationID)
	}

	seen := make(map[TimeOfDay]bool, len(e.Times))
	for _, t := range e.Times {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("medication %s: %w", e.MedicationID, err)
		}
		if seen[t] {
			return fmt.Errorf("medication %s: duplicate time %s", e.MedicationID, t)
		}
		seen[t] = true
	}

	for _, d := range []string{e.StartDate, e.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("medication %s: invalid date %q: %w", e.MedicationID, d, err)
		}
	}
	if e.StartDate != "" && e.EndDate != "" && e.EndDate < e.StartDate {
		return fmt.Errorf("medication %s: end date %s before start date %s", e.MedicationID, e.EndDate, e.StartDate)
	}

	return nil
}

// ActiveOn reports whether the entry is active and its window covers date (YYYY-MM-DD)
func (e ScheduleEntry) ActiveOn(date string) bool {
	if !e.Active {
		return false
	}
	if e.StartDate != "" && date < e.StartDate {
		return false
	}
	if e.EndDate != "" && date > e.EndDate {
		return false
	}
	return true
}

// HasTime reports whether t is one of the entry's reminder times
func (e ScheduleEntry) HasTime(t TimeOfDay) bool {
	for _, et := range e.Times {
		if et == t {
			return true
		}
	}
	return false
}

// UpcomingDose is a future reminder slot, used for schedule listings
type UpcomingDose struct {
	MedicationID string    `json:"medicationId"`
	Name         string    `json:"name"`
	Dosage       string    `json:"dosage"`
	Time         TimeOfDay `json:"time"`
	NextRunAt    time.Time `json:"nextRunAt"`
}

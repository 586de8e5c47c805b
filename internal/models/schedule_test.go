package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"08:00", TimeOfDay{8, 0}, false},
		{"20:30", TimeOfDay{20, 30}, false},
		{" 7:05 ", TimeOfDay{7, 5}, false},
		{"00:00", TimeOfDay{0, 0}, false},
		{"24:00", TimeOfDay{}, true},
		{"12:60", TimeOfDay{}, true},
		{"noon", TimeOfDay{}, true},
		{"12", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	entry := ScheduleEntry{MedicationID: "m1", Name: "Amoxicillin", Times: []TimeOfDay{{8, 0}, {20, 0}}}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ScheduleEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded.Times) != 2 || decoded.Times[1] != (TimeOfDay{20, 0}) {
		t.Errorf("Expected times to survive JSON, got %v (%s)", decoded.Times, data)
	}
}

func TestLastOccurrence(t *testing.T) {
	slot := TimeOfDay{8, 0}

	onTime := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if got := slot.LastOccurrence(onTime); !got.Equal(onTime) {
		t.Errorf("Expected %v, got %v", onTime, got)
	}

	late := time.Date(2026, 3, 10, 8, 0, 2, 0, time.UTC)
	if got := slot.LastOccurrence(late); !got.Equal(onTime) {
		t.Errorf("Late fire should map to the same slot, got %v", got)
	}

	// 23:59 slot delivered just after midnight belongs to the previous day
	nightSlot := TimeOfDay{23, 59}
	afterMidnight := time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)
	want := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	if got := nightSlot.LastOccurrence(afterMidnight); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestNextOccurrence(t *testing.T) {
	slot := TimeOfDay{20, 0}
	from := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	next, err := slot.NextOccurrence(from)
	if err != nil {
		t.Fatalf("NextOccurrence failed: %v", err)
	}
	want := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Expected %v, got %v", want, next)
	}

	next, _ = slot.NextOccurrence(want)
	if !next.Equal(want.AddDate(0, 0, 1)) {
		t.Errorf("Expected next day, got %v", next)
	}
}

func TestScheduleEntryValidate(t *testing.T) {
	valid := ScheduleEntry{
		MedicationID: "amox",
		Name:         "Amoxicillin",
		Dosage:       "500mg",
		Times:        []TimeOfDay{{8, 0}, {20, 0}},
		StartDate:    "2026-03-01",
		EndDate:      "2026-03-10",
		Active:       true,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid entry, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(e *ScheduleEntry)
	}{
		{"missing id", func(e *ScheduleEntry) { e.MedicationID = "" }},
		{"missing name", func(e *ScheduleEntry) { e.Name = "" }},
		{"no times", func(e *ScheduleEntry) { e.Times = nil }},
		{"duplicate time", func(e *ScheduleEntry) { e.Times = []TimeOfDay{{8, 0}, {8, 0}} }},
		{"bad date", func(e *ScheduleEntry) { e.StartDate = "03/01/2026" }},
		{"inverted window", func(e *ScheduleEntry) { e.EndDate = "2026-02-01" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			e.Times = append([]TimeOfDay(nil), valid.Times...)
			tt.mutate(&e)
			if err := e.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestScheduleEntryActiveOn(t *testing.T) {
	e := ScheduleEntry{Active: true, StartDate: "2026-03-01", EndDate: "2026-03-10"}

	cases := map[string]bool{
		"2026-02-28": false,
		"2026-03-01": true,
		"2026-03-10": true,
		"2026-03-11": false,
	}
	for date, want := range cases {
		if got := e.ActiveOn(date); got != want {
			t.Errorf("ActiveOn(%s) = %v, want %v", date, got, want)
		}
	}

	e.Active = false
	if e.ActiveOn("2026-03-05") {
		t.Error("Inactive entry should never be active")
	}
}

package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pillpal/internal/database"
	"pillpal/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "pillpal.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

var morning = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func notifiedAmoxicillin() models.DoseInstance {
	notified := morning
	deadline := morning.Add(15 * time.Minute)
	return models.DoseInstance{
		ID:             models.NewDoseInstanceID("amox", morning),
		MedicationName: "Amoxicillin",
		Dosage:         "500mg",
		Instructions:   "Take after food",
		State:          models.DoseStateNotified,
		ScheduledAt:    morning,
		NotifiedAt:     &notified,
		DeadlineAt:     &deadline,
		UpdatedAt:      notified,
	}
}

func resolve(inst models.DoseInstance, state models.DoseState, kind models.ResolutionKind, at time.Time) models.DoseInstance {
	inst.State = state
	inst.Resolution = kind
	inst.ResolvedAt = &at
	inst.UpdatedAt = at
	return inst
}

func TestDoseLogAppendAndLoad(t *testing.T) {
	log := NewDoseLogService(newTestDB(t))
	ctx := context.Background()

	inst := notifiedAmoxicillin()
	if err := log.AppendEvent(ctx, models.NewDoseEvent(inst, inst.UpdatedAt)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	taken := resolve(inst, models.DoseStateTaken, models.ResolutionTakenOnTime, morning.Add(3*time.Minute))
	if err := log.AppendEvent(ctx, models.NewDoseEvent(taken, taken.UpdatedAt)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := log.LoadEvents(ctx)
	if err != nil {
		t.Fatalf("LoadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	first, last := events[0], events[1]
	if first.State != models.DoseStateNotified || last.State != models.DoseStateTaken {
		t.Errorf("Expected notified then taken, got %s then %s", first.State, last.State)
	}
	if last.InstanceID != inst.ID {
		t.Errorf("Instance id not restored: %v", last.InstanceID)
	}
	if first.DeadlineAt == nil || !first.DeadlineAt.Equal(*inst.DeadlineAt) {
		t.Errorf("Deadline not restored: %v", first.DeadlineAt)
	}
	if first.ResolvedAt != nil {
		t.Errorf("Notified event should have no resolved time, got %v", first.ResolvedAt)
	}
	if got := last.Instance(); got.Resolution != models.ResolutionTakenOnTime || got.Instructions != "Take after food" {
		t.Errorf("Unexpected rebuilt instance %+v", got)
	}
}

func TestDoseLogSingleTerminalTransition(t *testing.T) {
	log := NewDoseLogService(newTestDB(t))
	ctx := context.Background()

	inst := notifiedAmoxicillin()
	missed := resolve(inst, models.DoseStateMissed, models.ResolutionMissed, morning.Add(15*time.Minute))
	if err := log.AppendEvent(ctx, models.NewDoseEvent(missed, missed.UpdatedAt)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	taken := resolve(inst, models.DoseStateTaken, models.ResolutionTakenLate, morning.Add(16*time.Minute))
	err := log.AppendEvent(ctx, models.NewDoseEvent(taken, taken.UpdatedAt))
	if !errors.Is(err, models.ErrAlreadyRecorded) {
		t.Fatalf("Expected ErrAlreadyRecorded, got %v", err)
	}

	// Non-terminal transitions are unrestricted
	for i := 0; i < 2; i++ {
		if err := log.AppendEvent(ctx, models.NewDoseEvent(inst, inst.UpdatedAt)); err != nil {
			t.Errorf("Non-terminal append %d failed: %v", i, err)
		}
	}
}

func TestDoseLogTerminalEvents(t *testing.T) {
	log := NewDoseLogService(newTestDB(t))
	ctx := context.Background()

	for i, day := range []int{9, 10, 11} {
		inst := notifiedAmoxicillin()
		inst.ScheduledAt = time.Date(2026, 3, day, 8, 0, 0, 0, time.UTC)
		inst.ID = models.NewDoseInstanceID("amox", inst.ScheduledAt)
		if err := log.AppendEvent(ctx, models.NewDoseEvent(inst, inst.ScheduledAt)); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
		done := resolve(inst, models.DoseStateSkipped, models.ResolutionSkipped, inst.ScheduledAt.Add(time.Minute))
		if err := log.AppendEvent(ctx, models.NewDoseEvent(done, done.UpdatedAt)); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
	}

	events, err := log.TerminalEvents(ctx, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("TerminalEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].InstanceID.Date != "2026-03-10" || events[0].State != models.DoseStateSkipped {
		t.Errorf("Expected the single resolution of 2026-03-10, got %+v", events)
	}

	history, err := log.History(ctx, models.NewDoseInstanceID("amox", time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)))
	if err != nil || len(history) != 2 {
		t.Errorf("Expected 2 history events, got %d (%v)", len(history), err)
	}
}

func TestDoseLogOutcomes(t *testing.T) {
	log := NewDoseLogService(newTestDB(t))
	ctx := context.Background()
	id := models.NewDoseInstanceID("amox", morning)

	outcomes := []models.EscalationOutcome{
		{ID: "o1", InstanceID: id, CaretakerID: "c1", Address: "+15550001", Body: "missed", Resolution: models.ResolutionMissed, Success: true, ProviderMessageID: "SM1", SentAt: morning.Add(15 * time.Minute)},
		{ID: "o2", InstanceID: id, CaretakerID: "c2", Address: "+15550002", Body: "missed", Resolution: models.ResolutionMissed, Error: "unreachable", SentAt: morning.Add(16 * time.Minute)},
	}
	for i := range outcomes {
		if err := log.AppendOutcome(ctx, &outcomes[i]); err != nil {
			t.Fatalf("AppendOutcome failed: %v", err)
		}
	}

	got, err := log.Outcomes(ctx, id)
	if err != nil {
		t.Fatalf("Outcomes failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(got))
	}
	if !got[0].Success || got[0].ProviderMessageID != "SM1" {
		t.Errorf("Unexpected first outcome %+v", got[0])
	}
	if got[1].Success || got[1].Error != "unreachable" || got[1].InstanceID != id {
		t.Errorf("Unexpected second outcome %+v", got[1])
	}
}

package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pillpal/internal/models"
)

const medicationsYAML = `
medications:
  - id: amox
    name: Amoxicillin
    dosage: 500mg
    times: ["08:00", "20:00"]
    instructions: Take after food
    start_date: "2026-03-01"
    end_date: "2026-03-14"
  - id: ibu
    name: Ibuprofen
    dosage: 200mg
    times: ["12:30"]
    active: false
caretakers:
  - id: c1
    name: Maya
    relationship: daughter
    phone: "+15550001"
    notify:
      taken: true
  - id: c2
    name: Dr. Lee
    phone: "+15550002"
    notify:
      missed: false
      skipped: true
`

func writeMedications(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write medications file: %v", err)
	}
}

func TestMedicationStoreLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medications.yaml")
	writeMedications(t, path, medicationsYAML)

	store := NewMedicationStore(path)
	changed, err := store.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !changed {
		t.Error("First load should report a change")
	}

	ctx := context.Background()
	active, _ := store.ListActive(ctx)
	if len(active) != 1 || active[0].MedicationID != "amox" {
		t.Fatalf("Expected only amox active, got %+v", active)
	}
	amox := active[0]
	if len(amox.Times) != 2 || amox.Times[1] != (models.TimeOfDay{Hour: 20}) {
		t.Errorf("Unexpected times %v", amox.Times)
	}
	if amox.StartDate != "2026-03-01" || amox.EndDate != "2026-03-14" {
		t.Errorf("Unexpected window %s..%s", amox.StartDate, amox.EndDate)
	}
	if n := len(store.All()); n != 2 {
		t.Errorf("Expected 2 entries in total, got %d", n)
	}

	caretakers, _ := store.Caretakers(ctx)
	if len(caretakers) != 2 {
		t.Fatalf("Expected 2 caretakers, got %d", len(caretakers))
	}
	maya, lee := caretakers[0], caretakers[1]
	if !maya.NotifyMissed || !maya.NotifyTaken || maya.NotifySkipped || maya.Address != "+15550001" {
		t.Errorf("Unexpected subscriptions for Maya: %+v", maya)
	}
	if lee.NotifyMissed || lee.NotifyTaken || !lee.NotifySkipped {
		t.Errorf("Unexpected subscriptions for Dr. Lee: %+v", lee)
	}

	select {
	case <-store.Changes():
	default:
		t.Error("Expected a change signal after the first load")
	}
}

func TestMedicationStoreReloadUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medications.yaml")
	writeMedications(t, path, medicationsYAML)

	store := NewMedicationStore(path)
	if _, err := store.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	<-store.Changes()

	changed, err := store.Reload()
	if err != nil || changed {
		t.Errorf("Identical content should not report a change (changed=%v, err=%v)", changed, err)
	}
	select {
	case <-store.Changes():
		t.Error("Unexpected change signal")
	default:
	}
}

func TestMedicationStoreKeepsPreviousOnError(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "medications: [\n"},
		{"bad time", "medications:\n  - id: x\n    name: X\n    times: [\"25:00\"]\n"},
		{"no times", "medications:\n  - id: x\n    name: X\n"},
		{"duplicate id", "medications:\n  - {id: x, name: X, times: [\"08:00\"]}\n  - {id: x, name: Y, times: [\"09:00\"]}\n"},
		{"caretaker without phone", "caretakers:\n  - id: c1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "medications.yaml")
			writeMedications(t, path, medicationsYAML)

			store := NewMedicationStore(path)
			if _, err := store.Reload(); err != nil {
				t.Fatalf("Reload failed: %v", err)
			}

			writeMedications(t, path, tt.content)
			if _, err := store.Reload(); err == nil {
				t.Fatal("Expected reload error")
			}

			active, _ := store.ListActive(context.Background())
			if len(active) != 1 {
				t.Errorf("Previous schedule should stay in effect, got %d entries", len(active))
			}
		})
	}
}

func TestMedicationStoreWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medications.yaml")
	writeMedications(t, path, medicationsYAML)

	store := NewMedicationStore(path)
	if _, err := store.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	<-store.Changes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeMedications(t, path, "medications:\n  - {id: ibu, name: Ibuprofen, dosage: 200mg, times: [\"12:30\"]}\n")

	select {
	case <-store.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload after file change")
	}

	active, _ := store.ListActive(context.Background())
	if len(active) != 1 || active[0].MedicationID != "ibu" {
		t.Errorf("Expected ibuprofen after reload, got %+v", active)
	}
}

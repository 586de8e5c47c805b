package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"pillpal/internal/models"
)

func seedResolutions(t *testing.T, log *DoseLogService, resolutions map[string][]models.ResolutionKind) {
	t.Helper()
	ctx := context.Background()

	for date, kinds := range resolutions {
		day, _ := time.Parse(models.DateLayout, date)
		for i, kind := range kinds {
			inst := notifiedAmoxicillin()
			inst.ScheduledAt = day.Add(time.Duration(8+i) * time.Hour)
			inst.ID = models.NewDoseInstanceID("amox", inst.ScheduledAt)

			state := models.DoseStateTaken
			switch kind {
			case models.ResolutionMissed:
				state = models.DoseStateMissed
			case models.ResolutionSkipped:
				state = models.DoseStateSkipped
			}
			done := resolve(inst, state, kind, inst.ScheduledAt.Add(5*time.Minute))
			if err := log.AppendEvent(ctx, models.NewDoseEvent(done, done.UpdatedAt)); err != nil {
				t.Fatalf("AppendEvent failed: %v", err)
			}
		}
	}
}

func TestAdherenceReport(t *testing.T) {
	log := NewDoseLogService(newTestDB(t))
	seedResolutions(t, log, map[string][]models.ResolutionKind{
		"2026-03-09": {models.ResolutionTakenOnTime, models.ResolutionTakenLate},
		"2026-03-10": {models.ResolutionTakenOnTime, models.ResolutionSnoozedThenTaken, models.ResolutionTakenOnTime, models.ResolutionTakenOnTime, models.ResolutionMissed},
		"2026-03-11": {models.ResolutionSkipped, models.ResolutionMissed},
		"2026-03-12": {models.ResolutionTakenOnTime},
	})

	svc := NewAdherenceService(log, time.UTC)
	report, err := svc.Report(context.Background(), "2026-03-09", "2026-03-11")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	if len(report.Days) != 3 {
		t.Fatalf("Expected 3 days, got %d", len(report.Days))
	}

	want := []struct {
		date string
		band string
	}{
		{"2026-03-09", models.AdherencePerfect},
		{"2026-03-10", models.AdherenceGood},
		{"2026-03-11", models.AdherencePoor},
	}
	for i, w := range want {
		if report.Days[i].Date != w.date || report.Days[i].Band != w.band {
			t.Errorf("Day %d: expected %s/%s, got %s/%s", i, w.date, w.band, report.Days[i].Date, report.Days[i].Band)
		}
	}
	if report.Total != 9 || report.Taken != 6 {
		t.Errorf("Expected 6/9 taken, got %d/%d", report.Taken, report.Total)
	}
}

func TestAdherenceReportInvalidRange(t *testing.T) {
	svc := NewAdherenceService(NewDoseLogService(newTestDB(t)), time.UTC)

	tests := []struct{ from, to string }{
		{"2026-03-10", "2026-03-09"},
		{"yesterday", "2026-03-09"},
		{"2024-01-01", "2026-01-01"},
	}
	for _, tt := range tests {
		if _, err := svc.Report(context.Background(), tt.from, tt.to); err == nil {
			t.Errorf("Expected error for %s..%s", tt.from, tt.to)
		}
	}
}

func TestAdherenceExportXLSX(t *testing.T) {
	log := NewDoseLogService(newTestDB(t))
	seedResolutions(t, log, map[string][]models.ResolutionKind{
		"2026-03-10": {models.ResolutionTakenOnTime, models.ResolutionMissed},
	})

	data, err := NewAdherenceService(log, time.UTC).ExportXLSX(context.Background(), "2026-03-10", "2026-03-10")
	if err != nil {
		t.Fatalf("ExportXLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	summary, err := f.GetRows("Summary")
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(summary) != 3 || summary[1][0] != "2026-03-10" || summary[1][1] != "2" || summary[2][0] != "Overall" {
		t.Errorf("Unexpected summary sheet %v", summary)
	}

	doses, err := f.GetRows("Doses")
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(doses) != 3 || doses[1][2] != "Amoxicillin" || doses[2][4] != "missed" {
		t.Errorf("Unexpected doses sheet %v", doses)
	}
}

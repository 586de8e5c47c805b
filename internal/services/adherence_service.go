package services

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"pillpal/internal/models"
)

// maxReportDays bounds a single adherence query
const maxReportDays = 366

// ResolutionSource reads resolved dose instances from the durable log
type ResolutionSource interface {
	TerminalEvents(ctx context.Context, from, to time.Time) ([]*models.DoseEvent, error)
}

// AdherenceService builds the adherence calendar from the dose log
type AdherenceService struct {
	source   ResolutionSource
	location *time.Location
}

// NewAdherenceService creates an adherence service reporting in loc
func NewAdherenceService(source ResolutionSource, loc *time.Location) *AdherenceService {
	if loc == nil {
		loc = time.Local
	}
	return &AdherenceService{source: source, location: loc}
}

// Report summarizes the doses scheduled between from and to (inclusive, YYYY-MM-DD)
func (s *AdherenceService) Report(ctx context.Context, from, to string) (*models.AdherenceReport, error) {
	report, _, err := s.load(ctx, from, to)
	return report, err
}

func (s *AdherenceService) load(ctx context.Context, from, to string) (*models.AdherenceReport, []*models.DoseEvent, error) {
	start, err := time.ParseInLocation(models.DateLayout, from, s.location)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	end, err := time.ParseInLocation(models.DateLayout, to, s.location)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, nil, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	if end.Sub(start) > maxReportDays*24*time.Hour {
		return nil, nil, fmt.Errorf("range exceeds %d days", maxReportDays)
	}

	events, err := s.source.TerminalEvents(ctx, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load resolutions: %w", err)
	}

	byDate := make(map[string]*models.DaySummary)
	var order []string
	for _, e := range events {
		date := e.InstanceID.Date
		day, ok := byDate[date]
		if !ok {
			day = &models.DaySummary{Date: date}
			byDate[date] = day
			order = append(order, date)
		}
		day.Add(e.Resolution)
	}

	report := &models.AdherenceReport{From: from, To: to, Days: make([]models.DaySummary, 0, len(order))}
	for _, date := range order {
		day := byDate[date]
		report.Days = append(report.Days, *day)
		report.Total += day.Total
		report.Taken += day.Taken()
	}
	if report.Total > 0 {
		report.OverallRate = float64(report.Taken) / float64(report.Total)
	}
	return report, events, nil
}

// ExportXLSX renders the report as a workbook with a per-day summary sheet
// and a per-dose detail sheet
func (s *AdherenceService) ExportXLSX(ctx context.Context, from, to string) ([]byte, error) {
	report, events, err := s.load(ctx, from, to)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const summarySheet, dosesSheet = "Summary", "Doses"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if _, err := f.NewSheet(dosesSheet); err != nil {
		return nil, fmt.Errorf("failed to create doses sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Date", "Total", "Taken on time", "Taken late", "Snoozed then taken", "Skipped", "Missed", "Rate", "Band"},
	}
	for _, d := range report.Days {
		summary = append(summary, []interface{}{
			d.Date, d.Total, d.TakenOnTime, d.TakenLate, d.SnoozedThenTaken, d.Skipped, d.Missed, d.Rate, d.Band,
		})
	}
	summary = append(summary, []interface{}{"Overall", report.Total, "", "", "", "", "", report.OverallRate, ""})
	if err := writeRows(f, summarySheet, summary); err != nil {
		return nil, err
	}

	doses := [][]interface{}{
		{"Date", "Time", "Medication", "Dosage", "Resolution", "Resolved at", "Snoozes"},
	}
	for _, e := range events {
		resolvedAt := ""
		if e.ResolvedAt != nil {
			resolvedAt = e.ResolvedAt.In(s.location).Format("15:04")
		}
		doses = append(doses, []interface{}{
			e.InstanceID.Date, e.InstanceID.Time.String(), e.MedicationName, e.Dosage, string(e.Resolution), resolvedAt, e.SnoozeCount,
		})
	}
	if err := writeRows(f, dosesSheet, doses); err != nil {
		return nil, err
	}

	for _, sheet := range []string{summarySheet, dosesSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
			return nil, fmt.Errorf("failed to style %s header: %w", sheet, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

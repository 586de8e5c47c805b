package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pillpal/internal/database"
	"pillpal/internal/models"
)

const doseEventColumns = `id, instance_key, medication_id, medication_name, dosage, instructions, state, resolution,
	scheduled_at, notified_at, deadline_at, resolved_at, snooze_count, recorded_at`

// DoseLogService is the SQL-backed durable record of dose transitions and
// escalation outcomes. Rows are append-only.
type DoseLogService struct {
	db *database.DB
}

// NewDoseLogService creates a dose log over an initialized database
func NewDoseLogService(db *database.DB) *DoseLogService {
	return &DoseLogService{db: db}
}

// AppendEvent writes one transition. A second terminal transition for the
// same instance fails with models.ErrAlreadyRecorded.
func (s *DoseLogService) AppendEvent(ctx context.Context, event *models.DoseEvent) error {
	key := event.InstanceID.String()

	var terminalKey sql.NullString
	if event.IsTerminal() {
		terminalKey = sql.NullString{String: key, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dose_events (`+doseEventColumns+`, terminal_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, key, event.MedicationID, event.MedicationName, event.Dosage, event.Instructions,
		string(event.State), string(event.Resolution),
		database.FormatTime(event.ScheduledAt),
		database.FormatNullTime(event.NotifiedAt),
		database.FormatNullTime(event.DeadlineAt),
		database.FormatNullTime(event.ResolvedAt),
		event.SnoozeCount,
		database.FormatTime(event.RecordedAt),
		terminalKey,
	)
	if err != nil {
		if event.IsTerminal() && database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", models.ErrAlreadyRecorded, key)
		}
		return fmt.Errorf("failed to append dose event for %s: %w", key, err)
	}
	return nil
}

// LoadEvents returns every recorded transition in recording order
func (s *DoseLogService) LoadEvents(ctx context.Context) ([]*models.DoseEvent, error) {
	return s.queryEvents(ctx, `SELECT `+doseEventColumns+` FROM dose_events ORDER BY recorded_at, id`)
}

// TerminalEvents returns the resolutions of instances scheduled in [from, to)
func (s *DoseLogService) TerminalEvents(ctx context.Context, from, to time.Time) ([]*models.DoseEvent, error) {
	return s.queryEvents(ctx, `SELECT `+doseEventColumns+` FROM dose_events
		WHERE terminal_key IS NOT NULL AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at, medication_id`,
		database.FormatTime(from), database.FormatTime(to))
}

// History returns every transition of one instance
func (s *DoseLogService) History(ctx context.Context, id models.DoseInstanceID) ([]*models.DoseEvent, error) {
	return s.queryEvents(ctx, `SELECT `+doseEventColumns+` FROM dose_events
		WHERE instance_key = ? ORDER BY recorded_at, id`, id.String())
}

func (s *DoseLogService) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.DoseEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dose events: %w", err)
	}
	defer rows.Close()

	var events []*models.DoseEvent
	for rows.Next() {
		event, err := scanDoseEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dose events: %w", err)
	}
	return events, nil
}

func scanDoseEvent(rows *sql.Rows) (*models.DoseEvent, error) {
	var (
		event                            models.DoseEvent
		instructions                     sql.NullString
		state, resolution                string
		scheduledAt, recordedAt          string
		notifiedAt, deadlineAt, resolved sql.NullString
	)

	if err := rows.Scan(&event.ID, &event.InstanceKey, &event.MedicationID, &event.MedicationName, &event.Dosage,
		&instructions, &state, &resolution, &scheduledAt, &notifiedAt, &deadlineAt, &resolved,
		&event.SnoozeCount, &recordedAt); err != nil {
		return nil, fmt.Errorf("failed to scan dose event: %w", err)
	}

	id, err := models.ParseDoseInstanceID(event.InstanceKey)
	if err != nil {
		return nil, fmt.Errorf("dose event %s: %w", event.ID, err)
	}
	event.InstanceID = id
	event.Instructions = instructions.String
	event.State = models.DoseState(state)
	event.Resolution = models.ResolutionKind(resolution)

	if event.ScheduledAt, err = database.ParseTime(scheduledAt); err != nil {
		return nil, fmt.Errorf("dose event %s: invalid scheduled_at: %w", event.ID, err)
	}
	if event.RecordedAt, err = database.ParseTime(recordedAt); err != nil {
		return nil, fmt.Errorf("dose event %s: invalid recorded_at: %w", event.ID, err)
	}
	if event.NotifiedAt, err = database.ParseNullTime(notifiedAt); err != nil {
		return nil, fmt.Errorf("dose event %s: invalid notified_at: %w", event.ID, err)
	}
	if event.DeadlineAt, err = database.ParseNullTime(deadlineAt); err != nil {
		return nil, fmt.Errorf("dose event %s: invalid deadline_at: %w", event.ID, err)
	}
	if event.ResolvedAt, err = database.ParseNullTime(resolved); err != nil {
		return nil, fmt.Errorf("dose event %s: invalid resolved_at: %w", event.ID, err)
	}
	return &event, nil
}

// AppendOutcome records one caretaker escalation result
func (s *DoseLogService) AppendOutcome(ctx context.Context, outcome *models.EscalationOutcome) error {
	var errDetail sql.NullString
	if outcome.Error != "" {
		errDetail = sql.NullString{String: outcome.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_outcomes (id, instance_key, caretaker_id, address, body, resolution, success,
			provider_message_id, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.ID, outcome.InstanceID.String(), outcome.CaretakerID, outcome.Address, outcome.Body,
		string(outcome.Resolution), outcome.Success, outcome.ProviderMessageID, errDetail,
		database.FormatTime(outcome.SentAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append escalation outcome for %s: %w", outcome.InstanceID, err)
	}
	return nil
}

// Outcomes returns the escalation results recorded for one instance
func (s *DoseLogService) Outcomes(ctx context.Context, id models.DoseInstanceID) ([]models.EscalationOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_key, caretaker_id, address, body, resolution, success, provider_message_id, error, sent_at
		FROM escalation_outcomes WHERE instance_key = ? ORDER BY sent_at, id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.EscalationOutcome
	for rows.Next() {
		var (
			o          models.EscalationOutcome
			resolution string
			errDetail  sql.NullString
			sentAt     string
		)
		if err := rows.Scan(&o.ID, &o.InstanceKey, &o.CaretakerID, &o.Address, &o.Body, &resolution, &o.Success,
			&o.ProviderMessageID, &errDetail, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation outcome: %w", err)
		}
		o.InstanceID = id
		o.Resolution = models.ResolutionKind(resolution)
		o.Error = errDetail.String
		if o.SentAt, err = database.ParseTime(sentAt); err != nil {
			return nil, fmt.Errorf("escalation outcome %s: invalid sent_at: %w", o.ID, err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

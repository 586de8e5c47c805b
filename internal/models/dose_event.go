package models

import (
	"time"

	"github.com/google/uuid"
)

// DoseEvent is one persisted state transition of a dose instance. It carries
// a snapshot of the medication name and dosage so history stays readable
// after the medication is edited or deleted.
type DoseEvent struct {
	ID             string         `json:"id" bson:"_id"`
	InstanceID     DoseInstanceID `json:"instanceId" bson:"-"`
	InstanceKey    string         `json:"-" bson:"instanceKey"`
	MedicationID   string         `json:"medicationId" bson:"medicationId"`
	MedicationName string         `json:"medicationName" bson:"medicationName"`
	Dosage         string         `json:"dosage" bson:"dosage"`
	Instructions   string         `json:"instructions,omitempty" bson:"instructions,omitempty"`
	State          DoseState      `json:"state" bson:"state"`
	Resolution     ResolutionKind `json:"resolution,omitempty" bson:"resolution,omitempty"`
	ScheduledAt    time.Time      `json:"scheduledAt" bson:"scheduledAt"`
	NotifiedAt     *time.Time     `json:"notifiedAt,omitempty" bson:"notifiedAt,omitempty"`
	DeadlineAt     *time.Time     `json:"deadlineAt,omitempty" bson:"deadlineAt,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	SnoozeCount    int            `json:"snoozeCount" bson:"snoozeCount"`
	RecordedAt     time.Time      `json:"recordedAt" bson:"recordedAt"`
}

// NewDoseEvent snapshots an instance into a log record
func NewDoseEvent(inst DoseInstance, recordedAt time.Time) *DoseEvent {
	return &DoseEvent{
		ID:             uuid.New().String(),
		InstanceID:     inst.ID,
		InstanceKey:    inst.ID.String(),
		MedicationID:   inst.ID.MedicationID,
		MedicationName: inst.MedicationName,
		Dosage:         inst.Dosage,
		Instructions:   inst.Instructions,
		State:          inst.State,
		Resolution:     inst.Resolution,
		ScheduledAt:    inst.ScheduledAt,
		NotifiedAt:     inst.NotifiedAt,
		DeadlineAt:     inst.DeadlineAt,
		ResolvedAt:     inst.ResolvedAt,
		SnoozeCount:    inst.SnoozeCount,
		RecordedAt:     recordedAt,
	}
}

// Instance rebuilds the dose instance as it was after this transition
func (e *DoseEvent) Instance() DoseInstance {
	return DoseInstance{
		ID:             e.InstanceID,
		MedicationName: e.MedicationName,
		Dosage:         e.Dosage,
		Instructions:   e.Instructions,
		State:          e.State,
		ScheduledAt:    e.ScheduledAt,
		NotifiedAt:     e.NotifiedAt,
		DeadlineAt:     e.DeadlineAt,
		ResolvedAt:     e.ResolvedAt,
		Resolution:     e.Resolution,
		SnoozeCount:    e.SnoozeCount,
		UpdatedAt:      e.RecordedAt,
	}
}

// IsTerminal reports whether the recorded transition ended the instance
func (e *DoseEvent) IsTerminal() bool {
	return e.State.IsTerminal()
}

// EscalationOutcome is the per-caretaker result of one escalation attempt
type EscalationOutcome struct {
	ID                string         `json:"id" bson:"_id"`
	InstanceID        DoseInstanceID `json:"instanceId" bson:"-"`
	InstanceKey       string         `json:"-" bson:"instanceKey"`
	CaretakerID       string         `json:"caretakerId" bson:"caretakerId"`
	Address           string         `json:"address" bson:"address"`
	Body              string         `json:"body" bson:"body"`
	Resolution        ResolutionKind `json:"resolution" bson:"resolution"`
	Success           bool           `json:"success" bson:"success"`
	ProviderMessageID string         `json:"providerMessageId,omitempty" bson:"providerMessageId,omitempty"`
	Error             string         `json:"error,omitempty" bson:"error,omitempty"`
	SentAt            time.Time      `json:"sentAt" bson:"sentAt"`
}

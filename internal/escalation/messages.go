package escalation

import (
	"fmt"
	"time"

	"pillpal/internal/models"
)

const messageTimeLayout = "3:04 PM"

// ComposeMessage builds the caretaker text for one resolution. Missed doses
// quote the scheduled time, every other outcome the time it was resolved.
func ComposeMessage(patient string, inst models.DoseInstance, kind models.ResolutionKind, loc *time.Location) string {
	at := inst.UpdatedAt
	if inst.ResolvedAt != nil {
		at = *inst.ResolvedAt
	}
	if kind == models.ResolutionMissed {
		at = inst.ScheduledAt
	}
	when := at.In(loc).Format(messageTimeLayout)
	label := inst.Label()

	switch kind {
	case models.ResolutionMissed:
		return fmt.Sprintf("🚨 PILLPAL ALERT: %s has MISSED their %s medication at %s. "+
			"Please check on them immediately. This is an automated health alert.", patient, label, when)
	case models.ResolutionTakenOnTime:
		return fmt.Sprintf("✅ PILLPAL UPDATE: %s took their %s ON TIME at %s. Great job! 💊", patient, label, when)
	case models.ResolutionTakenLate:
		return fmt.Sprintf("⏰ PILLPAL UPDATE: %s took their %s LATE at %s. Better late than never! 💊", patient, label, when)
	case models.ResolutionSnoozedThenTaken:
		return fmt.Sprintf("⏰ PILLPAL UPDATE: %s took their %s after snoozing at %s. Medication taken! 💊", patient, label, when)
	case models.ResolutionSkipped:
		return fmt.Sprintf("⚠️ PILLPAL ALERT: %s has SKIPPED their %s medication at %s. "+
			"They chose not to take it this time. 💊", patient, label, when)
	}
	return fmt.Sprintf("PILLPAL UPDATE: %s, %s recorded as %s at %s.", patient, label, kind, when)
}

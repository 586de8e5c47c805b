package reminder

import (
	"fmt"
	"strings"

	"pillpal/internal/models"
)

// Utterance is a spoken message with its voice settings
type Utterance struct {
	Text  string
	Rate  float64
	Pitch float64
}

// foodToken returns the spoken hint for a before/after/with-food instruction
func foodToken(instructions string) string {
	lower := strings.ToLower(instructions)
	switch {
	case strings.Contains(lower, "before"):
		return " Remember to take this before eating."
	case strings.Contains(lower, "after"):
		return " Remember to take this after eating."
	case strings.Contains(lower, "with food"), strings.Contains(lower, "with meal"):
		return " Remember to take this with food."
	}
	return ""
}

// ReminderSpeech is announced when a reminder fires
func ReminderSpeech(inst models.DoseInstance, prefs models.Preferences) Utterance {
	text := fmt.Sprintf("Medicine reminder. It's time to take your %s", inst.MedicationName)
	if inst.Dosage != "" {
		text += ", " + inst.Dosage
	}
	text += "." + foodToken(inst.Instructions) + " Please confirm when you have taken your medicine."

	return Utterance{Text: text, Rate: prefs.SpeechRate, Pitch: prefs.SpeechPitch}
}

// MissedSpeech is announced when a dose is marked missed
func MissedSpeech(inst models.DoseInstance) Utterance {
	return Utterance{
		Text: fmt.Sprintf("Important medication alert. You may have missed your %s. "+
			"Please take it now if you haven't already, and confirm in the app.", inst.MedicationName),
		Rate:  0.9,
		Pitch: 1.1,
	}
}

// TakenSpeech acknowledges a confirmed dose
func TakenSpeech(inst models.DoseInstance, kind models.ResolutionKind) Utterance {
	var text string
	switch kind {
	case models.ResolutionTakenOnTime:
		text = fmt.Sprintf("Excellent! You took your %s on time. Great job maintaining your health routine!", inst.MedicationName)
	case models.ResolutionTakenLate:
		text = fmt.Sprintf("Good job taking your %s. Better late than never. Keep up with your medication schedule!", inst.MedicationName)
	default:
		text = fmt.Sprintf("Thank you for taking your %s after the reminder. Your medication adherence has been recorded.", inst.MedicationName)
	}
	return Utterance{Text: text, Rate: 0.8, Pitch: 1.2}
}

// reminderNotice builds the visual notification for a reminder fire
func reminderNotice(inst models.DoseInstance, snoozed bool) models.ReminderNotice {
	title := "💊 Medicine Time!"
	if snoozed {
		title = "⏰ Medicine Reminder (Snoozed)"
	}
	return models.ReminderNotice{
		Type:       models.NoticeMedicineReminder,
		InstanceID: inst.ID,
		Title:      title,
		Body:       fmt.Sprintf("Time to take %s", inst.Label()),
		Snoozed:    snoozed,
		State:      inst.State,
		At:         inst.UpdatedAt,
	}
}

func missedNotice(inst models.DoseInstance) models.ReminderNotice {
	return models.ReminderNotice{
		Type:       models.NoticeMissedDose,
		InstanceID: inst.ID,
		Title:      "⚠️ Medicine Missed!",
		Body:       fmt.Sprintf("You may have missed %s. Please take it now if safe to do so.", inst.Label()),
		State:      inst.State,
		At:         inst.UpdatedAt,
	}
}

func resolvedNotice(inst models.DoseInstance) models.ReminderNotice {
	return models.ReminderNotice{
		Type:       models.NoticeDoseResolved,
		InstanceID: inst.ID,
		Title:      inst.MedicationName,
		Body:       fmt.Sprintf("%s recorded as %s", inst.Label(), inst.Resolution),
		State:      inst.State,
		At:         inst.UpdatedAt,
	}
}

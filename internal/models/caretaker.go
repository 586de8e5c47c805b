package models

// Caretaker is a third-party observer who receives dose alerts
type Caretaker struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Relationship  string `json:"relationship,omitempty"`
	Address       string `json:"address"` // E.164 phone number
	NotifyMissed  bool   `json:"notifyMissed"`
	NotifyTaken   bool   `json:"notifyTaken"`
	NotifySkipped bool   `json:"notifySkipped"`
}

// Wants reports whether the caretaker subscribed to the event category
func (c Caretaker) Wants(category EventCategory) bool {
	switch category {
	case EventMissed:
		return c.NotifyMissed
	case EventTaken:
		return c.NotifyTaken
	case EventSkipped:
		return c.NotifySkipped
	}
	return false
}

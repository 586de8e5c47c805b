package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Reminder notice types pushed to the user's devices
const (
	NoticeMedicineReminder = "medicine_reminder"
	NoticeMissedDose       = "missed_dose"
	NoticeDoseResolved     = "dose_resolved"
)

// ReminderNotice is the visual notification shown to the user
type ReminderNotice struct {
	Type       string         `json:"type"`
	InstanceID DoseInstanceID `json:"instanceId"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Snoozed    bool           `json:"snoozed,omitempty"`
	State      DoseState      `json:"state"`
	At         time.Time      `json:"at"`
}

// ClientMessage is a message sent by a reminder feed client
type ClientMessage struct {
	Type       string `json:"type"`             // "ping", "dose_action"
	Action     string `json:"action,omitempty"` // "taken", "skip", "snooze"
	InstanceID string `json:"instanceId,omitempty"`
}

// ServerMessage is the envelope written to reminder feed connections
type ServerMessage struct {
	Type        string          `json:"type"` // "connected", "notice", "dose_updated", "preferences_updated", "pong", "error"
	Notice      *ReminderNotice `json:"notice,omitempty"`
	Instance    *DoseInstance   `json:"instance,omitempty"`
	Preferences *Preferences    `json:"preferences,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// FeedConnection is one reminder feed WebSocket client
type FeedConnection struct {
	ConnID    string
	Subject   string
	ClientIP  string
	Conn      *websocket.Conn
	WriteChan chan ServerMessage
	CreatedAt time.Time
	Mutex     sync.Mutex
}

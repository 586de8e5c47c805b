package models

import (
	"fmt"
	"time"
)

// Setting is one persisted key/value row
type Setting struct {
	Key       string    `json:"key" db:"pref_key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SettingKeyPreferences stores the JSON-encoded user preferences
const SettingKeyPreferences = "user.preferences"

// Preferences holds the user-tunable reminder parameters
type Preferences struct {
	VoiceEnabled             bool    `json:"voiceEnabled"`
	VoiceLanguage            string  `json:"voiceLanguage"` // BCP 47 tag, e.g. "en-US"
	SpeechRate               float64 `json:"speechRate"`
	SpeechPitch              float64 `json:"speechPitch"`
	SMSEnabled               bool    `json:"smsEnabled"`
	MissedDoseTimeoutMinutes int     `json:"missedDoseTimeoutMinutes"`
	SnoozeIntervalMinutes    int     `json:"snoozeIntervalMinutes"`
	MaxSnoozes               int     `json:"maxSnoozes"` // 0 = unlimited
	PatientName              string  `json:"patientName"`
}

// DefaultPreferences returns the values used before the user changes anything
func DefaultPreferences() Preferences {
	return Preferences{
		VoiceEnabled:             true,
		VoiceLanguage:            "en-US",
		SpeechRate:               0.8,
		SpeechPitch:              1.0,
		SMSEnabled:               true,
		MissedDoseTimeoutMinutes: 15,
		SnoozeIntervalMinutes:    5,
		MaxSnoozes:               0,
		PatientName:              "Patient",
	}
}

// MissedDoseTimeout returns the timeout as a duration
func (p Preferences) MissedDoseTimeout() time.Duration {
	return time.Duration(p.MissedDoseTimeoutMinutes) * time.Minute
}

// SnoozeInterval returns the snooze interval as a duration
func (p Preferences) SnoozeInterval() time.Duration {
	return time.Duration(p.SnoozeIntervalMinutes) * time.Minute
}

// Validate checks ranges
func (p Preferences) Validate() error {
	if p.MissedDoseTimeoutMinutes < 1 || p.MissedDoseTimeoutMinutes > 24*60 {
		return fmt.Errorf("missedDoseTimeoutMinutes must be between 1 and 1440, got %d", p.MissedDoseTimeoutMinutes)
	}
	if p.SnoozeIntervalMinutes < 1 || p.SnoozeIntervalMinutes > 24*60 {
		return fmt.Errorf("snoozeIntervalMinutes must be between 1 and 1440, got %d", p.SnoozeIntervalMinutes)
	}
	if p.MaxSnoozes < 0 {
		return fmt.Errorf("maxSnoozes cannot be negative")
	}
	if p.SpeechRate <= 0 || p.SpeechRate > 4 {
		return fmt.Errorf("speechRate must be in (0, 4], got %v", p.SpeechRate)
	}
	if p.SpeechPitch <= 0 || p.SpeechPitch > 4 {
		return fmt.Errorf("speechPitch must be in (0, 4], got %v", p.SpeechPitch)
	}
	if p.VoiceLanguage == "" {
		return fmt.Errorf("voiceLanguage is required")
	}
	return nil
}

// PreferencesUpdate is a partial change set; nil fields are left untouched
type PreferencesUpdate struct {
	VoiceEnabled             *bool    `json:"voiceEnabled,omitempty"`
	VoiceLanguage            *string  `json:"voiceLanguage,omitempty"`
	SpeechRate               *float64 `json:"speechRate,omitempty"`
	SpeechPitch              *float64 `json:"speechPitch,omitempty"`
	SMSEnabled               *bool    `json:"smsEnabled,omitempty"`
	MissedDoseTimeoutMinutes *int     `json:"missedDoseTimeoutMinutes,omitempty"`
	SnoozeIntervalMinutes    *int     `json:"snoozeIntervalMinutes,omitempty"`
	MaxSnoozes               *int     `json:"maxSnoozes,omitempty"`
	PatientName              *string  `json:"patientName,omitempty"`
}

// Apply merges the change set into p and returns the result
func (u PreferencesUpdate) Apply(p Preferences) Preferences {
	if u.VoiceEnabled != nil {
		p.VoiceEnabled = *u.VoiceEnabled
	}
	if u.VoiceLanguage != nil {
		p.VoiceLanguage = *u.VoiceLanguage
	}
	if u.SpeechRate != nil {
		p.SpeechRate = *u.SpeechRate
	}
	if u.SpeechPitch != nil {
		p.SpeechPitch = *u.SpeechPitch
	}
	if u.SMSEnabled != nil {
		p.SMSEnabled = *u.SMSEnabled
	}
	if u.MissedDoseTimeoutMinutes != nil {
		p.MissedDoseTimeoutMinutes = *u.MissedDoseTimeoutMinutes
	}
	if u.SnoozeIntervalMinutes != nil {
		p.SnoozeIntervalMinutes = *u.SnoozeIntervalMinutes
	}
	if u.MaxSnoozes != nil {
		p.MaxSnoozes = *u.MaxSnoozes
	}
	if u.PatientName != nil {
		p.PatientName = *u.PatientName
	}
	return p
}

// IsEmpty reports whether the change set touches nothing
func (u PreferencesUpdate) IsEmpty() bool {
	return u == PreferencesUpdate{}
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"pillpal/internal/database"
	"pillpal/internal/models"
)

// ErrInvalidPreferences is returned when an update fails validation
var ErrInvalidPreferences = errors.New("invalid preferences")

// PreferenceService keeps the user preferences in memory and persists them
// as one JSON row in the preferences table
type PreferenceService struct {
	db    *database.DB
	clock clockwork.Clock

	mu        sync.RWMutex
	current   models.Preferences
	listeners []func(models.Preferences)
}

// NewPreferenceService creates a service holding the defaults until Load is called
func NewPreferenceService(db *database.DB, clock clockwork.Clock) *PreferenceService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PreferenceService{
		db:      db,
		clock:   clock,
		current: models.DefaultPreferences(),
	}
}

// Load reads the stored preferences. A missing row keeps the defaults.
func (s *PreferenceService) Load(ctx context.Context) error {
	setting, err := s.loadSetting(ctx, models.SettingKeyPreferences)
	if errors.Is(err, sql.ErrNoRows) {
		log.Println("⚙️  [PREFS] No stored preferences, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	// Start from defaults so fields added later get sensible values
	prefs := models.DefaultPreferences()
	if err := json.Unmarshal([]byte(setting.Value), &prefs); err != nil {
		return fmt.Errorf("failed to decode stored preferences: %w", err)
	}
	if err := prefs.Validate(); err != nil {
		log.Printf("⚠️  [PREFS] Stored preferences invalid (%v), using defaults", err)
		return nil
	}

	s.mu.Lock()
	s.current = prefs
	s.mu.Unlock()

	log.Printf("✅ [PREFS] Loaded preferences saved %s (timeout %dm, snooze %dm, voice %v, sms %v)",
		setting.UpdatedAt.Format(time.RFC3339), prefs.MissedDoseTimeoutMinutes, prefs.SnoozeIntervalMinutes, prefs.VoiceEnabled, prefs.SMSEnabled)
	return nil
}

func (s *PreferenceService) loadSetting(ctx context.Context, key string) (models.Setting, error) {
	var setting models.Setting
	var updatedAt string
	err := s.db.QueryRowContext(ctx, "SELECT pref_key, value, updated_at FROM preferences WHERE pref_key = ?", key).
		Scan(&setting.Key, &setting.Value, &updatedAt)
	if err != nil {
		return setting, err
	}
	setting.UpdatedAt, err = database.ParseTime(updatedAt)
	if err != nil {
		return setting, fmt.Errorf("invalid updated_at for %s: %w", key, err)
	}
	return setting, nil
}

// Get returns the preferences currently in effect
func (s *PreferenceService) Get() models.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges a partial change, validates and persists it, then notifies
// listeners. Nothing changes if validation or the write fails.
func (s *PreferenceService) Update(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error) {
	s.mu.Lock()

	next := update.Apply(s.current)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return s.Get(), fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
	}

	payload, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		return s.Get(), fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := s.db.UpsertSetting(models.SettingKeyPreferences, string(payload), s.clock.Now()); err != nil {
		s.mu.Unlock()
		return s.Get(), fmt.Errorf("failed to save preferences: %w", err)
	}

	s.current = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	log.Printf("⚙️  [PREFS] Preferences updated")
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// OnChange registers fn to be called after every successful update
func (s *PreferenceService) OnChange(fn func(models.Preferences)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"pillpal/internal/models"
)

const medicationReloadDebounce = 500 * time.Millisecond

// medicationFile is the on-disk layout of the medications file
type medicationFile struct {
	Medications []medicationRecord `yaml:"medications"`
	Caretakers  []caretakerRecord  `yaml:"caretakers"`
}

type medicationRecord struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Dosage       string   `yaml:"dosage"`
	Times        []string `yaml:"times"`
	Instructions string   `yaml:"instructions"`
	StartDate    string   `yaml:"start_date"`
	EndDate      string   `yaml:"end_date"`
	Active       *bool    `yaml:"active"` // defaults to true
}

type caretakerRecord struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Relationship string `yaml:"relationship"`
	Phone        string `yaml:"phone"`
	Notify       struct {
		Missed  *bool `yaml:"missed"` // defaults to true
		Taken   bool  `yaml:"taken"`
		Skipped bool  `yaml:"skipped"`
	} `yaml:"notify"`
}

// MedicationStore serves the medication schedule and caretaker list from a
// YAML file and signals on Changes whenever the parsed content changes
type MedicationStore struct {
	path string

	mu         sync.RWMutex
	entries    []models.ScheduleEntry
	caretakers []models.Caretaker

	changes chan struct{}
}

// NewMedicationStore creates a store for the file at path. Call Reload to read it.
func NewMedicationStore(path string) *MedicationStore {
	return &MedicationStore{
		path:    path,
		changes: make(chan struct{}, 1),
	}
}

// Path returns the watched file
func (s *MedicationStore) Path() string {
	return s.path
}

// Reload re-reads the file. On a read or validation error the previous
// content stays in effect. changed reports whether anything differs.
func (s *MedicationStore) Reload() (changed bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("failed to read medications file: %w", err)
	}

	entries, caretakers, err := parseMedicationFile(data)
	if err != nil {
		return false, fmt.Errorf("invalid medications file %s: %w", s.path, err)
	}

	s.mu.Lock()
	changed = !reflect.DeepEqual(entries, s.entries) || !reflect.DeepEqual(caretakers, s.caretakers)
	if changed {
		s.entries = entries
		s.caretakers = caretakers
	}
	s.mu.Unlock()

	if changed {
		s.signal()
	}
	return changed, nil
}

func parseMedicationFile(data []byte) ([]models.ScheduleEntry, []models.Caretaker, error) {
	var file medicationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, err
	}

	entries := make([]models.ScheduleEntry, 0, len(file.Medications))
	seen := make(map[string]bool, len(file.Medications))
	for i, rec := range file.Medications {
		entry := models.ScheduleEntry{
			MedicationID: rec.ID,
			Name:         rec.Name,
			Dosage:       rec.Dosage,
			Instructions: rec.Instructions,
			StartDate:    rec.StartDate,
			EndDate:      rec.EndDate,
			Active:       rec.Active == nil || *rec.Active,
		}
		for _, raw := range rec.Times {
			t, err := models.ParseTimeOfDay(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("medication %d (%s): %w", i, rec.ID, err)
			}
			entry.Times = append(entry.Times, t)
		}
		if err := entry.Validate(); err != nil {
			return nil, nil, fmt.Errorf("medication %d: %w", i, err)
		}
		if seen[entry.MedicationID] {
			return nil, nil, fmt.Errorf("duplicate medication id %s", entry.MedicationID)
		}
		seen[entry.MedicationID] = true
		entries = append(entries, entry)
	}

	caretakers := make([]models.Caretaker, 0, len(file.Caretakers))
	for i, rec := range file.Caretakers {
		if rec.ID == "" || rec.Phone == "" {
			return nil, nil, fmt.Errorf("caretaker %d: id and phone are required", i)
		}
		caretakers = append(caretakers, models.Caretaker{
			ID:            rec.ID,
			Name:          rec.Name,
			Relationship:  rec.Relationship,
			Address:       rec.Phone,
			NotifyMissed:  rec.Notify.Missed == nil || *rec.Notify.Missed,
			NotifyTaken:   rec.Notify.Taken,
			NotifySkipped: rec.Notify.Skipped,
		})
	}

	return entries, caretakers, nil
}

func (s *MedicationStore) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// ListActive returns the entries flagged active. Duration windows are
// applied when a trigger fires.
func (s *MedicationStore) ListActive(ctx context.Context) ([]models.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]models.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Active {
			active = append(active, e)
		}
	}
	return active, nil
}

// All returns every entry, inactive ones included
func (s *MedicationStore) All() []models.ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ScheduleEntry(nil), s.entries...)
}

// Caretakers returns the caretaker directory
func (s *MedicationStore) Caretakers(ctx context.Context) ([]models.Caretaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Caretaker(nil), s.caretakers...), nil
}

// Changes delivers a signal after each reload that changed the content.
// Signals coalesce: one pending signal covers any number of changes.
func (s *MedicationStore) Changes() <-chan struct{} {
	return s.changes
}

// Watch reloads the file when it is written or replaced until ctx is done
func (s *MedicationStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", s.path, err)
	}

	// Watch the directory containing the file (editors replace files on save)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	log.Printf("👁️  [MEDICATIONS] Watching %s for changes", s.path)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(medicationReloadDebounce, func() {
				changed, err := s.Reload()
				if err != nil {
					log.Printf("❌ [MEDICATIONS] Reload failed, keeping previous schedule: %v", err)
					return
				}
				if changed {
					log.Printf("🔄 [MEDICATIONS] Detected changes in %s", s.path)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️  [MEDICATIONS] File watcher error: %v", err)
		}
	}
}

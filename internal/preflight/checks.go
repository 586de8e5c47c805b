package preflight

import (
	"fmt"
	"log"
	"os"

	"pillpal/internal/config"
	"pillpal/internal/database"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	db  *database.DB
	cfg *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(db *database.DB, cfg *config.Config) *Checker {
	return &Checker{db: db, cfg: cfg}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDatabaseConnection(),
		c.checkDatabaseSchema(),
		c.checkMedicationsFile(),
		c.checkTimezone(),
		c.checkSpeechOutput(),
		c.checkSMS(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkDatabaseConnection verifies database connectivity
func (c *Checker) checkDatabaseConnection() CheckResult {
	if err := c.db.Ping(); err != nil {
		return CheckResult{
			Name:    "Database Connection",
			Status:  "fail",
			Message: "Cannot connect to database",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Database Connection",
		Status:  "pass",
		Message: fmt.Sprintf("%s database reachable", c.db.Driver),
	}
}

// checkDatabaseSchema verifies all required tables exist
func (c *Checker) checkDatabaseSchema() CheckResult {
	requiredTables := []string{
		"dose_events",
		"escalation_outcomes",
		"preferences",
	}

	query := "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	if c.db.Driver == database.DriverMySQL {
		query = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	}

	for _, table := range requiredTables {
		var count int
		err := c.db.QueryRow(query, table).Scan(&count)
		if err != nil || count == 0 {
			return CheckResult{
				Name:    "Database Schema",
				Status:  "fail",
				Message: fmt.Sprintf("Required table '%s' not found", table),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Database Schema",
		Status:  "pass",
		Message: fmt.Sprintf("All %d required tables exist", len(requiredTables)),
	}
}

// checkMedicationsFile verifies the schedule file can be read
func (c *Checker) checkMedicationsFile() CheckResult {
	info, err := os.Stat(c.cfg.MedicationsFile)
	if err != nil {
		return CheckResult{
			Name:    "Medications File",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read %s", c.cfg.MedicationsFile),
			Error:   err,
		}
	}
	if info.IsDir() {
		return CheckResult{
			Name:    "Medications File",
			Status:  "fail",
			Message: fmt.Sprintf("%s is a directory", c.cfg.MedicationsFile),
		}
	}

	return CheckResult{
		Name:    "Medications File",
		Status:  "pass",
		Message: c.cfg.MedicationsFile,
	}
}

func (c *Checker) checkTimezone() CheckResult {
	loc, err := c.cfg.Location()
	if err != nil {
		return CheckResult{Name: "Timezone", Status: "fail", Message: "Unknown TIMEZONE", Error: err}
	}
	return CheckResult{Name: "Timezone", Status: "pass", Message: loc.String()}
}

// checkSpeechOutput verifies generated speech can be written
func (c *Checker) checkSpeechOutput() CheckResult {
	if c.cfg.TTSAPIKey == "" {
		return CheckResult{
			Name:    "Speech",
			Status:  "warning",
			Message: "TTS_API_KEY not set, spoken reminders will only be logged",
		}
	}

	tmpFile, err := os.CreateTemp(c.cfg.TTSOutputDir, "preflight-*")
	if err != nil {
		return CheckResult{
			Name:    "Speech",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot write to %s", c.cfg.TTSOutputDir),
			Error:   err,
		}
	}
	tmpFile.Close()
	os.Remove(tmpFile.Name())

	return CheckResult{Name: "Speech", Status: "pass", Message: "Output directory writable"}
}

func (c *Checker) checkSMS() CheckResult {
	if !c.cfg.TwilioConfigured() {
		return CheckResult{
			Name:    "SMS",
			Status:  "warning",
			Message: "Twilio not configured, caretakers will not be texted",
		}
	}
	return CheckResult{Name: "SMS", Status: "pass", Message: "Twilio credentials present"}
}

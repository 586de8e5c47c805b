package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MEDICATION_SYNC_INTERVAL", "")

	cfg := Load()
	if cfg.Port != "3001" {
		t.Errorf("Expected default port 3001, got %s", cfg.Port)
	}
	if cfg.MedicationSyncInterval != 5*time.Minute {
		t.Errorf("Expected 5m sync interval, got %v", cfg.MedicationSyncInterval)
	}
	if !cfg.MetricsEnabled {
		t.Error("Metrics should be enabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550000")
	t.Setenv("TWILIO_RATE_PER_SECOND", "0.5")
	t.Setenv("MEDICATION_SYNC_INTERVAL", "30s")
	t.Setenv("ESCALATION_CONCURRENCY", "not-a-number")
	t.Setenv("METRICS_ENABLED", "false")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if !cfg.TwilioConfigured() {
		t.Error("Expected Twilio to be configured")
	}
	if cfg.TwilioRatePerSecond != 0.5 {
		t.Errorf("Expected rate 0.5, got %v", cfg.TwilioRatePerSecond)
	}
	if cfg.MedicationSyncInterval != 30*time.Second {
		t.Errorf("Expected 30s, got %v", cfg.MedicationSyncInterval)
	}
	if cfg.EscalationConcurrency != 4 {
		t.Errorf("Invalid values should fall back to the default, got %d", cfg.EscalationConcurrency)
	}
	if cfg.MetricsEnabled {
		t.Error("Expected metrics disabled")
	}
}

func TestReplicaID(t *testing.T) {
	t.Setenv("REPLICA_ID", "")
	first, second := Load().ReplicaID, Load().ReplicaID
	if first == "" || first != second {
		t.Errorf("Expected a stable default replica id, got %q and %q", first, second)
	}

	t.Setenv("REPLICA_ID", "pillpal-0")
	if got := Load().ReplicaID; got != "pillpal-0" {
		t.Errorf("Expected REPLICA_ID to win, got %q", got)
	}
}

func TestLocation(t *testing.T) {
	tests := []struct {
		timezone string
		wantErr  bool
	}{
		{"", false},
		{"Local", false},
		{"UTC", false},
		{"Europe/Berlin", false},
		{"Mars/Olympus", true},
	}

	for _, tt := range tests {
		t.Run(tt.timezone, func(t *testing.T) {
			cfg := &Config{Timezone: tt.timezone}
			loc, err := cfg.Location()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Location() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && loc == nil {
				t.Error("Expected a location")
			}
		})
	}
}

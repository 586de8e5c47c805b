package database

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

func TestNew(t *testing.T) {
	db := newTestDB(t)

	if db.Driver != DriverSQLite {
		t.Errorf("Expected sqlite driver, got %s", db.Driver)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/invalid/path/that/does/not/exist/test.db")
	if err == nil {
		t.Fatal("Expected error for invalid path, got nil")
	}
}

func TestInitialize(t *testing.T) {
	db := newTestDB(t)

	tables := []string{
		"dose_events",
		"escalation_outcomes",
		"preferences",
	}

	for _, table := range tables {
		var name string
		query := "SELECT name FROM sqlite_master WHERE type='table' AND name=?"
		if err := db.QueryRow(query, table).Scan(&name); err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}

	// Running twice must be harmless
	if err := db.Initialize(); err != nil {
		t.Errorf("Second Initialize failed: %v", err)
	}
}

func TestTerminalKeyUnique(t *testing.T) {
	db := newTestDB(t)

	insert := `INSERT INTO dose_events (id, instance_key, medication_id, medication_name, state, scheduled_at, recorded_at, terminal_key)
		VALUES (?, 'amox@2026-03-10T08:00', 'amox', 'Amoxicillin', ?, '2026-03-10T08:00:00Z', '2026-03-10T08:00:00Z', ?)`

	// Non-terminal rows carry NULL and never collide
	for _, id := range []string{"e1", "e2"} {
		if _, err := db.Exec(insert, id, "notified", nil); err != nil {
			t.Fatalf("Insert %s failed: %v", id, err)
		}
	}

	if _, err := db.Exec(insert, "e3", "taken", "amox@2026-03-10T08:00"); err != nil {
		t.Fatalf("First terminal insert failed: %v", err)
	}

	_, err := db.Exec(insert, "e4", "missed", "amox@2026-03-10T08:00")
	if err == nil {
		t.Fatal("Expected second terminal insert to fail")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("Expected a unique violation, got %v", err)
	}
}

func TestUpsertSetting(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	if err := db.UpsertSetting("k", "one", now); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}
	if err := db.UpsertSetting("k", "two", now.Add(time.Minute)); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	var value, updated string
	if err := db.QueryRow("SELECT value, updated_at FROM preferences WHERE pref_key = 'k'").Scan(&value, &updated); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if value != "two" {
		t.Errorf("Expected value two, got %s", value)
	}
	if got, _ := ParseTime(updated); !got.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected updated_at %v, got %v", now.Add(time.Minute), got)
	}
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mysql://user:pass@db:3306/pillpal?parseTime=true", "user:pass@tcp(db:3306)/pillpal?parseTime=true"},
		{"mysql://user@localhost/pillpal", "user@tcp(localhost)/pillpal"},
	}

	for _, tt := range tests {
		if got := mysqlDSN(tt.in); got != tt.want {
			t.Errorf("mysqlDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNullTimeRoundTrip(t *testing.T) {
	if got := FormatNullTime(nil); got.Valid {
		t.Error("nil time should be NULL")
	}

	at := time.Date(2026, 3, 10, 8, 15, 0, 123, time.FixedZone("X", 3600))
	parsed, err := ParseNullTime(FormatNullTime(&at))
	if err != nil || parsed == nil || !parsed.Equal(at) {
		t.Errorf("Round trip failed: %v %v", parsed, err)
	}
}

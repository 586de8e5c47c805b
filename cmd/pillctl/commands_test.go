package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pillpal/pkg/auth"
)

const sampleMedications = `medications:
  - id: amox
    name: Amoxicillin
    dosage: 500mg
    times: ["08:00", "20:00"]
    instructions: Take after food
  - id: vitd
    name: Vitamin D
    dosage: 1000 IU
    times: ["09:00"]
    active: false
caretakers:
  - id: daughter
    name: Maria
    phone: "+15550100"
    notify:
      taken: true
`

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medications.yaml")
	if err := os.WriteFile(path, []byte(sampleMedications), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	cmd := newCheckCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{"2 medications", "Amoxicillin 500mg  [08:00, 20:00]", "🔴 inactive", "notify: missed,taken"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestCheckCommandInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medications.yaml")
	os.WriteFile(path, []byte("medications:\n  - id: x\n    times: [\"25:00\"]\n"), 0o644)

	cmd := newCheckCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err == nil {
		t.Error("Expected invalid time to fail the check")
	}
}

func TestTokenCommand(t *testing.T) {
	secret := "a-test-secret-of-some-length"
	t.Setenv("JWT_SECRET", secret)

	cmd := newTokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hallway-tablet", "--role", "caretaker"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("token failed: %v", err)
	}

	jwtAuth, _ := auth.NewLocalJWTAuth(secret, 0)
	device, err := jwtAuth.VerifyToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("Issued token does not verify: %v", err)
	}
	if device.ID != "hallway-tablet" || device.Role != "caretaker" {
		t.Errorf("Unexpected device %+v", device)
	}
}

package audio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestSynthesize(t *testing.T) {
	var got speechRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		w.Write([]byte("ID3-fake-mp3"))
	}))
	defer server.Close()

	svc := NewService(Config{BaseURL: server.URL + "/", APIKey: "test-key", OutputDir: t.TempDir()})

	path, err := svc.Synthesize(context.Background(), "Medicine reminder.", "en-US", 0.8, 1.2)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "ID3-fake-mp3" {
		t.Errorf("Unexpected audio file content %q (%v)", data, err)
	}
	if got.Input != "Medicine reminder." || got.Model != "tts-1" || got.Voice != "alloy" {
		t.Errorf("Unexpected request %+v", got)
	}
	if got.Speed != 0.8 {
		t.Errorf("Expected speed 0.8, got %v", got.Speed)
	}
	if !strings.Contains(got.Instructions, "en-US") || !strings.Contains(got.Instructions, "higher") {
		t.Errorf("Unexpected instructions %q", got.Instructions)
	}
}

func TestSynthesizeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	svc := NewService(Config{BaseURL: server.URL, OutputDir: t.TempDir()})
	err := svc.Speak(context.Background(), "hello", "en-US", 1, 1)
	if err == nil || !strings.Contains(err.Error(), "Incorrect API key") {
		t.Errorf("Expected provider error message, got %v", err)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	svc := NewService(Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := svc.Synthesize(context.Background(), "", "en-US", 1, 1); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestSpeedFor(t *testing.T) {
	tests := []struct {
		rate float64
		want float64
	}{
		{0, 1},
		{0.1, 0.25},
		{0.8, 0.8},
		{0.9, 0.9},
		{10, 4},
	}

	for _, tt := range tests {
		if got := speedFor(tt.rate); got != tt.want {
			t.Errorf("speedFor(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestDeliveryInstructions(t *testing.T) {
	if got := deliveryInstructions("", 1.0); got != "" {
		t.Errorf("Expected no instructions, got %q", got)
	}
	if got := deliveryInstructions("es-ES", 0.8); !strings.Contains(got, "es-ES") || !strings.Contains(got, "lower") {
		t.Errorf("Unexpected instructions %q", got)
	}
}

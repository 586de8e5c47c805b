package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config configures the text-to-speech client
type Config struct {
	BaseURL   string // OpenAI-compatible API base, e.g. https://api.openai.com/v1
	APIKey    string
	Model     string
	Voice     string
	OutputDir string
	Player    string // command run with the audio file path as its last argument
}

// Service turns reminder texts into speech using an OpenAI-compatible
// /audio/speech endpoint and hands the file to a local player
type Service struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	voice      string
	outputDir  string
	player     []string
}

// NewService creates a speech service
func NewService(cfg Config) *Service {
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}

	return &Service{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		voice:     cfg.Voice,
		outputDir: cfg.OutputDir,
		player:    strings.Fields(cfg.Player),
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
	Instructions   string  `json:"instructions,omitempty"`
}

// Speak synthesizes text and plays it. The endpoint has no pitch control,
// so pitch and language are passed as delivery instructions.
func (s *Service) Speak(ctx context.Context, text, language string, rate, pitch float64) error {
	path, err := s.Synthesize(ctx, text, language, rate, pitch)
	if err != nil {
		return err
	}
	if len(s.player) == 0 {
		log.Printf("🔊 [AUDIO] Speech saved to %s (no player configured)", path)
		return nil
	}
	defer os.Remove(path)

	args := append(append([]string(nil), s.player[1:]...), path)
	if out, err := exec.CommandContext(ctx, s.player[0], args...).CombinedOutput(); err != nil {
		return fmt.Errorf("player %s failed: %w (%s)", s.player[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Synthesize writes the speech for text to an mp3 file and returns its path
func (s *Service) Synthesize(ctx context.Context, text, language string, rate, pitch float64) (string, error) {
	if text == "" {
		return "", fmt.Errorf("nothing to say")
	}

	payload, err := json.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		Speed:          speedFor(rate),
		ResponseFormat: "mp3",
		Instructions:   deliveryInstructions(language, pitch),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

	log.Printf("🔄 [AUDIO] Requesting speech (%d chars, model: %s)", len(text), s.model)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.Printf("❌ [AUDIO] Speech API error: %d - %s", resp.StatusCode, string(respBody))

		var errorResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error.Message != "" {
			return "", fmt.Errorf("speech API error: %s", errorResp.Error.Message)
		}
		return "", fmt.Errorf("speech API error: %d", resp.StatusCode)
	}

	path := filepath.Join(s.outputDir, "speech-"+uuid.New().String()+".mp3")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}
	written, err := io.Copy(file, resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	log.Printf("✅ [AUDIO] Speech ready (%d bytes)", written)
	return path, nil
}

// speedFor maps a speech rate onto the API's 0.25-4.0 speed range
func speedFor(rate float64) float64 {
	switch {
	case rate <= 0:
		return 1
	case rate < 0.25:
		return 0.25
	case rate > 4:
		return 4
	}
	return rate
}

func deliveryInstructions(language string, pitch float64) string {
	var parts []string
	if language != "" {
		parts = append(parts, "Speak in "+language+".")
	}
	switch {
	case pitch > 1.05:
		parts = append(parts, "Use a slightly higher, brighter pitch.")
	case pitch > 0 && pitch < 0.95:
		parts = append(parts, "Use a slightly lower pitch.")
	}
	return strings.Join(parts, " ")
}

// LogSpeaker writes spoken messages to the log. Used when no speech API is configured.
type LogSpeaker struct{}

// Speak logs the text
func (LogSpeaker) Speak(ctx context.Context, text, language string, rate, pitch float64) error {
	log.Printf("🗣️  [AUDIO] (%s, rate %.1f, pitch %.1f) %s", language, rate, pitch, text)
	return nil
}

package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithDose returns a logger with dose instance fields attached.
// Use this for all logging within a state transition.
func WithDose(instanceID, medicationID string) *slog.Logger {
	return slog.With(
		"instance_id", instanceID,
		"medication_id", medicationID,
	)
}

// WithCaretaker returns a logger scoped to one escalation recipient.
func WithCaretaker(logger *slog.Logger, caretakerID, resolution string) *slog.Logger {
	return logger.With(
		"caretaker_id", caretakerID,
		"resolution", resolution,
	)
}

package reminder

import "errors"

var (
	// ErrUnknownInstance is returned for actions on an instance that was never notified
	ErrUnknownInstance = errors.New("unknown dose instance")

	// ErrSnoozeLimit is returned when the configured snooze cap has been reached
	ErrSnoozeLimit = errors.New("snooze limit reached")

	// ErrInvalidEntry is returned when arming a schedule entry that fails validation
	ErrInvalidEntry = errors.New("invalid schedule entry")

	// ErrPersistence wraps dose log failures; the instance keeps its previous state
	ErrPersistence = errors.New("failed to record dose transition")

	// ErrStopped is returned for user actions that arrive during shutdown
	ErrStopped = errors.New("reminder service is stopping")
)

package handlers

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"pillpal/internal/models"
	"pillpal/internal/reminder"
)

// DoseService is the reminder core as used by the HTTP and feed handlers
type DoseService interface {
	ConfirmTaken(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error)
	Skip(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error)
	Snooze(ctx context.Context, id models.DoseInstanceID) (models.DoseInstance, error)
	Get(id models.DoseInstanceID) (models.DoseInstance, bool)
	List(date string) []models.DoseInstance
	Upcoming() []models.UpcomingDose
	Preferences() models.Preferences
	OnPreferenceChanged(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error)
	Reconcile(ctx context.Context) error
	OpenCount() int
	TriggerCount() int
}

// DoseHistory reads the durable record of one instance
type DoseHistory interface {
	History(ctx context.Context, id models.DoseInstanceID) ([]*models.DoseEvent, error)
	Outcomes(ctx context.Context, id models.DoseInstanceID) ([]models.EscalationOutcome, error)
}

// DoseHandler handles dose instance HTTP requests
type DoseHandler struct {
	doses    DoseService
	history  DoseHistory
	clock    clockwork.Clock
	location *time.Location
}

// NewDoseHandler creates a new dose handler
func NewDoseHandler(doses DoseService, history DoseHistory, clock clockwork.Clock, loc *time.Location) *DoseHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &DoseHandler{doses: doses, history: history, clock: clock, location: loc}
}

// List returns the dose instances of a day
// GET /api/doses?date=YYYY-MM-DD
func (h *DoseHandler) List(c *fiber.Ctx) error {
	date := c.Query("date")
	if date == "" {
		date = h.clock.Now().In(h.location).Format(models.DateLayout)
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date must be YYYY-MM-DD",
		})
	}

	doses := h.doses.List(date)
	return c.JSON(fiber.Map{
		"date":  date,
		"doses": doses,
		"count": len(doses),
	})
}

// Get returns one dose instance
// GET /api/doses/:id
func (h *DoseHandler) Get(c *fiber.Ctx) error {
	id, err := instanceIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	inst, ok := h.doses.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Dose not found",
		})
	}
	return c.JSON(inst)
}

// Taken confirms a dose
// POST /api/doses/:id/taken
func (h *DoseHandler) Taken(c *fiber.Ctx) error {
	return h.act(c, "taken", h.doses.ConfirmTaken)
}

// Skip skips a dose
// POST /api/doses/:id/skip
func (h *DoseHandler) Skip(c *fiber.Ctx) error {
	return h.act(c, "skip", h.doses.Skip)
}

// Snooze defers a reminder
// POST /api/doses/:id/snooze
func (h *DoseHandler) Snooze(c *fiber.Ctx) error {
	return h.act(c, "snooze", h.doses.Snooze)
}

func (h *DoseHandler) act(c *fiber.Ctx, action string, fn func(context.Context, models.DoseInstanceID) (models.DoseInstance, error)) error {
	id, err := instanceIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	inst, err := fn(c.UserContext(), id)
	if err != nil {
		status, message := doseErrorStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Printf("❌ [DOSES] %s for %s failed: %v", action, id, err)
		}
		return c.Status(status).JSON(fiber.Map{
			"error":    message,
			"instance": instanceOrNil(inst),
		})
	}

	return c.JSON(inst)
}

// History returns the logged transitions and caretaker messages of a dose
// GET /api/doses/:id/history
func (h *DoseHandler) History(c *fiber.Ctx) error {
	id, err := instanceIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	events, err := h.history.History(c.UserContext(), id)
	if err != nil {
		log.Printf("❌ [DOSES] Failed to load history for %s: %v", id, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Dose history unavailable",
		})
	}
	outcomes, err := h.history.Outcomes(c.UserContext(), id)
	if err != nil {
		log.Printf("❌ [DOSES] Failed to load caretaker messages for %s: %v", id, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Dose history unavailable",
		})
	}

	if len(events) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Dose not found",
		})
	}

	return c.JSON(fiber.Map{
		"id":        id,
		"events":    events,
		"caretaker": outcomes,
	})
}

// instanceIDParam parses the :id route parameter. Clients percent-encode
// the ':' of the slot time.
func instanceIDParam(c *fiber.Ctx) (models.DoseInstanceID, error) {
	raw, err := url.PathUnescape(c.Params("id"))
	if err != nil {
		return models.DoseInstanceID{}, err
	}
	return models.ParseDoseInstanceID(raw)
}

// doseErrorStatus maps reminder errors onto HTTP statuses
func doseErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reminder.ErrUnknownInstance):
		return fiber.StatusNotFound, "Dose has not been notified"
	case errors.Is(err, reminder.ErrSnoozeLimit):
		return fiber.StatusConflict, "Snooze limit reached"
	case errors.Is(err, reminder.ErrPersistence):
		return fiber.StatusServiceUnavailable, "Could not record the dose, please try again"
	case errors.Is(err, reminder.ErrStopped):
		return fiber.StatusServiceUnavailable, "Server is shutting down, please try again"
	default:
		return fiber.StatusInternalServerError, "Failed to update dose"
	}
}

func instanceOrNil(inst models.DoseInstance) *models.DoseInstance {
	if inst.ID.IsZero() {
		return nil
	}
	return &inst
}

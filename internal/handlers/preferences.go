package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"pillpal/internal/models"
	"pillpal/internal/services"
)

// PreferencesHandler handles preference HTTP requests
type PreferencesHandler struct {
	doses DoseService
}

// NewPreferencesHandler creates a new PreferencesHandler
func NewPreferencesHandler(doses DoseService) *PreferencesHandler {
	return &PreferencesHandler{doses: doses}
}

// Get returns the preferences in effect
// GET /api/preferences
func (h *PreferencesHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.doses.Preferences())
}

// Update merges a partial change. Doses already notified keep their deadline.
// PATCH /api/preferences
func (h *PreferencesHandler) Update(c *fiber.Ctx) error {
	var req models.PreferencesUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.IsEmpty() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No preference fields provided",
		})
	}

	prefs, err := h.doses.OnPreferenceChanged(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPreferences) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		log.Printf("❌ [PREFS] Failed to update preferences: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update preferences",
		})
	}

	return c.JSON(prefs)
}

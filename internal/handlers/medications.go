package handlers

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"pillpal/internal/models"
)

// MedicationSource is the medication file as seen by the API
type MedicationSource interface {
	All() []models.ScheduleEntry
	Caretakers(ctx context.Context) ([]models.Caretaker, error)
	Reload() (bool, error)
}

// MedicationHandler exposes the medication schedule
type MedicationHandler struct {
	store MedicationSource
	doses DoseService
}

// NewMedicationHandler creates a new medication handler
func NewMedicationHandler(store MedicationSource, doses DoseService) *MedicationHandler {
	return &MedicationHandler{store: store, doses: doses}
}

// List returns every medication in the file, inactive ones included
// GET /api/medications
func (h *MedicationHandler) List(c *fiber.Ctx) error {
	entries := h.store.All()
	return c.JSON(fiber.Map{
		"medications": entries,
		"count":       len(entries),
	})
}

// Upcoming lists the next reminder of every armed slot
// GET /api/medications/upcoming
func (h *MedicationHandler) Upcoming(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"upcoming": h.doses.Upcoming(),
	})
}

// Caretakers lists who receives dose alerts
// GET /api/caretakers
func (h *MedicationHandler) Caretakers(c *fiber.Ctx) error {
	caretakers, err := h.store.Caretakers(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list caretakers",
		})
	}
	return c.JSON(fiber.Map{
		"caretakers": caretakers,
	})
}

// Reconcile re-reads the medication file and re-arms the reminders
// POST /api/medications/reconcile
func (h *MedicationHandler) Reconcile(c *fiber.Ctx) error {
	changed, err := h.store.Reload()
	if err != nil {
		log.Printf("⚠️  [MEDICATIONS] Manual reload failed: %v", err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.doses.Reconcile(c.UserContext()); err != nil {
		log.Printf("❌ [MEDICATIONS] Reconcile failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to re-arm reminders",
		})
	}

	return c.JSON(fiber.Map{
		"changed":  changed,
		"triggers": h.doses.TriggerCount(),
	})
}

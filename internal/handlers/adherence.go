package handlers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"pillpal/internal/models"
)

const defaultReportDays = 7

// AdherenceReporter builds adherence summaries
type AdherenceReporter interface {
	Report(ctx context.Context, from, to string) (*models.AdherenceReport, error)
	ExportXLSX(ctx context.Context, from, to string) ([]byte, error)
}

// AdherenceHandler serves adherence reports
type AdherenceHandler struct {
	reporter AdherenceReporter
	clock    clockwork.Clock
	location *time.Location
}

// NewAdherenceHandler creates a new adherence handler
func NewAdherenceHandler(reporter AdherenceReporter, clock clockwork.Clock, loc *time.Location) *AdherenceHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &AdherenceHandler{reporter: reporter, clock: clock, location: loc}
}

// Report returns per-day adherence
// GET /api/adherence?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *AdherenceHandler) Report(c *fiber.Ctx) error {
	from, to := h.dateRange(c)

	report, err := h.reporter.Report(c.UserContext(), from, to)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(report)
}

// Export returns the report as a spreadsheet
// GET /api/adherence/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *AdherenceHandler) Export(c *fiber.Ctx) error {
	from, to := h.dateRange(c)

	data, err := h.reporter.ExportXLSX(c.UserContext(), from, to)
	if err != nil {
		log.Printf("⚠️  [ADHERENCE] Export %s..%s failed: %v", from, to, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="adherence-%s-to-%s.xlsx"`, from, to))
	return c.Send(data)
}

// dateRange defaults to the last seven days ending today
func (h *AdherenceHandler) dateRange(c *fiber.Ctx) (string, string) {
	today := h.clock.Now().In(h.location)
	to := c.Query("to", today.Format(models.DateLayout))
	from := c.Query("from", today.AddDate(0, 0, -(defaultReportDays-1)).Format(models.DateLayout))
	return from, to
}

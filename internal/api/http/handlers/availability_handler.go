package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/travel-workflow/internal/api/dto"
	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/service"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

const dateLayout = "2006-01-02"

// AvailabilityChecker answers booking conflict queries.
type AvailabilityChecker interface {
	CheckBothAvailability(ctx context.Context, q service.AvailabilityQuery) (*domain.AvailabilityResult, error)
}

// AvailabilityHandler exposes the conflict checker.
type AvailabilityHandler struct {
	checker AvailabilityChecker
}

// NewAvailabilityHandler constructs handler.
func NewAvailabilityHandler(checker AvailabilityChecker) *AvailabilityHandler {
	return &AvailabilityHandler{checker: checker}
}

// Check GET /availability.
func (h *AvailabilityHandler) Check(c *fiber.Ctx) error {
	var q dto.AvailabilityQuery
	if err := c.QueryParser(&q); err != nil {
		return apperrors.NewValidationError("invalid query", nil)
	}
	if strings.TrimSpace(q.VehicleID) == "" && strings.TrimSpace(q.DriverID) == "" {
		return apperrors.NewValidationError("vehicle_id or driver_id required", nil)
	}
	start, err := parseDate("start", q.Start)
	if err != nil {
		return err
	}
	end, err := parseDate("end", q.End)
	if err != nil {
		return err
	}

	result, err := h.checker.CheckBothAvailability(c.UserContext(), service.AvailabilityQuery{
		VehicleID:        q.VehicleID,
		DriverID:         q.DriverID,
		Start:            start,
		End:              end,
		ExcludeRequestID: q.ExcludeRequestID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperrors.NewValidationError(field+" required", map[string]any{"field": field})
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(field+" must be YYYY-MM-DD", map[string]any{"field": field, "value": raw})
	}
	return t, nil
}

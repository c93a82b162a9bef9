package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/travel-workflow/internal/api/dto"
	"github.com/spec-kit/travel-workflow/internal/auth"
	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/service"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// Transitioner applies workflow decisions.
type Transitioner interface {
	Transition(ctx context.Context, cmd service.TransitionCommand) (*service.TransitionResult, error)
}

// TransitionsHandler exposes the transition operation.
type TransitionsHandler struct {
	engine Transitioner
}

// NewTransitionsHandler constructs handler.
func NewTransitionsHandler(engine Transitioner) *TransitionsHandler {
	return &TransitionsHandler{engine: engine}
}

// Transition POST /requests/:id/transitions.
func (h *TransitionsHandler) Transition(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("actor required")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	action, ok := service.ParseAction(req.Action)
	if !ok {
		return apperrors.NewValidationError("unknown action", map[string]any{"action": req.Action})
	}

	cmd := service.TransitionCommand{
		RequestID:        c.Params("id"),
		ActorID:          principal.User.ID,
		Action:           action,
		Stage:            domain.Stage(strings.ToLower(strings.TrimSpace(req.Stage))),
		ExpectedStatus:   domain.Status(strings.ToLower(strings.TrimSpace(req.ExpectedStatus))),
		Signature:        req.Signature,
		Comments:         req.Comments,
		NextApproverID:   req.NextApproverID,
		NextApproverRole: req.NextApproverRole,
		VehicleID:        req.VehicleID,
		DriverID:         req.DriverID,
		EditedBudget:     req.EditedBudget,
		IdempotencyKey:   strings.TrimSpace(c.Get("Idempotency-Key")),
	}
	result, err := h.engine.Transition(c.UserContext(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

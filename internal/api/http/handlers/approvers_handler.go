package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/travel-workflow/internal/domain"
)

// ApproverLister lists routing choices.
type ApproverLister interface {
	ListApprovers(ctx context.Context, role string) ([]domain.Approver, error)
}

// ApproversHandler exposes the approver directory.
type ApproversHandler struct {
	directory ApproverLister
}

// NewApproversHandler constructs handler.
func NewApproversHandler(directory ApproverLister) *ApproversHandler {
	return &ApproversHandler{directory: directory}
}

// List GET /approvers?role=.
func (h *ApproversHandler) List(c *fiber.Ctx) error {
	approvers, err := h.directory.ListApprovers(c.UserContext(), c.Query("role"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": approvers})
}

package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/travel-workflow/internal/api/dto"
	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/service"
)

// HistoryReader reads the audit trail.
type HistoryReader interface {
	ListByRequest(ctx context.Context, requestID string) ([]domain.HistoryEntry, error)
	ListByActor(ctx context.Context, q service.ActivityQuery) ([]domain.HistoryEntry, error)
}

// HistoryHandler exposes request and actor history.
type HistoryHandler struct {
	history HistoryReader
}

// NewHistoryHandler constructs handler.
func NewHistoryHandler(history HistoryReader) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ByRequest GET /requests/:id/history.
func (h *HistoryHandler) ByRequest(c *fiber.Ctx) error {
	entries, err := h.history.ListByRequest(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

// ByActor GET /actors/:id/history.
func (h *HistoryHandler) ByActor(c *fiber.Ctx) error {
	q := service.ActivityQuery{
		ActorID: c.Params("id"),
		Limit:   c.QueryInt("limit", 0),
		Offset:  c.QueryInt("offset", 0),
	}
	if raw := c.Query("action"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				q.Actions = append(q.Actions, domain.HistoryAction(a))
			}
		}
	}
	if raw := c.Query("from"); raw != "" {
		from, err := parseDate("from", raw)
		if err != nil {
			return err
		}
		q.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := parseDate("to", raw)
		if err != nil {
			return err
		}
		// inclusive of the whole day
		to = to.Add(24*time.Hour - time.Nanosecond)
		q.To = &to
	}

	entries, err := h.history.ListByActor(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data":   historyResponses(entries),
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

func historyResponses(entries []domain.HistoryEntry) []dto.HistoryEntryResponse {
	out := make([]dto.HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.HistoryEntryResponse{
			ID:             e.ID,
			RequestID:      e.RequestID,
			Action:         e.Action,
			ActorID:        e.ActorID,
			ActorRole:      e.ActorRole,
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			Comments:       e.Comments,
			Metadata:       e.Metadata,
			CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/repository"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ActivityQuery filters an approver's own decisions.
type ActivityQuery struct {
	ActorID string
	Actions []domain.HistoryAction
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// HistoryService reads the audit trail.
type HistoryService struct {
	requests repository.RequestRepository
	history  repository.HistoryRepository
}

// NewHistoryService builds the service.
func NewHistoryService(requests repository.RequestRepository, history repository.HistoryRepository) *HistoryService {
	return &HistoryService{requests: requests, history: history}
}

// ListByRequest returns every transition of a request, oldest first.
func (s *HistoryService) ListByRequest(ctx context.Context, requestID string) ([]domain.HistoryEntry, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, apperrors.NewValidationError("request id is required", nil)
	}
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("request", map[string]any{"request_id": requestID})
		}
		return nil, apperrors.NewPersistenceError(err)
	}
	entries, err := s.history.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// ListByActor returns an actor's decisions, newest first.
func (s *HistoryService) ListByActor(ctx context.Context, q ActivityQuery) ([]domain.HistoryEntry, error) {
	if strings.TrimSpace(q.ActorID) == "" {
		return nil, apperrors.NewValidationError("actor id is required", nil)
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, apperrors.NewValidationError("to must not be before from", nil)
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultHistoryLimit
	case q.Limit > maxHistoryLimit:
		q.Limit = maxHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	entries, err := s.history.ListByActor(ctx, repository.HistoryFilter{
		ActorID: q.ActorID,
		Actions: q.Actions,
		From:    q.From,
		To:      q.To,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

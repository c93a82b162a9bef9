package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/travel-workflow/internal/config"
	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/events"
	"github.com/spec-kit/travel-workflow/internal/observability"
	"github.com/spec-kit/travel-workflow/internal/repository"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// Action is what an actor asks the engine to do with a request.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReceive  Action = "receive"
	ActionReject   Action = "reject"
	ActionReturn   Action = "return"
	ActionResubmit Action = "resubmit"
	ActionCancel   Action = "cancel"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionSubmit, ActionApprove, ActionReceive, ActionReject, ActionReturn, ActionResubmit, ActionCancel:
		return a, true
	}
	return "", false
}

// TransitionCommand is one decision on one request.
type TransitionCommand struct {
	RequestID string
	ActorID   string
	Action    Action

	// Stage and ExpectedStatus, when set, pin the decision to what the actor
	// saw. A request that moved on in the meantime fails with
	// INVALID_STATE_TRANSITION instead of being decided at its new stage.
	Stage          domain.Stage
	ExpectedStatus domain.Status

	Signature string
	// Comments are the approval notes, or the reason for reject, return and cancel.
	Comments string

	NextApproverID   string
	NextApproverRole string
	VehicleID        string
	DriverID         string
	EditedBudget     *decimal.Decimal

	IdempotencyKey string
}

// TransitionResult is what the caller gets back from a committed transition.
type TransitionResult struct {
	RequestID        string                     `json:"request_id"`
	RequestNumber    string                     `json:"request_number"`
	PreviousStatus   domain.Status              `json:"previous_status"`
	Status           domain.Status              `json:"status"`
	NextApproverRole domain.Role                `json:"next_approver_role,omitempty"`
	NextApproverID   string                     `json:"next_approver_id,omitempty"`
	Message          string                     `json:"message"`
	Availability     *domain.AvailabilityResult `json:"availability,omitempty"`
}

// IdempotencyGuard claims caller supplied retry keys.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// TransitionEngine validates and commits workflow transitions.
type TransitionEngine struct {
	cfg          config.WorkflowConfig
	tx           repository.TxManager
	requests     repository.RequestRepository
	history      repository.HistoryRepository
	users        repository.UserRepository
	departments  repository.DepartmentRepository
	resolver     *ApproverResolver
	availability *AvailabilityChecker
	dispatcher   events.Dispatcher
	guard        IdempotencyGuard
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// TransitionDependencies bundles collaborators for the engine.
type TransitionDependencies struct {
	TxManager      repository.TxManager
	RequestRepo    repository.RequestRepository
	HistoryRepo    repository.HistoryRepository
	UserRepo       repository.UserRepository
	DepartmentRepo repository.DepartmentRepository
	Resolver       *ApproverResolver
	Availability   *AvailabilityChecker
	Dispatcher     events.Dispatcher
	Guard          IdempotencyGuard
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewTransitionEngine constructs the engine.
func NewTransitionEngine(cfg config.WorkflowConfig, deps TransitionDependencies) *TransitionEngine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if cfg.MinAdminNotes <= 0 {
		cfg.MinAdminNotes = 20
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = NewApproverResolver(deps.UserRepo, domain.Role(cfg.DefaultNextRole), logger)
	}
	availability := deps.Availability
	if availability == nil {
		availability = NewAvailabilityChecker(deps.RequestRepo)
	}
	return &TransitionEngine{
		cfg:          cfg,
		tx:           deps.TxManager,
		requests:     deps.RequestRepo,
		history:      deps.HistoryRepo,
		users:        deps.UserRepo,
		departments:  deps.DepartmentRepo,
		resolver:     resolver,
		availability: availability,
		dispatcher:   deps.Dispatcher,
		guard:        deps.Guard,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          clock,
	}
}

// outcome is the engine's record of one applied transition.
type outcome struct {
	previous  domain.Status
	action    domain.HistoryAction
	actorRole domain.Role
	comments  string
	metadata  map[string]any
	message   string
	notify    []events.Event
	available *domain.AvailabilityResult
	request   *domain.Request
}

// Transition applies cmd atomically: the request update and its history
// entry commit together or not at all. Notifications are sent after commit
// and never undo it.
func (e *TransitionEngine) Transition(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	if action, ok := ParseAction(string(cmd.Action)); ok {
		cmd.Action = action
	}
	if err := e.validate(cmd); err != nil {
		e.metrics.RecordTransition(string(cmd.Action), apperrors.ToDomainError(err).Code)
		return nil, err
	}

	if cmd.IdempotencyKey != "" && e.guard != nil {
		key := cmd.RequestID + ":" + cmd.IdempotencyKey
		claimed, err := e.guard.Claim(ctx, key)
		switch {
		case err != nil:
			e.logger.Warn("idempotency guard unavailable; relying on conditional update",
				zap.String("request_id", cmd.RequestID), zap.Error(err))
		case !claimed:
			e.metrics.RecordTransition(string(cmd.Action), apperrors.CodeDuplicate)
			return nil, apperrors.NewDuplicateSubmission(cmd.IdempotencyKey)
		default:
			committed := false
			defer func() {
				if committed {
					return
				}
				if relErr := e.guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
					e.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
				}
			}()
			result, err := e.commit(ctx, cmd)
			committed = err == nil
			return result, err
		}
	}
	return e.commit(ctx, cmd)
}

func (e *TransitionEngine) commit(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	var out *outcome
	err := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := e.requests.GetForUpdate(txCtx, cmd.RequestID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("request", map[string]any{"request_id": cmd.RequestID})
			}
			return apperrors.NewPersistenceError(err)
		}
		if cmd.ExpectedStatus != "" && current.Status != cmd.ExpectedStatus {
			return apperrors.NewInvalidTransition(string(cmd.Action), string(current.Status))
		}

		actor, err := e.users.GetByID(txCtx, cmd.ActorID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewForbidden("unknown actor")
			}
			return apperrors.NewPersistenceError(err)
		}

		req := current.Clone()
		o, err := e.apply(txCtx, req, actor, cmd)
		if err != nil {
			return err
		}
		o.previous = current.Status
		if err := req.CheckConsistency(); err != nil {
			return apperrors.NewInternalError(err)
		}

		if err := e.requests.UpdateTransition(txCtx, req, current.Status); err != nil {
			if errors.Is(err, repository.ErrStaleRequest) {
				return apperrors.NewInvalidTransition(string(cmd.Action), string(current.Status))
			}
			return apperrors.NewPersistenceError(err)
		}

		entry := &domain.HistoryEntry{
			RequestID:      req.ID,
			Action:         o.action,
			ActorID:        actor.ID,
			ActorRole:      o.actorRole,
			PreviousStatus: current.Status,
			NewStatus:      req.Status,
			Metadata:       o.metadata,
		}
		if o.comments != "" {
			c := o.comments
			entry.Comments = &c
		}
		if err := e.history.Insert(txCtx, entry); err != nil {
			return apperrors.NewPersistenceError(err)
		}

		o.request = req
		out = o
		return nil
	})
	if err != nil {
		var de *apperrors.DomainError
		if !errors.As(err, &de) {
			err = apperrors.NewPersistenceError(err)
		}
		e.metrics.RecordTransition(string(cmd.Action), apperrors.ToDomainError(err).Code)
		return nil, err
	}

	e.metrics.RecordTransition(string(cmd.Action), "ok")
	e.publish(ctx, out)

	req := out.request
	result := &TransitionResult{
		RequestID:      req.ID,
		RequestNumber:  req.RequestNumber,
		PreviousStatus: out.previous,
		Status:         req.Status,
		Message:        out.message,
		Availability:   out.available,
	}
	if route := req.Metadata.Route; route != nil {
		result.NextApproverRole = route.Role()
		result.NextApproverID = route.ApproverID()
	}
	return result, nil
}

// validate rejects malformed commands before any read or write.
func (e *TransitionEngine) validate(cmd TransitionCommand) error {
	missing := []string{}
	if strings.TrimSpace(cmd.RequestID) == "" {
		missing = append(missing, "request_id")
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		missing = append(missing, "actor_id")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("missing required fields", map[string]any{"fields": missing})
	}
	if _, ok := ParseAction(string(cmd.Action)); !ok {
		return apperrors.NewValidationError("unknown action", map[string]any{"action": cmd.Action})
	}
	if cmd.Stage != "" && !cmd.Stage.Valid() {
		return apperrors.NewValidationError("unknown stage", map[string]any{"stage": cmd.Stage})
	}
	if cmd.ExpectedStatus != "" && !cmd.ExpectedStatus.Valid() {
		return apperrors.NewValidationError("unknown expected status", map[string]any{"expected_status": cmd.ExpectedStatus})
	}

	switch cmd.Action {
	case ActionApprove:
		if strings.TrimSpace(cmd.Signature) == "" {
			return apperrors.NewValidationError("signature is required", map[string]any{"field": "signature"})
		}
		// only admin assigns vehicles and drivers
		adminOnly := strings.TrimSpace(cmd.VehicleID) != "" || strings.TrimSpace(cmd.DriverID) != ""
		if cmd.Stage == domain.StageAdmin || adminOnly {
			if err := e.validateAdminNotes(cmd.Comments); err != nil {
				return err
			}
		}
		if cmd.EditedBudget != nil && cmd.EditedBudget.IsNegative() {
			return apperrors.NewValidationError("edited budget must not be negative", map[string]any{"field": "edited_budget"})
		}
	case ActionReject, ActionReturn:
		if strings.TrimSpace(cmd.Comments) == "" {
			return apperrors.NewValidationError("a reason is required", map[string]any{"field": "comments"})
		}
	}
	return nil
}

func (e *TransitionEngine) validateAdminNotes(notes string) error {
	if n := len([]rune(strings.TrimSpace(notes))); n < e.cfg.MinAdminNotes {
		return apperrors.NewValidationError(
			fmt.Sprintf("admin notes must be at least %d characters", e.cfg.MinAdminNotes),
			map[string]any{"field": "comments", "length": n, "minimum": e.cfg.MinAdminNotes})
	}
	return nil
}

// publish hands notification events to the dispatcher. Failures are logged
// and dropped; the transition has already committed.
func (e *TransitionEngine) publish(ctx context.Context, out *outcome) {
	if e.dispatcher == nil || out == nil {
		return
	}
	for _, event := range out.notify {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = e.now()
		}
		if err := e.dispatcher.Publish(ctx, event); err != nil {
			e.logger.Warn("notification delivery failed",
				zap.String("request_id", event.RequestID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/events"
	"github.com/spec-kit/travel-workflow/internal/notify"
)

// IntentSink accepts notification intents for delivery.
type IntentSink interface {
	Deliver(ctx context.Context, intent notify.Intent) error
}

// NotificationService turns workflow events into notification intents.
type NotificationService struct {
	dispatcher events.Dispatcher
	sink       IntentSink
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, sink IntentSink, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventApprovalRequired, n.handleApprovalRequired)
	n.dispatcher.Subscribe(events.EventRequestApproved, n.handleToRequester("Your request %s moved to %s"))
	n.dispatcher.Subscribe(events.EventRequestRejected, n.handleToRequester("Your request %s was %s"))
	n.dispatcher.Subscribe(events.EventRequestReturned, n.handleToRequester("Your request %s was %s for revision"))
	n.dispatcher.Subscribe(events.EventRequestResubmitted, n.handleToRequester("Your request %s was resubmitted and is %s"))
	n.dispatcher.Subscribe(events.EventRequestCancelled, n.handleCancelled)
}

func (n *NotificationService) handleApprovalRequired(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ApprovalRequiredPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	return n.deliver(ctx, event, p.RequestNumber, p.ApproverID, p.ApproverRole,
		fmt.Sprintf("Request %s is waiting for your approval", p.RequestNumber))
}

func (n *NotificationService) handleToRequester(format string) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		p, ok := event.Payload.(events.TransitionPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
		}
		return n.deliver(ctx, event, p.RequestNumber, p.RequesterID, "",
			fmt.Sprintf(format, p.RequestNumber, p.NewStatus))
	}
}

// handleCancelled tells whoever was holding the request that it is gone.
func (n *NotificationService) handleCancelled(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.TransitionPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if p.PreviousApproverID == "" && p.PreviousApproverRole == "" {
		n.logger.Debug("cancelled request had no pending approver", zap.String("request_id", event.RequestID))
		return nil
	}
	return n.deliver(ctx, event, p.RequestNumber, p.PreviousApproverID, p.PreviousApproverRole,
		fmt.Sprintf("Request %s was cancelled by the requester", p.RequestNumber))
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event, number, recipientID string, recipientRole domain.Role, message string) error {
	intent := notify.Intent{
		ID:            uuid.NewString(),
		EventType:     string(event.Type),
		RequestID:     event.RequestID,
		RequestNumber: number,
		RecipientID:   recipientID,
		RecipientRole: string(recipientRole),
		Message:       message,
		CreatedAt:     event.Timestamp,
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	n.logger.Debug("notification intent",
		zap.String("event_type", intent.EventType),
		zap.String("request_id", intent.RequestID),
		zap.String("recipient_id", intent.RecipientID),
		zap.String("recipient_role", intent.RecipientRole))
	if n.sink == nil {
		return nil
	}
	return n.sink.Deliver(ctx, intent)
}

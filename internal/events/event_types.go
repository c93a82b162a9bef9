package events

import (
	"time"

	"github.com/spec-kit/travel-workflow/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestApproved    EventType = "request_approved"
	EventApprovalRequired   EventType = "approval_required"
	EventRequestRejected    EventType = "request_rejected"
	EventRequestReturned    EventType = "request_returned"
	EventRequestResubmitted EventType = "request_resubmitted"
	EventRequestCancelled   EventType = "request_cancelled"
)

// Actor identifies who caused an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted after a transition commits.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RequestID string      `json:"request_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TransitionPayload describes a committed transition.
type TransitionPayload struct {
	RequestNumber  string        `json:"request_number"`
	RequesterID    string        `json:"requester_id"`
	PreviousStatus domain.Status `json:"previous_status"`
	NewStatus      domain.Status `json:"new_status"`
	Reason         string        `json:"reason,omitempty"`

	PreviousApproverID   string      `json:"previous_approver_id,omitempty"`
	PreviousApproverRole domain.Role `json:"previous_approver_role,omitempty"`
}

// ApprovalRequiredPayload names the approver a request now waits on.
type ApprovalRequiredPayload struct {
	RequestNumber string        `json:"request_number"`
	ApproverID    string        `json:"approver_id"`
	ApproverRole  domain.Role   `json:"approver_role"`
	Status        domain.Status `json:"status"`
}

package dto

import (
	"github.com/shopspring/decimal"

	"github.com/spec-kit/travel-workflow/internal/domain"
)

// TransitionRequest payload for POST /requests/:id/transitions.
type TransitionRequest struct {
	Action string `json:"action"`
	// Stage and ExpectedStatus are what the caller saw when deciding.
	Stage          string `json:"stage"`
	ExpectedStatus string `json:"expected_status"`

	Signature        string           `json:"signature"`
	Comments         string           `json:"comments"`
	NextApproverID   string           `json:"next_approver_id"`
	NextApproverRole string           `json:"next_approver_role"`
	VehicleID        string           `json:"vehicle_id"`
	DriverID         string           `json:"driver_id"`
	EditedBudget     *decimal.Decimal `json:"edited_budget"`
}

// AvailabilityQuery captures GET /availability parameters.
type AvailabilityQuery struct {
	VehicleID        string `query:"vehicle_id"`
	DriverID         string `query:"driver_id"`
	Start            string `query:"start"`
	End              string `query:"end"`
	ExcludeRequestID string `query:"exclude_request_id"`
}

// HistoryEntryResponse is one audit entry.
type HistoryEntryResponse struct {
	ID             string               `json:"id"`
	RequestID      string               `json:"request_id"`
	Action         domain.HistoryAction `json:"action"`
	ActorID        string               `json:"actor_id"`
	ActorRole      domain.Role          `json:"actor_role,omitempty"`
	PreviousStatus domain.Status        `json:"previous_status"`
	NewStatus      domain.Status        `json:"new_status"`
	Comments       *string              `json:"comments,omitempty"`
	Metadata       map[string]any       `json:"metadata,omitempty"`
	CreatedAt      string               `json:"created_at"`
}

package domain

import "time"

// HistoryAction names what a history entry records.
type HistoryAction string

const (
	ActionSubmitted           HistoryAction = "submitted"
	ActionHeadApproved        HistoryAction = "head_approved"
	ActionHeadEndorsed        HistoryAction = "head_endorsed"
	ActionParentApproved      HistoryAction = "parent_head_approved"
	ActionAdminReceived       HistoryAction = "admin_received"
	ActionAdminApproved       HistoryAction = "admin_approved"
	ActionComptrollerApproved HistoryAction = "comptroller_approved"
	ActionHRApproved          HistoryAction = "hr_approved"
	ActionVPApproved          HistoryAction = "vp_approved"
	ActionPresidentApproved   HistoryAction = "president_approved"
	ActionExecApproved        HistoryAction = "exec_approved"
	ActionRejected            HistoryAction = "rejected"
	ActionReturned            HistoryAction = "returned"
	ActionResubmitted         HistoryAction = "resubmitted"
	ActionCancelled           HistoryAction = "cancelled"
)

// HistoryEntry is an immutable audit record of one transition.
type HistoryEntry struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id"`
	Action         HistoryAction  `json:"action"`
	ActorID        string         `json:"actor_id"`
	ActorRole      Role           `json:"actor_role,omitempty"`
	PreviousStatus Status         `json:"previous_status"`
	NewStatus      Status         `json:"new_status"`
	Comments       *string        `json:"comments,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

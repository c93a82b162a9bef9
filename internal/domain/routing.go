package domain

import (
	"encoding/json"
	"time"
)

// RoutingHint says who may act next on a request.
// It is either a RoleQueue or a PinnedApprover.
type RoutingHint interface {
	Role() Role
	ApproverID() string
	routingHint()
}

// RoleQueue routes a request to every holder of a role.
type RoleQueue struct {
	To Role
}

func (q RoleQueue) Role() Role         { return q.To }
func (q RoleQueue) ApproverID() string { return "" }
func (RoleQueue) routingHint()         {}

// PinnedApprover routes a request to one named holder of a role.
type PinnedApprover struct {
	To     Role
	UserID string
}

func (p PinnedApprover) Role() Role         { return p.To }
func (p PinnedApprover) ApproverID() string { return p.UserID }
func (PinnedApprover) routingHint()         {}

// RouteTo builds the hint for a destination role. Pooled roles never keep a
// user id so the request stays visible to all of their holders.
func RouteTo(role Role, userID string) RoutingHint {
	if role == "" {
		return nil
	}
	if role.Pooled() || userID == "" {
		return RoleQueue{To: role}
	}
	return PinnedApprover{To: role, UserID: userID}
}

// CanAct reports whether a user holding roles may act on a request routed by hint.
func CanAct(hint RoutingHint, userID string, roles RoleSet) bool {
	if hint == nil {
		return false
	}
	role := hint.Role()
	if role == RoleExec {
		if !roles.HasAny(RoleVP, RolePresident) {
			return false
		}
	} else if !roles.Has(role) {
		return false
	}
	if pinned := hint.ApproverID(); pinned != "" && pinned != userID {
		return false
	}
	return true
}

// HeadEndorsement records one department head confirming a multi-department request.
type HeadEndorsement struct {
	HeadID       string    `json:"head_id"`
	DepartmentID string    `json:"department_id,omitempty"`
	EndorsedAt   time.Time `json:"endorsed_at"`
}

// ReturnPoint remembers where a returned request came from.
type ReturnPoint struct {
	Status     Status `json:"status"`
	Role       Role   `json:"role,omitempty"`
	ApproverID string `json:"approver_id,omitempty"`
}

// WorkflowMetadata is the typed routing side-channel stored as JSON on a request.
type WorkflowMetadata struct {
	Route            RoutingHint
	PendingHeads     []string
	HeadEndorsements []HeadEndorsement
	ReturnedFrom     *ReturnPoint
}

type workflowMetadataJSON struct {
	NextApproverRole Role              `json:"next_approver_role,omitempty"`
	NextApproverID   string            `json:"next_approver_id,omitempty"`
	PendingHeads     []string          `json:"pending_heads,omitempty"`
	HeadEndorsements []HeadEndorsement `json:"head_endorsements,omitempty"`
	ReturnedFrom     *ReturnPoint      `json:"returned_from,omitempty"`
}

func (m WorkflowMetadata) MarshalJSON() ([]byte, error) {
	out := workflowMetadataJSON{
		PendingHeads:     m.PendingHeads,
		HeadEndorsements: m.HeadEndorsements,
		ReturnedFrom:     m.ReturnedFrom,
	}
	if m.Route != nil {
		out.NextApproverRole = m.Route.Role()
		out.NextApproverID = m.Route.ApproverID()
	}
	return json.Marshal(out)
}

func (m *WorkflowMetadata) UnmarshalJSON(data []byte) error {
	var in workflowMetadataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = WorkflowMetadata{
		Route:            RouteTo(in.NextApproverRole, in.NextApproverID),
		PendingHeads:     in.PendingHeads,
		HeadEndorsements: in.HeadEndorsements,
		ReturnedFrom:     in.ReturnedFrom,
	}
	return nil
}

// Endorsed reports whether headID already endorsed the request.
func (m WorkflowMetadata) Endorsed(headID string) bool {
	for _, e := range m.HeadEndorsements {
		if e.HeadID == headID {
			return true
		}
	}
	return false
}

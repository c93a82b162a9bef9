package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RequestType classifies what the requester is asking for.
type RequestType string

const (
	RequestTypeTravelOrder RequestType = "travel_order"
	RequestTypeSeminar     RequestType = "seminar"
	RequestTypeOrgRequest  RequestType = "org_request"
)

// Request is the aggregate routed through the approval chain.
type Request struct {
	ID            string
	RequestNumber string
	RequestType   RequestType

	RequesterID     string
	RequesterName   string
	RequesterIsHead bool
	DepartmentID    string
	// CoDepartmentIDs are additional departments whose heads must endorse.
	CoDepartmentIDs []string
	Participants    []string

	HasBudget    bool
	TotalBudget  decimal.Decimal
	EditedBudget *decimal.Decimal

	Status              Status
	CurrentApproverRole Role
	Metadata            WorkflowMetadata
	Stages              map[Stage]StageFacts

	AssignedVehicleID *string
	AssignedDriverID  *string
	TravelStart       time.Time
	TravelEnd         time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiresComptroller reports whether budget review is needed before HR.
func (r *Request) RequiresComptroller() bool {
	return r.HasBudget
}

// Stage returns the recorded facts for s.
func (r *Request) Stage(s Stage) StageFacts {
	if r.Stages == nil {
		return StageFacts{}
	}
	return r.Stages[s]
}

// RecordStage writes the facts of s once. A stage that already carries a
// timestamp is left untouched and ErrStageRecorded is returned.
func (r *Request) RecordStage(s Stage, approverID, signature, comments string, at time.Time) error {
	if r.Stages == nil {
		r.Stages = make(map[Stage]StageFacts, len(Stages))
	}
	if r.Stages[s].Recorded() {
		return fmt.Errorf("%s: %w", s, ErrStageRecorded)
	}
	facts := StageFacts{ApproverID: &approverID, At: &at}
	if signature != "" {
		facts.Signature = &signature
	}
	if comments != "" {
		facts.Comments = &comments
	}
	r.Stages[s] = facts
	return nil
}

// ResetStagesFrom clears the facts of from and every later stage. Only a
// resubmission rewinds the chain this way.
func (r *Request) ResetStagesFrom(from Stage) {
	reset := false
	for _, s := range Stages {
		if s == from {
			reset = true
		}
		if reset && r.Stages != nil {
			delete(r.Stages, s)
		}
	}
}

// RouteTo moves the request into status and records who acts next.
func (r *Request) RouteTo(status Status, hint RoutingHint) {
	r.Status = status
	r.Metadata.Route = hint
	if hint == nil {
		r.CurrentApproverRole = ""
		return
	}
	r.CurrentApproverRole = hint.Role()
}

// CheckConsistency verifies that status and current approver role agree.
func (r *Request) CheckConsistency() error {
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if !Consistent(r.Status, r.CurrentApproverRole) {
		return fmt.Errorf("status %s cannot await role %q", r.Status, r.CurrentApproverRole)
	}
	if r.Metadata.Route != nil && r.Metadata.Route.Role() != r.CurrentApproverRole {
		return fmt.Errorf("route role %q differs from current approver role %q", r.Metadata.Route.Role(), r.CurrentApproverRole)
	}
	return nil
}

// DepartmentIDs returns the primary department followed by co-departments.
func (r *Request) DepartmentIDs() []string {
	out := make([]string, 0, 1+len(r.CoDepartmentIDs))
	seen := map[string]struct{}{}
	for _, id := range append([]string{r.DepartmentID}, r.CoDepartmentIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *Request) Clone() *Request {
	cp := *r
	cp.CoDepartmentIDs = append([]string(nil), r.CoDepartmentIDs...)
	cp.Participants = append([]string(nil), r.Participants...)
	cp.Metadata.PendingHeads = append([]string(nil), r.Metadata.PendingHeads...)
	cp.Metadata.HeadEndorsements = append([]HeadEndorsement(nil), r.Metadata.HeadEndorsements...)
	if r.Metadata.ReturnedFrom != nil {
		rf := *r.Metadata.ReturnedFrom
		cp.Metadata.ReturnedFrom = &rf
	}
	if r.EditedBudget != nil {
		b := *r.EditedBudget
		cp.EditedBudget = &b
	}
	if r.AssignedVehicleID != nil {
		v := *r.AssignedVehicleID
		cp.AssignedVehicleID = &v
	}
	if r.AssignedDriverID != nil {
		d := *r.AssignedDriverID
		cp.AssignedDriverID = &d
	}
	cp.Stages = make(map[Stage]StageFacts, len(r.Stages))
	for k, v := range r.Stages {
		cp.Stages[k] = v
	}
	return &cp
}

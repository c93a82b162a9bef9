package domain

// Status enumerates lifecycle states for a request.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusPendingHead        Status = "pending_head"
	StatusPendingParentHead  Status = "pending_parent_head"
	StatusHeadApproved       Status = "head_approved"
	StatusPendingAdmin       Status = "pending_admin"
	StatusAdminReceived      Status = "admin_received"
	StatusPendingComptroller Status = "pending_comptroller"
	StatusPendingHR          Status = "pending_hr"
	StatusPendingExec        Status = "pending_exec"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusReturned           Status = "returned"
	StatusCancelled          Status = "cancelled"
)

var knownStatuses = map[Status]struct{}{
	StatusDraft: {}, StatusPendingHead: {}, StatusPendingParentHead: {}, StatusHeadApproved: {},
	StatusPendingAdmin: {}, StatusAdminReceived: {}, StatusPendingComptroller: {}, StatusPendingHR: {},
	StatusPendingExec: {}, StatusApproved: {}, StatusRejected: {}, StatusReturned: {}, StatusCancelled: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Awaiting reports whether the request sits in some approver's queue.
func (s Status) Awaiting() bool {
	switch s {
	case StatusPendingHead, StatusPendingParentHead, StatusHeadApproved, StatusPendingAdmin,
		StatusAdminReceived, StatusPendingComptroller, StatusPendingHR, StatusPendingExec:
		return true
	}
	return false
}

// Committed reports whether a request in s holds its vehicle and driver. A
// returned request keeps its bookings until it is cancelled or rejected.
func (s Status) Committed() bool {
	switch s {
	case StatusDraft, StatusRejected, StatusCancelled:
		return false
	}
	return s.Valid()
}

// CommittedStatuses lists every status whose assignments block other bookings.
func CommittedStatuses() []Status {
	return []Status{
		StatusPendingHead, StatusPendingParentHead, StatusHeadApproved, StatusPendingAdmin, StatusAdminReceived,
		StatusPendingComptroller, StatusPendingHR, StatusPendingExec, StatusApproved, StatusReturned,
	}
}

// AwaitedRoles returns the roles allowed to be current approver while in s.
func (s Status) AwaitedRoles() []Role {
	switch s {
	case StatusPendingHead, StatusPendingParentHead:
		return []Role{RoleHead}
	case StatusHeadApproved, StatusPendingAdmin, StatusAdminReceived:
		return []Role{RoleAdmin}
	case StatusPendingComptroller:
		return []Role{RoleComptroller}
	case StatusPendingHR:
		return []Role{RoleHR}
	case StatusPendingExec:
		return []Role{RoleVP, RolePresident, RoleExec}
	}
	return nil
}

// StatusForRole maps a destination role onto the pending status that awaits it.
func StatusForRole(r Role) (Status, bool) {
	switch r {
	case RoleHead:
		return StatusPendingHead, true
	case RoleAdmin:
		return StatusPendingAdmin, true
	case RoleComptroller:
		return StatusPendingComptroller, true
	case RoleHR:
		return StatusPendingHR, true
	case RoleVP, RolePresident, RoleExec:
		return StatusPendingExec, true
	}
	return "", false
}

// Consistent reports whether role may be the current approver role in status s.
func Consistent(s Status, role Role) bool {
	awaited := s.AwaitedRoles()
	if len(awaited) == 0 {
		return role == ""
	}
	for _, r := range awaited {
		if r == role {
			return true
		}
	}
	return false
}

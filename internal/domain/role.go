package domain

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Role is an approval capability a user may hold.
type Role string

const (
	RoleHead        Role = "head"
	RoleAdmin       Role = "admin"
	RoleComptroller Role = "comptroller"
	RoleHR          Role = "hr"
	RoleVP          Role = "vp"
	RolePresident   Role = "president"
	RoleExec        Role = "exec"
)

// ResolutionPrecedence is the order in which a candidate's roles decide the next stage.
var ResolutionPrecedence = []Role{RoleComptroller, RoleHR, RoleAdmin, RoleVP, RolePresident}

// ApproverRoles lists every role that can appear in the approver directory.
var ApproverRoles = []Role{RoleComptroller, RoleHR, RoleAdmin, RoleVP, RolePresident, RoleHead}

var roleLabels = map[Role]string{
	RoleHead:        "Department Head",
	RoleAdmin:       "Transportation Admin",
	RoleComptroller: "Comptroller",
	RoleHR:          "Human Resources",
	RoleVP:          "Vice President",
	RolePresident:   "President",
	RoleExec:        "Executive",
}

// ParseRole maps a free-form label onto a known role.
func ParseRole(label string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(label)))
	_, ok := roleLabels[r]
	return r, ok
}

// Label returns the human readable name of the role.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// Pooled reports whether any holder of the role may act on a request routed to it.
func (r Role) Pooled() bool {
	switch r {
	case RoleAdmin, RoleComptroller, RoleHR:
		return true
	}
	return false
}

// Executive reports whether the role decides the pending_exec stage.
func (r Role) Executive() bool {
	return r == RoleVP || r == RolePresident || r == RoleExec
}

// RoleSet is the capability set of a single user.
type RoleSet struct {
	set mapset.Set[Role]
}

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	return RoleSet{set: mapset.NewThreadUnsafeSet(roles...)}
}

// Has reports whether r is held.
func (s RoleSet) Has(r Role) bool {
	return s.set != nil && s.set.Contains(r)
}

// HasAny reports whether any of roles is held.
func (s RoleSet) HasAny(roles ...Role) bool {
	return s.set != nil && s.set.ContainsAny(roles...)
}

// Len returns the number of roles held.
func (s RoleSet) Len() int {
	if s.set == nil {
		return 0
	}
	return s.set.Cardinality()
}

// First returns the first role of order that the set holds.
func (s RoleSet) First(order []Role) (Role, bool) {
	for _, r := range order {
		if s.Has(r) {
			return r, true
		}
	}
	return "", false
}

// Slice returns the held roles in directory order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, s.Len())
	for _, r := range append(append([]Role{}, ApproverRoles...), RoleExec) {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// RoleFlags mirrors the permission columns stored on a user row.
type RoleFlags struct {
	IsAdmin       bool
	IsHR          bool
	IsVP          bool
	IsPresident   bool
	IsComptroller bool
	IsHead        bool
	Role          string
	ExecType      string
}

// Roles converts stored flags into a capability set.
func (f RoleFlags) Roles() RoleSet {
	set := NewRoleSet()
	exec := strings.EqualFold(f.Role, "exec")
	president := strings.EqualFold(f.ExecType, "president")
	if f.IsComptroller {
		set.set.Add(RoleComptroller)
	}
	if f.IsHR {
		set.set.Add(RoleHR)
	}
	if f.IsAdmin {
		set.set.Add(RoleAdmin)
	}
	if f.IsVP || (exec && !president) {
		set.set.Add(RoleVP)
	}
	if f.IsPresident || (exec && president) {
		set.set.Add(RolePresident)
	}
	if f.IsHead || strings.EqualFold(f.Role, "head") {
		set.set.Add(RoleHead)
	}
	return set
}

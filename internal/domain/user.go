package domain

import "time"

// User is anyone who requests, approves or drives.
type User struct {
	ID           string
	Name         string
	Email        string
	DepartmentID *string
	Department   *string
	Roles        RoleSet
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Approver is one directory entry offered to a routing choice.
type Approver struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Role       Role    `json:"role"`
	RoleLabel  string  `json:"role_label"`
	Department *string `json:"department,omitempty"`
}

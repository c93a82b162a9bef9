package domain

import "time"

// Department is an organizational unit with an optional parent and head.
type Department struct {
	ID        string
	Name      string
	Code      string
	ParentID  *string
	HeadID    *string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

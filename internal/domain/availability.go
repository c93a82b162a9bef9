package domain

import "time"

// ResourceKind distinguishes the two bookable resources.
type ResourceKind string

const (
	ResourceVehicle ResourceKind = "vehicle"
	ResourceDriver  ResourceKind = "driver"
)

// LockKey is the advisory lock name guarding bookings of one resource.
func (k ResourceKind) LockKey(id string) string {
	return string(k) + ":" + id
}

// Conflict names a request already holding a resource.
type Conflict struct {
	RequestID     string    `json:"request_id"`
	RequestNumber string    `json:"request_number"`
	Status        Status    `json:"status"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// ResourceAvailability is the answer for one resource.
type ResourceAvailability struct {
	Available bool       `json:"available"`
	Conflicts []Conflict `json:"conflicts"`
}

// AvailabilityResult answers a combined vehicle and driver query.
type AvailabilityResult struct {
	Vehicle       *ResourceAvailability `json:"vehicle,omitempty"`
	Driver        *ResourceAvailability `json:"driver,omitempty"`
	BothAvailable bool                  `json:"both_available"`
}

// ConflictNumbers returns the request numbers of every conflict.
func (r ResourceAvailability) ConflictNumbers() []string {
	out := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		out = append(out, c.RequestNumber)
	}
	return out
}

// Overlaps reports whether [s1,e1] and [s2,e2] share at least one day.
// Boundaries are inclusive.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return !s1.After(e2) && !s2.After(e1)
}

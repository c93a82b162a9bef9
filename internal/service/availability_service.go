package service

import (
	"context"
	"strings"
	"time"

	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/repository"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// AvailabilityQuery asks whether a vehicle and/or driver are free for a window.
type AvailabilityQuery struct {
	VehicleID        string
	DriverID         string
	Start            time.Time
	End              time.Time
	ExcludeRequestID string
}

// AvailabilityChecker scans committed bookings for overlaps.
type AvailabilityChecker struct {
	requests repository.RequestRepository
}

// NewAvailabilityChecker builds the checker.
func NewAvailabilityChecker(requests repository.RequestRepository) *AvailabilityChecker {
	return &AvailabilityChecker{requests: requests}
}

// CheckBothAvailability reports every conflict for each requested resource.
// When called with a transaction context the scan runs inside it.
func (c *AvailabilityChecker) CheckBothAvailability(ctx context.Context, q AvailabilityQuery) (*domain.AvailabilityResult, error) {
	if q.Start.IsZero() || q.End.IsZero() {
		return nil, apperrors.NewValidationError("start and end dates are required", nil)
	}
	if q.End.Before(q.Start) {
		return nil, apperrors.NewValidationError("end date must not be before start date",
			map[string]any{"start": q.Start, "end": q.End})
	}

	result := &domain.AvailabilityResult{BothAvailable: true}
	if id := strings.TrimSpace(q.VehicleID); id != "" {
		avail, err := c.check(ctx, domain.ResourceVehicle, id, q)
		if err != nil {
			return nil, err
		}
		result.Vehicle = avail
		result.BothAvailable = result.BothAvailable && avail.Available
	}
	if id := strings.TrimSpace(q.DriverID); id != "" {
		avail, err := c.check(ctx, domain.ResourceDriver, id, q)
		if err != nil {
			return nil, err
		}
		result.Driver = avail
		result.BothAvailable = result.BothAvailable && avail.Available
	}
	return result, nil
}

func (c *AvailabilityChecker) check(ctx context.Context, kind domain.ResourceKind, id string, q AvailabilityQuery) (*domain.ResourceAvailability, error) {
	conflicts, err := c.requests.ListCommittedAssignments(ctx, repository.AssignmentQuery{
		Kind:             kind,
		ResourceID:       id,
		Start:            q.Start,
		End:              q.End,
		ExcludeRequestID: q.ExcludeRequestID,
	})
	if err != nil {
		return nil, err
	}
	if conflicts == nil {
		conflicts = []domain.Conflict{}
	}
	return &domain.ResourceAvailability{Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}

package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/travel-workflow/internal/domain"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

func mustDo(t *testing.T, f *fixture, cmd TransitionCommand) *TransitionResult {
	t.Helper()
	res, err := f.do(cmd)
	require.NoError(t, err)
	return res
}

func historyActions(entries []domain.HistoryEntry) []domain.HistoryAction {
	out := make([]domain.HistoryAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestFullApprovalChain(t *testing.T) {
	f := newFixture()
	f.draft("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionSubmit})
	assert.Equal(t, domain.StatusPendingHead, res.Status)
	assert.Equal(t, "chair", res.NextApproverID)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "chair", Action: ActionApprove, Stage: domain.StageHead})
	assert.Equal(t, domain.StatusPendingParentHead, res.Status)
	assert.Equal(t, "dean", res.NextApproverID)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "dean", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingAdmin, res.Status)
	assert.Equal(t, domain.RoleAdmin, res.NextApproverRole)
	assert.Empty(t, res.NextApproverID)

	res = mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Stage: domain.StageAdmin,
		Comments: adminNotes, VehicleID: "V1", DriverID: "driver-1",
	})
	assert.Equal(t, domain.StatusPendingHR, res.Status)
	assert.Equal(t, "TO-2025-001-MCS-JUANDELACRUZ", res.RequestNumber)
	require.NotNil(t, res.Availability)
	assert.True(t, res.Availability.BothAvailable)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingExec, res.Status)
	assert.Equal(t, domain.RoleVP, res.NextApproverRole)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionApprove})
	assert.Equal(t, domain.StatusApproved, res.Status)
	assert.Empty(t, res.NextApproverRole)

	req := f.db.request("req-1")
	assert.Equal(t, domain.StatusApproved, req.Status)
	assert.Empty(t, req.CurrentApproverRole)
	require.NotNil(t, req.AssignedVehicleID)
	assert.Equal(t, "V1", *req.AssignedVehicleID)
	for _, s := range []domain.Stage{domain.StageHead, domain.StageParentHead, domain.StageAdmin, domain.StageHR, domain.StageVP} {
		assert.True(t, req.Stage(s).Recorded(), "stage %s", s)
	}
	assert.False(t, req.Stage(domain.StageComptroller).Recorded())
	assert.Equal(t, adminNotes, *req.Stage(domain.StageAdmin).Comments)
	assert.Equal(t, [][]string{{"driver:driver-1", "vehicle:V1"}}, f.db.lockedKeys)

	assert.Equal(t, []domain.HistoryAction{
		domain.ActionSubmitted, domain.ActionHeadApproved, domain.ActionParentApproved,
		domain.ActionAdminApproved, domain.ActionHRApproved, domain.ActionVPApproved,
	}, historyActions(f.db.historyOf("req-1")))

	recipients := f.sink.recipients()
	assert.Contains(t, recipients, "chair")
	assert.Contains(t, recipients, "dean")
	assert.Contains(t, recipients, "requester")
}

func TestAdminApproveWithoutBudgetSkipsComptroller(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes})
	assert.Equal(t, domain.StatusPendingHR, res.Status)
	assert.Equal(t, domain.RoleHR, res.NextApproverRole)
	assert.Equal(t, "TO-2025-001", res.RequestNumber)
}

func TestAdminApproveWithBudgetGoesToComptroller(t *testing.T) {
	f := newFixture()
	req := f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	req.HasBudget = true
	f.db.addRequest(req)

	edited := decimal.RequireFromString("4250.50")
	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, EditedBudget: &edited,
	})
	assert.Equal(t, domain.StatusPendingComptroller, res.Status)

	stored := f.db.request("req-1")
	require.NotNil(t, stored.EditedBudget)
	assert.True(t, edited.Equal(*stored.EditedBudget))
	entries := f.db.historyOf("req-1")
	require.Len(t, entries, 1)
	assert.Equal(t, "5000", entries[0].Metadata["previous_budget"])
	assert.Equal(t, "4250.5", entries[0].Metadata["edited_budget"])

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "comptroller", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingHR, res.Status)
}

func TestAdminApproveCandidatePrecedence(t *testing.T) {
	f := newFixture()
	f.db.addUser(&domain.User{ID: "multi", Name: "Two Hats", Roles: domain.NewRoleSet(domain.RoleComptroller, domain.RoleVP)})
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, NextApproverID: "multi",
	})
	assert.Equal(t, domain.StatusPendingComptroller, res.Status)
	assert.Equal(t, domain.RoleComptroller, res.NextApproverRole)
	assert.Empty(t, res.NextApproverID, "comptroller is a pooled role")

	// any comptroller may act, not just the candidate
	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "comptroller", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingHR, res.Status)
}

func TestAdminApproveUnknownRoleHint(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.do(TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, NextApproverRole: "janitor",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnknownApprover))
	assert.Equal(t, domain.StatusPendingAdmin, f.db.request("req-1").Status)
	assert.Empty(t, f.db.historyOf("req-1"))
}

func TestAdminApproveResourceConflict(t *testing.T) {
	f := newFixture()
	f.booked("req-a", "TO-2025-001-MCS-JUAN", "2025-03-01", "2025-03-03", "V1", "driver-1")
	f.atAdmin("req-b", "TO-2025-002", "2025-03-03", "2025-03-05")

	_, err := f.do(TransitionCommand{
		RequestID: "req-b", ActorID: "admin", Action: ActionApprove, Comments: adminNotes,
		VehicleID: "V1", DriverID: "driver-1",
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeResourceConflict))
	details := apperrors.ToDomainError(err).Details
	assert.Equal(t, []string{"TO-2025-001-MCS-JUAN"}, details["vehicle_conflicts"])
	assert.Equal(t, []string{"TO-2025-001-MCS-JUAN"}, details["driver_conflicts"])

	stored := f.db.request("req-b")
	assert.Equal(t, domain.StatusPendingAdmin, stored.Status)
	assert.Nil(t, stored.AssignedVehicleID)
	assert.Nil(t, stored.AssignedDriverID)
	assert.False(t, stored.Stage(domain.StageAdmin).Recorded())
	assert.Empty(t, f.db.historyOf("req-b"))
}

func TestAdminNotesTooShort(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	for _, stage := range []domain.Stage{domain.StageAdmin, ""} {
		_, err := f.do(TransitionCommand{
			RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Stage: stage, Comments: "ok",
		})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	}
	assert.Equal(t, domain.StatusPendingAdmin, f.db.request("req-1").Status)
	assert.Empty(t, f.db.historyOf("req-1"))
}

func TestRejectFromAdmin(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionReject, Comments: "No vehicle for this route",
	})
	assert.Equal(t, domain.StatusRejected, res.Status)

	entries := f.db.historyOf("req-1")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionRejected, entries[0].Action)
	assert.Equal(t, domain.StatusPendingAdmin, entries[0].PreviousStatus)
	require.NotNil(t, entries[0].Comments)
	assert.Equal(t, "No vehicle for this route", *entries[0].Comments)
	assert.Equal(t, []string{"requester"}, f.sink.recipients())

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestRejectNeedsReason(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionReject, Comments: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestConcurrentAdminApprovals(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []string{"admin", "admin2"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			_, errs[i] = f.do(TransitionCommand{
				RequestID: "req-1", ActorID: actor, Action: ActionApprove,
				Stage: domain.StageAdmin, ExpectedStatus: domain.StatusPendingAdmin, Comments: adminNotes,
			})
		}(i, actor)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.db.historyOf("req-1"), 1)
	assert.Equal(t, domain.StatusPendingHR, f.db.request("req-1").Status)
}

func TestConcurrentBookingsOfOneVehicle(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	f.atAdmin("req-2", "TO-2025-002", "2025-03-12", "2025-03-14")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"req-1", "req-2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.do(TransitionCommand{
				RequestID: id, ActorID: "admin", Action: ActionApprove, Comments: adminNotes, VehicleID: "V1",
			})
		}(i, id)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if apperrors.HasCode(err, apperrors.CodeResourceConflict) {
			conflicts++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)
}

func TestMultiDepartmentEndorsement(t *testing.T) {
	f := newFixture()
	req := f.draft("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	req.CoDepartmentIDs = []string{"math", "cs"}
	f.db.addRequest(req)

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionSubmit})
	assert.Equal(t, "chair", res.NextApproverID)
	assert.Equal(t, []string{"chair", "math-chair"}, f.db.request("req-1").Metadata.PendingHeads)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "math-chair", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingHead, res.Status)
	assert.Equal(t, "chair", res.NextApproverID)

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "math-chair", Action: ActionApprove})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "chair", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingParentHead, res.Status)
	assert.Equal(t, "dean", res.NextApproverID)

	stored := f.db.request("req-1")
	assert.Equal(t, "math-chair", *stored.Stage(domain.StageHead).ApproverID)
	assert.Len(t, stored.Metadata.HeadEndorsements, 2)
	assert.Equal(t, []domain.HistoryAction{domain.ActionSubmitted, domain.ActionHeadEndorsed, domain.ActionHeadApproved},
		historyActions(f.db.historyOf("req-1")))
}

func TestHeadRequesterGoesToParentThenPresident(t *testing.T) {
	f := newFixture()
	f.db.addRequest(&domain.Request{
		ID: "req-1", RequestNumber: "TO-2025-001", RequestType: domain.RequestTypeTravelOrder,
		RequesterID: "chair", RequesterName: "Jose Rizal", RequesterIsHead: true, DepartmentID: "cs",
		Status: domain.StatusDraft, TravelStart: day("2025-03-10"), TravelEnd: day("2025-03-11"),
	})

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "chair", Action: ActionSubmit})
	assert.Equal(t, domain.StatusPendingParentHead, res.Status)
	assert.Equal(t, "dean", res.NextApproverID)

	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "dean", Action: ActionApprove})
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes})
	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingExec, res.Status)
	assert.Equal(t, domain.RolePresident, res.NextApproverRole)

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionApprove})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "president", Action: ActionApprove})
	assert.Equal(t, domain.StatusApproved, res.Status)
	assert.True(t, f.db.request("req-1").Stage(domain.StagePresident).Recorded())
}

func TestVPApprovalOfHeadRequestStillNeedsPresident(t *testing.T) {
	f := newFixture()
	req := f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	req.RequesterID, req.RequesterName, req.RequesterIsHead = "chair", "Jose Rizal", true
	f.db.addRequest(req)

	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes})
	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "hr", Action: ActionApprove, NextApproverRole: "vp", NextApproverID: "vp",
	})
	assert.Equal(t, domain.RoleVP, res.NextApproverRole)
	assert.Equal(t, "vp", res.NextApproverID)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingExec, res.Status)
	assert.Equal(t, domain.RolePresident, res.NextApproverRole)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "president", Action: ActionApprove})
	assert.Equal(t, domain.StatusApproved, res.Status)
}

func TestHRForwardingValidation(t *testing.T) {
	f := newFixture()
	req := f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	req.RouteTo(domain.StatusPendingHR, domain.RouteTo(domain.RoleHR, ""))
	f.db.addRequest(req)

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, NextApproverRole: "janitor"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnknownApprover))

	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, NextApproverRole: "admin"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, NextApproverID: "admin"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, VehicleID: "V1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	assert.Equal(t, domain.StatusPendingHR, f.db.request("req-1").Status)
	assert.Empty(t, f.db.historyOf("req-1"))
}

func TestPinnedApproverVisibility(t *testing.T) {
	f := newFixture()
	f.db.addUser(&domain.User{ID: "vp2", Name: "Other VP", Roles: domain.NewRoleSet(domain.RoleVP)})
	req := f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	req.RouteTo(domain.StatusPendingHR, domain.RouteTo(domain.RoleHR, ""))
	f.db.addRequest(req)

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, NextApproverID: "vp"})
	assert.Equal(t, "vp", res.NextApproverID)
	assert.Contains(t, f.sink.recipients(), "vp")

	for _, actor := range []string{"vp2", "president", "requester"} {
		_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: actor, Action: ActionApprove})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden), actor)
	}
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionApprove})
}

func TestStageMismatchIsInvalidTransition(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, Stage: domain.StageHR})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	_, err = f.do(TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes,
		ExpectedStatus: domain.StatusAdminReceived,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestReceiveThenApprove(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionReceive})
	assert.Equal(t, domain.StatusAdminReceived, res.Status)

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionReceive})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin2", Action: ActionApprove, Comments: adminNotes})
	assert.Equal(t, domain.StatusPendingHR, res.Status)
}

func TestReturnAndResubmitRestoresPinnedApprover(t *testing.T) {
	f := newFixture()
	req := f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	req.RouteTo(domain.StatusPendingHR, domain.RouteTo(domain.RoleHR, ""))
	f.db.addRequest(req)

	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "hr", Action: ActionApprove, NextApproverID: "vp"})
	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionReturn, Comments: "Attach the invitation letter"})
	assert.Equal(t, domain.StatusReturned, res.Status)

	stored := f.db.request("req-1")
	require.NotNil(t, stored.Metadata.ReturnedFrom)
	assert.Equal(t, domain.StatusPendingExec, stored.Metadata.ReturnedFrom.Status)
	entries := f.db.historyOf("req-1")
	last := entries[len(entries)-1]
	assert.Equal(t, domain.ActionReturned, last.Action)
	assert.Equal(t, "Attach the invitation letter", last.Metadata["return_reason"])
	assert.Equal(t, "pending_exec", last.Metadata["returned_from"])

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionResubmit})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionResubmit})
	assert.Equal(t, domain.StatusPendingExec, res.Status)
	assert.Equal(t, domain.RoleVP, res.NextApproverRole)
	assert.Equal(t, "vp", res.NextApproverID)

	stored = f.db.request("req-1")
	assert.Nil(t, stored.Metadata.ReturnedFrom)
	assert.True(t, stored.Stage(domain.StageHR).Recorded(), "earlier stages survive a resubmission")
	assert.False(t, stored.Stage(domain.StageVP).Recorded())

	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "vp", Action: ActionApprove})
	assert.Equal(t, domain.StatusApproved, f.db.request("req-1").Status)
}

func TestReturnFromHeadResubmitsToHeads(t *testing.T) {
	f := newFixture()
	f.draft("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionSubmit})
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "chair", Action: ActionReturn, Comments: "Wrong dates"})

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionResubmit})
	assert.Equal(t, domain.StatusPendingHead, res.Status)
	assert.Equal(t, "chair", res.NextApproverID)
	assert.Equal(t, []string{"chair"}, f.db.request("req-1").Metadata.PendingHeads)
	assert.Equal(t, []domain.HistoryAction{domain.ActionSubmitted, domain.ActionReturned, domain.ActionResubmitted},
		historyActions(f.db.historyOf("req-1")))
}

func TestCancelNotifiesPendingRole(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionCancel})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionCancel, Comments: "Trip postponed"})
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, []string{"role:admin"}, f.sink.recipients())

	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionCancel})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestNotificationFailureKeepsTransition(t *testing.T) {
	f := newFixture()
	f.sink.err = errBoom
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionReject, Comments: "Not eligible"})
	assert.Equal(t, domain.StatusRejected, res.Status)
	assert.Equal(t, domain.StatusRejected, f.db.request("req-1").Status)
	assert.Len(t, f.db.historyOf("req-1"), 1)
}

func TestHistoryFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.db.historyErr = errBoom
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, VehicleID: "V1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistence))

	stored := f.db.request("req-1")
	assert.Equal(t, domain.StatusPendingAdmin, stored.Status)
	assert.Nil(t, stored.AssignedVehicleID)
	assert.Zero(t, stored.Version)
	assert.Empty(t, f.sink.recipients())
}

func TestRenumberFailureKeepsNumber(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, DriverID: "ghost-driver",
	})
	assert.Equal(t, domain.StatusPendingHR, res.Status)
	assert.Equal(t, "TO-2025-001", res.RequestNumber)
	assert.Equal(t, "ghost-driver", *f.db.request("req-1").AssignedDriverID)
}

func TestIdempotencyKey(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	// a failed attempt frees the key for a retry
	_, err := f.do(TransitionCommand{
		RequestID: "req-1", ActorID: "hr", Action: ActionReject, Comments: "Not eligible", IdempotencyKey: "k1",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionReject, Comments: "Not eligible", IdempotencyKey: "k1",
	})
	_, err = f.do(TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionReject, Comments: "Not eligible", IdempotencyKey: "k1",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicate))
	assert.Len(t, f.db.historyOf("req-1"), 1)
}

func TestTransitionValidation(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.engine.Transition(context.Background(), TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "signature is required")

	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: "escalate"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.do(TransitionCommand{RequestID: "missing", ActorID: "admin", Action: ActionReceive})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "nobody", Action: ActionReceive})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	negative := decimal.NewFromInt(-1)
	_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, EditedBudget: &negative})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestAdminHandsOffToAnotherAdmin(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, NextApproverID: "admin2",
	})
	assert.Equal(t, domain.StatusPendingAdmin, res.Status)
	assert.Equal(t, domain.RoleAdmin, res.NextApproverRole)
	assert.Equal(t, "admin2", res.NextApproverID)

	res = mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin2", Action: ActionApprove, Comments: adminNotes, VehicleID: "V1",
	})
	assert.Equal(t, domain.StatusPendingHR, res.Status)

	stored := f.db.request("req-1")
	require.NotNil(t, stored.Stage(domain.StageAdmin).ApproverID)
	assert.Equal(t, "admin", *stored.Stage(domain.StageAdmin).ApproverID)
	require.NotNil(t, stored.AssignedVehicleID)
	assert.Equal(t, "V1", *stored.AssignedVehicleID)

	entries := f.db.historyOf("req-1")
	require.Len(t, entries, 2)
	assert.Equal(t, []domain.HistoryAction{domain.ActionAdminApproved, domain.ActionAdminApproved}, historyActions(entries))
	assert.Equal(t, "admin2", entries[1].ActorID)
	assert.Nil(t, entries[0].Metadata["stage_already_recorded"])
	assert.Equal(t, true, entries[1].Metadata["stage_already_recorded"])
}

func TestAdminSendsBackThroughHeads(t *testing.T) {
	f := newFixture()
	f.draft("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionSubmit})
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "chair", Action: ActionApprove})
	mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "dean", Action: ActionApprove})

	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, NextApproverRole: "head",
	})
	assert.Equal(t, domain.StatusPendingHead, res.Status)

	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "chair", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingParentHead, res.Status)
	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "dean", Action: ActionApprove})
	assert.Equal(t, domain.StatusPendingAdmin, res.Status)
	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "admin2", Action: ActionApprove, Comments: adminNotes})
	assert.Equal(t, domain.StatusPendingHR, res.Status)

	stored := f.db.request("req-1")
	assert.Equal(t, "dean", *stored.Stage(domain.StageParentHead).ApproverID)
	assert.Equal(t, "admin", *stored.Stage(domain.StageAdmin).ApproverID)
}

// returnedWithVehicle books V1 for req-1 at admin and has the comptroller
// return it to the requester.
func returnedWithVehicle(t *testing.T, f *fixture) {
	t.Helper()
	req := f.atAdmin("req-1", "TO-2025-001", "2025-03-01", "2025-03-03")
	req.HasBudget = true
	f.db.addRequest(req)

	res := mustDo(t, f, TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, VehicleID: "V1",
	})
	require.Equal(t, domain.StatusPendingComptroller, res.Status)
	res = mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "comptroller", Action: ActionReturn, Comments: "Itemize the fuel budget"})
	require.Equal(t, domain.StatusReturned, res.Status)
}

func TestReturnedRequestKeepsItsVehicle(t *testing.T) {
	f := newFixture()
	returnedWithVehicle(t, f)
	f.atAdmin("req-2", "TO-2025-002", "2025-03-02", "2025-03-04")

	_, err := f.do(TransitionCommand{
		RequestID: "req-2", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, VehicleID: "V1",
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeResourceConflict))
	assert.Equal(t, []string{"TO-2025-001"}, apperrors.ToDomainError(err).Details["vehicle_conflicts"])
	assert.Nil(t, f.db.request("req-2").AssignedVehicleID)

	res := mustDo(t, f, TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionResubmit})
	assert.Equal(t, domain.StatusPendingComptroller, res.Status)
}

func TestResubmitRechecksBookings(t *testing.T) {
	f := newFixture()
	returnedWithVehicle(t, f)
	f.booked("req-9", "TO-2025-009", "2025-03-02", "2025-03-04", "V1", "")

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionResubmit})
	require.True(t, apperrors.HasCode(err, apperrors.CodeResourceConflict))
	assert.Equal(t, []string{"TO-2025-009"}, apperrors.ToDomainError(err).Details["vehicle_conflicts"])

	stored := f.db.request("req-1")
	assert.Equal(t, domain.StatusReturned, stored.Status)
	require.NotNil(t, stored.Metadata.ReturnedFrom)
	assert.Equal(t, domain.ActionReturned, historyActions(f.db.historyOf("req-1"))[1])
	assert.Len(t, f.db.historyOf("req-1"), 2)
}

func TestAdminFieldsNeedNotesBeforeAuthorization(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	for _, actor := range []string{"requester", "hr", "admin"} {
		_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: actor, Action: ActionApprove, VehicleID: "V1", Comments: "ok"})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), actor)
		_, err = f.do(TransitionCommand{RequestID: "req-1", ActorID: actor, Action: ActionApprove, DriverID: "driver-1"})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), actor)
	}

	_, err := f.do(TransitionCommand{RequestID: "req-1", ActorID: "requester", Action: ActionApprove})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Empty(t, f.db.historyOf("req-1"))
}

func TestUnknownStageIsValidationError(t *testing.T) {
	f := newFixture()
	f.atAdmin("req-1", "TO-2025-001", "2025-03-10", "2025-03-12")

	_, err := f.do(TransitionCommand{
		RequestID: "req-1", ActorID: "admin", Action: ActionApprove, Comments: adminNotes, Stage: domain.Stage("janitor"),
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Equal(t, domain.Stage("janitor"), apperrors.ToDomainError(err).Details["stage"])
	assert.Equal(t, domain.StatusPendingAdmin, f.db.request("req-1").Status)
}

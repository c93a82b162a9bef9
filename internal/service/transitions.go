package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/events"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// apply mutates req for cmd and describes what happened. It runs inside the
// transaction holding the request's row lock.
func (e *TransitionEngine) apply(ctx context.Context, req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	if cmd.Stage != "" && !stageMatches(req, cmd.Stage) {
		return nil, apperrors.NewInvalidTransition(string(cmd.Action), string(req.Status))
	}

	switch cmd.Action {
	case ActionSubmit:
		return e.submit(ctx, req, actor)
	case ActionApprove:
		return e.approve(ctx, req, actor, cmd)
	case ActionReceive:
		return e.receive(req, actor)
	case ActionReject:
		return e.reject(req, actor, cmd)
	case ActionReturn:
		return e.returnToRequester(req, actor, cmd)
	case ActionResubmit:
		return e.resubmit(ctx, req, actor)
	case ActionCancel:
		return e.cancel(req, actor, cmd)
	}
	return nil, apperrors.NewValidationError("unknown action", map[string]any{"action": cmd.Action})
}

func (e *TransitionEngine) submit(ctx context.Context, req *domain.Request, actor *domain.User) (*outcome, error) {
	prev := req.Status
	if prev != domain.StatusDraft {
		return nil, apperrors.NewInvalidTransition(string(ActionSubmit), string(prev))
	}
	if actor.ID != req.RequesterID {
		return nil, apperrors.NewForbidden("only the requester may submit")
	}
	if err := e.routeFromRequester(ctx, req); err != nil {
		return nil, err
	}

	o := &outcome{
		action:   domain.ActionSubmitted,
		metadata: routeMetadata(req, nil),
		message:  "Request submitted to " + req.CurrentApproverRole.Label(),
	}
	o.notify = appendApprovalRequired(nil, req, actor, "")
	return o, nil
}

func (e *TransitionEngine) approve(ctx context.Context, req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	prev := req.Status
	if !prev.Awaiting() {
		return nil, apperrors.NewInvalidTransition(string(ActionApprove), string(prev))
	}
	adminStage := isAdminStatus(prev)
	if (strings.TrimSpace(cmd.VehicleID) != "" || strings.TrimSpace(cmd.DriverID) != "") && !adminStage {
		return nil, apperrors.NewValidationError("vehicle and driver are assigned at the admin stage", nil)
	}
	if cmd.EditedBudget != nil && !adminStage && prev != domain.StatusPendingComptroller {
		return nil, apperrors.NewValidationError("budget can only be edited by admin or comptroller", nil)
	}

	role, err := e.authorize(req, actor)
	if err != nil {
		return nil, err
	}

	var o *outcome
	switch {
	case prev == domain.StatusPendingHead:
		o, err = e.approveHead(ctx, req, actor, cmd)
	case prev == domain.StatusPendingParentHead:
		o, err = e.approveParentHead(req, actor, cmd)
	case adminStage:
		o, err = e.approveAdmin(ctx, req, actor, cmd)
	case prev == domain.StatusPendingComptroller:
		o, err = e.approveComptroller(ctx, req, actor, cmd)
	case prev == domain.StatusPendingHR:
		o, err = e.approveHR(ctx, req, actor, cmd)
	case prev == domain.StatusPendingExec:
		o, err = e.approveExec(ctx, req, actor, role, cmd)
	default:
		err = apperrors.NewInvalidTransition(string(ActionApprove), string(prev))
	}
	if err != nil {
		return nil, err
	}

	o.actorRole = role
	if o.comments == "" {
		o.comments = strings.TrimSpace(cmd.Comments)
	}
	o.notify = append(o.notify, transitionEvent(events.EventRequestApproved, req, actor, role, prev, ""))
	o.notify = appendApprovalRequired(o.notify, req, actor, role)
	return o, nil
}

func (e *TransitionEngine) approveHead(ctx context.Context, req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	now := e.now()
	if !req.Stage(domain.StageHead).Recorded() {
		if err := req.RecordStage(domain.StageHead, actor.ID, cmd.Signature, strings.TrimSpace(cmd.Comments), now); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}
	req.Metadata.PendingHeads = without(req.Metadata.PendingHeads, actor.ID)
	if !req.Metadata.Endorsed(actor.ID) {
		req.Metadata.HeadEndorsements = append(req.Metadata.HeadEndorsements, domain.HeadEndorsement{
			HeadID:       actor.ID,
			DepartmentID: derefString(actor.DepartmentID),
			EndorsedAt:   now,
		})
	}

	if remaining := len(req.Metadata.PendingHeads); remaining > 0 {
		req.RouteTo(domain.StatusPendingHead, domain.RouteTo(domain.RoleHead, req.Metadata.PendingHeads[0]))
		return &outcome{
			action:   domain.ActionHeadEndorsed,
			metadata: routeMetadata(req, map[string]any{"remaining_heads": remaining}),
			message:  fmt.Sprintf("Endorsement recorded, %d head(s) still to endorse", remaining),
		}, nil
	}

	parentHead, err := e.parentHeadOf(ctx, req.DepartmentID, actor.ID)
	if err != nil {
		return nil, err
	}
	if parentHead != "" {
		req.RouteTo(domain.StatusPendingParentHead, domain.RouteTo(domain.RoleHead, parentHead))
	} else {
		req.RouteTo(domain.StatusPendingAdmin, domain.RouteTo(domain.RoleAdmin, ""))
	}
	return &outcome{
		action:   domain.ActionHeadApproved,
		metadata: routeMetadata(req, nil),
		message:  "Request forwarded to " + routeLabel(req),
	}, nil
}

func (e *TransitionEngine) approveParentHead(req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	meta := map[string]any{}
	if err := e.recordReentered(req, domain.StageParentHead, actor, cmd, meta); err != nil {
		return nil, err
	}
	req.RouteTo(domain.StatusPendingAdmin, domain.RouteTo(domain.RoleAdmin, ""))
	return &outcome{
		action:   domain.ActionParentApproved,
		metadata: routeMetadata(req, meta),
		message:  "Request forwarded to " + routeLabel(req),
	}, nil
}

// approveAdmin resolves the next stage, books the vehicle and driver, records
// the admin facts and rewrites the request number when a driver is assigned.
func (e *TransitionEngine) approveAdmin(ctx context.Context, req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	if err := e.validateAdminNotes(cmd.Comments); err != nil {
		return nil, err
	}

	res, err := e.resolver.Resolve(ctx, ResolveInput{
		CandidateID:         cmd.NextApproverID,
		RoleHint:            cmd.NextApproverRole,
		RequiresComptroller: req.RequiresComptroller(),
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"resolution_source": string(res.Source)}
	o := &outcome{action: domain.ActionAdminApproved}

	vehicleID := strings.TrimSpace(cmd.VehicleID)
	driverID := strings.TrimSpace(cmd.DriverID)
	if vehicleID != "" || driverID != "" {
		avail, err := e.reserve(ctx, req, vehicleID, driverID)
		if err != nil {
			return nil, err
		}
		o.available = avail
		if vehicleID != "" {
			req.AssignedVehicleID = &vehicleID
			meta["vehicle_id"] = vehicleID
		}
		if driverID != "" {
			req.AssignedDriverID = &driverID
			meta["driver_id"] = driverID
		}
	}

	if cmd.EditedBudget != nil {
		applyBudgetEdit(req, cmd, meta)
	}

	notes := strings.TrimSpace(cmd.Comments)
	if err := e.recordReentered(req, domain.StageAdmin, actor, cmd, meta); err != nil {
		return nil, err
	}

	// pooled roles drop any previously pinned id here
	req.RouteTo(res.Status, domain.RouteTo(res.Role, res.ApproverID))

	if driverID != "" {
		e.renumber(ctx, req, driverID, meta)
	}

	o.comments = notes
	o.metadata = routeMetadata(req, meta)
	o.message = "Request forwarded to " + routeLabel(req)
	return o, nil
}

// reserve locks the resources for the rest of the transaction and fails with
// every conflicting booking when either is taken.
func (e *TransitionEngine) reserve(ctx context.Context, req *domain.Request, vehicleID, driverID string) (*domain.AvailabilityResult, error) {
	keys := make([]string, 0, 2)
	if vehicleID != "" {
		keys = append(keys, domain.ResourceVehicle.LockKey(vehicleID))
	}
	if driverID != "" {
		keys = append(keys, domain.ResourceDriver.LockKey(driverID))
	}
	if err := e.requests.LockResources(ctx, keys); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	avail, err := e.availability.CheckBothAvailability(ctx, AvailabilityQuery{
		VehicleID:        vehicleID,
		DriverID:         driverID,
		Start:            req.TravelStart,
		End:              req.TravelEnd,
		ExcludeRequestID: req.ID,
	})
	if err != nil {
		var de *apperrors.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, apperrors.NewPersistenceError(err)
	}
	if !avail.BothAvailable {
		details := map[string]any{}
		if avail.Vehicle != nil && !avail.Vehicle.Available {
			details["vehicle_id"] = vehicleID
			details["vehicle_conflicts"] = avail.Vehicle.ConflictNumbers()
		}
		if avail.Driver != nil && !avail.Driver.Available {
			details["driver_id"] = driverID
			details["driver_conflicts"] = avail.Driver.ConflictNumbers()
		}
		return nil, apperrors.NewResourceConflict(details)
	}
	return avail, nil
}

// renumber embeds the driver in the request number. Any failure keeps the
// old number; the transition goes ahead.
func (e *TransitionEngine) renumber(ctx context.Context, req *domain.Request, driverID string, meta map[string]any) {
	driver, err := e.users.GetByID(ctx, driverID)
	if err != nil {
		e.logger.Warn("request number left unchanged: driver lookup failed",
			zap.String("request_id", req.ID), zap.String("driver_id", driverID), zap.Error(err))
		return
	}
	next, err := RegenerateRequestNumber(req.RequestNumber, req.RequesterName, len(req.Participants), driver.Name)
	if err != nil {
		e.logger.Warn("request number left unchanged",
			zap.String("request_id", req.ID), zap.String("request_number", req.RequestNumber), zap.Error(err))
		return
	}
	if next != req.RequestNumber {
		meta["previous_request_number"] = req.RequestNumber
		meta["request_number"] = next
		req.RequestNumber = next
	}
}

// approveComptroller forwards to HR unless the comptroller names another
// approver. Budget review never routes back to itself.
func (e *TransitionEngine) approveComptroller(ctx context.Context, req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	next := Resolution{Role: domain.RoleHR, Status: domain.StatusPendingHR, Source: SourceDefault}
	if strings.TrimSpace(cmd.NextApproverID) != "" || strings.TrimSpace(cmd.NextApproverRole) != "" {
		res, err := e.resolver.Resolve(ctx, ResolveInput{CandidateID: cmd.NextApproverID, RoleHint: cmd.NextApproverRole})
		if err != nil {
			return nil, err
		}
		if res.Role != domain.RoleComptroller && res.Role != domain.RoleHead && res.Role != domain.RoleAdmin {
			next = res
		}
	}

	meta := map[string]any{"resolution_source": string(next.Source)}
	if cmd.EditedBudget != nil {
		applyBudgetEdit(req, cmd, meta)
	}
	if err := e.record(req, domain.StageComptroller, actor, cmd); err != nil {
		return nil, err
	}
	req.RouteTo(next.Status, domain.RouteTo(next.Role, next.ApproverID))
	return &outcome{
		action:   domain.ActionComptrollerApproved,
		metadata: routeMetadata(req, meta),
		message:  "Request forwarded to " + routeLabel(req),
	}, nil
}

func (e *TransitionEngine) approveHR(ctx context.Context, req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	target := domain.RoleVP
	if req.RequesterIsHead {
		target = domain.RolePresident
	}
	if hint := strings.TrimSpace(cmd.NextApproverRole); hint != "" {
		role, ok := domain.ParseRole(hint)
		if !ok {
			return nil, apperrors.NewUnknownApprover(hint)
		}
		if !role.Executive() {
			return nil, apperrors.NewValidationError("hr forwards only to vp, president or exec",
				map[string]any{"next_approver_role": hint})
		}
		target = role
	}
	pinned, err := e.executiveCandidate(ctx, target, cmd.NextApproverID)
	if err != nil {
		return nil, err
	}
	if err := e.record(req, domain.StageHR, actor, cmd); err != nil {
		return nil, err
	}
	req.RouteTo(domain.StatusPendingExec, domain.RouteTo(target, pinned))
	return &outcome{
		action:   domain.ActionHRApproved,
		metadata: routeMetadata(req, nil),
		message:  "Request forwarded to " + routeLabel(req),
	}, nil
}

func (e *TransitionEngine) approveExec(ctx context.Context, req *domain.Request, actor *domain.User, role domain.Role, cmd TransitionCommand) (*outcome, error) {
	stage, action := domain.StageExec, domain.ActionExecApproved
	if routeOf(req).Role() != domain.RoleExec {
		switch role {
		case domain.RoleVP:
			stage, action = domain.StageVP, domain.ActionVPApproved
		case domain.RolePresident:
			stage, action = domain.StagePresident, domain.ActionPresidentApproved
		}
	}

	needsPresident := role == domain.RoleVP && req.RequesterIsHead && !req.Stage(domain.StagePresident).Recorded()
	pinned := ""
	if needsPresident {
		var err error
		if pinned, err = e.executiveCandidate(ctx, domain.RolePresident, cmd.NextApproverID); err != nil {
			return nil, err
		}
	}
	if err := e.record(req, stage, actor, cmd); err != nil {
		return nil, err
	}

	if needsPresident {
		req.RouteTo(domain.StatusPendingExec, domain.RouteTo(domain.RolePresident, pinned))
		return &outcome{
			action:   action,
			metadata: routeMetadata(req, nil),
			message:  "Request forwarded to " + routeLabel(req),
		}, nil
	}
	req.RouteTo(domain.StatusApproved, nil)
	req.Metadata.PendingHeads = nil
	return &outcome{
		action:   action,
		metadata: map[string]any{"final": true},
		message:  "Request approved",
	}, nil
}

func (e *TransitionEngine) receive(req *domain.Request, actor *domain.User) (*outcome, error) {
	prev := req.Status
	if prev != domain.StatusHeadApproved && prev != domain.StatusPendingAdmin {
		return nil, apperrors.NewInvalidTransition(string(ActionReceive), string(prev))
	}
	role, err := e.authorize(req, actor)
	if err != nil {
		return nil, err
	}
	req.RouteTo(domain.StatusAdminReceived, domain.RouteTo(domain.RoleAdmin, ""))
	return &outcome{
		action:    domain.ActionAdminReceived,
		actorRole: role,
		metadata:  routeMetadata(req, nil),
		message:   "Request received by " + domain.RoleAdmin.Label(),
	}, nil
}

func (e *TransitionEngine) reject(req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	prev := req.Status
	if !prev.Awaiting() {
		return nil, apperrors.NewInvalidTransition(string(ActionReject), string(prev))
	}
	role, err := e.authorize(req, actor)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cmd.Comments)
	req.RouteTo(domain.StatusRejected, nil)
	req.Metadata.PendingHeads = nil

	return &outcome{
		action:    domain.ActionRejected,
		actorRole: role,
		comments:  reason,
		metadata:  map[string]any{"reason": reason, "rejected_at": string(prev)},
		message:   "Request rejected",
		notify:    []events.Event{transitionEvent(events.EventRequestRejected, req, actor, role, prev, reason)},
	}, nil
}

func (e *TransitionEngine) returnToRequester(req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	prev := req.Status
	if !prev.Awaiting() {
		return nil, apperrors.NewInvalidTransition(string(ActionReturn), string(prev))
	}
	role, err := e.authorize(req, actor)
	if err != nil {
		return nil, err
	}
	route := routeOf(req)
	point := &domain.ReturnPoint{Status: prev, Role: route.Role(), ApproverID: route.ApproverID()}

	reason := strings.TrimSpace(cmd.Comments)
	req.RouteTo(domain.StatusReturned, nil)
	req.Metadata.ReturnedFrom = point
	req.Metadata.PendingHeads = nil

	return &outcome{
		action:    domain.ActionReturned,
		actorRole: role,
		comments:  reason,
		metadata:  map[string]any{"return_reason": reason, "returned_from": string(prev)},
		message:   "Request returned to requester",
		notify:    []events.Event{transitionEvent(events.EventRequestReturned, req, actor, role, prev, reason)},
	}, nil
}

func (e *TransitionEngine) resubmit(ctx context.Context, req *domain.Request, actor *domain.User) (*outcome, error) {
	prev := req.Status
	if prev != domain.StatusReturned {
		return nil, apperrors.NewInvalidTransition(string(ActionResubmit), string(prev))
	}
	if actor.ID != req.RequesterID {
		return nil, apperrors.NewForbidden("only the requester may resubmit")
	}

	target, err := e.returnTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	point := req.Metadata.ReturnedFrom

	// bookings made before the return must still be free to come back
	vehicleID, driverID := derefString(req.AssignedVehicleID), derefString(req.AssignedDriverID)
	if vehicleID != "" || driverID != "" {
		if _, err := e.reserve(ctx, req, vehicleID, driverID); err != nil {
			return nil, err
		}
	}

	if target == domain.StatusPendingHead {
		req.ResetStagesFrom(domain.StageHead)
		if err := e.routeFromRequester(ctx, req); err != nil {
			return nil, err
		}
	} else {
		req.ResetStagesFrom(domain.FirstStageOf(target))
		role, pin := defaultRoleFor(req, target), ""
		if point != nil && point.Status == target && domain.Consistent(target, point.Role) {
			role, pin = point.Role, point.ApproverID
		}
		req.RouteTo(target, domain.RouteTo(role, pin))
	}
	req.Metadata.ReturnedFrom = nil

	o := &outcome{
		action:   domain.ActionResubmitted,
		metadata: routeMetadata(req, map[string]any{"resubmitted_to": string(req.Status)}),
		message:  "Request resubmitted to " + routeLabel(req),
		notify:   []events.Event{transitionEvent(events.EventRequestResubmitted, req, actor, "", prev, "")},
	}
	o.notify = appendApprovalRequired(o.notify, req, actor, "")
	return o, nil
}

// returnTarget is the status recorded by the latest return, falling back to
// the request's own return point and then to the head stage.
func (e *TransitionEngine) returnTarget(ctx context.Context, req *domain.Request) (domain.Status, error) {
	entries, err := e.history.ListByRequest(ctx, req.ID)
	if err != nil {
		return "", apperrors.NewPersistenceError(err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == domain.ActionReturned && entries[i].PreviousStatus.Awaiting() {
			return entries[i].PreviousStatus, nil
		}
	}
	if rf := req.Metadata.ReturnedFrom; rf != nil && rf.Status.Awaiting() {
		return rf.Status, nil
	}
	return domain.StatusPendingHead, nil
}

func (e *TransitionEngine) cancel(req *domain.Request, actor *domain.User, cmd TransitionCommand) (*outcome, error) {
	prev := req.Status
	if prev != domain.StatusDraft && prev != domain.StatusReturned && !prev.Awaiting() {
		return nil, apperrors.NewInvalidTransition(string(ActionCancel), string(prev))
	}
	if actor.ID != req.RequesterID {
		return nil, apperrors.NewForbidden("only the requester may cancel")
	}

	event := transitionEvent(events.EventRequestCancelled, req, actor, "", prev, strings.TrimSpace(cmd.Comments))
	if route := routeOf(req); route != nil {
		payload := event.Payload.(events.TransitionPayload)
		payload.PreviousApproverRole = route.Role()
		payload.PreviousApproverID = route.ApproverID()
		event.Payload = payload
	}

	req.RouteTo(domain.StatusCancelled, nil)
	req.Metadata.PendingHeads = nil
	return &outcome{
		action:   domain.ActionCancelled,
		comments: strings.TrimSpace(cmd.Comments),
		metadata: map[string]any{"cancelled_at": string(prev)},
		message:  "Request cancelled",
		notify:   []events.Event{event},
	}, nil
}

// authorize checks that actor may decide the request at its current stage and
// returns the role they act in.
func (e *TransitionEngine) authorize(req *domain.Request, actor *domain.User) (domain.Role, error) {
	if req.Status == domain.StatusPendingHead && len(req.Metadata.PendingHeads) > 0 {
		if actor.Roles.Has(domain.RoleHead) && contains(req.Metadata.PendingHeads, actor.ID) {
			return domain.RoleHead, nil
		}
		return "", apperrors.NewForbidden("actor is not a pending department head for this request")
	}

	route := routeOf(req)
	if !domain.CanAct(route, actor.ID, actor.Roles) {
		return "", apperrors.NewForbidden(fmt.Sprintf("actor cannot act on a request awaiting %s", routeLabel(req)))
	}
	role := route.Role()
	if role == domain.RoleExec {
		role, _ = actor.Roles.First([]domain.Role{domain.RoleVP, domain.RolePresident})
	}
	return role, nil
}

// recordReentered records stage unless an earlier approval already did. A
// request handed forward to the same role again (admin to another admin, or
// back to a head) keeps the first facts; the history entry names the later
// approver.
func (e *TransitionEngine) recordReentered(req *domain.Request, stage domain.Stage, actor *domain.User, cmd TransitionCommand, meta map[string]any) error {
	if req.Stage(stage).Recorded() {
		meta["stage_already_recorded"] = true
		return nil
	}
	return e.record(req, stage, actor, cmd)
}

func (e *TransitionEngine) record(req *domain.Request, stage domain.Stage, actor *domain.User, cmd TransitionCommand) error {
	if err := req.RecordStage(stage, actor.ID, cmd.Signature, strings.TrimSpace(cmd.Comments), e.now()); err != nil {
		return apperrors.NewInvalidTransition(string(ActionApprove), string(req.Status))
	}
	return nil
}

// routeFromRequester computes the first stage after the requester: the heads
// of every involved department, the parent head of a head requester, or admin.
func (e *TransitionEngine) routeFromRequester(ctx context.Context, req *domain.Request) error {
	req.Metadata.HeadEndorsements = nil
	req.Metadata.PendingHeads = nil

	if req.RequesterIsHead {
		parentHead, err := e.parentHeadOf(ctx, req.DepartmentID, req.RequesterID)
		if err != nil {
			return err
		}
		if parentHead != "" {
			req.RouteTo(domain.StatusPendingParentHead, domain.RouteTo(domain.RoleHead, parentHead))
			return nil
		}
		req.RouteTo(domain.StatusPendingAdmin, domain.RouteTo(domain.RoleAdmin, ""))
		return nil
	}

	heads := make([]string, 0, 2)
	for _, deptID := range req.DepartmentIDs() {
		dept, err := e.departments.GetByID(ctx, deptID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return apperrors.NewPersistenceError(err)
		}
		if dept.HeadID == nil || *dept.HeadID == req.RequesterID || contains(heads, *dept.HeadID) {
			continue
		}
		heads = append(heads, *dept.HeadID)
	}
	if len(heads) == 0 {
		req.RouteTo(domain.StatusPendingAdmin, domain.RouteTo(domain.RoleAdmin, ""))
		return nil
	}
	req.Metadata.PendingHeads = heads
	req.RouteTo(domain.StatusPendingHead, domain.RouteTo(domain.RoleHead, heads[0]))
	return nil
}

// parentHeadOf returns the head of deptID's parent department, unless that is exclude.
func (e *TransitionEngine) parentHeadOf(ctx context.Context, deptID, exclude string) (string, error) {
	if deptID == "" {
		return "", nil
	}
	dept, err := e.departments.GetByID(ctx, deptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", apperrors.NewPersistenceError(err)
	}
	if dept.ParentID == nil {
		return "", nil
	}
	parent, err := e.departments.GetByID(ctx, *dept.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", apperrors.NewPersistenceError(err)
	}
	if parent.HeadID == nil || *parent.HeadID == exclude {
		return "", nil
	}
	return *parent.HeadID, nil
}

// executiveCandidate checks that userID, when given, holds role.
func (e *TransitionEngine) executiveCandidate(ctx context.Context, role domain.Role, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil
	}
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NewValidationError("next approver not found", map[string]any{"next_approver_id": userID})
		}
		return "", apperrors.NewPersistenceError(err)
	}
	holds := user.Roles.Has(role)
	if role == domain.RoleExec {
		holds = user.Roles.HasAny(domain.RoleVP, domain.RolePresident)
	}
	if !holds {
		return "", apperrors.NewValidationError("next approver does not hold the required role",
			map[string]any{"next_approver_id": userID, "role": role})
	}
	return userID, nil
}

func applyBudgetEdit(req *domain.Request, cmd TransitionCommand, meta map[string]any) {
	previous := req.TotalBudget
	if req.EditedBudget != nil {
		previous = *req.EditedBudget
	}
	edited := *cmd.EditedBudget
	req.EditedBudget = &edited
	meta["previous_budget"] = previous.String()
	meta["edited_budget"] = edited.String()
}

// routeOf returns the stored routing hint, rebuilding one from the current
// approver role for rows written without metadata.
func routeOf(req *domain.Request) domain.RoutingHint {
	if req.Metadata.Route != nil {
		return req.Metadata.Route
	}
	if req.CurrentApproverRole != "" {
		return domain.RouteTo(req.CurrentApproverRole, "")
	}
	if req.Status == domain.StatusPendingExec {
		return domain.RouteTo(domain.RoleExec, "")
	}
	if roles := req.Status.AwaitedRoles(); len(roles) > 0 {
		return domain.RouteTo(roles[0], "")
	}
	return nil
}

func routeLabel(req *domain.Request) string {
	if route := routeOf(req); route != nil {
		return route.Role().Label()
	}
	return string(req.Status)
}

func routeMetadata(req *domain.Request, extra map[string]any) map[string]any {
	meta := map[string]any{}
	for k, v := range extra {
		meta[k] = v
	}
	if route := req.Metadata.Route; route != nil {
		meta["routed_to_role"] = string(route.Role())
		if id := route.ApproverID(); id != "" {
			meta["routed_to_id"] = id
		}
	}
	return meta
}

func defaultRoleFor(req *domain.Request, status domain.Status) domain.Role {
	if status == domain.StatusPendingExec {
		if req.RequesterIsHead {
			return domain.RolePresident
		}
		return domain.RoleVP
	}
	if roles := status.AwaitedRoles(); len(roles) > 0 {
		return roles[0]
	}
	return ""
}

func stageMatches(req *domain.Request, stage domain.Stage) bool {
	if req.Status == domain.StatusPendingExec {
		return stage == domain.StageVP || stage == domain.StagePresident || stage == domain.StageExec
	}
	current, ok := domain.StageFor(req.Status, req.CurrentApproverRole)
	return ok && current == stage
}

func isAdminStatus(s domain.Status) bool {
	return s == domain.StatusHeadApproved || s == domain.StatusPendingAdmin || s == domain.StatusAdminReceived
}

func transitionEvent(t events.EventType, req *domain.Request, actor *domain.User, role domain.Role, prev domain.Status, reason string) events.Event {
	return events.Event{
		Type:      t,
		RequestID: req.ID,
		Actor:     events.Actor{UserID: actor.ID, Role: role},
		Payload: events.TransitionPayload{
			RequestNumber:  req.RequestNumber,
			RequesterID:    req.RequesterID,
			PreviousStatus: prev,
			NewStatus:      req.Status,
			Reason:         reason,
		},
	}
}

// appendApprovalRequired adds an action-required notice when the request is
// pinned to a named approver.
func appendApprovalRequired(list []events.Event, req *domain.Request, actor *domain.User, role domain.Role) []events.Event {
	route := req.Metadata.Route
	if route == nil || route.ApproverID() == "" {
		return list
	}
	return append(list, events.Event{
		Type:      events.EventApprovalRequired,
		RequestID: req.ID,
		Actor:     events.Actor{UserID: actor.ID, Role: role},
		Payload: events.ApprovalRequiredPayload{
			RequestNumber: req.RequestNumber,
			ApproverID:    route.ApproverID(),
			ApproverRole:  route.Role(),
			Status:        req.Status,
		},
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

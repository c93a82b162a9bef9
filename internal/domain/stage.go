package domain

import (
	"errors"
	"time"
)

// Stage names one approval step whose facts are stored on the request.
type Stage string

const (
	StageHead        Stage = "head"
	StageParentHead  Stage = "parent_head"
	StageAdmin       Stage = "admin"
	StageComptroller Stage = "comptroller"
	StageHR          Stage = "hr"
	StageVP          Stage = "vp"
	StagePresident   Stage = "president"
	StageExec        Stage = "exec"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{StageHead, StageParentHead, StageAdmin, StageComptroller, StageHR, StageVP, StagePresident, StageExec}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// ErrStageRecorded is returned when a stage already carries an approval timestamp.
var ErrStageRecorded = errors.New("stage already recorded")

// StageFacts are the write-once approval facts of a stage.
type StageFacts struct {
	Signature  *string
	ApproverID *string
	At         *time.Time
	Comments   *string
}

// Recorded reports whether the stage has been signed off.
func (f StageFacts) Recorded() bool {
	return f.At != nil
}

// StageFor returns the stage whose facts an approval in status s with role r records.
func StageFor(s Status, r Role) (Stage, bool) {
	switch s {
	case StatusPendingHead:
		return StageHead, true
	case StatusPendingParentHead:
		return StageParentHead, true
	case StatusHeadApproved, StatusPendingAdmin, StatusAdminReceived:
		return StageAdmin, true
	case StatusPendingComptroller:
		return StageComptroller, true
	case StatusPendingHR:
		return StageHR, true
	case StatusPendingExec:
		switch r {
		case RoleVP:
			return StageVP, true
		case RolePresident:
			return StagePresident, true
		default:
			return StageExec, true
		}
	}
	return "", false
}

// FirstStageOf returns the earliest stage reached by entering status s.
func FirstStageOf(s Status) Stage {
	switch s {
	case StatusPendingParentHead:
		return StageParentHead
	case StatusHeadApproved, StatusPendingAdmin, StatusAdminReceived:
		return StageAdmin
	case StatusPendingComptroller:
		return StageComptroller
	case StatusPendingHR:
		return StageHR
	case StatusPendingExec:
		return StageVP
	}
	return StageHead
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/repository"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// ResolutionSource records which input decided a resolution.
type ResolutionSource string

const (
	SourceCandidate ResolutionSource = "candidate"
	SourceRoleHint  ResolutionSource = "role_hint"
	SourceDefault   ResolutionSource = "default"
)

// ResolveInput carries the optional routing inputs of an admin decision.
type ResolveInput struct {
	CandidateID         string
	RoleHint            string
	RequiresComptroller bool
}

// Resolution is the authoritative next stage.
type Resolution struct {
	Role       domain.Role
	Status     domain.Status
	ApproverID string
	Source     ResolutionSource
}

// ApproverResolver decides the next stage of a request from a candidate user,
// a role label or the request's budget flag. It only reads.
type ApproverResolver struct {
	users       repository.UserRepository
	defaultRole domain.Role
	logger      *zap.Logger
}

// NewApproverResolver builds a resolver. defaultRole is the policy used when
// no candidate, no hint and no comptroller review apply.
func NewApproverResolver(users repository.UserRepository, defaultRole domain.Role, logger *zap.Logger) *ApproverResolver {
	if defaultRole == "" {
		defaultRole = domain.RoleHR
	}
	return &ApproverResolver{users: users, defaultRole: defaultRole, logger: logger}
}

// Resolve applies, in order: the candidate's role flags by precedence, the
// caller's role hint, and finally the comptroller flag or the default role.
// A hint only counts when the candidate is absent or holds no approving role.
func (r *ApproverResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	candidate := strings.TrimSpace(in.CandidateID)
	hint := strings.TrimSpace(in.RoleHint)

	if candidate != "" {
		user, err := r.users.GetByID(ctx, candidate)
		switch {
		case err == nil:
			if role, ok := user.Roles.First(domain.ResolutionPrecedence); ok {
				return resolution(role, candidate, SourceCandidate), nil
			}
			r.logger.Info("candidate approver holds no approving role",
				zap.String("candidate_id", candidate))
		case errors.Is(err, pgx.ErrNoRows):
			r.logger.Info("candidate approver not found", zap.String("candidate_id", candidate))
		default:
			r.logger.Warn("candidate approver lookup failed", zap.String("candidate_id", candidate), zap.Error(err))
		}
		if hint == "" {
			return Resolution{}, apperrors.NewValidationError("next approver cannot be mapped to a role and no role was given",
				map[string]any{"next_approver_id": candidate})
		}
		return r.fromHint(hint)
	}

	if hint != "" {
		return r.fromHint(hint)
	}

	if in.RequiresComptroller {
		return resolution(domain.RoleComptroller, "", SourceDefault), nil
	}
	return resolution(r.defaultRole, "", SourceDefault), nil
}

func (r *ApproverResolver) fromHint(label string) (Resolution, error) {
	role, ok := domain.ParseRole(label)
	if !ok {
		return Resolution{}, apperrors.NewUnknownApprover(label)
	}
	return resolution(role, "", SourceRoleHint), nil
}

func resolution(role domain.Role, approverID string, source ResolutionSource) Resolution {
	status, _ := domain.StatusForRole(role)
	return Resolution{Role: role, Status: status, ApproverID: approverID, Source: source}
}

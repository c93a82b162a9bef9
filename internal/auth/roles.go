package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/travel-workflow/internal/domain"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// RequireRole ensures the actor holds at least one of the allowed roles.
// "exec" is satisfied by vp or president.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	expanded := make([]domain.Role, 0, len(allowed)+1)
	for _, r := range allowed {
		if r == domain.RoleExec {
			expanded = append(expanded, domain.RoleVP, domain.RolePresident)
			continue
		}
		expanded = append(expanded, r)
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("actor required")
		}
		if len(expanded) > 0 && !principal.User.Roles.HasAny(expanded...) {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireSelfOr lets actors read their own resources under :param, and
// holders of the given roles read anyone's.
func RequireSelfOr(param string, roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("actor required")
		}
		if c.Params(param) == principal.User.ID || principal.User.Roles.HasAny(roles...) {
			return c.Next()
		}
		return apperrors.NewForbidden("cannot read another actor's history")
	}
}

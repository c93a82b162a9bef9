package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/travel-workflow/internal/domain"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

const (
	principalKey = "auth_principal"

	// ActorHeader carries the authenticated user id set by the upstream gateway.
	ActorHeader = "X-Actor-ID"
)

// Principal represents the calling actor.
type Principal struct {
	User *domain.User
}

// ActorLookup loads users by id.
type ActorLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// ActorMiddleware trusts the gateway's actor header and loads the user behind it.
type ActorMiddleware struct {
	users ActorLookup
}

// NewActorMiddleware constructs middleware.
func NewActorMiddleware(users ActorLookup) *ActorMiddleware {
	return &ActorMiddleware{users: users}
}

// Handle rejects calls without a known actor.
func (m *ActorMiddleware) Handle(c *fiber.Ctx) error {
	actorID := strings.TrimSpace(c.Get(ActorHeader))
	if actorID == "" {
		return apperrors.NewUnauthorized("missing " + ActorHeader + " header")
	}

	user, err := m.users.GetByID(c.UserContext(), actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("unknown actor")
		}
		return apperrors.NewPersistenceError(err)
	}

	c.Locals(principalKey, &Principal{User: user})
	return c.Next()
}

// PrincipalFromContext retrieves the calling actor.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok && principal.User != nil
}

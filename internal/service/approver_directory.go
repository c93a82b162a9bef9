package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/repository"
	apperrors "github.com/spec-kit/travel-workflow/pkg/util"
)

// ApproverDirectory lists the users an approver may route a request to.
// Listings are cached per role filter for a short TTL.
type ApproverDirectory struct {
	users repository.UserRepository
	cache *ttlcache.Cache[string, []domain.Approver]
}

// NewApproverDirectory builds the directory and starts the cache janitor.
// Callers must Close it.
func NewApproverDirectory(users repository.UserRepository, ttl time.Duration) *ApproverDirectory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache := ttlcache.New[string, []domain.Approver](
		ttlcache.WithTTL[string, []domain.Approver](ttl),
		ttlcache.WithDisableTouchOnHit[string, []domain.Approver](),
	)
	go cache.Start()
	return &ApproverDirectory{users: users, cache: cache}
}

// Close stops the cache janitor.
func (d *ApproverDirectory) Close() {
	d.cache.Stop()
}

// ListApprovers returns approvers holding the filtered role, or every
// approving role when filter is empty. "exec" covers vp and president.
// A user holding several matching roles appears once, under the first role
// in directory order.
func (d *ApproverDirectory) ListApprovers(ctx context.Context, filter string) ([]domain.Approver, error) {
	roles, key, err := directoryRoles(filter)
	if err != nil {
		return nil, err
	}

	var loadErr error
	loader := ttlcache.LoaderFunc[string, []domain.Approver](
		func(cache *ttlcache.Cache[string, []domain.Approver], key string) *ttlcache.Item[string, []domain.Approver] {
			users, err := d.users.ListByRoles(ctx, roles)
			if err != nil {
				// failed lookups are not cached
				loadErr = err
				return nil
			}
			return cache.Set(key, toApprovers(users, roles), ttlcache.DefaultTTL)
		},
	)
	item := d.cache.Get(key, ttlcache.WithLoader(loader))
	if loadErr != nil {
		return nil, apperrors.NewPersistenceError(loadErr)
	}
	if item == nil {
		return []domain.Approver{}, nil
	}
	out := make([]domain.Approver, len(item.Value()))
	copy(out, item.Value())
	return out, nil
}

func directoryRoles(filter string) ([]domain.Role, string, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return domain.ApproverRoles, "all", nil
	}
	role, ok := domain.ParseRole(filter)
	if !ok {
		return nil, "", apperrors.NewValidationError("unknown role filter", map[string]any{"role": filter})
	}
	if role == domain.RoleExec {
		return []domain.Role{domain.RoleVP, domain.RolePresident}, string(role), nil
	}
	return []domain.Role{role}, string(role), nil
}

func toApprovers(users []domain.User, roles []domain.Role) []domain.Approver {
	seen := make(map[string]struct{}, len(users))
	out := make([]domain.Approver, 0, len(users))
	for _, u := range users {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		role, ok := u.Roles.First(roles)
		if !ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, domain.Approver{
			ID:         u.ID,
			Name:       u.Name,
			Role:       role,
			RoleLabel:  role.Label(),
			Department: u.Department,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

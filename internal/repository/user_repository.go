package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/travel-workflow/internal/domain"
)

// UserRepository reads users and their permission flags.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	ListByRoles(ctx context.Context, roles []domain.Role) ([]domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `u.id, u.name, u.email, u.department_id, d.name,
        u.is_admin, u.is_hr, u.is_vp, u.is_president, u.is_comptroller, u.is_head, u.role, u.exec_type,
        u.created_at, u.updated_at`

// roleClauses are the predicates that grant each role, mirroring domain.RoleFlags.
var roleClauses = map[domain.Role]string{
	domain.RoleComptroller: "u.is_comptroller",
	domain.RoleHR:          "u.is_hr",
	domain.RoleAdmin:       "u.is_admin",
	domain.RoleVP:          "(u.is_vp OR (u.role = 'exec' AND COALESCE(u.exec_type, '') <> 'president'))",
	domain.RolePresident:   "(u.is_president OR (u.role = 'exec' AND u.exec_type = 'president'))",
	domain.RoleHead:        "(u.is_head OR u.role = 'head')",
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users u LEFT JOIN departments d ON d.id = u.department_id WHERE u.id=$1`, userColumns)
	rows, err := conn(ctx, r.pool).Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &users[0], nil
}

// ListByRoles returns every active user holding at least one of roles.
func (r *userRepository) ListByRoles(ctx context.Context, roles []domain.Role) ([]domain.User, error) {
	preds := make([]string, 0, len(roles))
	for _, role := range roles {
		if clause, ok := roleClauses[role]; ok {
			preds = append(preds, clause)
		}
	}
	if len(preds) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM users u LEFT JOIN departments d ON d.id = u.department_id
        WHERE u.is_active AND (%s) ORDER BY u.name ASC, u.id ASC`, userColumns, strings.Join(preds, " OR "))
	rows, err := conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		var (
			user     domain.User
			flags    domain.RoleFlags
			role     *string
			execType *string
		)
		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.DepartmentID,
			&user.Department,
			&flags.IsAdmin,
			&flags.IsHR,
			&flags.IsVP,
			&flags.IsPresident,
			&flags.IsComptroller,
			&flags.IsHead,
			&role,
			&execType,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if role != nil {
			flags.Role = *role
		}
		if execType != nil {
			flags.ExecType = *execType
		}
		user.Roles = flags.Roles()
		result = append(result, user)
	}
	return result, rows.Err()
}

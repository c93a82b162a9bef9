package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/travel-workflow/internal/domain"
)

// HistoryFilter narrows an actor's activity listing.
type HistoryFilter struct {
	ActorID string
	Actions []domain.HistoryAction
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// HistoryRepository stores the append-only audit trail. There is no update or delete.
type HistoryRepository interface {
	Insert(ctx context.Context, entry *domain.HistoryEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]domain.HistoryEntry, error)
	ListByActor(ctx context.Context, filter HistoryFilter) ([]domain.HistoryEntry, error)
}

type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository builds repository.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{pool: pool}
}

const historyColumns = `id, request_id, action, actor_id, actor_role, previous_status, new_status, comments, metadata, created_at`

func (r *historyRepository) Insert(ctx context.Context, entry *domain.HistoryEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode history metadata: %w", err)
	}
	const query = `
        INSERT INTO request_history (request_id, action, actor_id, actor_role, previous_status, new_status, comments, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.ActorID,
		nullableRole(entry.ActorRole),
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Comments,
		meta,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *historyRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM request_history WHERE request_id=$1 ORDER BY created_at ASC, seq ASC`, historyColumns)
	return r.list(ctx, query, requestID)
}

func (r *historyRepository) ListByActor(ctx context.Context, filter HistoryFilter) ([]domain.HistoryEntry, error) {
	clauses := []string{"actor_id=$1"}
	args := []any{filter.ActorID}

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, action := range filter.Actions {
			args = append(args, action)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM request_history WHERE %s ORDER BY created_at DESC, seq DESC LIMIT %d OFFSET %d`,
		historyColumns, strings.Join(clauses, " AND "), limit, offset)
	return r.list(ctx, query, args...)
}

func (r *historyRepository) list(ctx context.Context, query string, args ...any) ([]domain.HistoryEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var (
			entry domain.HistoryEntry
			role  *string
			meta  []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.Action,
			&entry.ActorID,
			&role,
			&entry.PreviousStatus,
			&entry.NewStatus,
			&entry.Comments,
			&meta,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if role != nil {
			entry.ActorRole = domain.Role(*role)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode history metadata: %w", err)
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/travel-workflow/internal/domain"
)

// ErrStaleRequest is returned when a conditional update finds the request no
// longer in the status and version it was read at.
var ErrStaleRequest = errors.New("request changed since it was read")

// ErrNoTransaction is returned by operations that only make sense inside RunInTx.
var ErrNoTransaction = errors.New("operation requires a transaction")

// AssignmentQuery selects committed bookings of one resource.
type AssignmentQuery struct {
	Kind             domain.ResourceKind
	ResourceID       string
	Start            time.Time
	End              time.Time
	ExcludeRequestID string
}

// RequestRepository encapsulates request persistence.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Request, error)
	UpdateTransition(ctx context.Context, req *domain.Request, expected domain.Status) error
	LockResources(ctx context.Context, keys []string) error
	ListCommittedAssignments(ctx context.Context, q AssignmentQuery) ([]domain.Conflict, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

const requestBaseColumns = `id, request_number, request_type, requester_id, requester_name, requester_is_head,
        department_id, co_department_ids, participants, has_budget, total_budget, edited_budget,
        status, current_approver_role, workflow_metadata, assigned_vehicle_id, assigned_driver_id,
        travel_start_date, travel_end_date, version, created_at, updated_at`

var stageColumnSuffixes = []string{"signature", "approved_by", "approved_at", "comments"}

func stageColumns() []string {
	cols := make([]string, 0, len(domain.Stages)*len(stageColumnSuffixes))
	for _, s := range domain.Stages {
		for _, suffix := range stageColumnSuffixes {
			cols = append(cols, fmt.Sprintf("%s_%s", s, suffix))
		}
	}
	return cols
}

var selectRequestColumns = requestBaseColumns + ",\n        " + strings.Join(stageColumns(), ", ")

func (r *requestRepository) Create(ctx context.Context, req *domain.Request) error {
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return fmt.Errorf("encode workflow metadata: %w", err)
	}
	const query = `
        INSERT INTO requests (request_number, request_type, requester_id, requester_name, requester_is_head,
            department_id, co_department_ids, participants, has_budget, total_budget, status,
            current_approver_role, workflow_metadata, travel_start_date, travel_end_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        RETURNING id, version, created_at, updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		req.RequestNumber,
		req.RequestType,
		req.RequesterID,
		req.RequesterName,
		req.RequesterIsHead,
		req.DepartmentID,
		nonNilStrings(req.CoDepartmentIDs),
		nonNilStrings(req.Participants),
		req.HasBudget,
		req.TotalBudget,
		req.Status,
		nullableRole(req.CurrentApproverRole),
		meta,
		req.TravelStart,
		req.TravelEnd,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id=$1`, selectRequestColumns)
	return scanRequest(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

// GetForUpdate reads the request and holds its row lock until the transaction ends.
func (r *requestRepository) GetForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id=$1 FOR UPDATE`, selectRequestColumns)
	return scanRequest(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

// UpdateTransition writes the new workflow state only if the row still has the
// expected status and the version it was read at.
func (r *requestRepository) UpdateTransition(ctx context.Context, req *domain.Request, expected domain.Status) error {
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return fmt.Errorf("encode workflow metadata: %w", err)
	}

	sets := []string{
		"request_number=$1", "status=$2", "current_approver_role=$3", "workflow_metadata=$4",
		"assigned_vehicle_id=$5", "assigned_driver_id=$6", "edited_budget=$7",
	}
	edited := decimal.NullDecimal{}
	if req.EditedBudget != nil {
		edited = decimal.NewNullDecimal(*req.EditedBudget)
	}
	args := []any{
		req.RequestNumber,
		req.Status,
		nullableRole(req.CurrentApproverRole),
		meta,
		req.AssignedVehicleID,
		req.AssignedDriverID,
		edited,
	}
	for _, s := range domain.Stages {
		facts := req.Stage(s)
		for i, v := range []any{facts.Signature, facts.ApproverID, facts.At, facts.Comments} {
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s_%s=$%d", s, stageColumnSuffixes[i], len(args)))
		}
	}

	args = append(args, req.ID, expected, req.Version)
	query := fmt.Sprintf(`UPDATE requests SET %s, version=version+1, updated_at=NOW()
        WHERE id=$%d AND status=$%d AND version=$%d`,
		strings.Join(sets, ", "), len(args)-2, len(args)-1, len(args))

	cmd, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrStaleRequest
	}
	req.Version++
	return nil
}

// LockResources takes transaction scoped advisory locks on every key in a
// stable order so concurrent bookings of the same resource serialize.
func (r *requestRepository) LockResources(ctx context.Context, keys []string) error {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return ErrNoTransaction
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	return nil
}

func (r *requestRepository) ListCommittedAssignments(ctx context.Context, q AssignmentQuery) ([]domain.Conflict, error) {
	column := "assigned_vehicle_id"
	if q.Kind == domain.ResourceDriver {
		column = "assigned_driver_id"
	}
	committed := domain.CommittedStatuses()
	statuses := make([]string, len(committed))
	for i, s := range committed {
		statuses[i] = string(s)
	}

	query := fmt.Sprintf(`
        SELECT id, request_number, status, travel_start_date, travel_end_date
        FROM requests
        WHERE %s=$1 AND status = ANY($2)
          AND travel_start_date <= $3 AND travel_end_date >= $4
          AND ($5 = '' OR id <> $5)
        ORDER BY travel_start_date ASC, request_number ASC`, column)

	rows, err := conn(ctx, r.pool).Query(ctx, query, q.ResourceID, statuses, q.End, q.Start, q.ExcludeRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conflict
	for rows.Next() {
		var c domain.Conflict
		if err := rows.Scan(&c.RequestID, &c.RequestNumber, &c.Status, &c.Start, &c.End); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type stageScan struct {
	signature  *string
	approvedBy *string
	approvedAt *time.Time
	comments   *string
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		req     domain.Request
		role    *string
		meta    []byte
		edited  decimal.NullDecimal
		stages  = make([]stageScan, len(domain.Stages))
		targets = []any{
			&req.ID,
			&req.RequestNumber,
			&req.RequestType,
			&req.RequesterID,
			&req.RequesterName,
			&req.RequesterIsHead,
			&req.DepartmentID,
			&req.CoDepartmentIDs,
			&req.Participants,
			&req.HasBudget,
			&req.TotalBudget,
			&edited,
			&req.Status,
			&role,
			&meta,
			&req.AssignedVehicleID,
			&req.AssignedDriverID,
			&req.TravelStart,
			&req.TravelEnd,
			&req.Version,
			&req.CreatedAt,
			&req.UpdatedAt,
		}
	)
	for i := range stages {
		targets = append(targets, &stages[i].signature, &stages[i].approvedBy, &stages[i].approvedAt, &stages[i].comments)
	}
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}

	if role != nil {
		req.CurrentApproverRole = domain.Role(*role)
	}
	if edited.Valid {
		req.EditedBudget = &edited.Decimal
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &req.Metadata); err != nil {
			return nil, fmt.Errorf("decode workflow metadata: %w", err)
		}
	}
	req.Stages = make(map[domain.Stage]domain.StageFacts, len(domain.Stages))
	for i, s := range domain.Stages {
		sc := stages[i]
		if sc.approvedAt == nil && sc.signature == nil && sc.approvedBy == nil && sc.comments == nil {
			continue
		}
		req.Stages[s] = domain.StageFacts{
			Signature:  sc.signature,
			ApproverID: sc.approvedBy,
			At:         sc.approvedAt,
			Comments:   sc.comments,
		}
	}
	return &req, nil
}

func nullableRole(r domain.Role) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

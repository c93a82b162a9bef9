package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/travel-workflow/internal/config"
	"github.com/spec-kit/travel-workflow/internal/domain"
	"github.com/spec-kit/travel-workflow/internal/events"
	"github.com/spec-kit/travel-workflow/internal/notify"
	"github.com/spec-kit/travel-workflow/internal/repository"
)

// memDB is an in-memory stand-in for Postgres. Transactions are serialized,
// which plays the part of the request row lock, and a failed transaction
// restores the snapshot taken when it began.
type memDB struct {
	txMu sync.Mutex

	mu          sync.Mutex
	requests    map[string]*domain.Request
	history     []domain.HistoryEntry
	users       map[string]*domain.User
	departments map[string]*domain.Department
	lockedKeys  [][]string
	historyErr  error
	usersErr    error
	userLookups int
	seq         int
}

type memTxKey struct{}

func newMemDB() *memDB {
	return &memDB{
		requests:    map[string]*domain.Request{},
		users:       map[string]*domain.User{},
		departments: map[string]*domain.Department{},
	}
}

func (db *memDB) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	requests := make(map[string]*domain.Request, len(db.requests))
	for id, r := range db.requests {
		requests[id] = r.Clone()
	}
	historyLen := len(db.history)
	db.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		db.mu.Lock()
		db.requests = requests
		db.history = db.history[:historyLen]
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *memDB) addUser(u *domain.User) *domain.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = u
	return u
}

func (db *memDB) addDepartment(d *domain.Department) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.departments[d.ID] = d
}

func (db *memDB) addRequest(r *domain.Request) *domain.Request {
	db.mu.Lock()
	defer db.mu.Unlock()
	if r.Stages == nil {
		r.Stages = map[domain.Stage]domain.StageFacts{}
	}
	db.requests[r.ID] = r.Clone()
	return r
}

func (db *memDB) request(id string) *domain.Request {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.requests[id].Clone()
}

func (db *memDB) historyOf(id string) []domain.HistoryEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []domain.HistoryEntry
	for _, h := range db.history {
		if h.RequestID == id {
			out = append(out, h)
		}
	}
	return out
}

type memRequests struct{ db *memDB }

func (r memRequests) Create(_ context.Context, req *domain.Request) error {
	r.db.addRequest(req)
	return nil
}

func (r memRequests) GetByID(_ context.Context, id string) (*domain.Request, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return req.Clone(), nil
}

func (r memRequests) GetForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.GetByID(ctx, id)
}

func (r memRequests) UpdateTransition(_ context.Context, req *domain.Request, expected domain.Status) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.requests[req.ID]
	if !ok || stored.Status != expected || stored.Version != req.Version {
		return repository.ErrStaleRequest
	}
	req.Version++
	r.db.requests[req.ID] = req.Clone()
	return nil
}

func (r memRequests) LockResources(ctx context.Context, keys []string) error {
	if ctx.Value(memTxKey{}) == nil {
		return repository.ErrNoTransaction
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	r.db.mu.Lock()
	r.db.lockedKeys = append(r.db.lockedKeys, sorted)
	r.db.mu.Unlock()
	return nil
}

func (r memRequests) ListCommittedAssignments(_ context.Context, q repository.AssignmentQuery) ([]domain.Conflict, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Conflict
	for _, req := range r.db.requests {
		assigned := req.AssignedVehicleID
		if q.Kind == domain.ResourceDriver {
			assigned = req.AssignedDriverID
		}
		if assigned == nil || *assigned != q.ResourceID || req.ID == q.ExcludeRequestID || !req.Status.Committed() {
			continue
		}
		if !domain.Overlaps(req.TravelStart, req.TravelEnd, q.Start, q.End) {
			continue
		}
		out = append(out, domain.Conflict{
			RequestID:     req.ID,
			RequestNumber: req.RequestNumber,
			Status:        req.Status,
			Start:         req.TravelStart,
			End:           req.TravelEnd,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestNumber < out[j].RequestNumber })
	return out, nil
}

type memHistory struct{ db *memDB }

func (h memHistory) Insert(_ context.Context, entry *domain.HistoryEntry) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	if h.db.historyErr != nil {
		return h.db.historyErr
	}
	h.db.seq++
	entry.ID = "h-" + strconv.Itoa(h.db.seq)
	entry.CreatedAt = time.Now()
	h.db.history = append(h.db.history, *entry)
	return nil
}

func (h memHistory) ListByRequest(_ context.Context, requestID string) ([]domain.HistoryEntry, error) {
	return h.db.historyOf(requestID), nil
}

func (h memHistory) ListByActor(_ context.Context, f repository.HistoryFilter) ([]domain.HistoryEntry, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(h.db.history) - 1; i >= 0; i-- {
		if h.db.history[i].ActorID == f.ActorID {
			out = append(out, h.db.history[i])
		}
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type memUsers struct{ db *memDB }

func (u memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	if u.db.usersErr != nil {
		return nil, u.db.usersErr
	}
	user, ok := u.db.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *user
	return &cp, nil
}

func (u memUsers) ListByRoles(_ context.Context, roles []domain.Role) ([]domain.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	u.db.userLookups++
	if u.db.usersErr != nil {
		return nil, u.db.usersErr
	}
	ids := make([]string, 0, len(u.db.users))
	for id := range u.db.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.User
	for _, id := range ids {
		if u.db.users[id].Roles.HasAny(roles...) {
			out = append(out, *u.db.users[id])
		}
	}
	return out, nil
}

type memDepartments struct{ db *memDB }

func (d memDepartments) GetByID(_ context.Context, id string) (*domain.Department, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	dept, ok := d.db.departments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *dept
	return &cp, nil
}

type recordingSink struct {
	mu      sync.Mutex
	intents []notify.Intent
	err     error
}

func (s *recordingSink) Deliver(_ context.Context, intent notify.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.intents = append(s.intents, intent)
	return nil
}

func (s *recordingSink) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.intents))
	for _, i := range s.intents {
		if i.RecipientID != "" {
			out = append(out, i.RecipientID)
		} else {
			out = append(out, "role:"+i.RecipientRole)
		}
	}
	return out
}

type memGuard struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (g *memGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed == nil {
		g.claimed = map[string]bool{}
	}
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key)
	return nil
}

var errBoom = errors.New("boom")

// fixture wires an engine over memDB with a small organization:
// a college with a dean, a department under it with a chair, and one
// holder of each approving role.
type fixture struct {
	db     *memDB
	sink   *recordingSink
	guard  *memGuard
	engine *TransitionEngine
}

func newFixture() *fixture {
	db := newMemDB()
	str := func(s string) *string { return &s }

	db.addDepartment(&domain.Department{ID: "college", Name: "College of Engineering", HeadID: str("dean"), IsActive: true})
	db.addDepartment(&domain.Department{ID: "cs", Name: "Computer Science", ParentID: str("college"), HeadID: str("chair"), IsActive: true})
	db.addDepartment(&domain.Department{ID: "math", Name: "Mathematics", ParentID: str("college"), HeadID: str("math-chair"), IsActive: true})

	db.addUser(&domain.User{ID: "requester", Name: "Maria Clara Santos", DepartmentID: str("cs"), Roles: domain.NewRoleSet()})
	db.addUser(&domain.User{ID: "chair", Name: "Jose Rizal", DepartmentID: str("cs"), Roles: domain.NewRoleSet(domain.RoleHead)})
	db.addUser(&domain.User{ID: "math-chair", Name: "Ada Reyes", DepartmentID: str("math"), Roles: domain.NewRoleSet(domain.RoleHead)})
	db.addUser(&domain.User{ID: "dean", Name: "Andres Bonifacio", DepartmentID: str("college"), Roles: domain.NewRoleSet(domain.RoleHead)})
	db.addUser(&domain.User{ID: "admin", Name: "Transport Office", Roles: domain.NewRoleSet(domain.RoleAdmin)})
	db.addUser(&domain.User{ID: "admin2", Name: "Motorpool Desk", Roles: domain.NewRoleSet(domain.RoleAdmin)})
	db.addUser(&domain.User{ID: "comptroller", Name: "Budget Office", Roles: domain.NewRoleSet(domain.RoleComptroller)})
	db.addUser(&domain.User{ID: "hr", Name: "Human Resources", Roles: domain.NewRoleSet(domain.RoleHR)})
	db.addUser(&domain.User{ID: "vp", Name: "Vice President", Roles: domain.NewRoleSet(domain.RoleVP)})
	db.addUser(&domain.User{ID: "president", Name: "University President", Roles: domain.NewRoleSet(domain.RolePresident)})
	db.addUser(&domain.User{ID: "driver-1", Name: "Juan dela Cruz", Roles: domain.NewRoleSet()})
	db.addUser(&domain.User{ID: "driver-2", Name: "Pedro Penduko", Roles: domain.NewRoleSet()})

	sink := &recordingSink{}
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, sink, nil).RegisterHandlers()

	guard := &memGuard{}
	engine := NewTransitionEngine(workflowConfig(), TransitionDependencies{
		TxManager:      db,
		RequestRepo:    memRequests{db},
		HistoryRepo:    memHistory{db},
		UserRepo:       memUsers{db},
		DepartmentRepo: memDepartments{db},
		Dispatcher:     dispatcher,
		Guard:          guard,
		Clock:          func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	return &fixture{db: db, sink: sink, guard: guard, engine: engine}
}

func workflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{DefaultNextRole: "hr", MinAdminNotes: 20}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// draft returns a saved draft by the fixture requester travelling on the given days.
func (f *fixture) draft(id, number, start, end string) *domain.Request {
	return f.db.addRequest(&domain.Request{
		ID:            id,
		RequestNumber: number,
		RequestType:   domain.RequestTypeTravelOrder,
		RequesterID:   "requester",
		RequesterName: "Maria Clara Santos",
		DepartmentID:  "cs",
		Participants:  []string{"requester"},
		TotalBudget:   decimal.NewFromInt(5000),
		Status:        domain.StatusDraft,
		TravelStart:   day(start),
		TravelEnd:     day(end),
	})
}

// atAdmin returns a request already waiting in the admin queue.
func (f *fixture) atAdmin(id, number, start, end string) *domain.Request {
	req := &domain.Request{
		ID:            id,
		RequestNumber: number,
		RequestType:   domain.RequestTypeTravelOrder,
		RequesterID:   "requester",
		RequesterName: "Maria Clara Santos",
		DepartmentID:  "cs",
		Participants:  []string{"requester"},
		TotalBudget:   decimal.NewFromInt(5000),
		TravelStart:   day(start),
		TravelEnd:     day(end),
	}
	req.RouteTo(domain.StatusPendingAdmin, domain.RouteTo(domain.RoleAdmin, ""))
	return f.db.addRequest(req)
}

// booked returns an approved request holding the given vehicle and driver.
func (f *fixture) booked(id, number, start, end, vehicle, driver string) *domain.Request {
	req := &domain.Request{
		ID:            id,
		RequestNumber: number,
		RequestType:   domain.RequestTypeTravelOrder,
		RequesterID:   "someone-else",
		RequesterName: "Someone Else",
		DepartmentID:  "math",
		Status:        domain.StatusApproved,
		TravelStart:   day(start),
		TravelEnd:     day(end),
	}
	if vehicle != "" {
		req.AssignedVehicleID = &vehicle
	}
	if driver != "" {
		req.AssignedDriverID = &driver
	}
	return f.db.addRequest(req)
}

const adminNotes = "Vehicle and driver confirmed for the trip."

func (f *fixture) do(cmd TransitionCommand) (*TransitionResult, error) {
	if cmd.Action == ActionApprove && cmd.Signature == "" {
		cmd.Signature = "sig:" + cmd.ActorID
	}
	return f.engine.Transition(context.Background(), cmd)
}

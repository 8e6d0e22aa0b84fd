package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/config"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/helpdesk-kit/ticket-lifecycle/pkg/util"
)

// --- fakes ---

type fakeTicketRepo struct {
	mu           sync.Mutex
	nextID       int64
	tickets      map[int64]*domain.Ticket
	saved        map[int64][]*domain.Attachment
	decideErr    error
	beforeDecide func()
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{
		tickets: make(map[int64]*domain.Ticket),
		saved:   make(map[int64][]*domain.Attachment),
	}
}

func (r *fakeTicketRepo) CreateWithAttachments(ctx context.Context, ticket *domain.Ticket, attachments []*domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ticket.ID = r.nextID
	ticket.CreatedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	r.tickets[ticket.ID] = &stored
	for _, att := range attachments {
		att.TicketID = ticket.ID
	}
	r.saved[ticket.ID] = attachments
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok || !ticket.IsActive {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.IsActive {
			result = append(result, *ticket)
		}
	}
	return result, nil
}

func (r *fakeTicketRepo) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus, updatedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok || !ticket.IsActive {
		return pgx.ErrNoRows
	}
	ticket.Status = status
	ticket.UpdatedBy = updatedBy
	ticket.UpdatedAt = at
	return nil
}

func (r *fakeTicketRepo) UpdateAssignee(ctx context.Context, id int64, assigneeID *int64, updatedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok || !ticket.IsActive {
		return pgx.ErrNoRows
	}
	ticket.AssigneeID = assigneeID
	ticket.UpdatedBy = updatedBy
	ticket.UpdatedAt = at
	return nil
}

func (r *fakeTicketRepo) DecideApproval(ctx context.Context, decision repository.ApprovalDecision) (bool, error) {
	if r.beforeDecide != nil {
		r.beforeDecide()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decideErr != nil {
		err := r.decideErr
		r.decideErr = nil
		return false, err
	}
	ticket, ok := r.tickets[decision.TicketID]
	if !ok || !ticket.IsActive || ticket.ApprovalStatus != domain.ApprovalPending {
		return false, nil
	}
	ticket.ApprovalStatus = decision.Decision
	ticket.ApprovalToken = nil
	ticket.TokenExpiry = nil
	ticket.ActionedBy = &decision.ActionedBy
	ticket.ActionedAt = &decision.At
	ticket.ActionComments = &decision.Comments
	ticket.UpdatedBy = decision.ActionedBy
	ticket.UpdatedAt = decision.At
	return true, nil
}

type fakeCommentRepo struct {
	tickets  *fakeTicketRepo
	comments []*domain.Comment
}

func (r *fakeCommentRepo) CreateWithAutoAdvance(ctx context.Context, comment *domain.Comment, updatedBy string, at time.Time) (bool, error) {
	comment.ID = int64(len(r.comments) + 1)
	comment.CreatedAt = at
	r.comments = append(r.comments, comment)

	r.tickets.mu.Lock()
	defer r.tickets.mu.Unlock()
	ticket, ok := r.tickets.tickets[comment.TicketID]
	if ok && ticket.IsActive && ticket.Status == domain.TicketStatusNew {
		ticket.Status = domain.TicketStatusProcessing
		ticket.UpdatedBy = updatedBy
		ticket.UpdatedAt = at
		return true, nil
	}
	return false, nil
}

func (r *fakeCommentRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Comment, error) {
	var result []domain.Comment
	for _, comment := range r.comments {
		if comment.TicketID == ticketID {
			result = append(result, *comment)
		}
	}
	return result, nil
}

type fakeAttachmentRepo struct{}

func (fakeAttachmentRepo) Create(ctx context.Context, attachment *domain.Attachment) error {
	return nil
}

func (fakeAttachmentRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error) {
	return nil, nil
}

type fakeDirectoryRepo struct {
	users      []domain.DirectoryUser
	getByIDErr error
}

func (r *fakeDirectoryRepo) GetByID(ctx context.Context, id int64) (*domain.DirectoryUser, error) {
	if r.getByIDErr != nil {
		return nil, r.getByIDErr
	}
	for _, user := range r.users {
		if user.ID == id {
			copied := user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeDirectoryRepo) GetByUID(ctx context.Context, uid string) (*domain.DirectoryUser, error) {
	for _, user := range r.users {
		if user.UID == uid {
			copied := user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeDirectoryRepo) GetByEmail(ctx context.Context, email string) (*domain.DirectoryUser, error) {
	for _, user := range r.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeDirectoryRepo) GetByName(ctx context.Context, name string) (*domain.DirectoryUser, error) {
	for _, user := range r.users {
		if user.Name == name {
			copied := user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeDirectoryRepo) ListActiveByCategory(ctx context.Context, categoryID int64) ([]domain.DirectoryUser, error) {
	var result []domain.DirectoryUser
	for _, user := range r.users {
		if user.IsActive && user.CategoryID != nil && *user.CategoryID == categoryID {
			result = append(result, user)
		}
	}
	return result, nil
}

func (r *fakeDirectoryRepo) ListActiveByRole(ctx context.Context, roleID int) ([]domain.DirectoryUser, error) {
	var result []domain.DirectoryUser
	for _, user := range r.users {
		if user.IsActive && user.RoleID == roleID {
			result = append(result, user)
		}
	}
	return result, nil
}

type captureBus struct {
	published []events.Event
}

func (b *captureBus) Publish(ctx context.Context, event events.Event) error {
	b.published = append(b.published, event)
	return nil
}

func (b *captureBus) Subscribe(eventType events.EventType, handler events.EventHandler) {}

type fakeGuard struct {
	held      map[int64]bool
	forceLose bool
	err       error
	calls     int
	releases  int
}

func (g *fakeGuard) AcquireApprovalGuard(ctx context.Context, ticketID int64, ttl time.Duration) (bool, error) {
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	if g.forceLose || g.held[ticketID] {
		return false, nil
	}
	if g.held == nil {
		g.held = make(map[int64]bool)
	}
	g.held[ticketID] = true
	return true, nil
}

func (g *fakeGuard) ReleaseApprovalGuard(ctx context.Context, ticketID int64) error {
	g.releases++
	delete(g.held, ticketID)
	return nil
}

// --- fixture ---

type fixture struct {
	tickets   *fakeTicketRepo
	comments  *fakeCommentRepo
	directory *fakeDirectoryRepo
	bus       *captureBus
	guard     *fakeGuard
	svc       *LifecycleService
	now       time.Time
}

const itHeadEmail = "head@corp.test"

var (
	endUser = domain.ActorIdentity{ID: 10, Name: "Dana Lee", Email: "dana@corp.test", RoleID: domain.RoleEndUser}
	agent   = domain.ActorIdentity{ID: 20, Name: "Bob Ng", Email: "bob@corp.test", RoleID: domain.RoleAgent}
	itHead  = domain.ActorIdentity{ID: 30, Name: "Hana Kim", Email: itHeadEmail, RoleID: domain.RoleITHead}
)

func newFixture(t *testing.T, cfg config.TicketConfig) *fixture {
	t.Helper()
	tickets := newFakeTicketRepo()
	comments := &fakeCommentRepo{tickets: tickets}
	categoryFive := int64(5)
	directory := &fakeDirectoryRepo{users: []domain.DirectoryUser{
		{ID: 10, Name: "Dana Lee", Email: "dana@corp.test", RoleID: domain.RoleEndUser, IsActive: true},
		{ID: 20, Name: "Bob Ng", Email: "bob@corp.test", RoleID: domain.RoleAgent, CategoryID: &categoryFive, IsActive: true},
		{ID: 21, Name: "Carol Diaz", Email: "carol@corp.test", RoleID: domain.RoleAgent, CategoryID: &categoryFive, IsActive: true},
		{ID: 30, Name: "Hana Kim", Email: itHeadEmail, RoleID: domain.RoleITHead, IsActive: true},
		{ID: 40, Name: "Gone Person", Email: "gone@corp.test", RoleID: domain.RoleAgent, IsActive: false},
	}}
	bus := &captureBus{}
	guard := &fakeGuard{}
	fx := &fixture{
		tickets:   tickets,
		comments:  comments,
		directory: directory,
		bus:       bus,
		guard:     guard,
		now:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	if cfg.ApprovalTokenTTLHours == 0 {
		cfg.ApprovalTokenTTLHours = 24
	}
	fx.svc = NewLifecycleService(LifecycleDependencies{
		TicketRepo:     tickets,
		CommentRepo:    comments,
		AttachmentRepo: fakeAttachmentRepo{},
		DirectoryRepo:  directory,
		Dispatcher:     bus,
		Guard:          guard,
		Config:         cfg,
		Now:            func() time.Time { return fx.now },
	})
	return fx
}

func (fx *fixture) createTicket(t *testing.T, requestType string) *domain.Ticket {
	t.Helper()
	category := int64(5)
	ticket, err := fx.svc.CreateTicket(context.Background(), endUser, CreateTicketInput{
		RequesterName: "Dana Lee",
		Title:         "Printer offline",
		Description:   "Third floor printer stopped responding.",
		CategoryID:    &category,
		RequestType:   requestType,
		Severity:      "high",
	})
	require.NoError(t, err)
	return ticket
}

// --- CreateTicket ---

func TestCreateTicketValidation(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	category := int64(5)

	_, err := fx.svc.CreateTicket(context.Background(), endUser, CreateTicketInput{
		RequesterName: "Dana Lee",
		Description:   "no title",
		CategoryID:    &category,
	})
	assert.True(t, apperrors.IsCode(err, "INVALID_INPUT"))

	_, err = fx.svc.CreateTicket(context.Background(), endUser, CreateTicketInput{
		RequesterName: "Dana Lee",
		Title:         "no category",
		Description:   "something",
	})
	assert.True(t, apperrors.IsCode(err, "INVALID_INPUT"))

	assert.Empty(t, fx.bus.published)
}

func TestCreateTicketStandardRequest(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")

	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, domain.SeverityHigh, ticket.Severity)
	assert.False(t, ticket.RequiresApproval)
	assert.Nil(t, ticket.ApprovalToken)
	assert.Nil(t, ticket.TokenExpiry)
	assert.True(t, ticket.TokenConsistent())
	assert.Equal(t, "10", ticket.CreatedBy)
	assert.Equal(t, domain.CreatorByID, ticket.CreatorKind)

	require.Len(t, fx.bus.published, 1)
	assert.Equal(t, events.EventTicketCreated, fx.bus.published[0].Type)
	assert.Equal(t, ticket.ID, fx.bus.published[0].TicketID)
}

func TestCreateTicketChangeManagementIssuesToken(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{ApprovalTokenTTLHours: 24})
	ticket := fx.createTicket(t, "Change Management Requests")

	assert.True(t, ticket.RequiresApproval)
	assert.Equal(t, domain.ApprovalPending, ticket.ApprovalStatus)
	require.NotNil(t, ticket.ApprovalToken)
	assert.Len(t, *ticket.ApprovalToken, 64)
	require.NotNil(t, ticket.TokenExpiry)
	assert.Equal(t, fx.now.Add(24*time.Hour), *ticket.TokenExpiry)
	assert.True(t, ticket.TokenConsistent())

	// The token rides the creation event so the notifier can build the
	// emailed approve/reject links.
	require.Len(t, fx.bus.published, 1)
	payload, ok := fx.bus.published[0].Payload.(events.CreatedPayload)
	require.True(t, ok)
	assert.Equal(t, *ticket.ApprovalToken, payload.ApprovalToken)
}

func TestCreateTicketCreatorFallbacks(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	category := int64(5)

	byEmail := domain.ActorIdentity{Name: "Ext User", Email: "ext@other.test"}
	ticket, err := fx.svc.CreateTicket(context.Background(), byEmail, CreateTicketInput{
		RequesterName: "Ext User", Title: "t", Description: "d", CategoryID: &category,
	})
	require.NoError(t, err)
	assert.Equal(t, "ext@other.test", ticket.CreatedBy)
	assert.Equal(t, domain.CreatorByEmail, ticket.CreatorKind)

	byName := domain.ActorIdentity{Name: "Walk In"}
	ticket, err = fx.svc.CreateTicket(context.Background(), byName, CreateTicketInput{
		RequesterName: "Walk In", Title: "t", Description: "d", CategoryID: &category,
	})
	require.NoError(t, err)
	assert.Equal(t, "Walk In", ticket.CreatedBy)
	assert.Equal(t, domain.CreatorByName, ticket.CreatorKind)
}

// --- ChangeStatus ---

func TestChangeStatusInvalidValue(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")

	_, err := fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "done")
	assert.True(t, apperrors.IsCode(err, "INVALID_STATUS"))

	// Legacy terminal values are readable but never a transition target.
	_, err = fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "RESOLVED")
	assert.True(t, apperrors.IsCode(err, "INVALID_STATUS"))
}

func TestChangeStatusNotFound(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	_, err := fx.svc.ChangeStatus(context.Background(), agent, 999, "PROCESSING")
	assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
}

func TestChangeStatusIdempotentNoOp(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")
	fx.bus.published = nil

	result, err := fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "new")
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, domain.TicketStatusNew, result.Status)
	assert.Empty(t, fx.bus.published, "a no-op must not notify")
}

func TestChangeStatusNotifiesOnlyForwardTargets(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")
	fx.bus.published = nil

	result, err := fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "PROCESSING")
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, domain.TicketStatusNew, result.PreviousStatus)
	require.Len(t, fx.bus.published, 1)
	assert.Equal(t, events.EventTicketStatusChanged, fx.bus.published[0].Type)
	payload, ok := fx.bus.published[0].Payload.(events.StatusChangedPayload)
	require.True(t, ok)
	assert.Equal(t, domain.TicketStatusProcessing, payload.NewStatus)

	// Moving back to NEW persists but emits nothing.
	fx.bus.published = nil
	result, err = fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "NEW")
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Empty(t, fx.bus.published)

	stored, err := fx.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, stored.Status)
}

func TestChangeStatusApprovalGate(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{EnforceApprovalGate: true})
	ticket := fx.createTicket(t, "change management requests")

	_, err := fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "PROCESSING")
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	// Approval lifts the gate.
	_, err = fx.svc.Approve(context.Background(), itHead, ticket.ID, "", "go ahead")
	require.NoError(t, err)
	result, err := fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "PROCESSING")
	require.NoError(t, err)
	assert.True(t, result.Changed)
}

func TestChangeStatusGateDisabledByDefault(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")

	result, err := fx.svc.ChangeStatus(context.Background(), agent, ticket.ID, "COMPLETED")
	require.NoError(t, err)
	assert.True(t, result.Changed)
}

// --- AssignTicket ---

func TestAssignTicketInvalidAssignee(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")

	missing := int64(999)
	_, err := fx.svc.AssignTicket(context.Background(), agent, ticket.ID, &missing)
	assert.True(t, apperrors.IsCode(err, "INVALID_ASSIGNEE"))

	inactive := int64(40)
	_, err = fx.svc.AssignTicket(context.Background(), agent, ticket.ID, &inactive)
	assert.True(t, apperrors.IsCode(err, "INVALID_ASSIGNEE"))
}

func TestAssignTicketDirectoryOutage(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")

	fx.directory.getByIDErr = errors.New("directory unavailable")
	assignee := int64(20)
	_, err := fx.svc.AssignTicket(context.Background(), agent, ticket.ID, &assignee)
	assert.True(t, apperrors.IsCode(err, "INTERNAL_ERROR"), "an outage is not an invalid assignee")
}

func TestAssignTicketNotifiesAssigneeOnly(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")
	fx.bus.published = nil

	assignee := int64(20)
	result, err := fx.svc.AssignTicket(context.Background(), itHead, ticket.ID, &assignee)
	require.NoError(t, err)
	assert.True(t, result.Changed)

	require.Len(t, fx.bus.published, 1)
	assert.Equal(t, events.EventTicketAssigned, fx.bus.published[0].Type)
	payload, ok := fx.bus.published[0].Payload.(events.AssignedPayload)
	require.True(t, ok)
	assert.Equal(t, "bob@corp.test", payload.AssigneeEmail)

	// Re-assigning the same person is a no-op.
	fx.bus.published = nil
	result, err = fx.svc.AssignTicket(context.Background(), itHead, ticket.ID, &assignee)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Empty(t, fx.bus.published)
}

func TestAssignTicketClear(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")
	assignee := int64(20)
	_, err := fx.svc.AssignTicket(context.Background(), itHead, ticket.ID, &assignee)
	require.NoError(t, err)
	fx.bus.published = nil

	result, err := fx.svc.AssignTicket(context.Background(), itHead, ticket.ID, nil)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Nil(t, result.AssigneeID)
	assert.Empty(t, fx.bus.published, "clearing the assignee notifies nobody")
}

// --- AddComment ---

func TestAddCommentValidation(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")

	_, _, err := fx.svc.AddComment(context.Background(), agent, ticket.ID, "   ")
	assert.True(t, apperrors.IsCode(err, "INVALID_INPUT"))
}

func TestAddCommentAutoAdvancesOnce(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "incident")
	fx.bus.published = nil

	comment, advanced, err := fx.svc.AddComment(context.Background(), agent, ticket.ID, "taking a look")
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.NotZero(t, comment.ID)
	assert.Empty(t, fx.bus.published, "the auto-advance emits no status event")

	stored, err := fx.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusProcessing, stored.Status)

	_, advanced, err = fx.svc.AddComment(context.Background(), agent, ticket.ID, "still on it")
	require.NoError(t, err)
	assert.False(t, advanced)
}

// --- Approve / Reject ---

func TestApproveTokenPath(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")
	token := *ticket.ApprovalToken
	fx.bus.published = nil

	anonymous := domain.ActorIdentity{}
	result, err := fx.svc.Approve(context.Background(), anonymous, ticket.ID, token, "approved via link")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, result.Decision)
	assert.False(t, result.AlreadyProcessed)

	stored, err := fx.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, stored.ApprovalStatus)
	assert.Nil(t, stored.ApprovalToken, "the decision consumes the token")
	assert.Nil(t, stored.TokenExpiry)
	require.NotNil(t, stored.ActionedBy)
	assert.Equal(t, itHeadEmail, *stored.ActionedBy, "token path records the primary IT head")

	require.Len(t, fx.bus.published, 1)
	assert.Equal(t, events.EventTicketApprovalDecided, fx.bus.published[0].Type)

	// Double click: the second call short-circuits without another event.
	fx.bus.published = nil
	result, err = fx.svc.Approve(context.Background(), anonymous, ticket.ID, token, "again")
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Empty(t, fx.bus.published)
}

func TestApproveWrongToken(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")

	_, err := fx.svc.Approve(context.Background(), domain.ActorIdentity{}, ticket.ID, "deadbeef", "")
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))

	stored, _ := fx.tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, domain.ApprovalPending, stored.ApprovalStatus)
	assert.NotNil(t, stored.ApprovalToken, "a failed attempt must not consume the token")
}

func TestApproveExpiredToken(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{ApprovalTokenTTLHours: 24})
	ticket := fx.createTicket(t, "change management requests")
	token := *ticket.ApprovalToken

	fx.now = fx.now.Add(25 * time.Hour)
	_, err := fx.svc.Approve(context.Background(), domain.ActorIdentity{}, ticket.ID, token, "")
	assert.True(t, apperrors.IsCode(err, "FORBIDDEN"))
}

func TestApproveITHeadPathNeedsNoToken(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")

	result, err := fx.svc.Approve(context.Background(), itHead, ticket.ID, "", "fine by me")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, result.Decision)

	stored, _ := fx.tickets.GetByID(context.Background(), ticket.ID)
	require.NotNil(t, stored.ActionedBy)
	assert.Equal(t, itHeadEmail, *stored.ActionedBy)
}

func TestRejectRequiresReason(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")

	_, err := fx.svc.Reject(context.Background(), itHead, ticket.ID, "", "  ")
	assert.True(t, apperrors.IsCode(err, "INVALID_INPUT"))

	result, err := fx.svc.Reject(context.Background(), itHead, ticket.ID, "", "not in this window")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, result.Decision)

	stored, _ := fx.tickets.GetByID(context.Background(), ticket.ID)
	require.NotNil(t, stored.ActionComments)
	assert.Equal(t, "not in this window", *stored.ActionComments)
}

func TestDecideGuardLost(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")
	fx.guard.forceLose = true
	fx.bus.published = nil

	result, err := fx.svc.Approve(context.Background(), itHead, ticket.ID, "", "")
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, domain.ApprovalPending, result.Decision, "the short-circuit reports the stored sub-state, not the request")
	assert.Empty(t, fx.bus.published)

	stored, _ := fx.tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, domain.ApprovalPending, stored.ApprovalStatus, "a lost guard must not write")
}

func TestDecideGuardErrorDegradesGracefully(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")
	fx.guard.err = context.DeadlineExceeded

	result, err := fx.svc.Approve(context.Background(), itHead, ticket.ID, "", "")
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed, "an unavailable guard falls through to the conditional write")
	assert.Equal(t, 1, fx.guard.calls)
}

func TestDecideGuardReleasedOnWriteFailure(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")
	token := *ticket.ApprovalToken
	fx.tickets.decideErr = errors.New("connection reset")

	anonymous := domain.ActorIdentity{}
	_, err := fx.svc.Approve(context.Background(), anonymous, ticket.ID, token, "")
	require.Error(t, err)
	assert.Equal(t, 1, fx.guard.releases, "a failed write gives the lock back")

	// The retry with the same still-valid token must go through.
	result, err := fx.svc.Approve(context.Background(), anonymous, ticket.ID, token, "second try")
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, domain.ApprovalApproved, result.Decision)

	stored, _ := fx.tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, domain.ApprovalApproved, stored.ApprovalStatus)
}

func TestDecideLostRaceReportsPriorOutcome(t *testing.T) {
	fx := newFixture(t, config.TicketConfig{})
	ticket := fx.createTicket(t, "change management requests")

	// A concurrent rejection lands between the read and the conditional
	// write; the write then affects zero rows.
	fx.tickets.beforeDecide = func() {
		fx.tickets.mu.Lock()
		fx.tickets.tickets[ticket.ID].ApprovalStatus = domain.ApprovalRejected
		fx.tickets.mu.Unlock()
		fx.tickets.beforeDecide = nil
	}
	fx.bus.published = nil

	result, err := fx.svc.Approve(context.Background(), itHead, ticket.ID, "", "")
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, domain.ApprovalRejected, result.Decision, "re-entry reports what was actually decided")
	assert.Empty(t, fx.bus.published)
}

package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/approval"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/config"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/helpdesk-kit/ticket-lifecycle/pkg/util"
)

// ApprovalGuard is a single-flight lock on an approval decision, used to
// absorb double-clicked email links ahead of the database write. A nil
// guard degrades to the in-transaction pending re-check alone. Release
// gives the lock back when the decision write fails, so a transient
// database error does not brick the approval for the key's lifetime.
type ApprovalGuard interface {
	AcquireApprovalGuard(ctx context.Context, ticketID int64, ttl time.Duration) (bool, error)
	ReleaseApprovalGuard(ctx context.Context, ticketID int64) error
}

// LifecycleService orchestrates the ticket state machine: it validates a
// requested transition, persists it, and emits the notification event.
type LifecycleService struct {
	tickets     repository.TicketRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	directory   repository.DirectoryRepository
	dispatcher  events.Dispatcher
	issuer      *approval.Issuer
	guard       ApprovalGuard
	logger      *zap.Logger
	cfg         config.TicketConfig
	now         func() time.Time
}

// LifecycleDependencies bundles collaborators for the service.
type LifecycleDependencies struct {
	TicketRepo     repository.TicketRepository
	CommentRepo    repository.CommentRepository
	AttachmentRepo repository.AttachmentRepository
	DirectoryRepo  repository.DirectoryRepository
	Dispatcher     events.Dispatcher
	Issuer         *approval.Issuer
	Guard          ApprovalGuard
	Logger         *zap.Logger
	Config         config.TicketConfig
	Now            func() time.Time
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	issuer := deps.Issuer
	if issuer == nil {
		issuer = approval.NewIssuer(deps.Config.ApprovalTokenTTL(), now)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		tickets:     deps.TicketRepo,
		comments:    deps.CommentRepo,
		attachments: deps.AttachmentRepo,
		directory:   deps.DirectoryRepo,
		dispatcher:  deps.Dispatcher,
		issuer:      issuer,
		guard:       deps.Guard,
		logger:      logger,
		cfg:         deps.Config,
		now:         now,
	}
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	RequesterName string
	Contact       string
	Title         string
	Description   string
	DepartmentID  *int64
	CompanyID     *int64
	CategoryID    *int64
	IssueTypeID   *int64
	RequestType   string
	Severity      string
	Attachments   []AttachmentInput
}

// AttachmentInput names a file already written to storage.
type AttachmentInput struct {
	StoredPath string
}

// StatusChangeResult reports the outcome of ChangeStatus.
type StatusChangeResult struct {
	TicketID       int64
	Status         domain.TicketStatus
	PreviousStatus domain.TicketStatus
	Changed        bool
}

// AssignmentResult reports the outcome of AssignTicket.
type AssignmentResult struct {
	TicketID   int64
	AssigneeID *int64
	Changed    bool
}

// ApprovalResult reports the outcome of Approve/Reject. AlreadyProcessed
// is a success-shaped short-circuit, not an error, so a double-clicked
// email link is harmless.
type ApprovalResult struct {
	TicketID         int64
	Decision         domain.ApprovalStatus
	AlreadyProcessed bool
}

// CreateTicket validates, persists ticket plus attachments transactionally,
// and emits the creation event best-effort.
func (s *LifecycleService) CreateTicket(ctx context.Context, actor domain.ActorIdentity, input CreateTicketInput) (*domain.Ticket, error) {
	if strings.TrimSpace(input.Title) == "" ||
		strings.TrimSpace(input.Description) == "" ||
		strings.TrimSpace(input.RequesterName) == "" {
		return nil, apperrors.NewInvalidInput("requester_name, title and description are required", nil)
	}
	if input.CategoryID == nil {
		return nil, apperrors.NewInvalidInput("category_id is required", nil)
	}

	createdBy, creatorKind := creatorIdentity(actor)
	ticket := &domain.Ticket{
		RequesterName:    strings.TrimSpace(input.RequesterName),
		Contact:          strings.TrimSpace(input.Contact),
		Title:            strings.TrimSpace(input.Title),
		Description:      strings.TrimSpace(input.Description),
		DepartmentID:     input.DepartmentID,
		CompanyID:        input.CompanyID,
		CategoryID:       input.CategoryID,
		IssueTypeID:      input.IssueTypeID,
		RequestType:      strings.TrimSpace(input.RequestType),
		Severity:         domain.NormalizeSeverity(input.Severity),
		Status:           domain.TicketStatusNew,
		RequiresApproval: domain.RequiresApprovalFor(input.RequestType),
		// PENDING is also the display default for non-gated tickets; it
		// never gates unless RequiresApproval is set.
		ApprovalStatus: domain.ApprovalPending,
		CreatedBy:      createdBy,
		CreatorKind:    creatorKind,
		UpdatedBy:      actor.Identity(),
		IsActive:       true,
	}

	if ticket.RequiresApproval {
		token, expiry, err := s.issuer.Issue()
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		ticket.ApprovalToken = &token
		ticket.TokenExpiry = &expiry
	}

	attachments := make([]*domain.Attachment, 0, len(input.Attachments))
	for _, att := range input.Attachments {
		path := strings.TrimSpace(att.StoredPath)
		if path == "" {
			continue
		}
		attachments = append(attachments, &domain.Attachment{
			StoredPath: path,
			CreatedBy:  actor.Identity(),
			IsActive:   true,
		})
	}

	if err := s.tickets.CreateWithAttachments(ctx, ticket, attachments); err != nil {
		return nil, apperrors.MapError(err)
	}

	created := events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    actor,
		Ticket:   events.SnapshotOf(ticket),
	}
	if ticket.ApprovalToken != nil {
		created.Payload = events.CreatedPayload{ApprovalToken: *ticket.ApprovalToken}
	}
	s.publishEvent(ctx, created)
	return ticket, nil
}

// ChangeStatus moves a ticket through NEW -> PROCESSING -> COMPLETED.
// Requesting the current status is an idempotent no-op. Only transitions
// landing on PROCESSING or COMPLETED are notified.
func (s *LifecycleService) ChangeStatus(ctx context.Context, actor domain.ActorIdentity, ticketID int64, requested string) (*StatusChangeResult, error) {
	status, ok := domain.NormalizeStatus(requested)
	if !ok {
		return nil, apperrors.NewInvalidStatus(requested)
	}

	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.Status == status {
		return &StatusChangeResult{
			TicketID:       ticket.ID,
			Status:         ticket.Status,
			PreviousStatus: ticket.Status,
			Changed:        false,
		}, nil
	}

	if s.cfg.EnforceApprovalGate && ticket.RequiresApproval && ticket.ApprovalStatus == domain.ApprovalPending &&
		(status == domain.TicketStatusProcessing || status == domain.TicketStatusCompleted) {
		return nil, apperrors.NewForbidden("ticket is awaiting change-management approval")
	}

	previous := ticket.Status
	at := s.now()
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, status, actor.Identity(), at); err != nil {
		return nil, mapTicketError(err, ticketID)
	}
	ticket.Status = status
	ticket.UpdatedBy = actor.Identity()
	ticket.UpdatedAt = at

	if status == domain.TicketStatusProcessing || status == domain.TicketStatusCompleted {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketStatusChanged,
			TicketID: ticket.ID,
			Actor:    actor,
			Ticket:   events.SnapshotOf(ticket),
			Payload: events.StatusChangedPayload{
				OldStatus: previous,
				NewStatus: status,
			},
		})
	}

	return &StatusChangeResult{
		TicketID:       ticket.ID,
		Status:         status,
		PreviousStatus: previous,
		Changed:        true,
	}, nil
}

// AssignTicket sets or clears the ticket assignee. Assignment notifies the
// new assignee only.
func (s *LifecycleService) AssignTicket(ctx context.Context, actor domain.ActorIdentity, ticketID int64, assigneeID *int64) (*AssignmentResult, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var assignee *domain.DirectoryUser
	if assigneeID != nil {
		assignee, err = s.directory.GetByID(ctx, *assigneeID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, apperrors.NewInvalidAssignee(*assigneeID)
		case err != nil:
			// A directory outage is not the caller's fault.
			return nil, apperrors.MapError(err)
		case !assignee.IsActive:
			return nil, apperrors.NewInvalidAssignee(*assigneeID)
		}
	}

	if equalAssignee(ticket.AssigneeID, assigneeID) {
		return &AssignmentResult{TicketID: ticket.ID, AssigneeID: ticket.AssigneeID, Changed: false}, nil
	}

	at := s.now()
	if err := s.tickets.UpdateAssignee(ctx, ticket.ID, assigneeID, actor.Identity(), at); err != nil {
		return nil, mapTicketError(err, ticketID)
	}
	ticket.AssigneeID = assigneeID
	ticket.UpdatedBy = actor.Identity()
	ticket.UpdatedAt = at

	if assignee != nil {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketAssigned,
			TicketID: ticket.ID,
			Actor:    actor,
			Ticket:   events.SnapshotOf(ticket),
			Payload: events.AssignedPayload{
				AssigneeID:    assignee.ID,
				AssigneeName:  assignee.Name,
				AssigneeEmail: assignee.Email,
			},
		})
	}

	return &AssignmentResult{TicketID: ticket.ID, AssigneeID: assigneeID, Changed: true}, nil
}

// AddComment appends a comment. The first comment on a NEW ticket advances
// it to PROCESSING in the same transaction; that auto-transition emits no
// status event. Returns the comment and whether the advance fired.
func (s *LifecycleService) AddComment(ctx context.Context, actor domain.ActorIdentity, ticketID int64, body string) (*domain.Comment, bool, error) {
	if strings.TrimSpace(body) == "" {
		return nil, false, apperrors.NewInvalidInput("comment body is required", nil)
	}

	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, false, err
	}

	comment := &domain.Comment{
		TicketID:       ticket.ID,
		AuthorName:     actor.Name,
		AuthorIdentity: actor.Identity(),
		Body:           strings.TrimSpace(body),
	}
	advanced, err := s.comments.CreateWithAutoAdvance(ctx, comment, actor.Identity(), s.now())
	if err != nil {
		return nil, false, apperrors.MapError(err)
	}
	return comment, advanced, nil
}

// Approve records an approval decision via either the authenticated IT-Head
// path or the anonymous token path.
func (s *LifecycleService) Approve(ctx context.Context, actor domain.ActorIdentity, ticketID int64, token, comments string) (*ApprovalResult, error) {
	return s.decide(ctx, actor, ticketID, token, comments, domain.ApprovalApproved)
}

// Reject is symmetric to Approve; the reason is mandatory.
func (s *LifecycleService) Reject(ctx context.Context, actor domain.ActorIdentity, ticketID int64, token, reason string) (*ApprovalResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewInvalidInput("rejection reason is required", nil)
	}
	return s.decide(ctx, actor, ticketID, token, reason, domain.ApprovalRejected)
}

// GetTicket loads a ticket with its comments and attachments.
func (s *LifecycleService) GetTicket(ctx context.Context, ticketID int64) (*domain.Ticket, []domain.Comment, []domain.Attachment, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, err
	}
	comments, err := s.comments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, nil, apperrors.MapError(err)
	}
	attachments, err := s.attachments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, nil, apperrors.MapError(err)
	}
	return ticket, comments, attachments, nil
}

// ListTickets returns tickets matching the filter.
func (s *LifecycleService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

func (s *LifecycleService) decide(ctx context.Context, actor domain.ActorIdentity, ticketID int64, token, comments string, decision domain.ApprovalStatus) (*ApprovalResult, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.ApprovalDecided() {
		return &ApprovalResult{TicketID: ticket.ID, Decision: ticket.ApprovalStatus, AlreadyProcessed: true}, nil
	}

	actionedBy, err := s.authorizeDecision(ctx, actor, ticket, token)
	if err != nil {
		return nil, err
	}

	guardHeld := false
	if s.guard != nil {
		won, guardErr := s.guard.AcquireApprovalGuard(ctx, ticket.ID, s.cfg.ApprovalTokenTTL())
		switch {
		case guardErr != nil:
			s.logger.Warn("approval guard unavailable", zap.Int64("ticket_id", ticket.ID), zap.Error(guardErr))
		case !won:
			return s.priorOutcome(ctx, ticket.ID)
		default:
			guardHeld = true
		}
	}

	at := s.now()
	applied, err := s.tickets.DecideApproval(ctx, repository.ApprovalDecision{
		TicketID:   ticket.ID,
		Decision:   decision,
		ActionedBy: actionedBy,
		Comments:   strings.TrimSpace(comments),
		At:         at,
	})
	if err != nil {
		// Give the lock back so a retry is not mistaken for a duplicate.
		if guardHeld {
			if relErr := s.guard.ReleaseApprovalGuard(ctx, ticket.ID); relErr != nil {
				s.logger.Warn("release approval guard", zap.Int64("ticket_id", ticket.ID), zap.Error(relErr))
			}
		}
		return nil, apperrors.MapError(err)
	}
	if !applied {
		// Lost the race to a concurrent decision; report what it decided.
		return s.priorOutcome(ctx, ticket.ID)
	}

	ticket.ApprovalStatus = decision
	ticket.ApprovalToken = nil
	ticket.TokenExpiry = nil
	ticket.ActionedBy = &actionedBy
	ticket.ActionedAt = &at
	trimmed := strings.TrimSpace(comments)
	ticket.ActionComments = &trimmed
	ticket.UpdatedBy = actionedBy
	ticket.UpdatedAt = at

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketApprovalDecided,
		TicketID: ticket.ID,
		Actor:    actor,
		Ticket:   events.SnapshotOf(ticket),
		Payload: events.ApprovalDecidedPayload{
			Decision:   decision,
			ActionedBy: actionedBy,
			Comments:   trimmed,
		},
	})

	return &ApprovalResult{TicketID: ticket.ID, Decision: decision}, nil
}

// priorOutcome re-reads the ticket and reports its stored approval
// sub-state as a success-shaped short-circuit.
func (s *LifecycleService) priorOutcome(ctx context.Context, ticketID int64) (*ApprovalResult, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return &ApprovalResult{TicketID: ticket.ID, Decision: ticket.ApprovalStatus, AlreadyProcessed: true}, nil
}

// authorizeDecision resolves who is recorded as having actioned the
// decision: the authenticated IT Head, or the primary IT Head from the
// directory when the caller arrives over the anonymous token path.
func (s *LifecycleService) authorizeDecision(ctx context.Context, actor domain.ActorIdentity, ticket *domain.Ticket, token string) (string, error) {
	if actor.IsITHead() {
		return actor.Identity(), nil
	}

	switch approval.Validate(ticket.ApprovalToken, ticket.TokenExpiry, token, s.now()) {
	case approval.Ok:
	case approval.Expired:
		return "", apperrors.NewForbidden("approval link has expired")
	default:
		return "", apperrors.NewForbidden("not authorized to action this ticket")
	}

	heads, err := s.directory.ListActiveByRole(ctx, domain.RoleITHead)
	if err != nil || len(heads) == 0 {
		// Name resolution is a display concern; degrade to a fixed marker.
		s.logger.Warn("no IT head resolvable for token decision", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		return "it-head (email link)", nil
	}
	return heads[0].Email, nil
}

func (s *LifecycleService) getTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketError(err, ticketID)
	}
	return ticket, nil
}

func (s *LifecycleService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func creatorIdentity(actor domain.ActorIdentity) (string, domain.CreatorKind) {
	switch {
	case actor.ID != 0:
		return strconv.FormatInt(actor.ID, 10), domain.CreatorByID
	case actor.Email != "":
		return actor.Email, domain.CreatorByEmail
	default:
		return actor.Name, domain.CreatorByName
	}
}

func equalAssignee(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mapTicketError(err error, ticketID int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

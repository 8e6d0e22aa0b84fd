package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
)

const ticketColumns = `id, requester_name, contact, title, description,
               department_id, company_id, category_id, issue_type_id, request_type,
               severity, status, requires_approval, approval_status, approval_token, token_expiry,
               assignee_id, created_by, creator_kind, created_at, updated_by, updated_at,
               actioned_by, actioned_at, action_comments, is_active`

// TicketFilter captures listing parameters.
type TicketFilter struct {
	Statuses    []domain.TicketStatus
	CategoryID  *int64
	AssigneeID  *int64
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// ApprovalDecision carries the fields of a consuming approve/reject write.
type ApprovalDecision struct {
	TicketID   int64
	Decision   domain.ApprovalStatus
	ActionedBy string
	Comments   string
	At         time.Time
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// CreateWithAttachments persists the ticket and its attachments in one
	// transaction; a failed attachment insert rolls back the whole creation.
	CreateWithAttachments(ctx context.Context, ticket *domain.Ticket, attachments []*domain.Attachment) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus, updatedBy string, at time.Time) error
	UpdateAssignee(ctx context.Context, id int64, assigneeID *int64, updatedBy string, at time.Time) error
	// DecideApproval applies the approval decision and clears the token in
	// a single write conditioned on the sub-state still being PENDING.
	// Returns false when another decision already consumed the ticket.
	DecideApproval(ctx context.Context, decision ApprovalDecision) (bool, error)
}

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) CreateWithAttachments(ctx context.Context, ticket *domain.Ticket, attachments []*domain.Attachment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertTicket = `
        INSERT INTO tickets (requester_name, contact, title, description,
            department_id, company_id, category_id, issue_type_id, request_type,
            severity, status, requires_approval, approval_status, approval_token, token_expiry,
            assignee_id, created_by, creator_kind, updated_by, is_active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
        RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, insertTicket,
		ticket.RequesterName,
		ticket.Contact,
		ticket.Title,
		ticket.Description,
		ticket.DepartmentID,
		ticket.CompanyID,
		ticket.CategoryID,
		ticket.IssueTypeID,
		ticket.RequestType,
		ticket.Severity,
		ticket.Status,
		ticket.RequiresApproval,
		ticket.ApprovalStatus,
		ticket.ApprovalToken,
		ticket.TokenExpiry,
		ticket.AssigneeID,
		ticket.CreatedBy,
		ticket.CreatorKind,
		ticket.UpdatedBy,
		ticket.IsActive,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return err
	}

	const insertAttachment = `
        INSERT INTO attachments (ticket_id, stored_path, created_by, is_active)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	for _, att := range attachments {
		att.TicketID = ticket.ID
		if err := tx.QueryRow(ctx, insertAttachment,
			att.TicketID,
			att.StoredPath,
			att.CreatedBy,
			att.IsActive,
		).Scan(&att.ID, &att.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1 AND is_active`, ticketColumns)
	var ticket domain.Ticket
	if err := scanTicket(r.db.QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"is_active"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("category_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
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

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus, updatedBy string, at time.Time) error {
	const query = `
        UPDATE tickets SET status=$1, updated_by=$2, updated_at=$3
        WHERE id=$4 AND is_active`
	cmd, err := r.db.Exec(ctx, query, status, updatedBy, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) UpdateAssignee(ctx context.Context, id int64, assigneeID *int64, updatedBy string, at time.Time) error {
	const query = `
        UPDATE tickets SET assignee_id=$1, updated_by=$2, updated_at=$3
        WHERE id=$4 AND is_active`
	cmd, err := r.db.Exec(ctx, query, assigneeID, updatedBy, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) DecideApproval(ctx context.Context, decision ApprovalDecision) (bool, error) {
	const query = `
        UPDATE tickets SET approval_status=$1, approval_token=NULL, token_expiry=NULL,
            actioned_by=$2, actioned_at=$3, action_comments=$4, updated_by=$2, updated_at=$3
        WHERE id=$5 AND is_active AND approval_status=$6`
	cmd, err := r.db.Exec(ctx, query,
		decision.Decision,
		decision.ActionedBy,
		decision.At,
		decision.Comments,
		decision.TicketID,
		domain.ApprovalPending,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.RequesterName,
		&ticket.Contact,
		&ticket.Title,
		&ticket.Description,
		&ticket.DepartmentID,
		&ticket.CompanyID,
		&ticket.CategoryID,
		&ticket.IssueTypeID,
		&ticket.RequestType,
		&ticket.Severity,
		&ticket.Status,
		&ticket.RequiresApproval,
		&ticket.ApprovalStatus,
		&ticket.ApprovalToken,
		&ticket.TokenExpiry,
		&ticket.AssigneeID,
		&ticket.CreatedBy,
		&ticket.CreatorKind,
		&ticket.CreatedAt,
		&ticket.UpdatedBy,
		&ticket.UpdatedAt,
		&ticket.ActionedBy,
		&ticket.ActionedAt,
		&ticket.ActionComments,
		&ticket.IsActive,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"strings"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
)

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error)
}

type attachmentRepository struct {
	db DB
}

// NewAttachmentRepository constructs repository.
func NewAttachmentRepository(db DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	const query = `
        INSERT INTO attachments (ticket_id, stored_path, created_by, is_active)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	return r.db.QueryRow(ctx, query,
		attachment.TicketID,
		attachment.StoredPath,
		attachment.CreatedBy,
		attachment.IsActive,
	).Scan(&attachment.ID, &attachment.CreatedAt)
}

func (r *attachmentRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error) {
	const query = `
        SELECT id, ticket_id, stored_path, created_by, created_at, is_active
        FROM attachments WHERE ticket_id=$1 AND is_active ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Legacy rows carry blank and duplicated paths; filter them out here so
	// every caller sees a clean list.
	seen := map[string]struct{}{}
	var result []domain.Attachment
	for rows.Next() {
		var attachment domain.Attachment
		if err := rows.Scan(
			&attachment.ID,
			&attachment.TicketID,
			&attachment.StoredPath,
			&attachment.CreatedBy,
			&attachment.CreatedAt,
			&attachment.IsActive,
		); err != nil {
			return nil, err
		}
		path := strings.TrimSpace(attachment.StoredPath)
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, attachment)
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"time"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
)

// CommentRepository persists ticket comments.
type CommentRepository interface {
	// CreateWithAutoAdvance inserts the comment and, in the same
	// transaction, advances the ticket NEW -> PROCESSING when it is the
	// first activity on a fresh ticket. Returns whether the advance fired.
	CreateWithAutoAdvance(ctx context.Context, comment *domain.Comment, updatedBy string, at time.Time) (bool, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Comment, error)
}

type commentRepository struct {
	db DB
}

// NewCommentRepository constructs repository.
func NewCommentRepository(db DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) CreateWithAutoAdvance(ctx context.Context, comment *domain.Comment, updatedBy string, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertComment = `
        INSERT INTO comments (ticket_id, author_name, author_identity, body)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertComment,
		comment.TicketID,
		comment.AuthorName,
		comment.AuthorIdentity,
		comment.Body,
	).Scan(&comment.ID, &comment.CreatedAt); err != nil {
		return false, err
	}

	const advance = `
        UPDATE tickets SET status=$1, updated_by=$2, updated_at=$3
        WHERE id=$4 AND is_active AND status=$5`
	cmd, err := tx.Exec(ctx, advance,
		domain.TicketStatusProcessing,
		updatedBy,
		at,
		comment.TicketID,
		domain.TicketStatusNew,
	)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *commentRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Comment, error) {
	const query = `
        SELECT id, ticket_id, author_name, author_identity, body, created_at
        FROM comments WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Comment
	for rows.Next() {
		var comment domain.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.TicketID,
			&comment.AuthorName,
			&comment.AuthorIdentity,
			&comment.Body,
			&comment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, comment)
	}
	return result, rows.Err()
}

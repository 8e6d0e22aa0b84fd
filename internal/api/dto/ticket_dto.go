package dto

import (
	"time"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	RequesterName string `json:"requester_name"`
	Contact       string `json:"contact"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	DepartmentID  *int64 `json:"department_id"`
	CompanyID     *int64 `json:"company_id"`
	CategoryID    *int64 `json:"category_id"`
	IssueTypeID   *int64 `json:"issue_type_id"`
	RequestType   string `json:"request_type"`
	Severity      string `json:"severity"`
}

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status string `json:"status"`
}

// AssignTicketRequest payload. A null assignee clears the assignment.
type AssignTicketRequest struct {
	AssigneeID *int64 `json:"assignee_id"`
}

// AddCommentRequest payload.
type AddCommentRequest struct {
	Body string `json:"body"`
}

// ApprovalActionRequest payload for PUT approve/reject.
type ApprovalActionRequest struct {
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

// TicketSummary response.
type TicketSummary struct {
	ID             int64                 `json:"id"`
	Code           string                `json:"code"`
	RequesterName  string                `json:"requester_name"`
	Title          string                `json:"title"`
	Severity       string                `json:"severity"`
	Status         domain.TicketStatus   `json:"status"`
	ApprovalStatus domain.ApprovalStatus `json:"approval_status"`
	AssigneeID     *int64                `json:"assignee_id"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Contact      string               `json:"contact"`
	Description  string               `json:"description"`
	DepartmentID *int64               `json:"department_id"`
	CompanyID    *int64               `json:"company_id"`
	CategoryID   *int64               `json:"category_id"`
	IssueTypeID  *int64               `json:"issue_type_id"`
	RequestType  string               `json:"request_type"`
	Comments     []CommentResponse    `json:"comments"`
	Attachments  []AttachmentResponse `json:"attachments"`
}

// StatusChangeResponse reports a status transition.
type StatusChangeResponse struct {
	TicketID       int64               `json:"ticket_id"`
	Status         domain.TicketStatus `json:"status"`
	PreviousStatus domain.TicketStatus `json:"previous_status"`
	Changed        bool                `json:"changed"`
}

// AssignmentResponse reports an assignment change.
type AssignmentResponse struct {
	TicketID   int64  `json:"ticket_id"`
	AssigneeID *int64 `json:"assignee_id"`
	Changed    bool   `json:"changed"`
}

// CommentResponse represents a thread entry.
type CommentResponse struct {
	ID         int64     `json:"id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// AddCommentResponse wraps a created comment and the auto-transition flag.
type AddCommentResponse struct {
	Comment       CommentResponse `json:"comment"`
	AutoProcessed bool            `json:"auto_processed"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID         int64     `json:"id"`
	StoredPath string    `json:"stored_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalResponse reports an approval decision.
type ApprovalResponse struct {
	TicketID         int64                 `json:"ticket_id"`
	Decision         domain.ApprovalStatus `json:"decision"`
	AlreadyProcessed bool                  `json:"already_processed"`
}

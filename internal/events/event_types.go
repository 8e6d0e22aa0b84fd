package events

import (
	"time"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketApprovalDecided EventType = "ticket_approval_decided"
)

// Event represents a domain event emitted after a committed state change.
type Event struct {
	ID        string               `json:"id"`
	Type      EventType            `json:"type"`
	TicketID  int64                `json:"ticket_id"`
	Actor     domain.ActorIdentity `json:"actor"`
	Timestamp time.Time            `json:"timestamp"`
	Ticket    TicketSnapshot       `json:"ticket"`
	Payload   interface{}          `json:"payload"`
}

// TicketSnapshot carries the ticket fields notification routing needs,
// frozen at publish time so handlers never re-read mutable state.
type TicketSnapshot struct {
	ID            int64                 `json:"id"`
	Code          string                `json:"code"`
	Title         string                `json:"title"`
	RequesterName string                `json:"requester_name"`
	Severity      domain.Severity       `json:"severity"`
	Status        domain.TicketStatus   `json:"status"`
	RequestType   string                `json:"request_type,omitempty"`
	CategoryID    *int64                `json:"category_id,omitempty"`
	AssigneeID    *int64                `json:"assignee_id,omitempty"`
	CreatedBy     string                `json:"created_by"`
	CreatorKind   domain.CreatorKind    `json:"creator_kind"`
	ApprovalState domain.ApprovalStatus `json:"approval_state,omitempty"`
}

// SnapshotOf freezes the routing-relevant fields of a ticket.
func SnapshotOf(t *domain.Ticket) TicketSnapshot {
	return TicketSnapshot{
		ID:            t.ID,
		Code:          t.Code(),
		Title:         t.Title,
		RequesterName: t.RequesterName,
		Severity:      t.Severity,
		Status:        t.Status,
		RequestType:   t.RequestType,
		CategoryID:    t.CategoryID,
		AssigneeID:    t.AssigneeID,
		CreatedBy:     t.CreatedBy,
		CreatorKind:   t.CreatorKind,
		ApprovalState: t.ApprovalStatus,
	}
}

// CreatedPayload payload. The approval token rides the event rather than
// the snapshot so only the creation handler, which builds the emailed
// approve/reject links, ever sees it.
type CreatedPayload struct {
	ApprovalToken string `json:"approval_token,omitempty"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// AssignedPayload payload.
type AssignedPayload struct {
	AssigneeID    int64  `json:"assignee_id"`
	AssigneeName  string `json:"assignee_name"`
	AssigneeEmail string `json:"assignee_email"`
}

// ApprovalDecidedPayload payload.
type ApprovalDecidedPayload struct {
	Decision   domain.ApprovalStatus `json:"decision"`
	ActionedBy string                `json:"actioned_by"`
	Comments   string                `json:"comments,omitempty"`
}

package domain

import (
	"fmt"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusProcessing TicketStatus = "PROCESSING"
	TicketStatusCompleted  TicketStatus = "COMPLETED"

	// Legacy terminal values found in historical rows. Readable, never a
	// valid target for a new transition.
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusClosed   TicketStatus = "CLOSED"
)

// NormalizeStatus maps raw input onto the closed status set,
// case-insensitively. The second return is false for values outside it.
func NormalizeStatus(raw string) (TicketStatus, bool) {
	switch TicketStatus(upperTrim(raw)) {
	case TicketStatusNew:
		return TicketStatusNew, true
	case TicketStatusProcessing:
		return TicketStatusProcessing, true
	case TicketStatusCompleted:
		return TicketStatusCompleted, true
	}
	return "", false
}

// ApprovalStatus is the approval sub-state, independent of TicketStatus.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// RequestTypeChangeManagement is the request-type value that puts a ticket
// behind the approval gate. Matching is case-insensitive.
const RequestTypeChangeManagement = "change management requests"

// RequiresApprovalFor derives the approval gate from a request-type value.
func RequiresApprovalFor(requestType string) bool {
	return lowerTrim(requestType) == RequestTypeChangeManagement
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            int64
	RequesterName string
	Contact       string
	Title         string
	Description   string

	DepartmentID *int64
	CompanyID    *int64
	CategoryID   *int64
	IssueTypeID  *int64
	RequestType  string

	Severity Severity
	Status   TicketStatus

	RequiresApproval bool
	ApprovalStatus   ApprovalStatus
	ApprovalToken    *string
	TokenExpiry      *time.Time

	AssigneeID *int64

	CreatedBy      string
	CreatorKind    CreatorKind
	CreatedAt      time.Time
	UpdatedBy      string
	UpdatedAt      time.Time
	ActionedBy     *string
	ActionedAt     *time.Time
	ActionComments *string
	IsActive       bool
}

// Code returns the display code, e.g. TK-2026-000042.
func (t *Ticket) Code() string {
	return fmt.Sprintf("TK-%d-%06d", t.CreatedAt.Year(), t.ID)
}

// TokenConsistent reports whether token and expiry are both set or both
// absent. Persisted tickets must always satisfy this.
func (t *Ticket) TokenConsistent() bool {
	return (t.ApprovalToken == nil) == (t.TokenExpiry == nil)
}

// ApprovalDecided reports whether the approval sub-state left PENDING.
func (t *Ticket) ApprovalDecided() bool {
	return t.ApprovalStatus == ApprovalApproved || t.ApprovalStatus == ApprovalRejected
}

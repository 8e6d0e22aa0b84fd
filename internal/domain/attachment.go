package domain

import "time"

// Attachment stores metadata for a file attached to a ticket. The file
// itself lives in external storage under StoredPath.
type Attachment struct {
	ID         int64
	TicketID   int64
	StoredPath string
	CreatedBy  string
	CreatedAt  time.Time
	IsActive   bool
}

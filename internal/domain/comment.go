package domain

import "time"

// Comment captures a message in a ticket thread.
type Comment struct {
	ID             int64
	TicketID       int64
	AuthorName     string
	AuthorIdentity string
	Body           string
	CreatedAt      time.Time
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want TicketStatus
		ok   bool
	}{
		{"NEW", TicketStatusNew, true},
		{"new", TicketStatusNew, true},
		{"  Processing  ", TicketStatusProcessing, true},
		{"completed", TicketStatusCompleted, true},
		{"RESOLVED", "", false},
		{"CLOSED", "", false},
		{"done", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := NormalizeStatus(tc.raw)
		assert.Equal(t, tc.ok, ok, "input %q", tc.raw)
		assert.Equal(t, tc.want, got, "input %q", tc.raw)
	}
}

func TestRequiresApprovalFor(t *testing.T) {
	assert.True(t, RequiresApprovalFor("change management requests"))
	assert.True(t, RequiresApprovalFor("  Change Management Requests "))
	assert.False(t, RequiresApprovalFor("incident"))
	assert.False(t, RequiresApprovalFor(""))
}

func TestTicketCode(t *testing.T) {
	ticket := Ticket{ID: 42, CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "TK-2026-000042", ticket.Code())
}

func TestTokenConsistent(t *testing.T) {
	token := "aabb"
	expiry := time.Now()

	assert.True(t, (&Ticket{}).TokenConsistent())
	assert.True(t, (&Ticket{ApprovalToken: &token, TokenExpiry: &expiry}).TokenConsistent())
	assert.False(t, (&Ticket{ApprovalToken: &token}).TokenConsistent())
	assert.False(t, (&Ticket{TokenExpiry: &expiry}).TokenConsistent())
}

func TestApprovalDecided(t *testing.T) {
	assert.False(t, (&Ticket{ApprovalStatus: ApprovalPending}).ApprovalDecided())
	assert.True(t, (&Ticket{ApprovalStatus: ApprovalApproved}).ApprovalDecided())
	assert.True(t, (&Ticket{ApprovalStatus: ApprovalRejected}).ApprovalDecided())
}

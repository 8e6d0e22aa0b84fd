package domain

import "time"

// Directory role identifiers. RoleITHead is the privileged approver role.
const (
	RoleEndUser = 1
	RoleAgent   = 2
	RoleITHead  = 3
)

// DirectoryUser is a read-only view of a person in the company directory.
type DirectoryUser struct {
	ID           int64
	UID          string
	Name         string
	Email        string
	PasswordHash string
	RoleID       int
	CategoryID   *int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsITHead reports whether the user holds the approver role.
func (u *DirectoryUser) IsITHead() bool {
	return u.RoleID == RoleITHead
}

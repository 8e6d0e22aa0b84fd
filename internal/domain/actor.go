package domain

// ActorIdentity is an explicit value describing who performs a lifecycle
// operation. It is always passed as a parameter, never read from ambient
// request state.
type ActorIdentity struct {
	ID     int64
	UID    string
	Name   string
	Email  string
	RoleID int
}

// IsITHead reports whether the actor holds the approver role.
func (a ActorIdentity) IsITHead() bool {
	return a.RoleID == RoleITHead
}

// Identity returns the audit string recorded in createdBy/updatedBy
// columns: email when known, otherwise name.
func (a ActorIdentity) Identity() string {
	if a.Email != "" {
		return a.Email
	}
	return a.Name
}

// CreatorKind tags how a ticket's creator identity was stored.
// Legacy rows carry any of the three; new rows are always ByID when the
// creator resolves in the directory.
type CreatorKind string

const (
	CreatorByID    CreatorKind = "BY_ID"
	CreatorByEmail CreatorKind = "BY_EMAIL"
	CreatorByName  CreatorKind = "BY_NAME"
)

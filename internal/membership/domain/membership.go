package domain

import (
	"errors"
	"time"
)

// Membership links a user to an organization with a role.
// A user has at most one membership row per organization; removal revokes the row instead of deleting it.
type Membership struct {
	ID        string
	UserID    string
	OrgID     string
	Role      Role
	Status    Status
	InvitedBy string
	JoinedAt  time.Time
	UpdatedAt time.Time
}

type Role string

const (
	RoleOwner         Role = "owner"
	RoleAdministrator Role = "administrator"
	RoleViewer        Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdministrator, RoleViewer:
		return true
	}
	return false
}

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// IsActive reports whether the membership currently grants anything.
func (m *Membership) IsActive() bool {
	return m != nil && m.Status == StatusActive
}

// View is the read model returned by the membership resolver and stored in its cache.
type View struct {
	UserID   string    `json:"user_id"`
	OrgID    string    `json:"org_id"`
	Role     Role      `json:"role"`
	Status   Status    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// ToView returns the resolver view of m.
func (m *Membership) ToView() *View {
	if m == nil {
		return nil
	}
	return &View{UserID: m.UserID, OrgID: m.OrgID, Role: m.Role, Status: m.Status, JoinedAt: m.JoinedAt}
}

// Validate validates the membership for persistence. Returns an error describing the first validation failure.
func (m *Membership) Validate() error {
	if m.UserID == "" {
		return errors.New("user_id is required")
	}
	if m.OrgID == "" {
		return errors.New("org_id is required")
	}
	if !m.Role.Valid() {
		return errors.New("role is invalid")
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	return nil
}

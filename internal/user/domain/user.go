package domain

import (
	"errors"
	"time"
)

// User is the platform account referenced by memberships and transfers.
type User struct {
	ID        string
	Email     string
	Status    UserStatus
	CreatedAt time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// AccountAgeDays returns the whole days between account creation and now. Never negative.
func (u *User) AccountAgeDays(now time.Time) int {
	if u == nil || u.CreatedAt.IsZero() || now.Before(u.CreatedAt) {
		return 0
	}
	return int(now.Sub(u.CreatedAt) / (24 * time.Hour))
}

// IsActive reports whether the account may receive an organization.
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

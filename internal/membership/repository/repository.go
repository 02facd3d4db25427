package repository

import (
	"context"
	"errors"

	"org-access-core/internal/membership/domain"
)

// ErrOwnerRoleReserved is returned when a write would grant or strip the owner role.
// The owner role only moves through an ownership transfer commit.
var ErrOwnerRoleReserved = errors.New("membership: owner role can only change through ownership transfer")

// ErrMembershipExists is returned by CreateMembership when the user already has a row in the org.
var ErrMembershipExists = errors.New("membership: already exists")

// ErrNotFound is returned by writes that address a membership row that does not exist.
var ErrNotFound = errors.New("membership: not found")

// Repository defines persistence for memberships.
type Repository interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	CreateMembership(ctx context.Context, m *domain.Membership) error
	UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error)
	Revoke(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

package repository

import (
	"context"
	"errors"

	"org-access-core/internal/organization/domain"
)

// ErrNotFound is returned by writes that address an organization that does not exist.
var ErrNotFound = errors.New("organization: not found")

// Repository defines persistence for organizations. There is deliberately no method that writes owner_id;
// ownership moves only through the transfer repository's commit.
type Repository interface {
	GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error)
	// CreateOrganization inserts o and the owner membership of o.OwnerID in one transaction.
	CreateOrganization(ctx context.Context, o *domain.Org) error
	UpdateStatus(ctx context.Context, id string, to domain.OrgStatus) (*domain.Org, error)
}

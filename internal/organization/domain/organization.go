package domain

import (
	"errors"
	"fmt"
	"time"
)

// Org represents an organization/tenant. OwnerID is written only by an ownership transfer commit.
type Org struct {
	ID               string
	Name             string
	OwnerID          string
	Status           OrgStatus
	EncryptionKeyRef string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type OrgStatus string

const (
	OrgStatusPending   OrgStatus = "pending"
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// ErrInvalidStatusTransition is returned for a status change the lifecycle does not allow.
var ErrInvalidStatusTransition = errors.New("organization: invalid status transition")

var statusTransitions = map[OrgStatus][]OrgStatus{
	OrgStatusPending:   {OrgStatusActive, OrgStatusDeleted},
	OrgStatusActive:    {OrgStatusSuspended, OrgStatusDeleted},
	OrgStatusSuspended: {OrgStatusActive, OrgStatusDeleted},
}

// CanTransition reports whether from -> to is allowed. Deleted is terminal.
func CanTransition(from, to OrgStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidStatusTransition when from -> to is not allowed.
func CheckTransition(from, to OrgStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// IsActive reports whether the organization accepts ownership transfers and member changes.
func (o *Org) IsActive() bool {
	return o != nil && o.Status == OrgStatusActive
}

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	if o.Name == "" {
		return errors.New("name is required")
	}
	if o.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if o.Status == "" {
		o.Status = OrgStatusPending
	}
	return nil
}

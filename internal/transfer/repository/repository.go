package repository

import (
	"context"
	"errors"
	"time"

	"org-access-core/internal/transfer/domain"
)

var (
	// ErrNotFound is returned when no request has the given id.
	ErrNotFound = errors.New("transfer: not found")
	// ErrOpenTransferExists is returned by Create when the organization already has an open request.
	ErrOpenTransferExists = errors.New("transfer: organization already has an open transfer")
	// ErrStateConflict is returned when a conditional state change found the request in another state.
	ErrStateConflict = errors.New("transfer: state changed concurrently")
	// ErrTokenConsumed is returned when a validation token id has already been recorded.
	ErrTokenConsumed = errors.New("transfer: validation token already used")
	// ErrConcurrentOwnershipChange is returned by CommitOwnership when the organization is no longer owned by
	// the request's current owner or is not active.
	ErrConcurrentOwnershipChange = errors.New("transfer: ownership changed concurrently")
	// ErrExtensionUnavailable is returned by Extend when the request was already extended or is no longer
	// awaiting payment.
	ErrExtensionUnavailable = errors.New("transfer: deadline extension unavailable")
)

// Transition is a conditional state change. Reason and TokenJTI are written only when non-empty.
type Transition struct {
	From     domain.State
	To       domain.State
	Reason   domain.Reason
	TokenJTI string
}

// Repository persists ownership transfer requests. Every state write is conditional on the current state.
type Repository interface {
	Create(ctx context.Context, t *domain.Transfer) error
	Get(ctx context.Context, id string) (*domain.Transfer, error)
	Transition(ctx context.Context, id string, tr Transition, at time.Time) (*domain.Transfer, error)
	// ExpireIfDue moves the request to expired when it is expirable and past its deadline.
	// It reports whether this call made the change.
	ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error)
	// Extend applies the one-time deadline extension and binds a new token.
	Extend(ctx context.Context, id string, expiresAt time.Time, tokenJTI string, at time.Time) (*domain.Transfer, error)
	ConsumeToken(ctx context.Context, jti, transferID string, at time.Time) error
	CountCompletedSince(ctx context.Context, orgID string, since time.Time) (int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Transfer, error)
	// CommitOwnership moves the organization to the proposed owner and completes the request in one transaction.
	// The organization update is conditional on owner_id = CurrentOwnerID and status = active.
	CommitOwnership(ctx context.Context, t *domain.Transfer, at time.Time) (*domain.Transfer, error)
}

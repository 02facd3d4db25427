package repository

import (
	"context"
	"errors"

	"org-access-core/internal/audit/domain"
)

// ErrSequenceConflict is returned by Insert when another writer already took the entry's sequence id.
var ErrSequenceConflict = errors.New("audit: sequence conflict")

// ErrDuplicateEvent is returned by Insert when an entry with the same event id already exists.
var ErrDuplicateEvent = errors.New("audit: duplicate event id")

// Repository is the append-only store of audit chains. There is no update or delete.
type Repository interface {
	// Head returns the last sequence id and entry hash of orgID's chain; found is false for an empty chain.
	Head(ctx context.Context, orgID string) (seq int64, hash string, found bool, err error)
	// Insert stores e at e.SequenceID. It is the compare-and-swap of the chain: a taken sequence id
	// yields ErrSequenceConflict.
	Insert(ctx context.Context, e *domain.Entry) error
	// List returns up to limit entries of orgID with sequence id >= fromSeq, in sequence order.
	List(ctx context.Context, orgID string, fromSeq int64, limit int) ([]*domain.Entry, error)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"org-access-core/internal/db"
	"org-access-core/internal/organization/domain"
)

const orgColumns = `id, name, owner_id, status, encryption_key_ref, created_at, updated_at`

type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrg(row rowScanner) (*domain.Org, error) {
	var o domain.Org
	var status string
	if err := row.Scan(&o.ID, &o.Name, &o.OwnerID, &status, &o.EncryptionKeyRef, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrgStatus(status)
	return &o, nil
}

// GetOrganizationByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error) {
	o, err := scanOrg(r.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// CreateOrganization persists o together with its owner membership. The organization must have ID set.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Org) error {
	if err := o.Validate(); err != nil {
		return err
	}
	now := r.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	return db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO organizations (id, name, owner_id, status, encryption_key_ref, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			o.ID, o.Name, o.OwnerID, string(o.Status), o.EncryptionKeyRef, o.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memberships (id, user_id, org_id, role, status, invited_by, joined_at, updated_at)
			 VALUES ($1, $2, $3, 'owner', 'active', '', $4, $4)`,
			uuid.New().String(), o.OwnerID, o.ID, o.CreatedAt)
		return err
	})
}

// UpdateStatus moves the organization to status to when the lifecycle allows it.
// The current status is re-checked in the UPDATE so a concurrent change cannot be overwritten.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, to domain.OrgStatus) (*domain.Org, error) {
	cur, err := r.GetOrganizationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if err := domain.CheckTransition(cur.Status, to); err != nil {
		return nil, err
	}
	o, err := scanOrg(r.db.QueryRowContext(ctx,
		`UPDATE organizations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2 RETURNING `+orgColumns,
		id, string(cur.Status), string(to), r.now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvalidStatusTransition
	}
	return o, err
}

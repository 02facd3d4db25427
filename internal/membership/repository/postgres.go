package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"org-access-core/internal/db"
	"org-access-core/internal/membership/domain"
)

const membershipColumns = `id, user_id, org_id, role, status, invited_by, joined_at, updated_at`

type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*domain.Membership, error) {
	var m domain.Membership
	var role, status string
	if err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &role, &status, &m.InvitedBy, &m.JoinedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	m.Status = domain.Status(status)
	return &m, nil
}

// GetMembershipByUserAndOrg returns the membership for the given user and org, or nil if not found.
// Revoked rows are returned with their status; callers decide what a revoked membership grants.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMembershipsByOrg returns all active memberships for the given org ordered by join time.
func (r *PostgresRepository) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE org_id = $1 AND status = 'active' ORDER BY joined_at, user_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateMembership persists m. The membership must have ID set and must not carry the owner role.
// A previously revoked row for the same user and org is reactivated with the new role.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Role == domain.RoleOwner {
		return ErrOwnerRoleReserved
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = r.now().UTC()
	}
	m.UpdatedAt = m.JoinedAt
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO memberships (id, user_id, org_id, role, status, invited_by, joined_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'active', $5, $6, $6)
		 ON CONFLICT ON CONSTRAINT memberships_user_org_key DO UPDATE
		   SET role = EXCLUDED.role, status = 'active', invited_by = EXCLUDED.invited_by,
		       joined_at = EXCLUDED.joined_at, updated_at = EXCLUDED.updated_at
		 WHERE memberships.status = 'revoked'`,
		m.ID, m.UserID, m.OrgID, string(m.Role), m.InvitedBy, m.JoinedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "memberships_user_org_key") {
			return ErrMembershipExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMembershipExists
	}
	m.Status = domain.StatusActive
	return nil
}

// UpdateRole changes the role of an active, non-owner membership. Neither the new nor the existing role may be owner.
func (r *PostgresRepository) UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error) {
	if role == domain.RoleOwner {
		return nil, ErrOwnerRoleReserved
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE memberships SET role = $3, updated_at = $4
		 WHERE user_id = $1 AND org_id = $2 AND status = 'active' AND role <> 'owner'
		 RETURNING `+membershipColumns,
		userID, orgID, string(role), r.now().UTC())
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.explainMiss(ctx, userID, orgID)
	}
	return m, err
}

// Revoke marks an active, non-owner membership as revoked. The row is kept for audit history.
func (r *PostgresRepository) Revoke(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE memberships SET status = 'revoked', updated_at = $3
		 WHERE user_id = $1 AND org_id = $2 AND status = 'active' AND role <> 'owner'
		 RETURNING `+membershipColumns,
		userID, orgID, r.now().UTC())
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.explainMiss(ctx, userID, orgID)
	}
	return m, err
}

// explainMiss distinguishes an owner row from a missing or revoked one after a conditional update matched nothing.
func (r *PostgresRepository) explainMiss(ctx context.Context, userID, orgID string) error {
	m, err := r.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if m != nil && m.IsActive() && m.Role == domain.RoleOwner {
		return ErrOwnerRoleReserved
	}
	return ErrNotFound
}

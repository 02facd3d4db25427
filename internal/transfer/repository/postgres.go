package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"org-access-core/internal/db"
	"org-access-core/internal/transfer/domain"
)

const (
	transferColumns = `id, org_id, current_owner_id, proposed_owner_id, state, required_payment_tier, failure_reason, extended, token_jti, created_at, updated_at, expires_at`

	openTransferIndex = "ownership_transfers_one_open_idx"
	consumedTokenKey  = "consumed_transfer_tokens_pkey"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a transfer repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*domain.Transfer, error) {
	var t domain.Transfer
	var state, reason string
	if err := row.Scan(&t.ID, &t.OrgID, &t.CurrentOwnerID, &t.ProposedOwnerID, &state, &t.RequiredPaymentTier,
		&reason, &t.Extended, &t.TokenJTI, &t.CreatedAt, &t.UpdatedAt, &t.ExpiresAt); err != nil {
		return nil, err
	}
	t.State = domain.State(state)
	t.FailureReason = domain.Reason(reason)
	return &t, nil
}

// Create inserts t. A second open request for the same organization fails with ErrOpenTransferExists.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Transfer) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ownership_transfers (`+transferColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.OrgID, t.CurrentOwnerID, t.ProposedOwnerID, string(t.State), t.RequiredPaymentTier,
		string(t.FailureReason), t.Extended, t.TokenJTI, t.CreatedAt, t.UpdatedAt, t.ExpiresAt)
	if db.IsUniqueViolation(err, openTransferIndex) {
		return ErrOpenTransferExists
	}
	return err
}

// Get returns the request with the given id or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	t, err := scanTransfer(r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM ownership_transfers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Transition applies tr when the request is still in tr.From.
func (r *PostgresRepository) Transition(ctx context.Context, id string, tr Transition, at time.Time) (*domain.Transfer, error) {
	if err := domain.CheckTransition(tr.From, tr.To); err != nil {
		return nil, err
	}
	t, err := scanTransfer(r.db.QueryRowContext(ctx,
		`UPDATE ownership_transfers
		    SET state = $3,
		        failure_reason = CASE WHEN $4 <> '' THEN $4 ELSE failure_reason END,
		        token_jti = CASE WHEN $5 <> '' THEN $5 ELSE token_jti END,
		        updated_at = $6
		  WHERE id = $1 AND state = $2
		  RETURNING `+transferColumns,
		id, string(tr.From), string(tr.To), string(tr.Reason), tr.TokenJTI, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.explainMiss(ctx, id)
	}
	return t, err
}

// ExpireIfDue flips an expirable request past its deadline to expired. Running it again is a no-op.
func (r *PostgresRepository) ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ownership_transfers SET state = 'expired', updated_at = $2
		  WHERE id = $1 AND state IN ('initiated', 'payment_validation_required') AND expires_at <= $2`,
		id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Extend pushes the deadline once. The request must await payment, be unextended and not yet due.
func (r *PostgresRepository) Extend(ctx context.Context, id string, expiresAt time.Time, tokenJTI string, at time.Time) (*domain.Transfer, error) {
	t, err := scanTransfer(r.db.QueryRowContext(ctx,
		`UPDATE ownership_transfers
		    SET expires_at = $2, token_jti = $3, extended = TRUE, updated_at = $4
		  WHERE id = $1 AND state = 'payment_validation_required' AND NOT extended AND expires_at > $4
		  RETURNING `+transferColumns,
		id, expiresAt, tokenJTI, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := r.Get(ctx, id); errors.Is(gerr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrExtensionUnavailable
	}
	return t, err
}

// ConsumeToken records jti as used. A second call with the same jti fails with ErrTokenConsumed.
func (r *PostgresRepository) ConsumeToken(ctx context.Context, jti, transferID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consumed_transfer_tokens (jti, transfer_id, consumed_at) VALUES ($1, $2, $3)`,
		jti, transferID, at)
	if db.IsUniqueViolation(err, consumedTokenKey) {
		return ErrTokenConsumed
	}
	return err
}

// CountCompletedSince counts completed transfers of orgID updated at or after since.
func (r *PostgresRepository) CountCompletedSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ownership_transfers WHERE org_id = $1 AND state = 'completed' AND updated_at >= $2`,
		orgID, since).Scan(&n)
	return n, err
}

// ListDue returns expirable requests past their deadline, oldest deadline first.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Transfer, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM ownership_transfers
		  WHERE state IN ('initiated', 'payment_validation_required') AND expires_at <= $1
		  ORDER BY expires_at, id LIMIT $2`,
		now, int64(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CommitOwnership is the only writer of organizations.owner_id.
func (r *PostgresRepository) CommitOwnership(ctx context.Context, t *domain.Transfer, at time.Time) (*domain.Transfer, error) {
	if err := domain.CheckTransition(t.State, domain.StateCompleted); err != nil {
		return nil, err
	}
	var done *domain.Transfer
	err := db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE organizations SET owner_id = $3, updated_at = $4
			  WHERE id = $1 AND owner_id = $2 AND status = 'active'`,
			t.OrgID, t.CurrentOwnerID, t.ProposedOwnerID, at)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return ErrConcurrentOwnershipChange
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memberships SET role = 'administrator', updated_at = $3
			  WHERE org_id = $1 AND user_id = $2 AND role = 'owner'`,
			t.OrgID, t.CurrentOwnerID, at); err != nil {
			return fmt.Errorf("demote previous owner: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memberships (id, user_id, org_id, role, status, invited_by, joined_at, updated_at)
			 VALUES ($1, $2, $3, 'owner', 'active', $4, $5, $5)
			 ON CONFLICT ON CONSTRAINT memberships_user_org_key
			 DO UPDATE SET role = 'owner', status = 'active', updated_at = EXCLUDED.updated_at`,
			uuid.New().String(), t.ProposedOwnerID, t.OrgID, t.CurrentOwnerID, at); err != nil {
			return fmt.Errorf("promote new owner: %w", err)
		}
		done, err = scanTransfer(tx.QueryRowContext(ctx,
			`UPDATE ownership_transfers SET state = 'completed', updated_at = $3
			  WHERE id = $1 AND state = $2
			  RETURNING `+transferColumns,
			t.ID, string(t.State), at))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateConflict
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

func (r *PostgresRepository) explainMiss(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrStateConflict
}

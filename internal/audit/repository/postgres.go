package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"org-access-core/internal/audit/domain"
	"org-access-core/internal/db"
)

const (
	pkConstraint      = "audit_entries_pkey"
	eventIDConstraint = "audit_entries_event_id_key"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) Head(ctx context.Context, orgID string) (int64, string, bool, error) {
	var seq int64
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT sequence_id, entry_hash FROM audit_entries WHERE org_id = $1 ORDER BY sequence_id DESC LIMIT 1`,
		orgID).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return seq, hash, true, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, e *domain.Entry) error {
	flags, err := encodeFlags(e.ComplianceFlags)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_entries (org_id, sequence_id, event_id, occurred_at_ms, actor_user_id, event_type,
		   target_resource, decision, reason_code, compliance_flags, metadata, prior_state_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.OrgID, e.SequenceID, e.EventID, e.Timestamp.UnixMilli(), e.ActorUserID, string(e.EventType),
		e.TargetResource, string(e.Decision), e.ReasonCode, flags, meta, e.PriorStateHash, e.EntryHash)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, eventIDConstraint):
		return ErrDuplicateEvent
	case db.IsUniqueViolation(err, pkConstraint):
		return ErrSequenceConflict
	}
	return err
}

func (r *PostgresRepository) List(ctx context.Context, orgID string, fromSeq int64, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT org_id, sequence_id, event_id, occurred_at_ms, actor_user_id, event_type, target_resource,
		   decision, reason_code, compliance_flags, metadata, prior_state_hash, entry_hash
		 FROM audit_entries WHERE org_id = $1 AND sequence_id >= $2 ORDER BY sequence_id LIMIT $3`,
		orgID, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var ms int64
		var eventType, decision, flags, meta string
		if err := rows.Scan(&e.OrgID, &e.SequenceID, &e.EventID, &ms, &e.ActorUserID, &eventType, &e.TargetResource,
			&decision, &e.ReasonCode, &flags, &meta, &e.PriorStateHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ms).UTC()
		e.EventType = domain.EventType(eventType)
		e.Decision = domain.Decision(decision)
		if err := decodeJSON(flags, &e.ComplianceFlags); err != nil {
			return nil, err
		}
		if err := decodeJSON(meta, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Empty collections are stored as "" so that nil and empty round-trip identically.
func encodeFlags(v []string) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func encodeMetadata(v map[string]string) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

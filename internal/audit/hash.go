package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"org-access-core/internal/audit/domain"
)

// canonicalEntry fixes field order and encodes the timestamp as integer epoch milliseconds.
// Map keys are sorted by encoding/json.
type canonicalEntry struct {
	OrgID           string            `json:"org_id"`
	SequenceID      int64             `json:"sequence_id"`
	EventID         string            `json:"event_id"`
	TimestampMS     int64             `json:"timestamp_ms"`
	ActorUserID     string            `json:"actor_user_id"`
	EventType       string            `json:"event_type"`
	TargetResource  string            `json:"target_resource"`
	Decision        string            `json:"decision"`
	ReasonCode      string            `json:"reason_code"`
	ComplianceFlags []string          `json:"compliance_flags"`
	Metadata        map[string]string `json:"metadata"`
}

// Canonical returns the byte form of e that is hashed into the chain. PriorStateHash and EntryHash are excluded.
func Canonical(e *domain.Entry) ([]byte, error) {
	c := canonicalEntry{
		OrgID:          e.OrgID,
		SequenceID:     e.SequenceID,
		EventID:        e.EventID,
		TimestampMS:    e.Timestamp.UnixMilli(),
		ActorUserID:    e.ActorUserID,
		EventType:      string(e.EventType),
		TargetResource: e.TargetResource,
		Decision:       string(e.Decision),
		ReasonCode:     e.ReasonCode,
	}
	if len(e.ComplianceFlags) > 0 {
		c.ComplianceFlags = append([]string(nil), e.ComplianceFlags...)
		sort.Strings(c.ComplianceFlags)
	}
	if len(e.Metadata) > 0 {
		c.Metadata = e.Metadata
	}
	return json.Marshal(c)
}

// ComputeHash returns hex(sha256(prior || canonical(e))).
func ComputeHash(prior string, e *domain.Entry) (string, error) {
	body, err := Canonical(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prior))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

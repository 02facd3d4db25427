package domain

import (
	"errors"
	"time"
)

// EventType is the closed taxonomy of audited events.
type EventType string

const (
	EventAccessGranted                     EventType = "AccessGranted"
	EventAccessDenied                      EventType = "AccessDenied"
	EventMembershipChanged                 EventType = "MembershipChanged"
	EventOwnershipTransferInitiated        EventType = "OwnershipTransferInitiated"
	EventOwnershipTransferPaymentRequired  EventType = "OwnershipTransferPaymentRequired"
	EventOwnershipTransferPaymentValidated EventType = "OwnershipTransferPaymentValidated"
	EventOwnershipTransferDeadlineExtended EventType = "OwnershipTransferDeadlineExtended"
	EventOwnershipTransferCompleted        EventType = "OwnershipTransferCompleted"
	EventOwnershipTransferExpired          EventType = "OwnershipTransferExpired"
	EventOwnershipTransferCancelled        EventType = "OwnershipTransferCancelled"
	EventOwnershipTransferFailed           EventType = "OwnershipTransferFailed"
	EventTransferBlockedHighRisk           EventType = "TransferBlockedHighRisk"
)

// Valid reports whether t belongs to the taxonomy.
func (t EventType) Valid() bool {
	switch t {
	case EventAccessGranted, EventAccessDenied, EventMembershipChanged,
		EventOwnershipTransferInitiated, EventOwnershipTransferPaymentRequired,
		EventOwnershipTransferPaymentValidated, EventOwnershipTransferDeadlineExtended,
		EventOwnershipTransferCompleted, EventOwnershipTransferExpired,
		EventOwnershipTransferCancelled, EventOwnershipTransferFailed,
		EventTransferBlockedHighRisk:
		return true
	}
	return false
}

// Decision is the outcome recorded with an entry.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// Entry is one link of an organization's audit chain. Entries are never updated after append.
type Entry struct {
	SequenceID      int64
	EventID         string
	Timestamp       time.Time
	ActorUserID     string
	OrgID           string
	EventType       EventType
	TargetResource  string
	Decision        Decision
	ReasonCode      string
	ComplianceFlags []string
	Metadata        map[string]string
	PriorStateHash  string
	EntryHash       string
}

// Validate checks the caller-supplied fields of e before it is chained.
func (e *Entry) Validate() error {
	if e.OrgID == "" {
		return errors.New("org_id is required")
	}
	if !e.EventType.Valid() {
		return errors.New("event_type is invalid")
	}
	if e.Decision != DecisionAllowed && e.Decision != DecisionDenied {
		return errors.New("decision must be allowed or denied")
	}
	return nil
}

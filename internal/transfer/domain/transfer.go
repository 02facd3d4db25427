package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	// TTL is how long a transfer request stays open.
	TTL = 7 * 24 * time.Hour
	// Extension is the one-time deadline extension after a recoverable payment failure.
	Extension = 3 * 24 * time.Hour
)

// State is the lifecycle state of an ownership transfer request.
type State string

const (
	StateInitiated                 State = "initiated"
	StatePaymentValidationRequired State = "payment_validation_required"
	StatePaymentValidated          State = "payment_validated"
	StateCompleted                 State = "completed"
	StateExpired                   State = "expired"
	StateCancelled                 State = "cancelled"
	StateFailed                    State = "failed"
)

// Reason explains why a request failed or was refused. Values are stable and safe to show to users.
type Reason string

const (
	ReasonNone                      Reason = ""
	ReasonConcurrentOwnershipChange Reason = "CONCURRENT_OWNERSHIP_CHANGE"
	ReasonPaymentRejected           Reason = "PAYMENT_REJECTED"
	ReasonPaymentDeclined           Reason = "PAYMENT_DECLINED"
	ReasonHighRisk                  Reason = "HIGH_RISK"
	ReasonOpenTransferExists        Reason = "OPEN_TRANSFER_EXISTS"
	ReasonTokenExpired              Reason = "TOKEN_EXPIRED"
	ReasonCommitFailed              Reason = "COMMIT_FAILED"
)

// ErrInvalidTransition is returned when a caller asks for a transition the state machine does not have.
var ErrInvalidTransition = errors.New("transfer: invalid state transition")

var transitions = map[State][]State{
	StateInitiated:                 {StatePaymentValidationRequired, StateCompleted, StateExpired, StateCancelled, StateFailed},
	StatePaymentValidationRequired: {StatePaymentValidated, StateExpired, StateCancelled, StateFailed},
	StatePaymentValidated:          {StateCompleted, StateCancelled, StateFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from -> to is not an edge.
func CheckTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsOpen reports whether s is non-terminal. At most one open request exists per organization.
func (s State) IsOpen() bool {
	switch s {
	case StateInitiated, StatePaymentValidationRequired, StatePaymentValidated:
		return true
	}
	return false
}

// IsTerminal reports whether s is final.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateExpired, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s.IsOpen() || s.IsTerminal()
}

// Expirable reports whether the sweep may move s to Expired.
func (s State) Expirable() bool {
	return s == StateInitiated || s == StatePaymentValidationRequired
}

// Transfer is an ownership transfer request. Terminal requests are immutable history.
type Transfer struct {
	ID                  string
	OrgID               string
	CurrentOwnerID      string
	ProposedOwnerID     string
	State               State
	RequiredPaymentTier string
	FailureReason       Reason
	// Extended is set once the one-time deadline extension has been used.
	Extended bool
	// TokenJTI identifies the validation token currently bound to the request.
	TokenJTI  string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Due reports whether the request is past its deadline and still expirable.
func (t *Transfer) Due(now time.Time) bool {
	return t != nil && t.State.Expirable() && !now.Before(t.ExpiresAt)
}

// Parties returns the current and proposed owner ids.
func (t *Transfer) Parties() []string {
	return []string{t.CurrentOwnerID, t.ProposedOwnerID}
}

// Validate validates a new request for persistence.
func (t *Transfer) Validate() error {
	if t.ID == "" || t.OrgID == "" {
		return errors.New("id and org_id are required")
	}
	if t.CurrentOwnerID == "" || t.ProposedOwnerID == "" {
		return errors.New("current and proposed owner are required")
	}
	if t.CurrentOwnerID == t.ProposedOwnerID {
		return errors.New("proposed owner must differ from current owner")
	}
	if !t.State.Valid() {
		return errors.New("state is invalid")
	}
	if !t.ExpiresAt.After(t.CreatedAt) {
		return errors.New("expires_at must be after created_at")
	}
	return nil
}

package audit

import "org-access-core/internal/audit/domain"

// EventForDecision returns the access event type for a validator outcome.
func EventForDecision(allowed bool) domain.EventType {
	if allowed {
		return domain.EventAccessGranted
	}
	return domain.EventAccessDenied
}

// DecisionFor converts a boolean outcome to its recorded form.
func DecisionFor(allowed bool) domain.Decision {
	if allowed {
		return domain.DecisionAllowed
	}
	return domain.DecisionDenied
}

// EventForTransferState maps an ownership transfer state name to the event emitted on entering it.
// Unknown states map to OwnershipTransferFailed so that a transition is never recorded as a success by accident.
func EventForTransferState(state string) domain.EventType {
	switch state {
	case "initiated":
		return domain.EventOwnershipTransferInitiated
	case "payment_validation_required":
		return domain.EventOwnershipTransferPaymentRequired
	case "payment_validated":
		return domain.EventOwnershipTransferPaymentValidated
	case "completed":
		return domain.EventOwnershipTransferCompleted
	case "expired":
		return domain.EventOwnershipTransferExpired
	case "cancelled":
		return domain.EventOwnershipTransferCancelled
	default:
		return domain.EventOwnershipTransferFailed
	}
}

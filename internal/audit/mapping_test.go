package audit

import (
	"testing"

	"org-access-core/internal/audit/domain"
)

func TestEventForDecision(t *testing.T) {
	if got := EventForDecision(true); got != domain.EventAccessGranted {
		t.Errorf("EventForDecision(true) = %q, want %q", got, domain.EventAccessGranted)
	}
	if got := EventForDecision(false); got != domain.EventAccessDenied {
		t.Errorf("EventForDecision(false) = %q, want %q", got, domain.EventAccessDenied)
	}
	if got := DecisionFor(false); got != domain.DecisionDenied {
		t.Errorf("DecisionFor(false) = %q, want %q", got, domain.DecisionDenied)
	}
}

func TestEventForTransferState(t *testing.T) {
	testCases := []struct {
		state string
		want  domain.EventType
	}{
		{"initiated", domain.EventOwnershipTransferInitiated},
		{"payment_validation_required", domain.EventOwnershipTransferPaymentRequired},
		{"payment_validated", domain.EventOwnershipTransferPaymentValidated},
		{"completed", domain.EventOwnershipTransferCompleted},
		{"expired", domain.EventOwnershipTransferExpired},
		{"cancelled", domain.EventOwnershipTransferCancelled},
		{"failed", domain.EventOwnershipTransferFailed},
		{"bogus", domain.EventOwnershipTransferFailed},
	}
	for _, tc := range testCases {
		if got := EventForTransferState(tc.state); got != tc.want {
			t.Errorf("EventForTransferState(%q) = %q, want %q", tc.state, got, tc.want)
		}
		if !tc.want.Valid() {
			t.Errorf("%q should be a valid event type", tc.want)
		}
	}
}

// Package fraud scores ownership transfers for risk before any request is created.
package fraud

import (
	"context"
	"errors"
)

// Risk is the scorer's verdict.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// Blocks reports whether r stops a transfer at initiation.
func (r Risk) Blocks() bool {
	return r == RiskHigh
}

// TransferContext is the input to risk scoring.
type TransferContext struct {
	OrgID                  string
	CurrentOwnerID         string
	ProposedOwnerID        string
	RecentTransfers90d     int
	ProposedAccountAgeDays int
	CrossBorder            bool
	PaymentFailures        int
}

// Scorer rates a transfer. Implementations must fail closed: an error result is treated as RiskHigh by callers.
type Scorer interface {
	Score(ctx context.Context, tc TransferContext) (Risk, error)
}

// ErrEvaluation is returned when the risk policy could not produce a verdict.
var ErrEvaluation = errors.New("fraud: policy evaluation failed")

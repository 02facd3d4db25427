package fraud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOPAScorer_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	s, err := NewOPAScorer(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAScorer: %v", err)
	}
	testCases := []struct {
		name string
		tc   TransferContext
		want Risk
	}{
		{"established account", TransferContext{ProposedAccountAgeDays: 400}, RiskLow},
		{"two recent transfers", TransferContext{ProposedAccountAgeDays: 400, RecentTransfers90d: 2}, RiskMedium},
		{"three recent transfers", TransferContext{ProposedAccountAgeDays: 400, RecentTransfers90d: 3}, RiskHigh},
		{"new account", TransferContext{ProposedAccountAgeDays: 3}, RiskMedium},
		{"cross border", TransferContext{ProposedAccountAgeDays: 400, CrossBorder: true}, RiskMedium},
		{"brand new cross border", TransferContext{ProposedAccountAgeDays: 0, CrossBorder: true}, RiskHigh},
		{"one payment failure", TransferContext{ProposedAccountAgeDays: 400, PaymentFailures: 1}, RiskMedium},
		{"repeated payment failures", TransferContext{ProposedAccountAgeDays: 400, PaymentFailures: 3}, RiskHigh},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Score(ctx, tc.tc)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if got != tc.want {
				t.Errorf("Score = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOPAScorer_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAScorer(context.Background(), "package broken\n\nlevel := "); err == nil {
		t.Fatal("NewOPAScorer with invalid policy should fail")
	}
}

func TestOPAScorer_UnexpectedLevelFailsClosed(t *testing.T) {
	policy := "package orgaccess.transfer_risk\n\nlevel := \"MAYBE\"\n"
	s, err := NewOPAScorer(context.Background(), policy)
	if err != nil {
		t.Fatalf("NewOPAScorer: %v", err)
	}
	got, err := s.Score(context.Background(), TransferContext{})
	if !errors.Is(err, ErrEvaluation) {
		t.Errorf("err = %v, want ErrEvaluation", err)
	}
	if got != RiskHigh {
		t.Errorf("Score = %q, want HIGH", got)
	}
}

func TestOPAScorer_UndefinedLevelFailsClosed(t *testing.T) {
	s, err := NewOPAScorer(context.Background(), "package orgaccess.other\n\nx := 1\n")
	if err != nil {
		t.Fatalf("NewOPAScorer: %v", err)
	}
	got, err := s.Score(context.Background(), TransferContext{})
	if err == nil || got != RiskHigh {
		t.Errorf("Score = (%q, %v), want HIGH with error", got, err)
	}
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail for a policy without a level")
	}
}

func TestNewOPAScorerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.rego")
	policy := "package orgaccess.transfer_risk\n\nlevel := \"MEDIUM\"\n"
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := NewOPAScorerFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("NewOPAScorerFromFile: %v", err)
	}
	if got, _ := s.Score(context.Background(), TransferContext{ProposedAccountAgeDays: 400}); got != RiskMedium {
		t.Errorf("Score = %q, want MEDIUM", got)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	if _, err := NewOPAScorerFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("missing policy file should fail")
	}
	if _, err := NewOPAScorerFromFile(context.Background(), ""); err != nil {
		t.Errorf("empty path: %v", err)
	}
}

func TestRiskBlocks(t *testing.T) {
	if !RiskHigh.Blocks() || RiskMedium.Blocks() || RiskLow.Blocks() {
		t.Error("only HIGH blocks")
	}
}

package fraud

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const riskQuery = "data.orgaccess.transfer_risk.level"

// defaultRiskPolicy is used when no policy file is configured.
const defaultRiskPolicy = `package orgaccess.transfer_risk

default level := "LOW"

high if {
	input.recent_transfers_90d >= 3
}

high if {
	input.proposed_account_age_days < 1
	input.cross_border
}

high if {
	input.payment_failures >= 3
}

medium if {
	input.recent_transfers_90d >= 2
}

medium if {
	input.proposed_account_age_days < 7
}

medium if {
	input.cross_border
}

medium if {
	input.payment_failures >= 1
}

level := "HIGH" if {
	high
}

level := "MEDIUM" if {
	not high
	medium
}
`

// OPAScorer evaluates transfer risk with a Rego policy compiled once at construction.
type OPAScorer struct {
	query rego.PreparedEvalQuery
}

// NewOPAScorer compiles policy. An empty policy selects the built-in one.
func NewOPAScorer(ctx context.Context, policy string) (*OPAScorer, error) {
	if policy == "" {
		policy = defaultRiskPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"transfer_risk.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile risk policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(riskQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare risk policy: %w", err)
	}
	return &OPAScorer{query: q}, nil
}

// NewOPAScorerFromFile reads a Rego policy from path. An empty path selects the built-in policy.
func NewOPAScorerFromFile(ctx context.Context, path string) (*OPAScorer, error) {
	if path == "" {
		return NewOPAScorer(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk policy: %w", err)
	}
	return NewOPAScorer(ctx, string(b))
}

// Score evaluates the policy. Any evaluation problem yields RiskHigh together with an error wrapping ErrEvaluation.
func (s *OPAScorer) Score(ctx context.Context, tc TransferContext) (Risk, error) {
	rs, err := s.query.Eval(ctx, rego.EvalInput(buildInput(tc)))
	if err != nil {
		log.Printf("fraud: evaluation failed org=%s: %v", tc.OrgID, err)
		return RiskHigh, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return RiskHigh, fmt.Errorf("%w: no result", ErrEvaluation)
	}
	v, _ := rs[0].Expressions[0].Value.(string)
	switch r := Risk(v); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r, nil
	default:
		return RiskHigh, fmt.Errorf("%w: unexpected level %q", ErrEvaluation, v)
	}
}

// HealthCheck evaluates the compiled policy against a neutral input.
func (s *OPAScorer) HealthCheck(ctx context.Context) error {
	_, err := s.Score(ctx, TransferContext{ProposedAccountAgeDays: 365})
	return err
}

func buildInput(tc TransferContext) map[string]interface{} {
	return map[string]interface{}{
		"org_id":                    tc.OrgID,
		"current_owner_id":          tc.CurrentOwnerID,
		"proposed_owner_id":         tc.ProposedOwnerID,
		"recent_transfers_90d":      tc.RecentTransfers90d,
		"proposed_account_age_days": tc.ProposedAccountAgeDays,
		"cross_border":              tc.CrossBorder,
		"payment_failures":          tc.PaymentFailures,
	}
}

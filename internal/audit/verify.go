package audit

import (
	"context"
	"fmt"

	"org-access-core/internal/audit/domain"
)

const verifyPageSize = 500

// ChainLister is the read side of the audit store used by verification.
type ChainLister interface {
	List(ctx context.Context, orgID string, fromSeq int64, limit int) ([]*domain.Entry, error)
}

// VerifyResult reports the outcome of a chain walk. BrokenAtSequence is set only when Valid is false.
type VerifyResult struct {
	Valid            bool   `json:"valid"`
	BrokenAtSequence *int64 `json:"broken_at_sequence,omitempty"`
	Checked          int    `json:"checked"`
}

// VerifyChain recomputes orgID's chain from sequence 0 and reports the first entry whose sequence,
// prior hash or entry hash does not match. An empty chain is valid. Errors are returned only for store failures.
func VerifyChain(ctx context.Context, store ChainLister, orgID string) (VerifyResult, error) {
	var res VerifyResult
	var expected int64
	prev := ""
	for {
		page, err := store.List(ctx, orgID, expected, verifyPageSize)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("list audit entries org_id=%s from=%d: %w", orgID, expected, err)
		}
		if len(page) == 0 {
			res.Valid = true
			return res, nil
		}
		for _, e := range page {
			if e.SequenceID != expected || e.PriorStateHash != prev {
				return broken(res, expected), nil
			}
			hash, err := ComputeHash(prev, e)
			if err != nil || hash != e.EntryHash {
				return broken(res, expected), nil
			}
			res.Checked++
			prev = e.EntryHash
			expected++
		}
	}
}

func broken(res VerifyResult, seq int64) VerifyResult {
	res.Valid = false
	res.BrokenAtSequence = &seq
	return res
}

package repository

import (
	"context"
	"sort"
	"sync"

	"org-access-core/internal/audit/domain"
)

// MemoryRepository is an in-process Repository with the same conflict semantics as PostgresRepository.
// Used by tests and by tooling that runs without a database.
type MemoryRepository struct {
	mu      sync.Mutex
	chains  map[string][]*domain.Entry
	eventID map[string]struct{}
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{chains: make(map[string][]*domain.Entry), eventID: make(map[string]struct{})}
}

func (r *MemoryRepository) Head(_ context.Context, orgID string) (int64, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[orgID]
	if len(chain) == 0 {
		return 0, "", false, nil
	}
	last := chain[len(chain)-1]
	return last.SequenceID, last.EntryHash, true, nil
}

func (r *MemoryRepository) Insert(_ context.Context, e *domain.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.eventID[e.EventID]; dup {
		return ErrDuplicateEvent
	}
	for _, existing := range r.chains[e.OrgID] {
		if existing.SequenceID == e.SequenceID {
			return ErrSequenceConflict
		}
	}
	cp := cloneEntry(e)
	chain := append(r.chains[e.OrgID], cp)
	sort.Slice(chain, func(i, j int) bool { return chain[i].SequenceID < chain[j].SequenceID })
	r.chains[e.OrgID] = chain
	r.eventID[e.EventID] = struct{}{}
	return nil
}

func (r *MemoryRepository) List(_ context.Context, orgID string, fromSeq int64, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Entry
	for _, e := range r.chains[orgID] {
		if e.SequenceID < fromSeq {
			continue
		}
		out = append(out, cloneEntry(e))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Entries returns a copy of orgID's chain.
func (r *MemoryRepository) Entries(orgID string) []*domain.Entry {
	out, _ := r.List(context.Background(), orgID, 0, 1<<30)
	return out
}

// Tamper replaces the stored entry at seq through fn. Only for tests that check chain verification.
func (r *MemoryRepository) Tamper(orgID string, seq int64, fn func(*domain.Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.chains[orgID] {
		if e.SequenceID == seq {
			fn(e)
			return true
		}
	}
	return false
}

func cloneEntry(e *domain.Entry) *domain.Entry {
	cp := *e
	if e.ComplianceFlags != nil {
		cp.ComplianceFlags = append([]string(nil), e.ComplianceFlags...)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	mdomain "org-access-core/internal/membership/domain"
	orgdomain "org-access-core/internal/organization/domain"
	"org-access-core/internal/transfer/domain"
	"org-access-core/internal/transfer/repository"
	userdomain "org-access-core/internal/user/domain"
)

// memStore keeps organizations, users, memberships and transfers behind one lock, with the same conditional
// semantics as the Postgres repositories.
type memStore struct {
	mu          sync.Mutex
	orgs        map[string]*orgdomain.Org
	users       map[string]*userdomain.User
	memberships map[string]*mdomain.Membership
	transfers   map[string]*domain.Transfer
	consumed    map[string]string
	// commitErr, when set, fails CommitOwnership without touching any row.
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		orgs:        map[string]*orgdomain.Org{},
		users:       map[string]*userdomain.User{},
		memberships: map[string]*mdomain.Membership{},
		transfers:   map[string]*domain.Transfer{},
		consumed:    map[string]string{},
	}
}

func (s *memStore) addUser(id string, createdAt time.Time) {
	s.users[id] = &userdomain.User{ID: id, Email: id + "@example.com", Status: userdomain.UserStatusActive, CreatedAt: createdAt}
}

func (s *memStore) addMember(orgID, userID string, role mdomain.Role) {
	s.memberships[orgID+"/"+userID] = &mdomain.Membership{ID: orgID + "-" + userID, OrgID: orgID, UserID: userID, Role: role, Status: mdomain.StatusActive}
}

func (s *memStore) put(t *domain.Transfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transfers[t.ID] = &cp
}

func (s *memStore) org(id string) orgdomain.Org {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orgs[id]
}

func (s *memStore) role(orgID, userID string) mdomain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.memberships[orgID+"/"+userID]
	if m == nil {
		return ""
	}
	return m.Role
}

func (s *memStore) transferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *memStore) GetOrganizationByID(_ context.Context, id string) (*orgdomain.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orgs[id]
	if o == nil {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	if u == nil {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetMembershipByUserAndOrg(_ context.Context, userID, orgID string) (*mdomain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.memberships[orgID+"/"+userID]
	if m == nil {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) Create(_ context.Context, t *domain.Transfer) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.transfers {
		if other.OrgID == t.OrgID && other.State.IsOpen() {
			return repository.ErrOpenTransferExists
		}
	}
	cp := *t
	s.transfers[t.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[id]
	if t == nil {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) Transition(_ context.Context, id string, tr repository.Transition, at time.Time) (*domain.Transfer, error) {
	if err := domain.CheckTransition(tr.From, tr.To); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[id]
	if t == nil {
		return nil, repository.ErrNotFound
	}
	if t.State != tr.From {
		return nil, repository.ErrStateConflict
	}
	t.State = tr.To
	if tr.Reason != "" {
		t.FailureReason = tr.Reason
	}
	if tr.TokenJTI != "" {
		t.TokenJTI = tr.TokenJTI
	}
	t.UpdatedAt = at
	cp := *t
	return &cp, nil
}

func (s *memStore) ExpireIfDue(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[id]
	if t == nil || !t.Due(now) {
		return false, nil
	}
	t.State = domain.StateExpired
	t.UpdatedAt = now
	return true, nil
}

func (s *memStore) Extend(_ context.Context, id string, expiresAt time.Time, jti string, at time.Time) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transfers[id]
	if t == nil {
		return nil, repository.ErrNotFound
	}
	if t.State != domain.StatePaymentValidationRequired || t.Extended || !t.ExpiresAt.After(at) {
		return nil, repository.ErrExtensionUnavailable
	}
	t.ExpiresAt = expiresAt
	t.TokenJTI = jti
	t.Extended = true
	t.UpdatedAt = at
	cp := *t
	return &cp, nil
}

func (s *memStore) ConsumeToken(_ context.Context, jti, transferID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumed[jti]; ok {
		return repository.ErrTokenConsumed
	}
	s.consumed[jti] = transferID
	return nil
}

func (s *memStore) CountCompletedSince(_ context.Context, orgID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.transfers {
		if t.OrgID == orgID && t.State == domain.StateCompleted && !t.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Transfer
	for _, t := range s.transfers {
		if t.Due(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit <= 0 {
		return nil, nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CommitOwnership(_ context.Context, t *domain.Transfer, at time.Time) (*domain.Transfer, error) {
	if err := domain.CheckTransition(t.State, domain.StateCompleted); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	o := s.orgs[t.OrgID]
	if o == nil || o.OwnerID != t.CurrentOwnerID || o.Status != orgdomain.OrgStatusActive {
		return nil, repository.ErrConcurrentOwnershipChange
	}
	stored := s.transfers[t.ID]
	if stored == nil || stored.State != t.State {
		return nil, repository.ErrStateConflict
	}
	o.OwnerID = t.ProposedOwnerID
	o.UpdatedAt = at
	if m := s.memberships[t.OrgID+"/"+t.CurrentOwnerID]; m != nil && m.Role == mdomain.RoleOwner {
		m.Role = mdomain.RoleAdministrator
	}
	if m := s.memberships[t.OrgID+"/"+t.ProposedOwnerID]; m != nil {
		m.Role = mdomain.RoleOwner
		m.Status = mdomain.StatusActive
	} else {
		s.memberships[t.OrgID+"/"+t.ProposedOwnerID] = &mdomain.Membership{
			ID: t.ID, OrgID: t.OrgID, UserID: t.ProposedOwnerID, Role: mdomain.RoleOwner, Status: mdomain.StatusActive, JoinedAt: at,
		}
	}
	stored.State = domain.StateCompleted
	stored.UpdatedAt = at
	cp := *stored
	return &cp, nil
}

// Package service implements membership management. Every operation passes the access validator with the
// target user named, so the actor/target override table applies.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"org-access-core/internal/audit"
	auditdomain "org-access-core/internal/audit/domain"
	"org-access-core/internal/membership/domain"
	"org-access-core/internal/membership/repository"
	"org-access-core/internal/permission"
	"org-access-core/internal/platform/rbac"
)

// ErrOwnerRoleReserved is returned when a caller tries to assign or strip the owner role.
var ErrOwnerRoleReserved = repository.ErrOwnerRoleReserved

// ErrInvalidRole is returned for a role outside the closed set.
var ErrInvalidRole = errors.New("membership: invalid role")

// Checker is the access validator.
type Checker interface {
	Check(ctx context.Context, actor rbac.Actor, orgID string, p permission.Permission, opts ...rbac.CheckOption) (rbac.Decision, error)
}

// Invalidator drops cached memberships after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, orgID string)
}

// Service manages organization memberships.
type Service struct {
	repo        repository.Repository
	checker     Checker
	audit       audit.Appender
	invalidator Invalidator
}

// NewService returns a membership service.
func NewService(repo repository.Repository, checker Checker, appender audit.Appender, invalidator Invalidator) *Service {
	return &Service{repo: repo, checker: checker, audit: appender, invalidator: invalidator}
}

// authorize runs the validator. An audit failure of the decision is logged; the decision still applies.
func (s *Service) authorize(ctx context.Context, actor rbac.Actor, orgID string, p permission.Permission, targetUserID string) error {
	var opts []rbac.CheckOption
	if targetUserID != "" {
		opts = append(opts, rbac.WithTarget(targetUserID), rbac.WithResource("membership/"+targetUserID))
	}
	d, err := s.checker.Check(ctx, actor, orgID, p, opts...)
	if err != nil {
		log.Printf("membership: decision audit failed org=%s actor=%s: %v", orgID, actor.UserID, err)
	}
	return d.Err()
}

// AddMember grants userID the given role in orgID. A previously revoked membership is reactivated.
func (s *Service) AddMember(ctx context.Context, actor rbac.Actor, orgID, userID string, role domain.Role) (*domain.Membership, error) {
	if err := checkAssignable(role); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, orgID, permission.MembersInvite, userID); err != nil {
		return nil, err
	}
	m := &domain.Membership{ID: uuid.New().String(), UserID: userID, OrgID: orgID, Role: role, InvitedBy: actor.UserID}
	if err := s.repo.CreateMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, s.changed(ctx, actor, m, "added", "")
}

// UpdateRole changes userID's role in orgID. The owner role can be neither granted nor taken away here.
func (s *Service) UpdateRole(ctx context.Context, actor rbac.Actor, orgID, userID string, role domain.Role) (*domain.Membership, error) {
	if err := checkAssignable(role); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, orgID, permission.MembersUpdateRole, userID); err != nil {
		return nil, err
	}
	prev, err := s.repo.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	m, err := s.repo.UpdateRole(ctx, userID, orgID, role)
	if err != nil {
		return nil, err
	}
	prevRole := ""
	if prev != nil {
		prevRole = string(prev.Role)
	}
	return m, s.changed(ctx, actor, m, "role_changed", prevRole)
}

// RemoveMember revokes userID's membership in orgID. The row is kept for audit continuity.
func (s *Service) RemoveMember(ctx context.Context, actor rbac.Actor, orgID, userID string) (*domain.Membership, error) {
	if err := s.authorize(ctx, actor, orgID, permission.MembersRemove, userID); err != nil {
		return nil, err
	}
	m, err := s.repo.Revoke(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return m, s.changed(ctx, actor, m, "removed", string(m.Role))
}

// ListMembers returns the active members of orgID.
func (s *Service) ListMembers(ctx context.Context, actor rbac.Actor, orgID string) ([]*domain.View, error) {
	if err := s.authorize(ctx, actor, orgID, permission.MembersRead, ""); err != nil {
		return nil, err
	}
	list, err := s.repo.ListMembershipsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.View, len(list))
	for i, m := range list {
		out[i] = m.ToView()
	}
	return out, nil
}

// changed invalidates the resolver cache and records MembershipChanged. The write has already happened;
// an audit failure is returned to the caller but does not undo it.
func (s *Service) changed(ctx context.Context, actor rbac.Actor, m *domain.Membership, change, prevRole string) error {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, m.UserID, m.OrgID)
	}
	meta := map[string]string{"change": change, "role": string(m.Role), "status": string(m.Status)}
	if prevRole != "" {
		meta["previous_role"] = prevRole
	}
	_, err := s.audit.Append(ctx, &auditdomain.Entry{
		ActorUserID:    actor.UserID,
		OrgID:          m.OrgID,
		EventType:      auditdomain.EventMembershipChanged,
		TargetResource: "membership/" + m.UserID,
		Decision:       auditdomain.DecisionAllowed,
		Metadata:       meta,
	})
	if err != nil {
		return fmt.Errorf("membership %s: %w", change, err)
	}
	return nil
}

func checkAssignable(role domain.Role) error {
	if role == domain.RoleOwner {
		return ErrOwnerRoleReserved
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

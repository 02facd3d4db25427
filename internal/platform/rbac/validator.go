// Package rbac is the single authorization choke point: every privileged operation on an organization
// passes through Validator.Check, which also records the decision in the organization's audit chain.
package rbac

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"org-access-core/internal/audit"
	auditdomain "org-access-core/internal/audit/domain"
	"org-access-core/internal/membership/domain"
	"org-access-core/internal/membership/resolver"
	"org-access-core/internal/metrics"
	"org-access-core/internal/permission"
)

// PlatformStanding is the actor's platform-wide account standing as reported by the identity provider.
type PlatformStanding string

const (
	StandingGood      PlatformStanding = "good"
	StandingSuspended PlatformStanding = "suspended"
)

// Actor is the verified caller identity. It is passed explicitly on every call.
type Actor struct {
	UserID   string
	Standing PlatformStanding
	Groups   []string
}

// ReasonCode is the stable denial reason exposed to callers.
type ReasonCode string

const (
	ReasonNone                   ReasonCode = ""
	ReasonPlatformAccessRevoked  ReasonCode = "PLATFORM_ACCESS_REVOKED"
	ReasonNotAMember             ReasonCode = "NOT_A_MEMBER"
	ReasonInsufficientPermission ReasonCode = "INSUFFICIENT_PERMISSION"
	ReasonResolverUnavailable    ReasonCode = "RESOLVER_UNAVAILABLE"
)

// Decision is the outcome of Check. A denial is a value, not an error.
type Decision struct {
	Allowed bool
	Reason  ReasonCode
	// Role is the actor's role when the actor is an active member, otherwise empty.
	Role domain.Role
	// AuditHash is the entry hash of the recorded decision; empty when the audit append failed.
	AuditHash string
}

// Err returns nil for an allowed decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// DeniedError carries a denial's reason code through error returns of higher-level operations.
type DeniedError struct {
	Reason ReasonCode
}

func (e *DeniedError) Error() string {
	return "access denied: " + string(e.Reason)
}

// IsDenied reports whether err is a denial and returns its reason.
func IsDenied(err error) (ReasonCode, bool) {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return ReasonNone, false
}

// MembershipResolver is the read side of memberships used by the validator.
type MembershipResolver interface {
	Resolve(ctx context.Context, userID, orgID string) (*domain.View, error)
}

// Validator composes the platform gate, the membership resolver and the permission tables.
// It holds no mutable state and may be called concurrently.
type Validator struct {
	resolver MembershipResolver
	audit    audit.Appender
	tracer   trace.Tracer
}

// NewValidator returns a Validator that resolves memberships with r and records every decision with a.
func NewValidator(r MembershipResolver, a audit.Appender) *Validator {
	return &Validator{resolver: r, audit: a, tracer: otel.Tracer("org-access-core/rbac")}
}

type checkOptions struct {
	targetUserID string
	resource     string
	flags        []string
	basis        string
}

// CheckOption adds operation context to a Check call.
type CheckOption func(*checkOptions)

// WithTarget names the user the operation acts on, enabling the actor/target override table.
func WithTarget(userID string) CheckOption {
	return func(o *checkOptions) { o.targetUserID = userID }
}

// WithResource sets the audited target resource. Defaults to the permission being checked.
func WithResource(resource string) CheckOption {
	return func(o *checkOptions) { o.resource = resource }
}

// WithComplianceFlags attaches compliance flags to the audit entry of the decision.
func WithComplianceFlags(flags ...string) CheckOption {
	return func(o *checkOptions) { o.flags = append(o.flags, flags...) }
}

// WithSubjectBasis marks the actor as the subject of the resource, a relationship the caller has already
// established (for example the proposed owner of a transfer). Membership and role are not consulted; the
// platform gate still applies. basis is recorded with the decision.
func WithSubjectBasis(basis string) CheckOption {
	return func(o *checkOptions) { o.basis = basis }
}

// Check decides whether actor may exercise p on orgID. The decision is appended to the audit chain before
// Check returns. The returned error is non-nil only when that append failed (wrapping audit.ErrAuditWriteFailed);
// the Decision is valid either way and callers must still honour it.
func (v *Validator) Check(ctx context.Context, actor Actor, orgID string, p permission.Permission, opts ...CheckOption) (Decision, error) {
	var o checkOptions
	for _, fn := range opts {
		fn(&o)
	}
	ctx, span := v.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("permission", string(p)),
	))
	defer span.End()

	meta := map[string]string{
		"permission":         string(p),
		"permission_version": permission.Version,
	}
	if len(actor.Groups) > 0 {
		meta["groups"] = strings.Join(actor.Groups, ",")
	}
	d := v.decide(ctx, actor, orgID, p, o, meta)

	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("reason", string(d.Reason)))
	metrics.AccessDecisions.WithLabelValues(string(audit.DecisionFor(d.Allowed)), reasonLabel(d.Reason)).Inc()

	resource := o.resource
	if resource == "" {
		resource = string(p)
	}
	chainOrg := orgID
	if chainOrg == "" {
		chainOrg = audit.SentinelOrgID
	}
	entry := &auditdomain.Entry{
		ActorUserID:     actor.UserID,
		OrgID:           chainOrg,
		EventType:       audit.EventForDecision(d.Allowed),
		TargetResource:  resource,
		Decision:        audit.DecisionFor(d.Allowed),
		ReasonCode:      string(d.Reason),
		ComplianceFlags: o.flags,
		Metadata:        meta,
	}
	hash, err := v.audit.Append(ctx, entry)
	if err != nil {
		span.RecordError(err)
		return d, err
	}
	d.AuditHash = hash
	return d, nil
}

func (v *Validator) decide(ctx context.Context, actor Actor, orgID string, p permission.Permission, o checkOptions, meta map[string]string) Decision {
	if actor.UserID == "" || orgID == "" {
		return deny(ReasonNotAMember)
	}
	if o.basis != "" {
		meta["basis"] = o.basis
		if actor.Standing != StandingGood {
			return deny(ReasonPlatformAccessRevoked)
		}
		return Decision{Allowed: true}
	}
	view, err := v.resolver.Resolve(ctx, actor.UserID, orgID)
	member := err == nil && view != nil && view.Status == domain.StatusActive
	notMember := errors.Is(err, resolver.ErrNotFound) || (err == nil && !member)

	// A non-member is reported as such whatever the platform standing; any other suspended actor is denied at the gate.
	if actor.Standing != StandingGood {
		if notMember {
			return deny(ReasonNotAMember)
		}
		return deny(ReasonPlatformAccessRevoked)
	}
	if err != nil && !notMember {
		meta["resolver_error"] = "unavailable"
		return deny(ReasonResolverUnavailable)
	}
	if !member {
		return deny(ReasonNotAMember)
	}
	meta["role"] = string(view.Role)

	if o.targetUserID != "" {
		meta["target_user_id"] = o.targetUserID
		targetRole, reason, ok := v.targetRole(ctx, o.targetUserID, orgID)
		if !ok {
			return Decision{Reason: reason, Role: view.Role}
		}
		if targetRole != "" {
			meta["target_role"] = string(targetRole)
			if allowed, found := permission.LookupOverride(view.Role, targetRole, p); found {
				meta["override"] = "true"
				if allowed {
					return Decision{Allowed: true, Role: view.Role}
				}
				return Decision{Reason: ReasonInsufficientPermission, Role: view.Role}
			}
		}
	}

	if !permission.Allows(view.Role, p) {
		return Decision{Reason: ReasonInsufficientPermission, Role: view.Role}
	}
	return Decision{Allowed: true, Role: view.Role}
}

// targetRole resolves the role of the operation's target. A target without an active membership has no role,
// so no override row applies. ok is false when the lookup itself failed.
func (v *Validator) targetRole(ctx context.Context, userID, orgID string) (domain.Role, ReasonCode, bool) {
	view, err := v.resolver.Resolve(ctx, userID, orgID)
	if errors.Is(err, resolver.ErrNotFound) {
		return "", ReasonNone, true
	}
	if err != nil {
		return "", ReasonResolverUnavailable, false
	}
	if view.Status != domain.StatusActive {
		return "", ReasonNone, true
	}
	return view.Role, ReasonNone, true
}

func deny(reason ReasonCode) Decision {
	return Decision{Reason: reason}
}

func reasonLabel(r ReasonCode) string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

// Package service is the ownership transfer engine: a state machine gated by the access validator, a fraud
// risk scorer and the payment status oracle. Its commit step is the only writer of an organization's owner.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"org-access-core/internal/audit"
	auditdomain "org-access-core/internal/audit/domain"
	"org-access-core/internal/billing"
	"org-access-core/internal/fraud"
	"org-access-core/internal/metrics"
	"org-access-core/internal/notify"
	orgdomain "org-access-core/internal/organization/domain"
	"org-access-core/internal/permission"
	"org-access-core/internal/platform/rbac"
	"org-access-core/internal/security"
	"org-access-core/internal/transfer/domain"
	"org-access-core/internal/transfer/repository"
	userdomain "org-access-core/internal/user/domain"
)

// SystemActor is the actor recorded for transitions no user asked for.
const SystemActor = "system:transfer-sweeper"

// riskWindow is the trailing window for counting recent transfers of an organization.
const riskWindow = 90 * 24 * time.Hour

var (
	ErrNotFound                  = repository.ErrNotFound
	ErrOpenTransferExists        = repository.ErrOpenTransferExists
	ErrTokenConsumed             = repository.ErrTokenConsumed
	ErrConcurrentOwnershipChange = repository.ErrConcurrentOwnershipChange

	ErrInvalidProposedOwner    = errors.New("transfer: invalid proposed owner")
	ErrProposedOwnerIneligible = errors.New("transfer: proposed owner cannot receive an organization")
	ErrNotCurrentOwner         = errors.New("transfer: actor is not the current owner")
	ErrOrganizationInactive    = errors.New("transfer: organization is not active")
	ErrHighRisk                = errors.New("transfer: blocked by fraud risk")
	ErrInvalidToken            = errors.New("transfer: invalid validation token")
	ErrTokenExpired            = errors.New("transfer: validation token expired")
	ErrNotProposedOwner        = errors.New("transfer: actor is not the proposed owner")
	ErrTransferNotOpen         = errors.New("transfer: request is no longer open")
	ErrInvalidPaymentOutcome   = errors.New("transfer: invalid payment outcome")
	ErrCommitFailed            = errors.New("transfer: ownership commit failed")
	ErrInvalidBatchSize        = errors.New("transfer: sweep batch size must be positive")
)

// failTimeout bounds marking a request failed after its commit errored; the caller's context may be gone.
const failTimeout = 5 * time.Second

// PaymentOutcome is the payment-setup completion signal presented with a validation token.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	// PaymentDeclined is recoverable, e.g. a declined card.
	PaymentDeclined PaymentOutcome = "declined"
	// PaymentRejected is permanent.
	PaymentRejected PaymentOutcome = "rejected"
)

func (o PaymentOutcome) valid() bool {
	return o == PaymentSucceeded || o == PaymentDeclined || o == PaymentRejected
}

// Checker is the access validator.
type Checker interface {
	Check(ctx context.Context, actor rbac.Actor, orgID string, p permission.Permission, opts ...rbac.CheckOption) (rbac.Decision, error)
}

// OrgGetter reads organizations. A missing organization is (nil, nil).
type OrgGetter interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
}

// UserGetter reads users. A missing user is (nil, nil).
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Invalidator drops cached memberships after the owner role moved.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, orgID string)
}

// TokenIssuer issues and verifies validation tokens.
type TokenIssuer interface {
	Issue(b security.TransferBinding) (token, jti string, err error)
	Verify(token string) (*security.TransferClaims, error)
}

// Deps are the engine's collaborators. Notifier may be nil.
type Deps struct {
	Repo        repository.Repository
	Orgs        OrgGetter
	Users       UserGetter
	Checker     Checker
	Audit       audit.Appender
	Invalidator Invalidator
	Scorer      fraud.Scorer
	Billing     billing.Oracle
	Tokens      TokenIssuer
	Notifier    notify.Notifier
}

// Engine runs ownership transfers. It is safe for concurrent use; all coordination happens through
// conditional writes in the repository.
type Engine struct {
	Deps
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine.
func New(deps Deps, opts ...Option) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	e := &Engine{Deps: deps, now: time.Now, tracer: otel.Tracer("org-access-core/transfer")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitiateResult is returned by InitiateTransfer.
type InitiateResult struct {
	Transfer *domain.Transfer
	Risk     fraud.Risk
	// Token is the validation token for the proposed owner. Empty on the fast path.
	Token string
}

// InitiateTransfer starts moving orgID from actor to proposedOwnerID. A paying proposed owner completes
// immediately; anyone else gets a request awaiting payment validation and a single-use token.
func (e *Engine) InitiateTransfer(ctx context.Context, actor rbac.Actor, orgID, proposedOwnerID string) (*InitiateResult, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.Initiate", trace.WithAttributes(attribute.String("org.id", orgID)))
	defer span.End()

	if proposedOwnerID == "" || proposedOwnerID == actor.UserID {
		return nil, ErrInvalidProposedOwner
	}
	if err := e.authorize(ctx, actor, orgID, permission.OrganizationTransfer, "organization/"+orgID+"/owner"); err != nil {
		return nil, err
	}
	org, err := e.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil || org.OwnerID != actor.UserID {
		return nil, ErrNotCurrentOwner
	}
	if !org.IsActive() {
		return nil, ErrOrganizationInactive
	}
	proposed, err := e.Users.GetByID(ctx, proposedOwnerID)
	if err != nil {
		return nil, err
	}
	if !proposed.IsActive() {
		return nil, ErrProposedOwnerIneligible
	}

	// Token expiry has second precision; keep the request deadline identical to it.
	now := e.now().UTC().Truncate(time.Second)
	currentAcct := e.account(ctx, actor.UserID)
	proposedAcct := e.account(ctx, proposedOwnerID)

	risk, riskMeta := e.score(ctx, org, actor.UserID, proposed, currentAcct, proposedAcct, now)
	span.SetAttributes(attribute.String("risk", string(risk)))
	if risk.Blocks() {
		riskMeta["proposed_owner_id"] = proposedOwnerID
		metrics.TransferTransitions.WithLabelValues("blocked").Inc()
		e.record(ctx, &auditdomain.Entry{
			ActorUserID:    actor.UserID,
			OrgID:          orgID,
			EventType:      auditdomain.EventTransferBlockedHighRisk,
			TargetResource: "organization/" + orgID + "/owner",
			Decision:       auditdomain.DecisionDenied,
			ReasonCode:     string(domain.ReasonHighRisk),
			Metadata:       riskMeta,
		})
		return &InitiateResult{Risk: risk}, ErrHighRisk
	}

	t := &domain.Transfer{
		ID:                  uuid.New().String(),
		OrgID:               orgID,
		CurrentOwnerID:      actor.UserID,
		ProposedOwnerID:     proposedOwnerID,
		State:               domain.StateInitiated,
		RequiredPaymentTier: requiredTier(currentAcct),
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(domain.TTL),
	}
	fastPath := proposedAcct != nil && proposedAcct.Status == billing.PayingCustomer
	var token string
	if !fastPath {
		token, t.TokenJTI, err = e.Tokens.Issue(binding(t))
		if err != nil {
			return nil, fmt.Errorf("issue validation token: %w", err)
		}
	}
	if err := e.Repo.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrOpenTransferExists) {
			e.record(ctx, &auditdomain.Entry{
				ActorUserID:    actor.UserID,
				OrgID:          orgID,
				EventType:      auditdomain.EventOwnershipTransferFailed,
				TargetResource: "organization/" + orgID + "/owner",
				Decision:       auditdomain.DecisionDenied,
				ReasonCode:     string(domain.ReasonOpenTransferExists),
				Metadata:       map[string]string{"proposed_owner_id": proposedOwnerID},
			})
		}
		return nil, err
	}
	e.transitioned(ctx, actor.UserID, t, riskMeta)

	if fastPath {
		done, err := e.commit(ctx, actor.UserID, t, currentAcct, proposedAcct)
		return &InitiateResult{Transfer: done, Risk: risk}, err
	}

	status := "unknown"
	if proposedAcct != nil {
		status = string(proposedAcct.Status)
	}
	pending, err := e.Repo.Transition(ctx, t.ID, repository.Transition{
		From: domain.StateInitiated,
		To:   domain.StatePaymentValidationRequired,
	}, e.now().UTC())
	if err != nil {
		return nil, err
	}
	e.transitioned(ctx, actor.UserID, pending, map[string]string{
		"payment_status":        status,
		"required_payment_tier": pending.RequiredPaymentTier,
	})
	return &InitiateResult{Transfer: pending, Risk: risk, Token: token}, nil
}

// ValidateResult is returned by ValidateTransfer.
type ValidateResult struct {
	Transfer *domain.Transfer
	// Token replaces the consumed one after a deadline extension.
	Token string
}

// ValidateTransfer consumes the proposed owner's token together with the payment outcome. Success commits the
// transfer; a recoverable decline extends the deadline once and issues a new token; anything else fails it.
func (e *Engine) ValidateTransfer(ctx context.Context, actor rbac.Actor, token string, outcome PaymentOutcome) (*ValidateResult, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.Validate")
	defer span.End()

	if !outcome.valid() {
		return nil, ErrInvalidPaymentOutcome
	}
	claims, err := e.Tokens.Verify(token)
	if errors.Is(err, security.ErrTokenExpired) {
		e.expireBound(ctx, claims)
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrInvalidToken
	}
	span.SetAttributes(attribute.String("transfer.id", claims.TransferID), attribute.String("org.id", claims.OrgID))
	if actor.Standing != rbac.StandingGood || actor.UserID != claims.ProposedOwnerID {
		return nil, ErrNotProposedOwner
	}
	t, err := e.Repo.Get(ctx, claims.TransferID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !boundTo(claims, t) {
		return nil, ErrInvalidToken
	}
	now := e.now().UTC()
	if t.Due(now) {
		e.expire(ctx, t, now)
		return nil, ErrTokenExpired
	}
	if t.State != domain.StatePaymentValidationRequired {
		return nil, ErrTransferNotOpen
	}
	if err := e.Repo.ConsumeToken(ctx, claims.ID, t.ID, now); err != nil {
		return nil, err
	}
	if claims.ID != t.TokenJTI {
		return nil, ErrInvalidToken
	}

	switch outcome {
	case PaymentDeclined:
		return e.extend(ctx, actor.UserID, t, now)
	case PaymentRejected:
		failed, err := e.fail(ctx, actor.UserID, t, domain.ReasonPaymentRejected)
		return &ValidateResult{Transfer: failed}, err
	}

	validated, err := e.Repo.Transition(ctx, t.ID, repository.Transition{
		From: domain.StatePaymentValidationRequired,
		To:   domain.StatePaymentValidated,
	}, now)
	if err != nil {
		return nil, notOpen(err)
	}
	e.transitioned(ctx, actor.UserID, validated, nil)
	done, err := e.commit(ctx, actor.UserID, validated, e.account(ctx, validated.CurrentOwnerID), e.account(ctx, validated.ProposedOwnerID))
	return &ValidateResult{Transfer: done}, err
}

// Commit completes a request in PaymentValidated. Any other state is a caller bug: it is refused with
// domain.ErrInvalidTransition and never coerced.
func (e *Engine) Commit(ctx context.Context, transferID string) (*domain.Transfer, error) {
	t, err := e.Repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.State != domain.StatePaymentValidated {
		log.Printf("transfer: commit refused transfer=%s org=%s state=%s", t.ID, t.OrgID, t.State)
		return nil, fmt.Errorf("%w: commit from %s", domain.ErrInvalidTransition, t.State)
	}
	return e.commit(ctx, t.ProposedOwnerID, t, e.account(ctx, t.CurrentOwnerID), e.account(ctx, t.ProposedOwnerID))
}

// CancelTransfer cancels an open request. Only the current owner may cancel.
func (e *Engine) CancelTransfer(ctx context.Context, actor rbac.Actor, transferID string) (*domain.Transfer, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.Cancel", trace.WithAttributes(attribute.String("transfer.id", transferID)))
	defer span.End()

	t, err := e.Repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, actor, t.OrgID, permission.OrganizationTransfer, "transfer/"+t.ID); err != nil {
		return nil, err
	}
	if actor.UserID != t.CurrentOwnerID {
		return nil, ErrNotCurrentOwner
	}
	now := e.now().UTC()
	if t.Due(now) {
		e.expire(ctx, t, now)
		return nil, ErrTransferNotOpen
	}
	if !t.State.IsOpen() {
		return nil, ErrTransferNotOpen
	}
	cancelled, err := e.Repo.Transition(ctx, t.ID, repository.Transition{From: t.State, To: domain.StateCancelled}, now)
	if err != nil {
		return nil, notOpen(err)
	}
	e.transitioned(ctx, actor.UserID, cancelled, nil)
	return cancelled, nil
}

// GetTransferStatus returns the request. The proposed owner may always read it; organization members need
// organization.read. A request found past its deadline is expired first.
func (e *Engine) GetTransferStatus(ctx context.Context, actor rbac.Actor, transferID string) (*domain.Transfer, error) {
	t, err := e.Repo.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	var opts []rbac.CheckOption
	if actor.UserID == t.ProposedOwnerID {
		opts = append(opts, rbac.WithSubjectBasis("proposed_owner"))
	}
	if err := e.authorize(ctx, actor, t.OrgID, permission.OrganizationRead, "transfer/"+t.ID, opts...); err != nil {
		return nil, err
	}
	if now := e.now().UTC(); t.Due(now) && e.expire(ctx, t, now) {
		return e.Repo.Get(ctx, transferID)
	}
	return t, nil
}

// SweepExpired expires up to limit requests past their deadline and returns how many this call expired.
// limit must be positive.
// Concurrent sweeps are safe: each request is expired exactly once.
func (e *Engine) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, ErrInvalidBatchSize
	}
	ctx, span := e.tracer.Start(ctx, "transfer.SweepExpired")
	defer span.End()

	now := e.now().UTC()
	due, err := e.Repo.ListDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if e.expire(ctx, t, now) {
			n++
		}
	}
	span.SetAttributes(attribute.Int("expired", n))
	return n, nil
}

// commit performs the single ownership mutation of a request's lifecycle. It is never retried.
func (e *Engine) commit(ctx context.Context, actorID string, t *domain.Transfer, currentAcct, proposedAcct *billing.Account) (*domain.Transfer, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.Commit", trace.WithAttributes(attribute.String("transfer.id", t.ID)))
	defer span.End()

	now := e.now().UTC()
	done, err := e.Repo.CommitOwnership(ctx, t, now)
	if errors.Is(err, repository.ErrConcurrentOwnershipChange) {
		span.RecordError(err)
		failed, ferr := e.fail(ctx, actorID, t, domain.ReasonConcurrentOwnershipChange)
		if ferr != nil {
			log.Printf("transfer: mark failed after ownership conflict transfer=%s: %v", t.ID, ferr)
			return t, ErrConcurrentOwnershipChange
		}
		return failed, ErrConcurrentOwnershipChange
	}
	if errors.Is(err, repository.ErrStateConflict) {
		span.RecordError(err)
		return nil, ErrTransferNotOpen
	}
	if err != nil {
		// A validated request is not expirable; leaving it open would block the organization.
		span.RecordError(err)
		log.Printf("transfer: commit transfer=%s org=%s: %v", t.ID, t.OrgID, err)
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
		defer cancel()
		failed, ferr := e.fail(failCtx, actorID, t, domain.ReasonCommitFailed)
		if ferr != nil {
			log.Printf("transfer: mark failed after commit error transfer=%s: %v", t.ID, ferr)
			return nil, fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
		return failed, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	if e.Invalidator != nil {
		e.Invalidator.Invalidate(ctx, done.CurrentOwnerID, done.OrgID)
		e.Invalidator.Invalidate(ctx, done.ProposedOwnerID, done.OrgID)
	}
	e.transitioned(ctx, actorID, done, billingNote(currentAcct, proposedAcct))
	return done, nil
}

func (e *Engine) extend(ctx context.Context, actorID string, t *domain.Transfer, now time.Time) (*ValidateResult, error) {
	if t.Extended {
		failed, err := e.fail(ctx, actorID, t, domain.ReasonPaymentDeclined)
		return &ValidateResult{Transfer: failed}, err
	}
	next := *t
	next.ExpiresAt = t.ExpiresAt.Add(domain.Extension)
	token, jti, err := e.Tokens.Issue(binding(&next))
	if err != nil {
		return nil, fmt.Errorf("issue validation token: %w", err)
	}
	extended, err := e.Repo.Extend(ctx, t.ID, next.ExpiresAt, jti, now)
	if errors.Is(err, repository.ErrExtensionUnavailable) {
		failed, ferr := e.fail(ctx, actorID, t, domain.ReasonPaymentDeclined)
		return &ValidateResult{Transfer: failed}, ferr
	}
	if err != nil {
		return nil, err
	}
	e.record(ctx, transferEntry(actorID, extended, auditdomain.EventOwnershipTransferDeadlineExtended, map[string]string{
		"previous_expires_at_ms": strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10),
		"payment_outcome":        string(PaymentDeclined),
	}))
	e.notifyParties(ctx, notify.KindTransferPaymentRequired, extended)
	return &ValidateResult{Transfer: extended, Token: token}, nil
}

func (e *Engine) fail(ctx context.Context, actorID string, t *domain.Transfer, reason domain.Reason) (*domain.Transfer, error) {
	failed, err := e.Repo.Transition(ctx, t.ID, repository.Transition{From: t.State, To: domain.StateFailed, Reason: reason}, e.now().UTC())
	if err != nil {
		return nil, notOpen(err)
	}
	e.transitioned(ctx, actorID, failed, nil)
	return failed, nil
}

// expire flips t to expired when due and reports whether this call did it.
func (e *Engine) expire(ctx context.Context, t *domain.Transfer, now time.Time) bool {
	flipped, err := e.Repo.ExpireIfDue(ctx, t.ID, now)
	if err != nil {
		log.Printf("transfer: expire transfer=%s: %v", t.ID, err)
		return false
	}
	if !flipped {
		return false
	}
	expired := *t
	expired.State = domain.StateExpired
	expired.UpdatedAt = now
	e.transitioned(ctx, SystemActor, &expired, nil)
	return true
}

// expireBound expires the request an expired token was issued for, if it still exists and is due.
func (e *Engine) expireBound(ctx context.Context, claims *security.TransferClaims) {
	if claims == nil {
		return
	}
	t, err := e.Repo.Get(ctx, claims.TransferID)
	if err != nil || !boundTo(claims, t) {
		return
	}
	if now := e.now().UTC(); t.Due(now) {
		e.expire(ctx, t, now)
	}
}

func (e *Engine) authorize(ctx context.Context, actor rbac.Actor, orgID string, p permission.Permission, resource string, opts ...rbac.CheckOption) error {
	d, err := e.Checker.Check(ctx, actor, orgID, p, append([]rbac.CheckOption{rbac.WithResource(resource)}, opts...)...)
	if err != nil {
		log.Printf("transfer: decision audit failed org=%s actor=%s: %v", orgID, actor.UserID, err)
	}
	return d.Err()
}

func (e *Engine) account(ctx context.Context, userID string) *billing.Account {
	ctx, cancel := context.WithTimeout(ctx, billing.MaxTimeout)
	defer cancel()
	acct, err := e.Billing.Status(ctx, userID)
	if err != nil {
		log.Printf("transfer: payment status user=%s: %v", userID, err)
		return nil
	}
	return acct
}

func (e *Engine) score(ctx context.Context, org *orgdomain.Org, currentOwnerID string, proposed *userdomain.User, currentAcct, proposedAcct *billing.Account, now time.Time) (fraud.Risk, map[string]string) {
	tc := fraud.TransferContext{
		OrgID:                  org.ID,
		CurrentOwnerID:         currentOwnerID,
		ProposedOwnerID:        proposed.ID,
		ProposedAccountAgeDays: proposed.AccountAgeDays(now),
	}
	recent, err := e.Repo.CountCompletedSince(ctx, org.ID, now.Add(-riskWindow))
	if err != nil {
		log.Printf("transfer: transfer history org=%s: %v", org.ID, err)
		return fraud.RiskHigh, map[string]string{"risk": string(fraud.RiskHigh), "risk_error": "history_unavailable"}
	}
	tc.RecentTransfers90d = recent
	if currentAcct != nil && proposedAcct != nil && currentAcct.Country != "" && proposedAcct.Country != "" {
		tc.CrossBorder = !strings.EqualFold(currentAcct.Country, proposedAcct.Country)
	}
	if proposedAcct != nil {
		tc.PaymentFailures = proposedAcct.PaymentFailures90d
	}
	meta := map[string]string{
		"recent_transfers_90d":      strconv.Itoa(tc.RecentTransfers90d),
		"proposed_account_age_days": strconv.Itoa(tc.ProposedAccountAgeDays),
		"cross_border":              strconv.FormatBool(tc.CrossBorder),
		"payment_failures":          strconv.Itoa(tc.PaymentFailures),
	}
	risk, err := e.Scorer.Score(ctx, tc)
	if err != nil {
		log.Printf("transfer: risk scoring org=%s: %v", org.ID, err)
		risk = fraud.RiskHigh
		meta["risk_error"] = "evaluation_failed"
	}
	meta["risk"] = string(risk)
	return risk, meta
}

var notifyKinds = map[domain.State]notify.Kind{
	domain.StatePaymentValidationRequired: notify.KindTransferPaymentRequired,
	domain.StateCompleted:                 notify.KindTransferCompleted,
	domain.StateExpired:                   notify.KindTransferExpired,
	domain.StateCancelled:                 notify.KindTransferCancelled,
	domain.StateFailed:                    notify.KindTransferFailed,
}

// transitioned records the state t has just entered and notifies both parties where that applies.
func (e *Engine) transitioned(ctx context.Context, actorID string, t *domain.Transfer, extra map[string]string) {
	metrics.TransferTransitions.WithLabelValues(string(t.State)).Inc()
	e.record(ctx, transferEntry(actorID, t, audit.EventForTransferState(string(t.State)), extra))
	if kind, ok := notifyKinds[t.State]; ok {
		e.notifyParties(ctx, kind, t)
	}
}

// record appends e. A failed append has already been reported by the writer; the transition stands.
func (e *Engine) record(ctx context.Context, entry *auditdomain.Entry) {
	if _, err := e.Audit.Append(ctx, entry); err != nil {
		log.Printf("transfer: audit %s org=%s: %v", entry.EventType, entry.OrgID, err)
	}
}

func (e *Engine) notifyParties(ctx context.Context, kind notify.Kind, t *domain.Transfer) {
	msg := notify.Message{
		Kind:       kind,
		OrgID:      t.OrgID,
		TransferID: t.ID,
		Recipients: t.Parties(),
		Reason:     string(t.FailureReason),
		Data: map[string]string{
			"state":         string(t.State),
			"expires_at_ms": strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10),
		},
	}
	if err := e.Notifier.Notify(ctx, msg); err != nil {
		log.Printf("transfer: notify %s transfer=%s: %v", kind, t.ID, err)
	}
}

func transferEntry(actorID string, t *domain.Transfer, event auditdomain.EventType, extra map[string]string) *auditdomain.Entry {
	meta := map[string]string{
		"transfer_id":       t.ID,
		"state":             string(t.State),
		"current_owner_id":  t.CurrentOwnerID,
		"proposed_owner_id": t.ProposedOwnerID,
		"expires_at_ms":     strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10),
	}
	for k, v := range extra {
		meta[k] = v
	}
	decision := auditdomain.DecisionAllowed
	if t.State == domain.StateFailed {
		decision = auditdomain.DecisionDenied
	}
	return &auditdomain.Entry{
		ActorUserID:    actorID,
		OrgID:          t.OrgID,
		EventType:      event,
		TargetResource: "transfer/" + t.ID,
		Decision:       decision,
		ReasonCode:     string(t.FailureReason),
		Metadata:       meta,
	}
}

// billingNote carries what revenue reconciliation needs: the amount and both plans.
func billingNote(currentAcct, proposedAcct *billing.Account) map[string]string {
	note := map[string]string{
		"billing_prior_plan":   "unknown",
		"billing_new_plan":     "unknown",
		"billing_amount_cents": "unknown",
		"billing_currency":     "unknown",
	}
	if currentAcct != nil && currentAcct.Plan.Name != "" {
		note["billing_prior_plan"] = currentAcct.Plan.Name
	}
	if proposedAcct != nil && proposedAcct.Plan.Name != "" {
		note["billing_new_plan"] = proposedAcct.Plan.Name
		note["billing_amount_cents"] = strconv.FormatInt(proposedAcct.Plan.AmountCents, 10)
		note["billing_currency"] = proposedAcct.Plan.Currency
	}
	return note
}

func requiredTier(currentAcct *billing.Account) string {
	if currentAcct != nil && currentAcct.Plan.Name != "" {
		return currentAcct.Plan.Name
	}
	return "standard"
}

func binding(t *domain.Transfer) security.TransferBinding {
	return security.TransferBinding{
		TransferID:      t.ID,
		OrgID:           t.OrgID,
		CurrentOwnerID:  t.CurrentOwnerID,
		ProposedOwnerID: t.ProposedOwnerID,
		ExpiresAt:       t.ExpiresAt,
	}
}

func boundTo(c *security.TransferClaims, t *domain.Transfer) bool {
	return c.TransferID == t.ID && c.OrgID == t.OrgID &&
		c.CurrentOwnerID == t.CurrentOwnerID && c.ProposedOwnerID == t.ProposedOwnerID
}

func notOpen(err error) error {
	if errors.Is(err, repository.ErrStateConflict) {
		return ErrTransferNotOpen
	}
	return err
}

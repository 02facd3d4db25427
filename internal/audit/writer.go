package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"org-access-core/internal/audit/domain"
	auditrepo "org-access-core/internal/audit/repository"
	"org-access-core/internal/ids"
	"org-access-core/internal/metrics"
)

// SentinelOrgID is the chain used for decisions that name no organization.
const SentinelOrgID = "_system"

// ErrAuditWriteFailed is returned when an entry could not be chained after all attempts.
// The operation being audited has already taken effect and must not be rolled back.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Appender appends one entry to its organization's chain and returns the new entry hash.
type Appender interface {
	Append(ctx context.Context, e *domain.Entry) (string, error)
}

// SecondaryChannel receives entries that could not be chained. It has weaker delivery guarantees than the chain.
type SecondaryChannel interface {
	RecordFailure(ctx context.Context, e *domain.Entry, cause error)
}

// Alerter notifies an operator about an audit write failure.
type Alerter interface {
	AlertAuditWriteFailed(ctx context.Context, e *domain.Entry, cause error) error
}

// Config bounds the append retry loop.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig is three attempts with 25ms..250ms capped exponential backoff.
var DefaultConfig = Config{MaxAttempts: 3, InitialBackoff: 25 * time.Millisecond, MaxBackoff: 250 * time.Millisecond}

// Writer appends hash-chained entries using optimistic concurrency on the per-organization sequence id.
// Unrelated organizations never contend.
type Writer struct {
	repo      auditrepo.Repository
	cfg       Config
	secondary SecondaryChannel
	alerter   Alerter
	now       func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

func WithConfig(cfg Config) WriterOption {
	return func(w *Writer) {
		if cfg.MaxAttempts > 0 {
			w.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.InitialBackoff > 0 {
			w.cfg.InitialBackoff = cfg.InitialBackoff
		}
		if cfg.MaxBackoff >= w.cfg.InitialBackoff {
			w.cfg.MaxBackoff = cfg.MaxBackoff
		}
	}
}

func WithSecondaryChannel(s SecondaryChannel) WriterOption {
	return func(w *Writer) { w.secondary = s }
}

func WithAlerter(a Alerter) WriterOption {
	return func(w *Writer) { w.alerter = a }
}

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a Writer that persists to repo.
func NewWriter(repo auditrepo.Repository, opts ...WriterOption) *Writer {
	w := &Writer{repo: repo, cfg: DefaultConfig, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Append chains e after the current head of e.OrgID and returns its entry hash. EventID and Timestamp are
// filled when empty; SequenceID, PriorStateHash and EntryHash are always assigned here.
// On a sequence conflict the head is re-read and the append retried, up to Config.MaxAttempts.
func (w *Writer) Append(ctx context.Context, e *domain.Entry) (string, error) {
	if e.EventID == "" {
		e.EventID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = w.now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)
	if err := e.Validate(); err != nil {
		w.fail(ctx, e, err)
		return "", fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}

	op := func() (string, error) {
		metrics.AuditAppendAttempts.Inc()
		seq, prev, found, err := w.repo.Head(ctx, e.OrgID)
		if err != nil {
			return "", err
		}
		e.SequenceID, e.PriorStateHash = 0, ""
		if found {
			e.SequenceID, e.PriorStateHash = seq+1, prev
		}
		hash, err := ComputeHash(e.PriorStateHash, e)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		e.EntryHash = hash
		if err := w.repo.Insert(ctx, e); err != nil {
			if errors.Is(err, auditrepo.ErrDuplicateEvent) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return hash, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	hash, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)))
	if err != nil {
		e.EntryHash = ""
		w.fail(ctx, e, err)
		return "", fmt.Errorf("%w: org=%s event=%s: %v", ErrAuditWriteFailed, e.OrgID, e.EventID, err)
	}
	return hash, nil
}

func (w *Writer) fail(ctx context.Context, e *domain.Entry, cause error) {
	metrics.AuditAppendFailures.Inc()
	log.Printf("audit: append failed org=%s event=%s type=%s: %v", e.OrgID, e.EventID, e.EventType, cause)
	// The caller's context may already be done; the fallback channels get their own deadline.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if w.secondary != nil {
		w.secondary.RecordFailure(fctx, e, cause)
	}
	if w.alerter != nil {
		if err := w.alerter.AlertAuditWriteFailed(fctx, e, cause); err != nil {
			log.Printf("audit: operator alert failed org=%s event=%s: %v", e.OrgID, e.EventID, err)
		}
	}
}

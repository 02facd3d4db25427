package otel

import (
	"context"
	"sort"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"org-access-core/internal/audit/domain"
)

// auditScope is the instrumentation scope of audit fallback records.
const auditScope = "org-access-core/audit"

// AuditLogChannel emits audit entries that could not be chained as OTel log records. Delivery is best effort;
// collectors index them by org_id and event_id so they can be reconciled with the chain later.
type AuditLogChannel struct {
	logger otellog.Logger
	now    func() time.Time
}

// NewAuditLogChannel returns a channel backed by provider. A nil provider returns nil; the audit writer treats a
// nil channel as absent.
func NewAuditLogChannel(provider *sdklog.LoggerProvider) *AuditLogChannel {
	if provider == nil {
		return nil
	}
	return NewAuditLogChannelWithLogger(provider.Logger(auditScope))
}

// NewAuditLogChannelWithLogger returns a channel that emits to logger.
func NewAuditLogChannelWithLogger(logger otellog.Logger) *AuditLogChannel {
	return &AuditLogChannel{logger: logger, now: time.Now}
}

// RecordFailure emits e with severity ERROR and the append failure as the body.
func (c *AuditLogChannel) RecordFailure(ctx context.Context, e *domain.Entry, cause error) {
	if c == nil || e == nil {
		return
	}
	var rec otellog.Record
	ts := e.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	rec.SetTimestamp(ts.UTC())
	rec.SetObservedTimestamp(c.now().UTC())
	rec.SetSeverity(otellog.SeverityError)
	rec.SetSeverityText("ERROR")
	rec.SetEventName("audit.append_failed")
	if cause != nil {
		rec.SetBody(otellog.StringValue(cause.Error()))
	}
	rec.AddAttributes(
		otellog.String("org_id", e.OrgID),
		otellog.String("event_id", e.EventID),
		otellog.String("event_type", string(e.EventType)),
		otellog.String("actor_user_id", e.ActorUserID),
		otellog.String("decision", string(e.Decision)),
		otellog.Int64("timestamp_ms", ts.UnixMilli()),
	)
	if e.TargetResource != "" {
		rec.AddAttributes(otellog.String("target_resource", e.TargetResource))
	}
	if e.ReasonCode != "" {
		rec.AddAttributes(otellog.String("reason_code", e.ReasonCode))
	}
	if e.SequenceID > 0 {
		rec.AddAttributes(otellog.String("attempted_sequence_id", strconv.FormatInt(e.SequenceID, 10)))
	}
	if len(e.ComplianceFlags) > 0 {
		flags := make([]otellog.Value, len(e.ComplianceFlags))
		for i, f := range e.ComplianceFlags {
			flags[i] = otellog.StringValue(f)
		}
		rec.AddAttributes(otellog.Slice("compliance_flags", flags...))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kvs := make([]otellog.KeyValue, len(keys))
		for i, k := range keys {
			kvs[i] = otellog.String(k, e.Metadata[k])
		}
		rec.AddAttributes(otellog.Map("metadata", kvs...))
	}
	c.logger.Emit(ctx, rec)
}

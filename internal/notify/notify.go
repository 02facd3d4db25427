// Package notify delivers transfer notifications to both parties and operator alerts.
// Delivery is best effort; callers log failures and carry on.
package notify

import (
	"context"
	"time"
)

// Kind names a notification.
type Kind string

const (
	KindTransferPaymentRequired Kind = "transfer.payment_required"
	KindTransferCompleted       Kind = "transfer.completed"
	KindTransferExpired         Kind = "transfer.expired"
	KindTransferCancelled       Kind = "transfer.cancelled"
	KindTransferFailed          Kind = "transfer.failed"
	KindAuditWriteFailed        Kind = "alert.audit_write_failed"
)

// Message is one notification. Recipients are user ids; operator alerts have none.
type Message struct {
	Kind       Kind              `json:"kind"`
	OrgID      string            `json:"org_id"`
	TransferID string            `json:"transfer_id,omitempty"`
	Recipients []string          `json:"recipients,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

// Notifier sends messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Noop discards every message.
type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }

package notify

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	auditdomain "org-access-core/internal/audit/domain"
)

const writeTimeout = 5 * time.Second

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notifications and operator alerts as JSON to two Kafka topics.
// It implements Notifier and the audit writer's Alerter.
type KafkaPublisher struct {
	notifications messageWriter
	alerts        messageWriter
	now           func() time.Time
}

// NewKafkaPublisher returns a publisher writing to the given topics. It returns nil when brokers is empty,
// so callers can fall back to Noop.
func NewKafkaPublisher(brokers []string, notificationTopic, alertTopic string) *KafkaPublisher {
	if len(brokers) == 0 || notificationTopic == "" || alertTopic == "" {
		return nil
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		}
	}
	return &KafkaPublisher{notifications: newWriter(notificationTopic), alerts: newWriter(alertTopic), now: time.Now}
}

// Notify publishes msg keyed by organization so messages of one organization stay ordered.
func (p *KafkaPublisher) Notify(ctx context.Context, msg Message) error {
	return p.write(ctx, p.notifications, msg)
}

// AlertAuditWriteFailed publishes an operator alert for an entry that could not be chained.
func (p *KafkaPublisher) AlertAuditWriteFailed(ctx context.Context, e *auditdomain.Entry, cause error) error {
	msg := Message{
		Kind:   KindAuditWriteFailed,
		OrgID:  e.OrgID,
		Reason: cause.Error(),
		Data: map[string]string{
			"event_id":     e.EventID,
			"event_type":   string(e.EventType),
			"actor":        e.ActorUserID,
			"target":       e.TargetResource,
			"timestamp_ms": formatMillis(e.Timestamp),
		},
	}
	return p.write(ctx, p.alerts, msg)
}

func (p *KafkaPublisher) write(ctx context.Context, w messageWriter, msg Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = p.now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.WriteMessages(writeCtx, kafka.Message{Key: []byte(msg.OrgID), Value: payload}); err != nil {
		log.Printf("notify: kafka write failed kind=%s org=%s: %v", msg.Kind, msg.OrgID, err)
		return err
	}
	return nil
}

// Close closes both writers. Safe to call on a nil publisher.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	err := p.notifications.Close()
	if aerr := p.alerts.Close(); err == nil {
		err = aerr
	}
	return err
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enroll-api/internal/models"
	"github.com/noah-isme/sma-enroll-api/pkg/config"
)

// notificationOutboxKey is the list the dispatch collaborator consumes from.
const notificationOutboxKey = "notifications:outbox"

// EventPublisher emits realtime events and notification payloads after each
// committed transition. Publication is fire-and-forget: delivery and ordering
// to subscribers belong to the bus, failures are logged and never propagate
// into the decision path.
type EventPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewEventPublisher constructs the publisher.
func NewEventPublisher(client *redis.Client, cfg config.EventsConfig, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "enrollment"
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &EventPublisher{client: client, prefix: prefix, timeout: timeout, logger: logger}
}

// PublishEnrollment broadcasts a status change on the class channel.
func (p *EventPublisher) PublishEnrollment(event models.RealtimeEnrollmentEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	p.publish(p.channel("class", event.ClassID), event)
}

// PublishWaitlist broadcasts a position or depth change on the class channel.
func (p *EventPublisher) PublishWaitlist(event models.RealtimeWaitlistEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	p.publish(p.channel("waitlist", event.ClassID), event)
}

// EmitNotification hands a payload to the out-of-band dispatch collaborator
// via the outbox list. The engine does not wait for delivery confirmation.
func (p *EventPublisher) EmitNotification(payload models.NotificationPayload) {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	if p.client == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.LPush(ctx, notificationOutboxKey, raw).Err(); err != nil {
		p.logger.Warn("notification enqueue failed",
			zap.String("type", string(payload.Type)),
			zap.String("student_id", payload.StudentID),
			zap.Error(err))
	}
}

func (p *EventPublisher) publish(channel string, event interface{}) {
	if p.client == nil {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		p.logger.Warn("event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

func (p *EventPublisher) channel(kind, classID string) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, kind, classID)
}

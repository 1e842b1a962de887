package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

// Publisher publishes audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Envelope is the JSON body of every audit message.
type Envelope struct {
	EventType  string    `json:"eventType"`
	Service    string    `json:"service"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

const serviceName = "relaychat"

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled or unreachable.
func NewPublisher(amqpURL, exchange string, logger *zerolog.Logger) Publisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if amqpURL == "" {
		logger.Info().Str("reason", "empty amqp url").Msg("rabbitmq disabled, using noop")
		return noopPublisher{reason: "empty amqp url", log: logger}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		return noopPublisher{reason: err.Error(), log: logger}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: logger}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		logger.Warn().Err(err).Msg("rabbitmq disabled, using noop")
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: logger}
	}

	logger.Info().Str("exchange", exchange).Msg("rabbitmq connected")
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: logger}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zerolog.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("routing_key", routingKey).Msg("rabbitmq publish failed")
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zerolog.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	ev := p.log.Debug().Str("routing_key", routingKey)
	if envelope, ok := event.(Envelope); ok {
		ev = ev.Str("event_type", envelope.EventType).Str("user_id", envelope.UserID)
	}
	ev.Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Mode reports the publisher mode for logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// ErrorCounter counts failed publishes.
type ErrorCounter interface {
	AuditPublishFailed()
}

// PresenceAuditor forwards persisted presence transitions to a Publisher.
// It satisfies core.Auditor.
type PresenceAuditor struct {
	pub      Publisher
	failures ErrorCounter
}

// NewPresenceAuditor wraps pub. failures may be nil.
func NewPresenceAuditor(pub Publisher, failures ErrorCounter) *PresenceAuditor {
	return &PresenceAuditor{pub: pub, failures: failures}
}

// PresenceChanged publishes a presence.online or presence.offline envelope.
func (a *PresenceAuditor) PresenceChanged(ctx context.Context, userID string, status store.OnlineStatus, at time.Time) error {
	routingKey := "presence." + string(status)
	err := a.pub.Publish(ctx, routingKey, Envelope{
		EventType:  routingKey,
		Service:    serviceName,
		UserID:     userID,
		Status:     string(status),
		OccurredAt: at,
	})
	if err != nil && a.failures != nil {
		a.failures.AuditPublishFailed()
	}
	return err
}

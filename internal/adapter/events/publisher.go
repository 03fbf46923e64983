// Package events publishes post-commit domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/port"
)

const (
	exchangeName = "keydrop.events"
	exchangeType = "topic"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
	confirmBuffer  = 64
)

var (
	errNotAcked       = errors.New("event not acknowledged")
	errConfirmTimeout = errors.New("confirmation timeout")
)

// Publisher handles event publishing to RabbitMQ with publisher confirms.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	log      *zap.Logger

	// one publish at a time; confirms are matched by delivery tag
	mu sync.Mutex
}

type envelope struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	EventVersion string         `json:"event_version"`
	Timestamp    string         `json:"timestamp"`
	Payload      map[string]any `json:"payload"`
}

// NewPublisher dials RabbitMQ and declares the topic exchange.
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &Publisher{
		conn:     conn,
		channel:  channel,
		confirms: channel.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
		log:      log,
	}, nil
}

// Publish sends the event routed by its type and waits for the broker ack.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := encode(event)
	if err != nil {
		p.log.Error("Failed to marshal event", zap.Error(err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}

		tag := p.channel.GetNextPublishSeqNo()
		err := p.channel.PublishWithContext(
			ctx,
			exchangeName,
			event.Type,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    event.OccurredAt,
				MessageId:    event.ID,
				Body:         body,
				Headers: amqp.Table{
					"event_type":    event.Type,
					"event_version": event.Version,
				},
			},
		)
		if err != nil {
			lastErr = err
			p.log.Warn("Failed to publish event, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		lastErr = awaitConfirm(ctx, p.confirms, tag, confirmTimeout)
		if lastErr == nil {
			p.log.Debug("Event published",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
			)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		p.log.Warn("Event publish not confirmed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	p.log.Error("Failed to publish event after retries",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Int("attempts", maxRetries),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// awaitConfirm waits for the broker's answer to the message published with
// tag. Confirmations for earlier tags belong to attempts that already gave
// up waiting and are discarded.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, tag uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case confirm, ok := <-confirms:
			if !ok {
				return errors.New("confirmation channel closed")
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if confirm.DeliveryTag > tag {
				return fmt.Errorf("confirmation for delivery %d missed, got %d", tag, confirm.DeliveryTag)
			}
			if !confirm.Ack {
				return errNotAcked
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errConfirmTimeout
		}
	}
}

func (p *Publisher) IsHealthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}

func encode(event domain.Event) ([]byte, error) {
	body, err := json.Marshal(envelope{
		EventID:      event.ID,
		EventType:    event.Type,
		EventVersion: event.Version,
		Timestamp:    event.OccurredAt.UTC().Format(time.RFC3339),
		Payload:      event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

// LogPublisher records events in the log when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	p.log.Info("Event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Any("payload", event.Payload),
	)
	return nil
}

var (
	_ port.EventPublisher = (*Publisher)(nil)
	_ port.EventPublisher = (*LogPublisher)(nil)
)

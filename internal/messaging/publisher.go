package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dreamweaver-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout  = 10 * time.Second
	publishAttempts = 3
	appID           = "dreamweaver-server"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// TurnEventPublisher broadcasts committed turns to a topic exchange with the
// routing key "world.<worldID>.turn".
type TurnEventPublisher struct {
	channel  Channel
	exchange string
	logger   *zap.Logger
}

// NewTurnEventPublisher opens a channel on conn and declares the exchange.
func NewTurnEventPublisher(conn *amqp.Connection, exchange string, logger *zap.Logger) (*TurnEventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("turn publisher: open channel: %w", err)
	}
	p, err := NewTurnEventPublisherWithChannel(ch, exchange, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

// NewTurnEventPublisherWithChannel declares the exchange on an open channel.
func NewTurnEventPublisherWithChannel(ch Channel, exchange string, logger *zap.Logger) (*TurnEventPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("turn publisher: declare exchange '%s': %w", exchange, err)
	}
	logger = logger.Named("TurnEventPublisher")
	logger.Info("Exchange declared", zap.String("exchange", exchange))
	return &TurnEventPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// RoutingKey returns the routing key of a world's turn events.
func RoutingKey(worldID string) string {
	return "world." + worldID + ".turn"
}

// NotifyTurnCommitted publishes event, retrying transient failures.
func (p *TurnEventPublisher) NotifyTurnCommitted(ctx context.Context, event models.TurnCommitted) error {
	if p.channel == nil {
		return errors.New("turn publisher: channel is not initialized")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("turn publisher: marshal event for world %s: %w", event.WorldID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := RoutingKey(event.WorldID)
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.TurnID,
			Timestamp:    event.CommittedAt,
			AppId:        appID,
			Body:         body,
		})
		if err == nil {
			p.logger.Debug("Turn event published",
				zap.String("worldID", event.WorldID), zap.Int64("version", event.Version), zap.Int("attempt", attempt))
			return nil
		}
		p.logger.Warn("Turn event publish failed",
			zap.String("worldID", event.WorldID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < publishAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("turn publisher: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("turn publisher: publish to %s after %d attempts: %w", p.exchange, publishAttempts, err)
}

func (p *TurnEventPublisher) Close() error {
	return p.channel.Close()
}

// Connect dials RabbitMQ, retrying up to attempts times.
func Connect(url string, attempts int, delay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, err
}

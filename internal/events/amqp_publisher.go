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
)

const maxDialDelay = 10 * time.Second

// Publisher sends an event to an external broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
	Close() error
}

// AMQPOptions configures the broker connection.
type AMQPOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(ctx context.Context, opts AMQPOptions, logger *zap.Logger) (Publisher, error) {
	conn, err := dialWithRetry(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}

	return &amqpPublisher{
		conn:     conn,
		exchange: opts.Exchange,
		logger:   logger,
	}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.Type),
		Body:         body,
	})
	if err == nil {
		p.logger.Debug("event forwarded", zap.String("key", key), zap.String("exchange", p.exchange))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

func dialWithRetry(ctx context.Context, opts AMQPOptions, logger *zap.Logger) (*amqp.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				logger.Info("broker connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := backoff(opts.RetryDelay, i)
		logger.Warn("broker dial failed", zap.Int("attempt", i), zap.Duration("sleep", sleep), zap.Error(err))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("broker unreachable after %d attempts: %w", attempts, lastErr)
}

// backoff doubles base per attempt, capped at maxDialDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if sleep >= maxDialDelay {
			return maxDialDelay
		}
	}
	return sleep
}

// Forward subscribes publisher to every type in types so that dispatched
// events are mirrored to the broker. Broker failures are returned to the
// dispatcher, which logs them.
func Forward(dispatcher Dispatcher, publisher Publisher, types ...EventType) {
	if dispatcher == nil || publisher == nil {
		return
	}
	if len(types) == 0 {
		types = AllEventTypes
	}
	for _, eventType := range types {
		dispatcher.Subscribe(eventType, func(ctx context.Context, event Event) error {
			return publisher.Publish(ctx, event.RoutingKey(), event)
		})
	}
}

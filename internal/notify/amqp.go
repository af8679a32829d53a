package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxDialDelay caps the backoff between dial attempts.
const MaxDialDelay = 60 * time.Second

// ConnectionOptions configures DialWithRetry.
type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// DialWithRetry connects to RabbitMQ with exponential backoff, giving up when ctx is done.
func DialWithRetry(ctx context.Context, opts ConnectionOptions) (*amqp.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		sleep := backoff(delay, i)
		log.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

func backoff(delay time.Duration, attempt int) time.Duration {
	sleep := delay * time.Duration(math.Pow(2, float64(attempt-1)))
	if sleep > MaxDialDelay || sleep <= 0 {
		sleep = MaxDialDelay
	}
	return sleep
}

// RoutingKey maps an event type to its routing key by dropping the version suffix,
// so contacts.assigned.v1 routes as contacts.assigned.
func RoutingKey(eventType string) string {
	if i := strings.LastIndex(eventType, ".v"); i > 0 {
		return eventType[:i]
	}
	return eventType
}

// Publisher publishes envelopes as persistent JSON messages to a topic exchange and waits
// for the broker to confirm each one.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
	mu       sync.Mutex
	closed   bool
}

// NewPublisher declares the exchange on conn and returns a Publisher over it.
func NewPublisher(log *slog.Logger, conn *amqp.Connection, exchange string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("amqp connection is required")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		exchange: exchange,
		logger:   log.With(slog.String("component", "amqp")),
	}, nil
}

// Notify implements Notifier.
func (p *Publisher) Notify(ctx context.Context, env Envelope) error {
	msg, err := publishing(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("publisher closed")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}
	key := RoutingKey(env.Meta.Type)
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("broker nacked %s", key)
	}
	p.logger.Info("published", slog.String("key", key), slog.String("exchange", p.exchange))
	return nil
}

// Close closes the underlying connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

func publishing(env Envelope) (amqp.Publishing, error) {
	if env.Meta.ID == "" {
		return amqp.Publishing{}, errors.New("envelope meta id is required")
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         env.Meta.Producer,
		Body:          body,
	}, nil
}

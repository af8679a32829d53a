package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers one event envelope.
type Notifier interface {
	Notify(ctx context.Context, env Envelope) error
}

// Nop drops every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Envelope) error { return nil }

// Multi fans an event out to every notifier, joining their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, env Envelope) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type correlationKey struct{}

// WithCorrelationID stores the request ID events emitted under ctx carry.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Service builds envelopes and hands them to a Notifier. Delivery failures are logged,
// never returned: a failed notification must not fail the request that caused it.
type Service struct {
	notifier Notifier
	producer string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService returns a Service over n; a nil n drops events.
func NewService(log *slog.Logger, n Notifier) *Service {
	if n == nil {
		n = Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		notifier: n,
		producer: DefaultProducer,
		logger:   log.With(slog.String("service", "notify")),
		now:      time.Now,
	}
}

// Envelope wraps data in a new envelope of the given type.
func (s *Service) Envelope(ctx context.Context, eventType string, data any) Envelope {
	id := uuid.NewString()
	cid := correlationID(ctx)
	if cid == "" {
		cid = id
	}
	return Envelope{
		Meta: Meta{
			ID:            id,
			CorrelationID: cid,
			Producer:      s.producer,
			Time:          s.now().UTC(),
			Type:          eventType,
		},
		Data: data,
	}
}

// Emit delivers an event of the given type.
func (s *Service) Emit(ctx context.Context, eventType string, data any) {
	if s == nil {
		return
	}
	env := s.Envelope(ctx, eventType, data)
	if err := s.notifier.Notify(ctx, env); err != nil {
		s.logger.Warn("notify failed",
			slog.String("type", eventType),
			slog.String("id", env.Meta.ID),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Debug("notified", slog.String("type", eventType), slog.String("id", env.Meta.ID))
}

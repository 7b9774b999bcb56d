package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
)

// Producer is the slice of *kafka.Producer the Bus needs.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
	Close() error
}

// Bus publishes events to the topic registered for their kind. Messages are
// keyed by TraceId so all events of one chain land on the same partition.
type Bus struct {
	routes  map[events.Kind]Producer
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBus creates a Bus over explicit kind-to-producer routes. Every publish
// is bounded by timeout.
func NewBus(routes map[events.Kind]Producer, timeout time.Duration, m *metrics.Metrics) *Bus {
	return &Bus{
		routes:  routes,
		timeout: timeout,
		metrics: m,
		logger:  slog.Default().With("component", "event-bus"),
	}
}

// NewKafkaBus creates a Bus with one Kafka producer per configured topic.
func NewKafkaBus(cfg config.KafkaConfig, timeout time.Duration, m *metrics.Metrics) *Bus {
	routes := map[events.Kind]Producer{
		events.KindReportRequested:     kafka.NewProducer(cfg, cfg.Topics.ReportRequested),
		events.KindReportReady:         kafka.NewProducer(cfg, cfg.Topics.ReportReady),
		events.KindDocumentSaveRequest: kafka.NewProducer(cfg, cfg.Topics.DocumentSave),
		events.KindReportIsHere:        kafka.NewProducer(cfg, cfg.Topics.ReportIsHere),
		events.KindReportFailed:        kafka.NewProducer(cfg, cfg.Topics.DeadLetter),
	}
	return NewBus(routes, timeout, m)
}

// PublishEvent wraps ev in an envelope and publishes it.
func (b *Bus) PublishEvent(ctx context.Context, ev events.Event) error {
	env, err := events.Wrap(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrPublish, err)
	}
	return b.PublishEnvelope(ctx, env)
}

// PublishEnvelope publishes an already wrapped event. The outbox relay uses
// it to forward staged envelopes unchanged.
func (b *Bus) PublishEnvelope(ctx context.Context, env events.Envelope) error {
	producer, ok := b.routes[env.Kind]
	if !ok {
		return apperrors.Newf(apperrors.ErrPublish, 500, "no topic routed for %s", env.Kind)
	}
	err := resilience.WithTimeout(ctx, b.timeout, "publish "+string(env.Kind), func(ctx context.Context) error {
		return producer.Publish(ctx, kafka.Event{
			Key:     env.TraceID,
			Value:   env,
			Headers: map[string]string{"kind": string(env.Kind)},
		})
	})
	if err != nil {
		b.metrics.EventsPublishedTotal.WithLabelValues(string(env.Kind), "error").Inc()
		b.logger.Error("event publish failed",
			"kind", env.Kind,
			"trace_id", env.TraceID,
			"error", err,
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w: %w", apperrors.ErrPublish, apperrors.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrPublish, err)
	}
	b.metrics.EventsPublishedTotal.WithLabelValues(string(env.Kind), "ok").Inc()
	b.logger.Debug("event published", "kind", env.Kind, "trace_id", env.TraceID)
	return nil
}

// Close closes every producer, returning the first error.
func (b *Bus) Close() error {
	var first error
	for kind, p := range b.routes {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing producer for %s: %w", kind, err)
		}
	}
	return first
}

var _ Publisher = (*Bus)(nil)

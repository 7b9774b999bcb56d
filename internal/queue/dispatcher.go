package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/idempotency"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/tracing"
)

// Options configures a Dispatcher. Guard and DeadLetter may be nil, which
// disables duplicate detection and dead-lettering respectively.
type Options struct {
	Guard      idempotency.Guard
	DeadLetter Publisher
	Metrics    *metrics.Metrics
	Retry      resilience.RetryConfig
	LogSpans   bool
}

// Dispatcher maps event kinds to exactly one Executer each.
type Dispatcher struct {
	executers map[events.Kind]Executer
	opts      Options
	logger    *slog.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	return &Dispatcher{
		executers: make(map[events.Kind]Executer),
		opts:      opts,
		logger:    slog.Default().With("component", "dispatcher"),
	}
}

// Register binds ex to kind. Registering a kind twice is a wiring bug and
// panics.
func (d *Dispatcher) Register(kind events.Kind, ex Executer) {
	if ex == nil {
		panic(fmt.Sprintf("queue: nil executer for %s", kind))
	}
	if _, exists := d.executers[kind]; exists {
		panic(fmt.Sprintf("queue: executer for %s registered twice", kind))
	}
	d.executers[kind] = ex
}

// Kinds returns the registered event kinds.
func (d *Dispatcher) Kinds() []events.Kind {
	kinds := make([]events.Kind, 0, len(d.executers))
	for k := range d.executers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Handler returns a kafka.MessageHandler feeding deliveries into Dispatch.
// Undecodable messages are logged and dropped; a returned error leaves the
// message uncommitted so the consumer redelivers it.
func (d *Dispatcher) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		env, err := kafka.DecodeJSON[events.Envelope](value)
		if err != nil || env.Kind == "" {
			d.logger.Error("dropping undecodable message",
				"key", string(key),
				"error", err,
			)
			return nil
		}
		_, err = d.Dispatch(ctx, env)
		return err
	}
}

// Dispatch runs the executer registered for env.Kind. The returned error is
// reserved for infrastructure faults (idempotency store, dead-letter publish)
// that must cause redelivery; stage failures are reported in the response.
func (d *Dispatcher) Dispatch(ctx context.Context, env events.Envelope) (report.BusinessResponse, error) {
	ctx = logger.WithTraceID(ctx, env.TraceID)
	ctx, span := tracing.StartSpan(ctx, string(env.Kind), env.TraceID)
	log := logger.FromContext(ctx).With("kind", env.Kind)
	start := time.Now()

	resp, err := d.dispatch(ctx, env, log)

	d.opts.Metrics.EventExecutionDuration.WithLabelValues(string(env.Kind)).Observe(time.Since(start).Seconds())
	d.opts.Metrics.EventsConsumedTotal.WithLabelValues(string(env.Kind), resp.StatusCode.String()).Inc()
	span.SetAttr("status", resp.StatusCode.String())
	span.Finish(resp.Err)
	if d.opts.LogSpans {
		span.Log()
	}
	return resp, err
}

func (d *Dispatcher) dispatch(ctx context.Context, env events.Envelope, log *slog.Logger) (report.BusinessResponse, error) {
	ex, ok := d.executers[env.Kind]
	if !ok {
		ex = Unimplemented(env.Kind)
	}

	guarded := d.opts.Guard != nil && env.TraceID != ""
	if guarded {
		state, err := d.opts.Guard.Claim(ctx, env.Kind, env.TraceID)
		if err != nil {
			return report.Failed(err, "idempotency check failed"), err
		}
		switch state {
		case idempotency.Processed:
			d.opts.Metrics.DuplicateEventsTotal.WithLabelValues(string(env.Kind)).Inc()
			log.Info("duplicate delivery skipped", "state", state.String())
			return report.BusinessResponse{
				StatusCode: report.Success,
				Message:    fmt.Sprintf("duplicate %s ignored", env.Kind),
				Err:        apperrors.ErrDuplicateEvent,
			}, nil
		case idempotency.InFlight:
			// The holder may have died; leave the message uncommitted until its
			// lease expires or it completes.
			err := fmt.Errorf("%w: %s for trace %s", apperrors.ErrEventInFlight, env.Kind, env.TraceID)
			log.Warn("delivery held by another claim", "state", state.String())
			return report.Failed(err, "event is being processed elsewhere"), err
		}
	}

	resp, attempts := d.execute(ctx, ex, env)
	if resp.StatusCode.Succeeded() {
		if guarded {
			if err := d.opts.Guard.Complete(ctx, env.Kind, env.TraceID); err != nil {
				log.Warn("failed to mark event processed", "error", err)
			}
		}
		log.Info("event executed", "status", resp.StatusCode.String(), "message", resp.Message, "attempts", attempts)
		return resp, nil
	}

	log.Error("event execution failed",
		"status", resp.StatusCode.String(),
		"message", resp.Message,
		"attempts", attempts,
		"error", resp.Err,
	)
	if guarded {
		if err := d.opts.Guard.Release(ctx, env.Kind, env.TraceID); err != nil {
			log.Warn("failed to release idempotency claim", "error", err)
		}
	}
	if err := d.deadLetter(ctx, env, resp, attempts); err != nil {
		return resp, err
	}
	return resp, nil
}

// execute runs ex, retrying Fail responses whose cause is retryable.
func (d *Dispatcher) execute(ctx context.Context, ex Executer, env events.Envelope) (report.BusinessResponse, int) {
	var resp report.BusinessResponse
	attempts := 0
	_ = resilience.Retry(ctx, "execute "+string(env.Kind), d.opts.Retry, func() error {
		attempts++
		resp = ex.Execute(ctx, env)
		if resp.StatusCode.Succeeded() {
			return nil
		}
		cause := resp.Err
		if cause == nil {
			cause = errors.New(resp.Message)
		}
		if !apperrors.Retryable(cause) {
			return resilience.Permanent(cause)
		}
		return cause
	})
	return resp, attempts
}

// deadLetter publishes the compensating ReportFailedEvent for a chain that
// stopped at env's stage. Failures of the dead-letter stage itself are only
// logged, never re-dead-lettered.
func (d *Dispatcher) deadLetter(ctx context.Context, env events.Envelope, resp report.BusinessResponse, attempts int) error {
	if d.opts.DeadLetter == nil || env.Kind == events.KindReportFailed {
		return nil
	}
	failed := events.ReportFailedEvent{
		TraceID:    env.TraceID,
		DocumentID: events.DocumentIDOf(env),
		Stage:      env.Kind,
		Reason:     resp.Message,
		Attempts:   attempts,
		Payload:    env.Payload,
		Time:       time.Now().UTC(),
	}
	if env.Kind == events.KindDocumentSaveRequest {
		// Document bytes are already staged; keep dead letters small.
		failed.Payload = nil
	}
	if err := d.opts.DeadLetter.PublishEvent(ctx, failed); err != nil {
		return fmt.Errorf("dead-lettering %s for trace %s: %w", env.Kind, env.TraceID, err)
	}
	d.opts.Metrics.DeadLetteredTotal.WithLabelValues(string(env.Kind)).Inc()
	return nil
}

package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
)

// EnvelopePublisher forwards an already wrapped event to the broker.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, env events.Envelope) error
}

// RelayConfig tunes the relay loop. Zero values fall back to defaults.
type RelayConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
	// RetryBackoff is the wait after the first failed publish. It doubles
	// with every further failure, capped at MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Relay drains the outbox into the broker. A record that exhausts its
// retries is moved aside and a ReportFailedEvent for its chain is staged in
// its place, so the chain still reaches a terminal event.
type Relay struct {
	repo      Repository
	publisher EnvelopePublisher
	failures  *Publisher
	cfg       RelayConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewRelay(repo Repository, pub EnvelopePublisher, cfg RelayConfig, m *metrics.Metrics) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 12
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Relay{
		repo:      repo,
		publisher: pub,
		failures:  NewPublisher(repo),
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "outbox-relay"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run processes batches every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox iteration failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and forwards it. It returns the number of
// records published.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	claimToken := uuid.NewString()
	start := r.now()
	records, err := r.repo.ClaimUnpublished(ctx, r.cfg.BatchSize, claimToken, start, start.Add(r.cfg.ClaimTTL))
	if err != nil {
		return 0, err
	}

	published, failed, deadLettered := 0, 0, 0
	for _, rec := range records {
		now := r.now()
		log := r.logger.With("outbox_id", rec.ID, "kind", rec.Kind, "trace_id", rec.TraceID)

		env, err := rec.Decode()
		if err != nil {
			deadLettered++
			log.Error("undecodable outbox record moved aside", "error", err)
			if cerr := r.compensate(ctx, rec, events.Envelope{}, err.Error(), now); cerr != nil {
				log.Error("failed to stage failure event", "error", cerr)
			}
			r.mark(ctx, log, r.repo.MarkDeadLettered(ctx, rec.ID, claimToken, err.Error(), now))
			continue
		}

		if err := r.publisher.PublishEnvelope(ctx, env); err != nil {
			failed++
			attempts := rec.RetryCount + 1
			if attempts >= r.cfg.MaxRetries {
				if cerr := r.compensate(ctx, rec, env, err.Error(), now); cerr != nil {
					log.Error("failed to stage failure event; record kept", "error", cerr)
					r.mark(ctx, log, r.repo.MarkFailed(ctx, rec.ID, claimToken, err.Error(), now, now.Add(r.cfg.MaxBackoff)))
					continue
				}
				deadLettered++
				log.Error("outbox record exhausted retries", "retry_count", attempts, "error", err)
				r.mark(ctx, log, r.repo.MarkDeadLettered(ctx, rec.ID, claimToken, err.Error(), now))
				continue
			}
			retryAt := now.Add(r.backoff(attempts))
			log.Warn("outbox publish failed; retry scheduled", "retry_count", attempts, "retry_at", retryAt, "error", err)
			r.mark(ctx, log, r.repo.MarkFailed(ctx, rec.ID, claimToken, err.Error(), now, retryAt))
			continue
		}
		published++
		r.mark(ctx, log, r.repo.MarkPublished(ctx, rec.ID, claimToken, now))
	}

	if pending, err := r.repo.CountPending(ctx); err == nil {
		r.metrics.OutboxPending.Set(float64(pending))
	}
	if len(records) > 0 {
		r.logger.Info("outbox batch processed",
			"batch_size", len(records),
			"published", published,
			"failed", failed,
			"dead_lettered", deadLettered,
		)
	}
	return published, nil
}

// backoff returns the wait before retry number attempts+1.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.RetryBackoff
	for i := 1; i < attempts && d < r.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, r.cfg.MaxBackoff)
}

// compensate stages the ReportFailedEvent owed for a record that will never
// be relayed. Failure events themselves and records without a trace are not
// compensated.
func (r *Relay) compensate(ctx context.Context, rec Record, env events.Envelope, reason string, now time.Time) error {
	if rec.Kind == events.KindReportFailed || rec.TraceID == "" {
		return nil
	}
	failed := events.ReportFailedEvent{
		TraceID:    rec.TraceID,
		DocumentID: events.DocumentIDOf(env),
		Stage:      rec.Kind,
		Reason:     fmt.Sprintf("relaying %s: %s", rec.Kind, reason),
		Attempts:   rec.RetryCount + 1,
		Time:       now,
	}
	return r.failures.PublishEvent(ctx, failed)
}

func (r *Relay) mark(ctx context.Context, log *slog.Logger, err error) {
	if err != nil && ctx.Err() == nil {
		log.Warn("failed to update outbox record", "error", err)
	}
}

// Package outbox stages outgoing events in PostgreSQL so that a stage can
// record "write happened, event owed" in one durable step. A Relay forwards
// staged envelopes to the broker and marks them published.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// Record is one staged envelope.
type Record struct {
	ID         uuid.UUID
	Kind       events.Kind
	TraceID    string
	Envelope   []byte
	RetryCount int
	LastError  string
	CreatedAt  time.Time
}

// Decode returns the staged envelope.
func (r Record) Decode() (events.Envelope, error) {
	return events.DecodeEnvelope(r.Envelope)
}

// Repository is the durable side of the outbox.
type Repository interface {
	Enqueue(ctx context.Context, rec Record) error
	// ClaimUnpublished leases up to limit pending records to claimToken
	// until claimUntil. Records leased by another relay, or waiting out a
	// retry backoff past now, are skipped.
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, now, claimUntil time.Time) ([]Record, error)
	MarkPublished(ctx context.Context, id uuid.UUID, claimToken string, at time.Time) error
	// MarkFailed counts a failed publish and hides the record until retryAt.
	MarkFailed(ctx context.Context, id uuid.UUID, claimToken, reason string, at, retryAt time.Time) error
	MarkDeadLettered(ctx context.Context, id uuid.UUID, claimToken, reason string, at time.Time) error
	CountPending(ctx context.Context) (int, error)
}

// Publisher implements queue.Publisher by enqueuing into the outbox. A nil
// error means the event is durably owed, not yet delivered.
type Publisher struct {
	repo Repository
	now  func() time.Time
}

func NewPublisher(repo Repository) *Publisher {
	return &Publisher{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Publisher) PublishEvent(ctx context.Context, ev events.Event) error {
	env, err := events.Wrap(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrPublish, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %w", apperrors.ErrPublish, err)
	}
	rec := Record{
		ID:        uuid.New(),
		Kind:      env.Kind,
		TraceID:   env.TraceID,
		Envelope:  raw,
		CreatedAt: p.now(),
	}
	if err := p.repo.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("%w: staging %s in outbox: %w", apperrors.ErrPublish, env.Kind, err)
	}
	return nil
}

var _ queue.Publisher = (*Publisher)(nil)

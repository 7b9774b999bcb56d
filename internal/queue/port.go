// Package queue is the pipeline's port onto the message broker. Producers
// depend on Publisher; consumers register one Executer per event kind with a
// Dispatcher, which turns queue deliveries into executer calls with
// idempotency, retries and dead-lettering applied uniformly.
package queue

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// Publisher enqueues an event. A nil error means the event is durably
// accepted; nothing ties a reply back to the publisher.
type Publisher interface {
	PublishEvent(ctx context.Context, ev events.Event) error
}

// Executer handles one delivered event and resolves it to a BusinessResponse.
type Executer interface {
	Execute(ctx context.Context, env events.Envelope) report.BusinessResponse
}

// ExecuterFunc adapts a function to Executer.
type ExecuterFunc func(ctx context.Context, env events.Envelope) report.BusinessResponse

func (f ExecuterFunc) Execute(ctx context.Context, env events.Envelope) report.BusinessResponse {
	return f(ctx, env)
}

// Typed adapts a handler of a concrete event type to Executer. The envelope
// payload is decoded and validated before fn runs; a payload that does not
// decode resolves to ValidationErrors without calling fn.
func Typed[T events.Event](fn func(ctx context.Context, ev T) report.BusinessResponse) Executer {
	return ExecuterFunc(func(ctx context.Context, env events.Envelope) report.BusinessResponse {
		ev, err := events.Unwrap[T](env)
		if err != nil {
			return report.Failed(err, err.Error())
		}
		return fn(ctx, ev)
	})
}

// Unimplemented is the executer bound to a kind that has no behaviour yet.
// It fails every delivery with ErrUnimplemented instead of crashing, so a
// chain with stub stages can still run end to end.
func Unimplemented(kind events.Kind) Executer {
	return ExecuterFunc(func(ctx context.Context, env events.Envelope) report.BusinessResponse {
		err := apperrors.Newf(apperrors.ErrUnimplemented, 501, "no executer for %s", kind)
		return report.Failed(err, err.Error())
	})
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev events.Event) error

func (f PublisherFunc) PublishEvent(ctx context.Context, ev events.Event) error {
	return f(ctx, ev)
}

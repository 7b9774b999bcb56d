package queue

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/idempotency"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
)

const testTraceID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// memoryGuard is an in-process idempotency.Guard.
type memoryGuard struct {
	mu       sync.Mutex
	states   map[string]idempotency.State
	claimErr error
	released int
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{states: make(map[string]idempotency.State)}
}

func (g *memoryGuard) Claim(_ context.Context, kind events.Kind, traceID string) (idempotency.State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimErr != nil {
		return idempotency.Claimed, g.claimErr
	}
	key := idempotency.Key(kind, traceID)
	if s, ok := g.states[key]; ok {
		return s, nil
	}
	g.states[key] = idempotency.InFlight
	return idempotency.Claimed, nil
}

func (g *memoryGuard) Complete(_ context.Context, kind events.Kind, traceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[idempotency.Key(kind, traceID)] = idempotency.Processed
	return nil
}

func (g *memoryGuard) Release(_ context.Context, kind events.Kind, traceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, idempotency.Key(kind, traceID))
	g.released++
	return nil
}

// fakeProducer records kafka events handed to it by the Bus.
type fakeProducer struct {
	mu     sync.Mutex
	sent   []kafka.Event
	err    error
	closed bool
}

func (p *fakeProducer) Publish(_ context.Context, ev kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, ev)
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

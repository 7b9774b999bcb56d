// Package idempotency keeps executers from acting twice on the same event.
// A delivery first claims the key (event kind, TraceId) for a short lease;
// success turns the claim into a processed marker that lives for the dedup
// window, failure releases it so a redelivery can try again.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/redis"
)

const keyPrefix = "dedup:"

const (
	valueProcessing = "processing"
	valueDone       = "done"
)

// State is the outcome of a claim attempt.
type State int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed State = iota
	// Processed means the event was already handled inside the dedup window.
	Processed
	// InFlight means another delivery currently holds the claim.
	InFlight
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Processed:
		return "processed"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Guard is the port the dispatcher uses for duplicate detection.
type Guard interface {
	Claim(ctx context.Context, kind events.Kind, traceID string) (State, error)
	Complete(ctx context.Context, kind events.Kind, traceID string) error
	Release(ctx context.Context, kind events.Kind, traceID string) error
}

// RedisGuard implements Guard on Redis SETNX with expiring keys.
type RedisGuard struct {
	client *pkgredis.Client
	lease  time.Duration
	window time.Duration
	logger *slog.Logger
}

// NewRedisGuard creates a guard whose claims expire after lease and whose
// processed markers expire after window.
func NewRedisGuard(client *pkgredis.Client, lease, window time.Duration) *RedisGuard {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &RedisGuard{
		client: client,
		lease:  lease,
		window: window,
		logger: slog.Default().With("component", "idempotency-guard"),
	}
}

func (g *RedisGuard) Claim(ctx context.Context, kind events.Kind, traceID string) (State, error) {
	key := Key(kind, traceID)
	ok, err := g.client.SetNX(ctx, key, valueProcessing, g.lease)
	if err != nil {
		return Claimed, fmt.Errorf("claiming %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}
	val, err := g.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			// The claim expired between SETNX and GET; try once more.
			ok, err = g.client.SetNX(ctx, key, valueProcessing, g.lease)
			if err != nil {
				return Claimed, fmt.Errorf("claiming %s: %w", key, err)
			}
			if ok {
				return Claimed, nil
			}
			return InFlight, nil
		}
		return Claimed, fmt.Errorf("reading claim %s: %w", key, err)
	}
	if val == valueDone {
		return Processed, nil
	}
	return InFlight, nil
}

func (g *RedisGuard) Complete(ctx context.Context, kind events.Kind, traceID string) error {
	key := Key(kind, traceID)
	if err := g.client.Set(ctx, key, valueDone, g.window); err != nil {
		return fmt.Errorf("marking %s processed: %w", key, err)
	}
	g.logger.Debug("event marked processed", "key", key, "window", g.window)
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, kind events.Kind, traceID string) error {
	key := Key(kind, traceID)
	if err := g.client.Del(ctx, key); err != nil {
		return fmt.Errorf("releasing %s: %w", key, err)
	}
	return nil
}

// Key returns the Redis key guarding one event of one chain.
func Key(kind events.Kind, traceID string) string {
	return keyPrefix + string(kind) + ":" + traceID
}

var _ Guard = (*RedisGuard)(nil)

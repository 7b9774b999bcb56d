// Package staging holds fetched document bytes between the fetch stage and
// the writer, so a redelivered ReportReadyEvent reuses the bytes it already
// fetched instead of producing a second, possibly different, copy.
package staging

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/redis"
)

const keyPrefix = "staging:"

// Area is the staging port used by the executers.
type Area interface {
	Stage(ctx context.Context, documentID string, content []byte) error
	Load(ctx context.Context, documentID string) ([]byte, bool, error)
	Discard(ctx context.Context, documentID string) error
}

// RedisArea stages documents as expiring Redis values.
type RedisArea struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisArea creates a RedisArea whose entries expire after ttl.
func NewRedisArea(client *pkgredis.Client, ttl time.Duration) *RedisArea {
	return &RedisArea{client: client, ttl: ttl}
}

func (a *RedisArea) Stage(ctx context.Context, documentID string, content []byte) error {
	if err := a.client.Set(ctx, keyPrefix+documentID, content, a.ttl); err != nil {
		return fmt.Errorf("staging document %s: %w", documentID, err)
	}
	return nil
}

func (a *RedisArea) Load(ctx context.Context, documentID string) ([]byte, bool, error) {
	data, err := a.client.GetBytes(ctx, keyPrefix+documentID)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading staged document %s: %w", documentID, err)
	}
	return data, true, nil
}

func (a *RedisArea) Discard(ctx context.Context, documentID string) error {
	if err := a.client.Del(ctx, keyPrefix+documentID); err != nil {
		return fmt.Errorf("discarding staged document %s: %w", documentID, err)
	}
	return nil
}

var _ Area = (*RedisArea)(nil)

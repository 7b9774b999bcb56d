// Package integration exercises several pipeline components wired together.
// Chain tests run fully in process (miniredis, httptest, a temp directory).
// Tests that need PostgreSQL skip when it is unreachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "reportpipeline_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "reportpipeline"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// loopback stands in for a Kafka topic: published messages are queued in
// memory and handed to a consumer handler by drain.
type loopback struct {
	mu       sync.Mutex
	messages []loopMessage
	topic    string
}

type loopMessage struct {
	key   []byte
	value []byte
}

func (l *loopback) Publish(_ context.Context, ev kafka.Event) error {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, loopMessage{key: []byte(ev.Key), value: value})
	return nil
}

func (l *loopback) Close() error { return nil }

func (l *loopback) pop() (loopMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return loopMessage{}, false
	}
	msg := l.messages[0]
	l.messages = l.messages[1:]
	return msg, true
}

func (l *loopback) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

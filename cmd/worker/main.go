// Command worker runs the consuming side of the report chain.
//
// One Kafka consumer per subscribed event kind feeds a shared dispatcher:
// ReportReadyEvent → GetReportDocument, DocumentSaveRequest → SaveDocument,
// and the terminal ReportIsHereEvent / ReportFailedEvent → notifier. The
// writer stages its follow-up events in the PostgreSQL outbox, drained to
// Kafka by the relay running alongside the consumers.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/executer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/idempotency"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/notifier"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/outbox"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/writer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting worker service",
		"storage_driver", cfg.Storage.Driver,
		"file_service_url", cfg.Upstream.FileServiceURL,
		"consumer_group", cfg.Kafka.ConsumerGroup,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("worker", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	rc, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rc.Close()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx, append(outbox.Schema, tracker.Schema...)...); err != nil {
		slog.Error("failed to prepare schema", "error", err)
		os.Exit(1)
	}

	st, err := store.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}

	bus := queue.NewKafkaBus(cfg.Kafka, cfg.Pipeline.PublishTimeout, m)
	defer bus.Close()

	outboxRepo := outbox.NewPostgresRepository(db.DB)
	area := staging.NewRedisArea(rc, cfg.Pipeline.StagingTTL)

	dispatcher := queue.NewDispatcher(queue.Options{
		Guard:      idempotency.NewRedisGuard(rc, cfg.Pipeline.ClaimLease, cfg.Pipeline.DedupWindow),
		DeadLetter: bus,
		Metrics:    m,
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Pipeline.MaxAttempts,
			InitialDelay: cfg.Pipeline.RetryDelay,
			MaxDelay:     10 * cfg.Pipeline.RetryDelay,
		},
		LogSpans: cfg.Tracing.Enabled,
	})

	getDocument := executer.NewGetReportDocument(
		fetcher.New(cfg.Upstream.FileServiceURL, cfg.Pipeline.FetchTimeout, m),
		area,
		bus,
		m,
	).WithInlineLimit(cfg.Pipeline.InlineContentLimit)
	saveDocument := executer.NewSaveDocument(
		writer.New(st, outbox.NewPublisher(outboxRepo), m, cfg.Pipeline.WriteTimeout),
		area,
	)
	dispatcher.Register(events.KindReportReady, getDocument.Executer())
	dispatcher.Register(events.KindDocumentSaveRequest, saveDocument.Executer())
	notifier.New(tracker.NewPostgresRepository(db.DB)).Register(dispatcher)

	topics := map[events.Kind]string{
		events.KindReportReady:         cfg.Kafka.Topics.ReportReady,
		events.KindDocumentSaveRequest: cfg.Kafka.Topics.DocumentSave,
		events.KindReportIsHere:        cfg.Kafka.Topics.ReportIsHere,
		events.KindReportFailed:        cfg.Kafka.Topics.DeadLetter,
	}

	checker := health.NewChecker("worker", cfg.Server.HealthTimeout)
	checker.Register("redis", health.PingCheck(rc.Ping))
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("store", health.PingCheck(st.Ping))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))
	// Ten relay batches behind is degraded, not down; the relay drains it.
	checker.RegisterOptional("outbox", health.BacklogCheck(outboxRepo.CountPending, 10*cfg.Pipeline.OutboxBatchSize))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	handler := dispatcher.Handler()
	for _, kind := range dispatcher.Kinds() {
		topic, ok := topics[kind]
		if !ok {
			slog.Warn("no topic configured for event kind", "kind", kind)
			continue
		}
		consumer := kafka.NewConsumer(cfg.Kafka, topic, handler)
		slog.Info("consuming", "kind", kind, "topic", topic, "group", kafka.GroupID(cfg.Kafka.ConsumerGroup, topic))
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	relay := outbox.NewRelay(outboxRepo, bus, outbox.RelayConfig{
		Interval:     cfg.Pipeline.OutboxInterval,
		BatchSize:    cfg.Pipeline.OutboxBatchSize,
		MaxRetries:   cfg.Pipeline.OutboxMaxRetries,
		RetryBackoff: cfg.Pipeline.OutboxRetryBackoff,
		MaxBackoff:   cfg.Pipeline.OutboxMaxBackoff,
	}, m)
	g.Go(func() error {
		return relay.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("worker health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("worker service ready", "kinds", len(dispatcher.Kinds()))
	if err := g.Wait(); err != nil {
		slog.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker service stopped")
}

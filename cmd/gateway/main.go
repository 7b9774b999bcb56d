// Command gateway starts the report ingress.
//
// The gateway validates report requests, optionally checks the expression
// with the evaluation service, stamps each request with a
// ReferenceDocumentId and publishes ReportRequestedEvent. Accepted requests
// are tracked in PostgreSQL so clients can poll GET /reports/{traceId}.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/evaluator"
	gwhandler "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/postgres"
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
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"eval_url", cfg.Upstream.EvalURL,
		"topic", cfg.Kafka.Topics.ReportRequested,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("gateway", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background(), tracker.Schema...); err != nil {
		slog.Error("failed to prepare tracker schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	bus := queue.NewKafkaBus(cfg.Kafka, cfg.Pipeline.PublishTimeout, m)
	defer bus.Close()

	var expressions gwhandler.ExpressionValidator
	if cfg.Upstream.EvalURL != "" {
		expressions = evaluator.New(cfg.Upstream.EvalURL, cfg.Gateway.RequestTimeout)
	} else {
		slog.Warn("expression validation disabled, no eval url configured")
	}

	checker := health.NewChecker("gateway", cfg.Server.HealthTimeout)
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))

	limiter := ratelimit.New(cfg.Gateway.RateLimit, cfg.Gateway.RateLimitWindow)
	defer limiter.Stop()

	proxies, err := gwmw.ParseProxies(cfg.Gateway.TrustedProxies)
	if err != nil {
		slog.Error("invalid gateway config", "error", err)
		os.Exit(1)
	}

	h := gwhandler.New(bus, tracker.NewPostgresRepository(db.DB), expressions, m)
	chain := router.New(h, router.Options{
		Limiter:        limiter,
		Metrics:        m,
		Checker:        checker,
		AllowOrigins:   cfg.Gateway.AllowOrigins,
		Timeout:        cfg.Gateway.RequestTimeout,
		TrustedProxies: proxies,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway service stopped")
}

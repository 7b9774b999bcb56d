// Command reader starts the External Reader Service.
//
// The Reporting App calls POST /api/v1/reports/ready when a report document
// is ready upstream; the reader publishes ReportReadyEvent so the worker can
// fetch and persist it.
//
// Usage:
//
//	go run ./cmd/reader [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/reader"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/middleware"
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
	slog.Info("starting reader service", "port", cfg.Gateway.ReaderPort, "topic", cfg.Kafka.Topics.ReportReady)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("reader", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	bus := queue.NewKafkaBus(cfg.Kafka, cfg.Pipeline.PublishTimeout, m)
	defer bus.Close()

	checker := health.NewChecker("reader", cfg.Server.HealthTimeout)
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))

	h := reader.New(bus)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.ReaderPort),
		Handler:      pkgmw.Metrics(m)(h.Routes(checker)),
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

	slog.Info("reader service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("reader service stopped")
}

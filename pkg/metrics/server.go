package metrics

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"
)

// StartServer serves /metrics for service on its own port so scrapes never
// compete with pipeline traffic. The returned func stops the listener.
func StartServer(service string, port int) (shutdown func(context.Context) error) {
	logger := slog.Default().With("component", "metrics", "service", service)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           serverMux(service),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return server.Shutdown
}

func serverMux(service string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><h1>report pipeline: %s</h1><p><a href="/metrics">/metrics</a></p></body></html>`,
			html.EscapeString(service))
	})
	return mux
}

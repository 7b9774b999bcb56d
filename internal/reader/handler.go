// Package reader is the External Reader Service: the Reporting App calls it
// when an upstream report is ready, and it raises ReportReadyEvent onto the
// queue to start retrieval.
package reader

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/middleware"
)

// ReadyRequest is the readiness callback payload.
type ReadyRequest struct {
	TraceID    string `json:"TraceId"`
	DocumentID string `json:"DocumentId"`
}

type Handler struct {
	publisher queue.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

func New(pub queue.Publisher) *Handler {
	return &Handler{
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "reader-handler"),
	}
}

// Routes returns the reader's HTTP handler.
func (h *Handler) Routes(checker *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/reports/ready", h.ReportReady)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "reader"})
	})
	if checker != nil {
		mux.HandleFunc("GET /health/live", checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	}
	return pkgmw.RequestID(mux)
}

// ReportReady handles POST /api/v1/reports/ready.
func (h *Handler) ReportReady(w http.ResponseWriter, r *http.Request) {
	var req ReadyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev := events.ReportReadyEvent{
		TraceID:    req.TraceID,
		DocumentID: req.DocumentID,
		Time:       h.now(),
	}
	if err := ev.Validate(); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			h.writeError(w, http.StatusBadRequest, appErr.Message)
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := logger.WithTraceID(r.Context(), ev.TraceID)
	log := logger.FromContext(ctx)
	if err := h.publisher.PublishEvent(ctx, ev); err != nil {
		log.Error("report ready publish failed", "doc_id", ev.DocumentID, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "report ready event could not be queued")
		return
	}
	log.Info("report ready event queued", "doc_id", ev.DocumentID)
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"Status":     report.ReportReady,
		"TraceId":    ev.TraceID,
		"DocumentId": ev.DocumentID,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

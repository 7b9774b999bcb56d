// Package handler implements the report ingress: it validates report
// requests, stamps them with a ReferenceDocumentId, hands them to the
// pipeline and answers synchronously. It also serves chain status by TraceId.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/validator"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/tracker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
)

const (
	validationTitle    = "One or more validation errors occurred."
	validationType     = "https://tools.ietf.org/html/rfc9110#section-15.5.1"
	explanationOK      = "Report request received successfully."
	explanationInvalid = "Expression is not valid."
)

// ExpressionValidator checks a report expression with the evaluation service.
type ExpressionValidator interface {
	ValidateExpression(ctx context.Context, expression string) (bool, error)
}

// CreateReportResponse is the synchronous acknowledgement of a request.
type CreateReportResponse struct {
	Status      report.StatusCode `json:"Status"`
	DocumentID  string            `json:"DocumentId,omitempty"`
	Explanation string            `json:"Explanation"`
}

type validationProblem struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Errors map[string][]string `json:"errors"`
}

// Handler serves the gateway endpoints. Tracker and Expressions are
// optional.
type Handler struct {
	publisher   queue.Publisher
	tracker     tracker.Repository
	expressions ExpressionValidator
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      *slog.Logger
}

func New(pub queue.Publisher, repo tracker.Repository, expr ExpressionValidator, m *metrics.Metrics) *Handler {
	return &Handler{
		publisher:   pub,
		tracker:     repo,
		expressions: expr,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default().With("component", "gateway-handler"),
	}
}

// CreateReport handles POST /.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req validator.CreateReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.countRequest("bad_request")
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	log.Info("report requested", "trace_id", req.TraceID, "title", req.Title, "expression", req.Expression)

	if err := validator.Validate(&req); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			h.countRequest("validation_failed")
			h.writeJSON(w, http.StatusBadRequest, validationProblem{
				Type:   validationType,
				Title:  validationTitle,
				Status: http.StatusBadRequest,
				Errors: verr.Fields,
			})
			return
		}
		h.countRequest("validation_failed")
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := report.ValidateTraceID(req.TraceID); err != nil {
		log.Warn("rejected request with malformed trace id", "trace_id", req.TraceID)
		h.countRequest("invalid_trace_id")
		h.writeError(w, http.StatusBadRequest, report.MsgInvalidTraceID)
		return
	}
	ctx = logger.WithTraceID(ctx, req.TraceID)
	log = logger.FromContext(ctx)

	if h.expressions != nil {
		valid, err := h.expressions.ValidateExpression(ctx, req.Expression)
		if err != nil {
			log.Error("expression check failed", "error", err)
			h.countRequest("error")
			h.writeJSON(w, apperrors.HTTPStatusCode(err), CreateReportResponse{
				Status:      report.Fail,
				Explanation: "Expression could not be checked.",
			})
			return
		}
		if !valid {
			h.countRequest("invalid_expression")
			h.writeJSON(w, http.StatusBadRequest, CreateReportResponse{
				Status:      report.InvalidExpression,
				Explanation: explanationInvalid,
			})
			return
		}
	}

	refDocID, err := report.NewReferenceDocumentId()
	if err != nil {
		log.Error("minting reference document id failed", "error", err)
		h.countRequest("error")
		h.writeError(w, http.StatusInternalServerError, "could not stamp request")
		return
	}
	docID := refDocID.String()
	log.Info("created reference document id", "doc_id", docID)

	err = h.publisher.PublishEvent(ctx, events.ReportRequestedEvent{
		TraceID:    req.TraceID,
		DocumentID: docID,
		Title:      req.Title,
		Expression: req.Expression,
		Time:       h.now(),
	})
	if err != nil {
		log.Error("report request publish failed", "error", err)
		h.countRequest("error")
		h.writeJSON(w, apperrors.HTTPStatusCode(err), CreateReportResponse{
			Status:      report.Fail,
			Explanation: "Report request could not be queued.",
		})
		return
	}

	if h.tracker != nil {
		rec := tracker.Record{
			TraceID:     req.TraceID,
			ReferenceID: docID,
			Status:      tracker.StatusAccepted,
			Stage:       string(events.KindReportRequested),
			UpdatedAt:   h.now(),
		}
		if err := h.tracker.Upsert(ctx, rec); err != nil {
			log.Warn("failed to track accepted request", "error", err)
		}
	}

	h.countRequest("accepted")
	h.writeJSON(w, http.StatusOK, CreateReportResponse{
		Status:      report.Success,
		DocumentID:  docID,
		Explanation: explanationOK,
	})
}

// GetReportStatus handles GET /reports/{traceId}.
func (h *Handler) GetReportStatus(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("traceId")
	if err := report.ValidateTraceID(traceID); err != nil {
		h.writeError(w, http.StatusBadRequest, report.MsgInvalidTraceID)
		return
	}
	if h.tracker == nil {
		h.writeError(w, http.StatusNotImplemented, "status tracking is disabled")
		return
	}
	rec, err := h.tracker.Get(r.Context(), traceID)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("status lookup failed", "trace_id", traceID, "error", err)
			h.writeError(w, status, "status lookup failed")
			return
		}
		h.writeError(w, status, "no report tracked for this TraceId")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gateway"})
}

func (h *Handler) countRequest(status string) {
	if h.metrics != nil {
		h.metrics.ReportRequestsTotal.WithLabelValues(status).Inc()
	}
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

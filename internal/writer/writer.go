// Package writer persists fetched report documents and announces them with a
// ReportIsHereEvent once the bytes are durably stored.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/tracing"
)

const msgNullPayload = "Payload or content is null"

// Writer saves documents to a Store and publishes the follow-up event.
type Writer struct {
	store     store.Store
	publisher queue.Publisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Writer. Each store write is bounded by writeTimeout.
func New(st store.Store, pub queue.Publisher, m *metrics.Metrics, writeTimeout time.Duration) *Writer {
	return &Writer{
		store:     st,
		publisher: pub,
		metrics:   m,
		timeout:   writeTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "document-writer"),
	}
}

// SaveTo writes req.Content under req.DocumentID and, only after the store
// confirms the write, publishes ReportIsHereEvent with the request's TraceId.
// Nothing is published when the request is empty or the write fails.
func (w *Writer) SaveTo(ctx context.Context, req *events.DocumentSaveRequest) report.BusinessResponse {
	if req == nil || len(req.Content) == 0 {
		w.logger.Error("payload or content is null")
		return report.BusinessResponse{
			StatusCode: report.Fail,
			Message:    msgNullPayload,
			Err:        apperrors.New(apperrors.ErrInvalidInput, 400, msgNullPayload),
		}
	}
	log := logger.FromContext(ctx).With("component", "document-writer", "doc_id", req.DocumentID)

	writeCtx, span := tracing.StartChildSpan(ctx, "write")
	err := resilience.WithTimeout(writeCtx, w.timeout, "document write", func(ctx context.Context) error {
		return w.store.Put(ctx, req.DocumentID, req.Content)
	})
	span.SetAttr("bytes", len(req.Content))
	span.Finish(err)
	if err != nil {
		log.Error("error on document saving", "error", err)
		return report.BusinessResponse{
			StatusCode: report.Fail,
			Message:    fmt.Sprintf("Exception. %v", err),
			Err:        err,
		}
	}
	w.metrics.DocumentBytesSaved.Add(float64(len(req.Content)))

	reportIsHere := events.ReportIsHereEvent{
		TraceID:         req.TraceID,
		CreatedReportID: req.DocumentID,
		Time:            w.now(),
	}
	pubCtx, span := tracing.StartChildSpan(ctx, "publish")
	err = w.publisher.PublishEvent(pubCtx, reportIsHere)
	span.Finish(err)
	if err != nil {
		// The document is stored; a redelivery overwrites it with the same
		// bytes and publishes again.
		log.Error("document saved but announcement failed", "error", err)
		return report.BusinessResponse{
			StatusCode: report.Fail,
			Message:    fmt.Sprintf("Exception. %v", err),
			Err:        err,
		}
	}
	log.Info("document saved", "bytes", len(req.Content))
	return report.OK(report.DocumentSaved, "%d bytes saved.", len(req.Content))
}

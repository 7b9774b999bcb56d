// Package executer holds the queue-facing stages of the report chain. Each
// executer handles exactly one event kind and is registered with a
// queue.Dispatcher.
package executer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/tracing"
)

// Fetcher retrieves upstream document bytes.
type Fetcher interface {
	Fetch(ctx context.Context, documentID string) ([]byte, error)
}

// DefaultInlineLimit is the largest document sent inside a
// DocumentSaveRequest. Content is base64 in the JSON envelope, so this keeps
// the message below the broker's 1 MiB default.
const DefaultInlineLimit = 512 << 10

// GetReportDocument reacts to ReportReadyEvent: it fetches the document from
// the Reporting File Service, stages the bytes and publishes the
// DocumentSaveRequest for the writer, all under the event's TraceId.
type GetReportDocument struct {
	fetcher   Fetcher
	staging   staging.Area
	publisher queue.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	inline    int
}

// NewGetReportDocument wires the executer's collaborators.
func NewGetReportDocument(f Fetcher, area staging.Area, pub queue.Publisher, m *metrics.Metrics) *GetReportDocument {
	return &GetReportDocument{
		fetcher:   f,
		staging:   area,
		publisher: pub,
		metrics:   m,
		logger:    slog.Default().With("component", "get-report-document"),
		inline:    DefaultInlineLimit,
	}
}

// WithInlineLimit sets the largest document carried inline; anything bigger
// is handed over by staging reference. Zero sends every document by
// reference.
func (g *GetReportDocument) WithInlineLimit(n int) *GetReportDocument {
	if n >= 0 {
		g.inline = n
	}
	return g
}

// Executer adapts g for registration under KindReportReady.
func (g *GetReportDocument) Executer() queue.Executer {
	return queue.Typed(g.Execute)
}

// Execute moves one event through Received → Fetching → Staged → Published.
// Any failure stops the event at that point and nothing is published.
func (g *GetReportDocument) Execute(ctx context.Context, ev events.ReportReadyEvent) report.BusinessResponse {
	if err := ev.Validate(); err != nil {
		return report.Failed(err, err.Error())
	}
	log := logger.FromContext(ctx).With("component", "get-report-document", "doc_id", ev.DocumentID)

	content, staged, err := g.staging.Load(ctx, ev.DocumentID)
	if err != nil {
		log.Warn("staging lookup failed, fetching again", "error", err)
	}
	if staged {
		g.metrics.DocumentFetchesTotal.WithLabelValues("staged").Inc()
		log.Info("reusing staged document", "bytes", len(content))
	} else {
		fetchCtx, span := tracing.StartChildSpan(ctx, "fetch")
		content, err = g.fetcher.Fetch(fetchCtx, ev.DocumentID)
		span.Finish(err)
		if err != nil {
			log.Error("document fetch failed", "error", err)
			return report.BusinessResponse{
				StatusCode: report.Fail,
				Message:    fmt.Sprintf("fetching document %s: %v", ev.DocumentID, err),
				Err:        err,
			}
		}

		stageCtx, span := tracing.StartChildSpan(ctx, "stage")
		err = g.staging.Stage(stageCtx, ev.DocumentID, content)
		span.Finish(err)
		if err != nil {
			log.Error("document staging failed", "error", err)
			return report.BusinessResponse{
				StatusCode: report.Fail,
				Message:    fmt.Sprintf("staging document %s: %v", ev.DocumentID, err),
				Err:        err,
			}
		}
	}

	saveRequest := events.DocumentSaveRequest{
		DocumentID: ev.DocumentID,
		TraceID:    ev.TraceID,
		Content:    content,
	}
	if len(content) > g.inline {
		saveRequest.Content = nil
		saveRequest.Staged = true
	}
	pubCtx, span := tracing.StartChildSpan(ctx, "publish")
	err = g.publisher.PublishEvent(pubCtx, saveRequest)
	span.Finish(err)
	if err != nil {
		log.Error("save request publish failed", "error", err)
		return report.BusinessResponse{
			StatusCode: report.Fail,
			Message:    fmt.Sprintf("publishing save request for %s: %v", ev.DocumentID, err),
			Err:        err,
		}
	}
	log.Info("document fetched and handed to writer", "bytes", len(content), "reused", staged, "by_reference", saveRequest.Staged)
	return report.OK(report.ReportReady, "%d bytes fetched for %s.", len(content), ev.DocumentID)
}

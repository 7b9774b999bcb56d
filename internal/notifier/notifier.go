// Package notifier consumes the terminal events of a report chain and
// records the outcome so the gateway can report it per TraceId.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/tracker"
)

type Notifier struct {
	tracker tracker.Repository
	logger  *slog.Logger
}

func New(repo tracker.Repository) *Notifier {
	return &Notifier{
		tracker: repo,
		logger:  slog.Default().With("component", "notifier"),
	}
}

// Register binds the notifier's executers to d.
func (n *Notifier) Register(d *queue.Dispatcher) {
	d.Register(events.KindReportIsHere, queue.Typed(n.ReportIsHere))
	d.Register(events.KindReportFailed, queue.Typed(n.ReportFailed))
}

// ReportIsHere marks the chain READY with the id of the saved document.
func (n *Notifier) ReportIsHere(ctx context.Context, ev events.ReportIsHereEvent) report.BusinessResponse {
	err := n.tracker.Upsert(ctx, tracker.Record{
		TraceID:   ev.TraceID,
		ReportID:  ev.CreatedReportID,
		Status:    tracker.StatusReady,
		Stage:     string(ev.Kind()),
		UpdatedAt: ev.Time,
	})
	if err != nil {
		return report.BusinessResponse{StatusCode: report.Fail, Message: err.Error(), Err: err}
	}
	n.logger.Info("report is here", "trace_id", ev.TraceID, "report_id", ev.CreatedReportID)
	return report.OK(report.Success, "report %s recorded as ready.", ev.CreatedReportID)
}

// ReportFailed marks the chain FAILED with the stage that gave up.
func (n *Notifier) ReportFailed(ctx context.Context, ev events.ReportFailedEvent) report.BusinessResponse {
	if ev.TraceID == "" {
		n.logger.Warn("dead letter without trace id ignored", "stage", ev.Stage, "reason", ev.Reason)
		return report.OK(report.Success, "untraceable failure ignored.")
	}
	err := n.tracker.Upsert(ctx, tracker.Record{
		TraceID:   ev.TraceID,
		ReportID:  ev.DocumentID,
		Status:    tracker.StatusFailed,
		Stage:     string(ev.Stage),
		Message:   fmt.Sprintf("%s (after %d attempts)", ev.Reason, ev.Attempts),
		UpdatedAt: ev.Time,
	})
	if err != nil {
		return report.BusinessResponse{StatusCode: report.Fail, Message: err.Error(), Err: err}
	}
	n.logger.Warn("report chain failed", "trace_id", ev.TraceID, "stage", ev.Stage, "reason", ev.Reason)
	return report.OK(report.Success, "failure of %s recorded.", ev.TraceID)
}

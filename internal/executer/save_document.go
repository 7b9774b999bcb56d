package executer

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/staging"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// DocumentWriter is the persistence stage behind SaveDocument.
type DocumentWriter interface {
	SaveTo(ctx context.Context, req *events.DocumentSaveRequest) report.BusinessResponse
}

// SaveDocument reacts to DocumentSaveRequest by handing it to the writer and
// dropping the staged copy once the document is saved. Requests sent by
// reference are filled from the staging area first.
type SaveDocument struct {
	writer  DocumentWriter
	staging staging.Area
	logger  *slog.Logger
}

func NewSaveDocument(w DocumentWriter, area staging.Area) *SaveDocument {
	return &SaveDocument{
		writer:  w,
		staging: area,
		logger:  slog.Default().With("component", "save-document"),
	}
}

// Executer adapts s for registration under KindDocumentSaveRequest.
func (s *SaveDocument) Executer() queue.Executer {
	return queue.Typed(s.Execute)
}

func (s *SaveDocument) Execute(ctx context.Context, req events.DocumentSaveRequest) report.BusinessResponse {
	if req.Staged && len(req.Content) == 0 {
		content, ok, err := s.staging.Load(ctx, req.DocumentID)
		if err != nil {
			return report.Failed(err, err.Error())
		}
		if !ok {
			err := apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "staged content for %s has expired", req.DocumentID)
			return report.Failed(err, err.Error())
		}
		req.Content = content
	}
	resp := s.writer.SaveTo(ctx, &req)
	if resp.StatusCode != report.DocumentSaved {
		return resp
	}
	if err := s.staging.Discard(ctx, req.DocumentID); err != nil {
		// The staged copy expires on its own.
		s.logger.Warn("failed to discard staged document", "doc_id", req.DocumentID, "error", err)
	}
	return resp
}

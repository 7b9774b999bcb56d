// Package events defines the event contracts exchanged between pipeline
// stages and the self-describing envelope they travel in on the queue.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

// Kind is the type tag carried by every envelope.
type Kind string

const (
	KindReportRequested     Kind = "report.requested"
	KindReportReady         Kind = "report.ready"
	KindDocumentSaveRequest Kind = "document.save_request"
	KindReportIsHere        Kind = "report.is_here"
	KindReportFailed        Kind = "report.failed"
)

// Event is implemented by every message type published on the queue.
type Event interface {
	Kind() Kind
	// Trace returns the TraceId shared by every event of one report chain.
	Trace() string
	Validate() error
}

// ReportRequestedEvent hands an accepted ingress request to the reporting
// application.
type ReportRequestedEvent struct {
	TraceID    string    `json:"trace_id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	Expression string    `json:"expression"`
	Time       time.Time `json:"time"`
}

func (e ReportRequestedEvent) Kind() Kind    { return KindReportRequested }
func (e ReportRequestedEvent) Trace() string { return e.TraceID }

func (e ReportRequestedEvent) Validate() error {
	if err := report.ValidateTraceID(e.TraceID); err != nil {
		return err
	}
	return requireDocumentID(e.DocumentID)
}

// ReportReadyEvent announces that an upstream report can be fetched.
type ReportReadyEvent struct {
	TraceID    string    `json:"trace_id"`
	DocumentID string    `json:"document_id"`
	Time       time.Time `json:"time"`
}

func (e ReportReadyEvent) Kind() Kind    { return KindReportReady }
func (e ReportReadyEvent) Trace() string { return e.TraceID }

func (e ReportReadyEvent) Validate() error {
	if err := report.ValidateTraceID(e.TraceID); err != nil {
		return err
	}
	return requireDocumentID(e.DocumentID)
}

// DocumentSaveRequest carries fetched document bytes to the writer. Documents
// too large for one queue message leave Content empty and set Staged: the
// bytes wait in the staging area under DocumentID.
type DocumentSaveRequest struct {
	DocumentID string `json:"document_id"`
	TraceID    string `json:"trace_id"`
	Content    []byte `json:"content"`
	Staged     bool   `json:"staged,omitempty"`
}

func (e DocumentSaveRequest) Kind() Kind    { return KindDocumentSaveRequest }
func (e DocumentSaveRequest) Trace() string { return e.TraceID }

func (e DocumentSaveRequest) Validate() error {
	if err := report.ValidateTraceID(e.TraceID); err != nil {
		return err
	}
	// Content is checked by the writer so that an empty payload resolves to
	// the writer's own Fail response.
	return requireDocumentID(e.DocumentID)
}

// ReportIsHereEvent is the terminal event of a successful chain.
type ReportIsHereEvent struct {
	TraceID         string    `json:"trace_id"`
	CreatedReportID string    `json:"created_report_id"`
	Time            time.Time `json:"time"`
}

func (e ReportIsHereEvent) Kind() Kind    { return KindReportIsHere }
func (e ReportIsHereEvent) Trace() string { return e.TraceID }

func (e ReportIsHereEvent) Validate() error {
	if err := report.ValidateTraceID(e.TraceID); err != nil {
		return err
	}
	return requireDocumentID(e.CreatedReportID)
}

// ReportFailedEvent is the terminal event of a chain that could not be
// completed. It is routed to the dead-letter topic.
type ReportFailedEvent struct {
	TraceID    string    `json:"trace_id"`
	DocumentID string    `json:"document_id,omitempty"`
	Stage      Kind      `json:"stage"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	Payload    []byte    `json:"payload,omitempty"`
	Time       time.Time `json:"time"`
}

func (e ReportFailedEvent) Kind() Kind    { return KindReportFailed }
func (e ReportFailedEvent) Trace() string { return e.TraceID }

func (e ReportFailedEvent) Validate() error {
	if e.Stage == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "failed stage is required")
	}
	return nil
}

func requireDocumentID(id string) error {
	if id == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "document id is required")
	}
	return nil
}

// Envelope is the wire form of an event: a type tag plus the JSON payload.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	TraceID    string          `json:"trace_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// DocumentIDOf pulls the document reference out of any event payload. It
// returns "" when the payload carries none.
func DocumentIDOf(env Envelope) string {
	var ids struct {
		DocumentID      string `json:"document_id"`
		CreatedReportID string `json:"created_report_id"`
	}
	if err := json.Unmarshal(env.Payload, &ids); err != nil {
		return ""
	}
	if ids.DocumentID != "" {
		return ids.DocumentID
	}
	return ids.CreatedReportID
}

// Wrap serialises ev into an Envelope stamped with the current time.
func Wrap(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", ev.Kind(), err)
	}
	return Envelope{
		Kind:       ev.Kind(),
		TraceID:    ev.Trace(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}

// Encode returns the JSON bytes of the envelope for ev.
func Encode(ev Event) ([]byte, error) {
	env, err := Wrap(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses raw queue bytes into an Envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Kind == "" {
		return env, apperrors.New(apperrors.ErrInvalidInput, 400, "envelope has no kind")
	}
	return env, nil
}

// Unwrap decodes the envelope payload into T and validates it.
func Unwrap[T Event](env Envelope) (T, error) {
	var ev T
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return ev, apperrors.Newf(apperrors.ErrInvalidInput, 400, "decoding %s payload: %v", env.Kind, err)
	}
	if ev.Kind() != env.Kind {
		return ev, apperrors.Newf(apperrors.ErrInvalidInput, 400, "envelope kind %s does not match %s", env.Kind, ev.Kind())
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/tracker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
)

const (
	traceID   = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	validBody = `{"TraceId":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","Title":"Quarterly revenue summary","Expression":"SUM(revenue) WHERE quarter = 'Q3' AND region = 'EMEA'"}`
)

var docIDPattern = regexp.MustCompile(`^\d{4}-\d-[0-9a-f-]{36}$`)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

type memoryTracker struct {
	mu      sync.Mutex
	records map[string]tracker.Record
	err     error
}

func newMemoryTracker() *memoryTracker {
	return &memoryTracker{records: make(map[string]tracker.Record)}
}

func (m *memoryTracker) Upsert(_ context.Context, rec tracker.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[rec.TraceID] = rec
	return nil
}

func (m *memoryTracker) Get(_ context.Context, id string) (*tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrDocumentNotFound, http.StatusNotFound, "no status for "+id)
	}
	return &rec, nil
}

type stubExpressions struct {
	valid bool
	err   error
}

func (s stubExpressions) ValidateExpression(context.Context, string) (bool, error) {
	return s.valid, s.err
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateReport(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func newHandler(pub *recordingPublisher, repo tracker.Repository, expr ExpressionValidator) *Handler {
	return New(pub, repo, expr, metrics.New(prometheus.NewRegistry()))
}

func TestCreateReportAccepted(t *testing.T) {
	pub := &recordingPublisher{}
	repo := newMemoryTracker()
	h := newHandler(pub, repo, stubExpressions{valid: true})

	rec := post(h, validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[CreateReportResponse](t, rec)
	assert.Equal(t, report.Success, resp.Status)
	assert.Equal(t, "Report request received successfully.", resp.Explanation)
	assert.Regexp(t, docIDPattern, resp.DocumentID)

	require.Len(t, pub.events, 1)
	ev := pub.events[0].(events.ReportRequestedEvent)
	assert.Equal(t, traceID, ev.TraceID)
	assert.Equal(t, resp.DocumentID, ev.DocumentID)
	assert.Equal(t, "Quarterly revenue summary", ev.Title)

	tracked := repo.records[traceID]
	assert.Equal(t, tracker.StatusAccepted, tracked.Status)
	assert.Equal(t, resp.DocumentID, tracked.ReferenceID)
}

func TestCreateReportMintsFreshIDs(t *testing.T) {
	h := newHandler(&recordingPublisher{}, nil, nil)
	first := decode[CreateReportResponse](t, post(h, validBody))
	second := decode[CreateReportResponse](t, post(h, validBody))
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
}

func TestCreateReportInvalidTraceID(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(pub, nil, nil)

	body := strings.Replace(validBody, traceID, "not-a-guid", 1)
	rec := post(h, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"error": "TraceId must be a valid GUID."}, decode[map[string]string](t, rec))
	assert.Empty(t, pub.events)
}

func TestCreateReportFieldErrors(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(pub, nil, nil)

	rec := post(h, `{"TraceId":"`+traceID+`","Title":"short","Expression":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	problem := decode[validationProblem](t, rec)
	assert.Equal(t, "One or more validation errors occurred.", problem.Title)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, []string{"Title length must be between 20 and 30 characters."}, problem.Errors["Title"])
	assert.Equal(t, []string{"Expression must be filled."}, problem.Errors["Expression"])
	assert.Empty(t, pub.events)
}

func TestCreateReportMalformedJSON(t *testing.T) {
	h := newHandler(&recordingPublisher{}, nil, nil)
	rec := post(h, `{"TraceId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", decode[map[string]string](t, rec)["error"])
}

func TestCreateReportInvalidExpression(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(pub, nil, stubExpressions{valid: false})

	rec := post(h, validBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[CreateReportResponse](t, rec)
	assert.Equal(t, report.InvalidExpression, resp.Status)
	assert.Equal(t, "Expression is not valid.", resp.Explanation)
	assert.Empty(t, resp.DocumentID)
	assert.Empty(t, pub.events)
}

func TestCreateReportEvaluatorUnavailable(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(pub, nil, stubExpressions{err: apperrors.ErrUpstreamFetch})

	rec := post(h, validBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, report.Fail, decode[CreateReportResponse](t, rec).Status)
	assert.Empty(t, pub.events)
}

func TestCreateReportPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.Join(apperrors.ErrPublish, errors.New("no brokers"))}
	repo := newMemoryTracker()
	h := newHandler(pub, repo, nil)

	rec := post(h, validBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, report.Fail, decode[CreateReportResponse](t, rec).Status)
	assert.Empty(t, repo.records, "nothing tracked for an unqueued request")
}

func TestCreateReportTrackerFailureStillAccepted(t *testing.T) {
	repo := newMemoryTracker()
	repo.err = errors.New("db down")
	pub := &recordingPublisher{}
	h := newHandler(pub, repo, nil)

	rec := post(h, validBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.events, 1)
}

func getStatus(h *Handler, id string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /reports/{traceId}", h.GetReportStatus)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/"+id, nil))
	return rec
}

func TestGetReportStatus(t *testing.T) {
	repo := newMemoryTracker()
	require.NoError(t, repo.Upsert(context.Background(), tracker.Record{
		TraceID:  traceID,
		ReportID: "1044-7-abc",
		Status:   tracker.StatusReady,
	}))
	h := newHandler(&recordingPublisher{}, repo, nil)

	rec := getStatus(h, traceID)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[tracker.Record](t, rec)
	assert.Equal(t, tracker.StatusReady, got.Status)
	assert.Equal(t, "1044-7-abc", got.ReportID)
}

func TestGetReportStatusErrors(t *testing.T) {
	repo := newMemoryTracker()
	h := newHandler(&recordingPublisher{}, repo, nil)

	assert.Equal(t, http.StatusBadRequest, getStatus(h, "nope").Code)
	assert.Equal(t, http.StatusNotFound, getStatus(h, traceID).Code)

	repo.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, getStatus(h, traceID).Code)

	untracked := newHandler(&recordingPublisher{}, nil, nil)
	assert.Equal(t, http.StatusNotImplemented, getStatus(untracked, traceID).Code)
}

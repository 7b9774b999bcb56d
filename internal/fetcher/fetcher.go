// Package fetcher retrieves finished report documents from the Reporting
// File Service over HTTP.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
)

// maxDocumentSize caps how much of a response body is read.
const maxDocumentSize = 64 << 20

// Client fetches documents with GET {baseURL}/documents/{id}. Concurrent
// fetches of the same id share one request, and a circuit breaker stops
// hammering the service while it is failing.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Client whose requests time out after timeout.
func New(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		logger:  slog.Default().With("component", "document-fetcher"),
	}
	c.breaker = resilience.NewCircuitBreaker("reporting-file-service", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

// Fetch returns the bytes of documentID. A 404 maps to ErrDocumentNotFound,
// every other failure (transport, status, empty body) to ErrUpstreamFetch.
func (c *Client) Fetch(ctx context.Context, documentID string) ([]byte, error) {
	v, err, shared := c.group.Do(documentID, func() (any, error) {
		var body []byte
		err := c.breaker.Execute(func() error {
			var err error
			body, err = c.get(ctx, documentID)
			if errors.Is(err, apperrors.ErrDocumentNotFound) {
				// A missing document says nothing about service health.
				return nil
			}
			return err
		})
		if err != nil {
			return nil, classify(err)
		}
		if body == nil {
			return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %s not found upstream", documentID)
		}
		return body, nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			outcome = "not_found"
		}
		c.metrics.DocumentFetchesTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	c.metrics.DocumentFetchesTotal.WithLabelValues("ok").Inc()
	if shared {
		c.logger.Debug("fetch shared with concurrent caller", "doc_id", documentID)
	}
	return v.([]byte), nil
}

func (c *Client) get(ctx context.Context, documentID string) ([]byte, error) {
	endpoint := c.baseURL + "/documents/" + url.PathEscape(documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", apperrors.ErrUpstreamFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", apperrors.ErrUpstreamFetch, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.ErrDocumentNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: GET %s returned %d", apperrors.ErrUpstreamFetch, endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", apperrors.ErrUpstreamFetch, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: document %s has an empty body", apperrors.ErrUpstreamFetch, documentID)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%w: document %s exceeds %d bytes", apperrors.ErrUpstreamFetch, documentID, maxDocumentSize)
	}
	c.logger.Debug("document fetched", "doc_id", documentID, "bytes", len(body))
	return body, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Errorf("%w: %w", apperrors.ErrUpstreamFetch, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %w", apperrors.ErrUpstreamFetch, apperrors.ErrTimeout, err)
	default:
		return err
	}
}

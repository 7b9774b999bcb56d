// Package evaluator asks the expression-evaluation service whether a report
// expression is acceptable before a request enters the pipeline.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
)

const source = "KahinDomain"

type checkRequest struct {
	Source     string `json:"Source"`
	Expression string `json:"Expression"`
}

type checkResponse struct {
	IsValid bool `json:"IsValid"`
}

// Client posts expressions to the evaluation endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("expression-evaluator", resilience.CircuitBreakerConfig{
			FailureThreshold:    5,
			ResetTimeout:        30 * time.Second,
			HalfOpenMaxRequests: 1,
		}),
		logger: slog.Default().With("component", "expression-evaluator"),
	}
}

// ValidateExpression reports whether the service accepted expression. A
// non-2xx answer counts as rejection; transport errors are returned.
func (c *Client) ValidateExpression(ctx context.Context, expression string) (bool, error) {
	body, err := json.Marshal(checkRequest{Source: source, Expression: expression})
	if err != nil {
		return false, fmt.Errorf("encoding expression check: %w", err)
	}

	var valid bool
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			c.logger.Warn("expression check rejected", "status", resp.StatusCode)
			valid = false
			return nil
		}
		var result checkResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
			return fmt.Errorf("decoding expression check: %w", err)
		}
		valid = result.IsValid
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: expression check: %w", apperrors.ErrUpstreamFetch, err)
	}
	return valid, nil
}

// Package health reports whether a pipeline service can reach the things it
// depends on. Each service registers its checks under a component name and
// the Checker runs them in parallel, each bounded by the configured check
// timeout. Required checks take the service down when they fail; optional
// ones only degrade it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component or the service overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check inspects a single dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Report is what /health/ready returns for one service.
type Report struct {
	Service    string                     `json:"service"`
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type registered struct {
	check    Check
	optional bool
}

// Checker holds the checks of one service.
type Checker struct {
	service string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	checks map[string]registered
	last   map[string]Status
}

// NewChecker creates an empty Checker for service. Every check gets at most
// timeout to answer; a non-positive timeout falls back to three seconds.
func NewChecker(service string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{
		service: service,
		timeout: timeout,
		logger:  slog.Default().With("component", "health", "service", service),
		checks:  make(map[string]registered),
		last:    make(map[string]Status),
	}
}

// Register adds a check whose failure takes the service down.
func (c *Checker) Register(name string, check Check) {
	c.register(name, check, false)
}

// RegisterOptional adds a check whose failure only degrades the service.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check Check, optional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{check: check, optional: optional}
}

// Run executes all registered checks concurrently. The overall status is the
// worst component status after optional failures are softened to degraded.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	report := Report{
		Service:    c.service,
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, r := range checks {
		wg.Add(1)
		go func(name string, r registered) {
			defer wg.Done()
			result := c.runOne(ctx, r.check)
			if r.optional {
				result.Optional = true
				if result.Status == StatusDown {
					result.Status = StatusDegraded
				}
			}
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}(name, r)
	}
	wg.Wait()

	for _, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	c.logTransitions(report)
	return report
}

func (c *Checker) runOne(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("timed out after %s", c.timeout)}
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	return result
}

func (c *Checker) logTransitions(report Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, comp := range report.Components {
		prev, seen := c.last[name]
		c.last[name] = comp.Status
		if !seen && comp.Status == StatusUp {
			continue
		}
		if prev == comp.Status {
			continue
		}
		if comp.Status == StatusUp {
			c.logger.Info("dependency recovered", "dependency", name, "was", prev)
		} else {
			c.logger.Warn("dependency unhealthy", "dependency", name, "status", comp.Status, "message", comp.Message)
		}
	}
}

// LiveHandler answers liveness checks. It never touches dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "alive",
			"service": c.service,
		})
	}
}

// ReadyHandler answers readiness checks. Degraded still counts as ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// PingCheck adapts a dependency's Ping method to a Check.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// BacklogCheck reports degraded once count exceeds limit, as when the outbox
// relay cannot keep up with staged events. A failing count is down.
func BacklogCheck(count func(ctx context.Context) (int, error), limit int) Check {
	return func(ctx context.Context) ComponentHealth {
		n, err := count(ctx)
		if err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		if n > limit {
			return ComponentHealth{Status: StatusDegraded, Message: fmt.Sprintf("%d pending, limit %d", n, limit)}
		}
		return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("%d pending", n)}
	}
}

// Package router wires the gateway routes and applies the middleware chain.
package router

import (
	"net/http"
	"net/netip"
	"time"

	gwhandler "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/middleware"
)

// Options carries the optional parts of the chain. A nil Limiter or Metrics
// skips that middleware; a zero Timeout disables the request deadline.
type Options struct {
	Limiter      *ratelimit.Limiter
	Metrics      *metrics.Metrics
	Checker      *health.Checker
	AllowOrigins []string
	Timeout      time.Duration

	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

// New builds the gateway HTTP handler.
//
// Route table:
//
//	POST /                    → create report request
//	GET  /reports/{traceId}   → chain status
//	GET  /health              → gateway health
//	GET  /health/live         → liveness
//	GET  /health/ready        → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → RateLimit → Timeout → mux
func New(h *gwhandler.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	if opts.Checker != nil {
		mux.HandleFunc("GET /health/live", opts.Checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", opts.Checker.ReadyHandler())
	}

	mux.HandleFunc("POST /{$}", h.CreateReport)
	mux.HandleFunc("GET /reports/{traceId}", h.GetReportStatus)

	var chain http.Handler = mux
	if opts.Timeout > 0 {
		chain = pkgmw.Timeout(opts.Timeout)(chain)
	}
	if opts.Limiter != nil {
		chain = gwmw.RateLimit(opts.Limiter, opts.TrustedProxies)(chain)
	}
	if len(opts.AllowOrigins) > 0 {
		chain = gwmw.CORS(opts.AllowOrigins)(chain)
	}
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics)(chain)
	}
	chain = pkgmw.RequestID(chain)

	return chain
}

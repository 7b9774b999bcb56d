// Command loadtest drives the gateway's report ingress with concurrent
// POST / requests and prints throughput, latency percentiles and the
// distribution of answers (accepted, rejected, rate limited).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	GatewayURL  string
	Concurrency int
	Duration    time.Duration
	// InvalidEvery sends a request with a malformed TraceId every n
	// requests per worker; 0 disables it.
	InvalidEvery int
}

type reportRequest struct {
	TraceID    string `json:"TraceId"`
	Title      string `json:"Title"`
	Expression string `json:"Expression"`
}

var samples = []reportRequest{
	{Title: "Quarterly revenue summary", Expression: "SUM(revenue) WHERE quarter = 'Q3' AND region = 'EMEA'"},
	{Title: "Monthly churn by segment", Expression: "COUNT(customer_id) WHERE churned = true GROUP BY segment"},
	{Title: "Open invoices past due 30", Expression: "SUM(amount) WHERE status = 'open' AND age_days > 30"},
	{Title: "Warehouse stock snapshot", Expression: "SUM(quantity) GROUP BY warehouse, sku ORDER BY warehouse"},
}

type Stats struct {
	sent      atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
	limited   atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		statuses:  make(map[int]int64),
	}
}

func (s *Stats) Record(latency time.Duration, status int, err error) {
	s.sent.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	switch {
	case status == http.StatusOK:
		s.accepted.Add(1)
	case status == http.StatusTooManyRequests:
		s.limited.Add(1)
	case status >= 400 && status < 500:
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.statuses[status]++
	s.mu.Unlock()
}

func main() {
	gatewayURL := flag.String("url", "http://localhost:8082", "gateway base URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	invalidEvery := flag.Int("invalid-every", 0, "send a malformed TraceId every n requests per client")
	flag.Parse()

	cfg := Config{
		GatewayURL:   *gatewayURL,
		Concurrency:  *concurrency,
		Duration:     *duration,
		InvalidEvery: *invalidEvery,
	}

	fmt.Println("=== Report Ingress Load Test ===")
	fmt.Printf("Gateway:     %s\n", cfg.GatewayURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	stats := run(cfg)
	printReport(stats, cfg.Duration)
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := 1; ctx.Err() == nil; n++ {
				req := samples[(worker+n)%len(samples)]
				req.TraceID = uuid.NewString()
				if cfg.InvalidEvery > 0 && n%cfg.InvalidEvery == 0 {
					req.TraceID = "not-a-guid"
				}

				start := time.Now()
				status, err := post(ctx, client, cfg.GatewayURL, req)
				if ctx.Err() != nil {
					return
				}
				stats.Record(time.Since(start), status, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("  %d requests sent\n", stats.sent.Load())
			}
		}
	}()

	wg.Wait()
	fmt.Println()
	return stats
}

func post(ctx context.Context, client *http.Client, gatewayURL string, body reportRequest) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayURL+"/", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.sent.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Requests:      %d\n", total)
	fmt.Printf("Accepted:      %d\n", stats.accepted.Load())
	fmt.Printf("Rejected:      %d\n", stats.rejected.Load())
	fmt.Printf("Rate limited:  %d\n", stats.limited.Load())
	fmt.Printf("Failed:        %d\n", stats.failed.Load())
	if total > 0 {
		fmt.Printf("Requests/sec:  %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make([]int, 0, len(stats.statuses))
	for code := range stats.statuses {
		codes = append(codes, code)
	}
	statuses := stats.statuses
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min: %s\n", latencies[0])
		fmt.Printf("Avg: %s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 99} {
			fmt.Printf("P%.0f: %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max: %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, statuses[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: no requests completed. Is the gateway running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

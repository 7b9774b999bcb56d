// Package e2e runs against a deployed pipeline: gateway, reader and worker
// with real Kafka, PostgreSQL and Redis, plus a Reporting File Service that
// serves E2E_DOCUMENT_ID.
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type e2eConfig struct {
	GatewayURL string
	ReaderURL  string
	DocumentID string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		GatewayURL: envOrDefault("E2E_GATEWAY_URL", "http://localhost:8082"),
		ReaderURL:  envOrDefault("E2E_READER_URL", "http://localhost:8083"),
		DocumentID: os.Getenv("E2E_DOCUMENT_ID"),
	}
}

func skipIfDown(t *testing.T, url string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url + "/health")
	if err != nil {
		t.Skipf("skipping e2e test: %s unreachable: %v", url, err)
	}
	resp.Body.Close()
}

func TestServicesHealthy(t *testing.T) {
	cfg := loadE2EConfig()
	skipIfDown(t, cfg.GatewayURL)
	skipIfDown(t, cfg.ReaderURL)

	for _, url := range []string{
		cfg.GatewayURL + "/health/ready",
		cfg.ReaderURL + "/health/ready",
	} {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("%s: %v", url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", url, resp.StatusCode)
		}
	}
}

func TestGatewayAcceptsRequest(t *testing.T) {
	cfg := loadE2EConfig()
	skipIfDown(t, cfg.GatewayURL)

	traceID := uuid.NewString()
	body := fmt.Sprintf(`{"TraceId":%q,"Title":"Quarterly revenue summary","Expression":"SUM(revenue) WHERE quarter = 'Q3' AND region = 'EMEA'"}`, traceID)
	resp, err := http.Post(cfg.GatewayURL+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status map[string]any
	waitForStatus(t, cfg.GatewayURL, traceID, &status, func() bool { return status["status"] != nil })
	if status["status"] != "ACCEPTED" {
		t.Errorf("expected ACCEPTED, got %v", status["status"])
	}
}

// TestReadyDocumentIsDelivered raises ReportReadyEvent through the reader
// and waits for the worker chain to mark the report READY.
func TestReadyDocumentIsDelivered(t *testing.T) {
	cfg := loadE2EConfig()
	if cfg.DocumentID == "" {
		t.Skip("skipping e2e test: E2E_DOCUMENT_ID not set")
	}
	skipIfDown(t, cfg.GatewayURL)
	skipIfDown(t, cfg.ReaderURL)

	traceID := uuid.NewString()
	body := fmt.Sprintf(`{"TraceId":%q,"DocumentId":%q}`, traceID, cfg.DocumentID)
	resp, err := http.Post(cfg.ReaderURL+"/api/v1/reports/ready", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ready callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var status map[string]any
	waitForStatus(t, cfg.GatewayURL, traceID, &status, func() bool {
		s := status["status"]
		return s == "READY" || s == "FAILED"
	})
	if status["status"] != "READY" {
		t.Fatalf("chain did not deliver: %v", status)
	}
	if status["report_id"] != cfg.DocumentID {
		t.Errorf("expected report_id %s, got %v", cfg.DocumentID, status["report_id"])
	}
}

func waitForStatus(t *testing.T, gatewayURL, traceID string, out *map[string]any, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(gatewayURL + "/reports/" + traceID)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				*out = map[string]any{}
				json.NewDecoder(resp.Body).Decode(out)
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && done() {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status of %s", traceID)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

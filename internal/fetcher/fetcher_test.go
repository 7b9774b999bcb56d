package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/resilience"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second, metrics.New(prometheus.NewRegistry()))
}

func TestFetchReturnsBody(t *testing.T) {
	var path string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte("col1,col2\n"))
	})

	body, err := c.Fetch(context.Background(), "1042-3-abc")
	require.NoError(t, err)
	assert.Equal(t, "col1,col2\n", string(body))
	assert.Equal(t, "/documents/1042-3-abc", path)
}

func TestFetchNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Fetch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDocumentNotFound))
	assert.False(t, apperrors.Retryable(err))
}

func TestFetchUpstreamErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, h)
			_, err := c.Fetch(context.Background(), "doc")
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrUpstreamFetch))
			assert.True(t, apperrors.Retryable(err))
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := New(srv.URL, 50*time.Millisecond, metrics.New(prometheus.NewRegistry()))

	_, err := c.Fetch(context.Background(), "doc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamFetch))
}

func TestFetchCollapsesConcurrentRequests(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte("shared"))
	})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := c.Fetch(context.Background(), "same-doc")
			if assert.NoError(t, err) {
				results[i] = string(body)
			}
		}()
	}
	// Let the goroutines pile up behind the first request.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.Fetch(context.Background(), "doc")
		require.Error(t, err)
	}
	_, err := c.Fetch(context.Background(), "doc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamFetch))
	assert.Equal(t, int32(5), hits.Load())
}

func TestNotFoundDoesNotTripCircuit(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	for i := 0; i < 10; i++ {
		_, err := c.Fetch(context.Background(), "missing")
		require.True(t, errors.Is(err, apperrors.ErrDocumentNotFound))
	}
	assert.Equal(t, resilience.StateClosed, c.breaker.GetState())
}

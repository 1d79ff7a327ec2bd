package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/propscout/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() provider.RetryConfig {
	return provider.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Millisecond,
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveRequest(_, _, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestClient_GetJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/resource/64uk-42ks.json", r.URL.Path)
		assert.Equal(t, "1008350029", r.URL.Query().Get("bbl"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"bbl":"1008350029","lotarea":"10000"}]`))
	}))
	defer server.Close()

	client := provider.NewClient("socrata", server.URL+"/resource/")

	var rows []map[string]any
	err := client.GetJSON(context.Background(), provider.Request{
		Path:   "/64uk-42ks.json",
		Query:  url.Values{"bbl": {"1008350029"}},
		Header: http.Header{"X-Test": {"yes"}},
	}, &rows)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "10000", rows[0]["lotarea"])
}

func TestClient_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32

	// Fails twice, then succeeds.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("temporarily unavailable"))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	obs := &recordingObserver{}
	client := provider.NewClient("socrata", server.URL,
		provider.WithRetryConfig(fastRetry()),
		provider.WithObserver(obs))

	var rows []map[string]any
	err := client.GetJSON(context.Background(), provider.Request{Path: "/x.json"}, &rows)

	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []string{"ProviderUnavailable", "ProviderUnavailable", "ok"}, obs.outcomes)
}

func TestClient_RetriesExhausted(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind provider.Kind
	}{
		{name: "service unavailable", status: http.StatusServiceUnavailable, wantKind: provider.KindProviderUnavailable},
		{name: "internal error", status: http.StatusInternalServerError, wantKind: provider.KindProviderUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: provider.KindRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := provider.NewClient("socrata", server.URL, provider.WithRetryConfig(fastRetry()))

			_, err := client.Get(context.Background(), provider.Request{Path: "/x.json"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, provider.KindOf(err))

			// One attempt plus two retries.
			assert.Equal(t, int32(3), attempts.Load())

			var pe *provider.Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.Status)
			assert.Equal(t, "socrata", pe.Provider)
		})
	}
}

func TestClient_TerminalErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind provider.Kind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: provider.KindUnauthorized},
		{name: "bad request", status: http.StatusBadRequest, wantKind: provider.KindBadRequest},
		{name: "not found status", status: http.StatusNotFound, wantKind: provider.KindBadRequest},
		{name: "forbidden", status: http.StatusForbidden, wantKind: provider.KindBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"no such column: bogus"}`))
			}))
			defer server.Close()

			client := provider.NewClient("socrata", server.URL, provider.WithRetryConfig(fastRetry()))

			_, err := client.Get(context.Background(), provider.Request{Path: "/x.json"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, provider.KindOf(err))
			assert.False(t, provider.IsRetryable(err))
			assert.Equal(t, int32(1), attempts.Load())
			assert.Contains(t, err.Error(), "no such column")
		})
	}
}

func TestClient_MalformedJSON(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client := provider.NewClient("socrata", server.URL, provider.WithRetryConfig(fastRetry()))

	var rows []map[string]any
	err := client.GetJSON(context.Background(), provider.Request{Path: "/x.json"}, &rows)
	require.Error(t, err)
	assert.Equal(t, provider.KindProviderUnavailable, provider.KindOf(err))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_RetryPolicy(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	onlyOutages := func(err error) bool {
		return provider.IsKind(err, provider.KindProviderUnavailable)
	}
	client := provider.NewClient("geosearch", server.URL,
		provider.WithRetryConfig(fastRetry()),
		provider.WithRetryPolicy(onlyOutages))

	_, err := client.Get(context.Background(), provider.Request{Path: "/v2/search"})
	assert.Equal(t, provider.KindRateLimited, provider.KindOf(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_RequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := provider.NewClient("socrata", server.URL,
		provider.WithRequestTimeout(20*time.Millisecond),
		provider.WithRetryConfig(provider.RetryConfig{MaxAttempts: 1}))

	started := time.Now()
	_, err := client.Get(context.Background(), provider.Request{Path: "/slow"})
	require.Error(t, err)
	assert.Equal(t, provider.KindProviderUnavailable, provider.KindOf(err))
	assert.Less(t, time.Since(started), time.Second)
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := provider.NewClient("socrata", server.URL, provider.WithRetryConfig(provider.RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 5 * time.Second,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := client.Get(ctx, provider.Request{Path: "/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestClient_ResponseSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	client := provider.NewClient("propertyscout", server.URL,
		provider.WithMaxResponseSize(1024),
		provider.WithRetryConfig(provider.RetryConfig{MaxAttempts: 1}))

	_, err := client.Get(context.Background(), provider.Request{Path: "/big"})
	require.Error(t, err)
	assert.Equal(t, provider.KindProviderUnavailable, provider.KindOf(err))
	assert.Contains(t, err.Error(), "exceeds 1024 bytes")
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	client := provider.NewClient("geosearch", base, provider.WithRetryConfig(fastRetry()))
	_, err := client.Get(context.Background(), provider.Request{Path: "/v2/search"})
	require.Error(t, err)
	assert.Equal(t, provider.KindProviderUnavailable, provider.KindOf(err))
}

func TestDefaultBackoffSchedule(t *testing.T) {
	cfg := provider.DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, time.Second, cfg.Backoff(2))
	assert.Equal(t, time.Second, cfg.Backoff(3))

	geo := provider.GeocoderRetryConfig()
	assert.Equal(t, 2, geo.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, geo.Backoff(1))
}

func TestErrorMatching(t *testing.T) {
	err := provider.Errorf(provider.KindNotFound, "geosearch", "no features for %q", "nowhere")
	wrapped := errors.Join(errors.New("resolve"), err)

	assert.Equal(t, provider.KindNotFound, provider.KindOf(wrapped))
	assert.ErrorIs(t, wrapped, &provider.Error{Kind: provider.KindNotFound})
	assert.ErrorIs(t, wrapped, &provider.Error{Kind: provider.KindNotFound, Provider: "geosearch"})
	assert.NotErrorIs(t, wrapped, &provider.Error{Kind: provider.KindNotFound, Provider: "socrata"})
	assert.NotErrorIs(t, wrapped, &provider.Error{Kind: provider.KindBadRequest})
	assert.Equal(t, provider.Kind(""), provider.KindOf(errors.New("plain")))
	assert.Equal(t, "Address not found in NYC.", provider.KindNotFound.Message())
}

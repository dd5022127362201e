package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProbeReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "digest-health", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()

	result := NewHTTPProbe(server.URL).Check(context.Background())

	assert.True(t, result.Healthy, result.Message)
	assert.Greater(t, result.Duration, time.Duration(0))
	assert.Equal(t, "HTTP 405 Method Not Allowed", result.Message)
}

func TestHTTPProbeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := NewHTTPProbe(server.URL).Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "expected 200-499")
}

func TestHTTPProbeOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	probe := NewHTTPProbe(server.URL, WithMethod(http.MethodGet), WithStatusRange(200, 299))
	assert.False(t, probe.Check(context.Background()).Healthy)
}

func TestHTTPProbeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPProbe(server.URL, WithTimeout(50*time.Millisecond)).Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestHTTPProbeCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, NewHTTPProbe(server.URL).Check(ctx).Healthy)
}

func TestProbeStateRetries(t *testing.T) {
	cfg := Config{Retries: 2}
	s := newProbeState(time.Now())
	assert.True(t, s.healthy)

	s.observe(Result{Healthy: false}, cfg)
	assert.True(t, s.healthy)
	assert.Equal(t, 1, s.failures)

	s.observe(Result{Healthy: false}, cfg)
	assert.False(t, s.healthy)

	s.observe(Result{Healthy: true, Message: "ok"}, cfg)
	assert.True(t, s.healthy)
	assert.Equal(t, 0, s.failures)
	assert.Equal(t, "ok", s.last.Message)
}

func TestProbeStateWarmingUp(t *testing.T) {
	now := time.Now()
	s := newProbeState(now)
	assert.False(t, s.warmingUp(Config{}, now))
	assert.True(t, s.warmingUp(Config{StartPeriod: time.Hour}, now.Add(time.Minute)))
	assert.False(t, s.warmingUp(Config{StartPeriod: time.Hour}, now.Add(2*time.Hour)))
}

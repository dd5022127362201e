package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Result is the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Probe checks an external dependency of the pipeline
type Probe interface {
	Check(ctx context.Context) Result
}

// Config controls how probe results turn into a dependency verdict
type Config struct {
	// Timeout bounds a single probe. Zero means the check's own context.
	Timeout time.Duration

	// Retries is the number of consecutive failures before the dependency
	// is reported unreachable
	Retries int

	// StartPeriod skips probing right after registration
	StartPeriod time.Duration
}

// DefaultConfig probes with a 10s timeout and tolerates two failures in a row
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Retries: 3,
	}
}

// probeState tracks one dependency across checks. A dependency starts
// healthy and only flips after Retries consecutive failures.
type probeState struct {
	registeredAt time.Time
	failures     int
	healthy      bool
	last         Result
}

func newProbeState(now time.Time) *probeState {
	return &probeState{registeredAt: now, healthy: true}
}

func (s *probeState) warmingUp(cfg Config, now time.Time) bool {
	return cfg.StartPeriod > 0 && now.Sub(s.registeredAt) < cfg.StartPeriod
}

func (s *probeState) observe(r Result, cfg Config) {
	s.last = r
	if r.Healthy {
		s.failures = 0
		s.healthy = true
		return
	}
	s.failures++
	if s.failures >= cfg.Retries {
		s.healthy = false
	}
}

// HTTPProbe checks that an HTTP endpoint answers. By default it sends HEAD
// and accepts any status below 500: webhook endpoints commonly reject HEAD
// with 405, which still proves the service is up.
type HTTPProbe struct {
	url       string
	method    string
	minStatus int
	maxStatus int
	client    *http.Client
}

// HTTPOption configures an HTTPProbe
type HTTPOption func(*HTTPProbe)

// WithMethod sets the request method
func WithMethod(method string) HTTPOption {
	return func(p *HTTPProbe) { p.method = method }
}

// WithStatusRange sets the accepted status codes, inclusive
func WithStatusRange(min, max int) HTTPOption {
	return func(p *HTTPProbe) {
		p.minStatus = min
		p.maxStatus = max
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(p *HTTPProbe) { p.client.Timeout = timeout }
}

// NewHTTPProbe creates a probe for url
func NewHTTPProbe(url string, opts ...HTTPOption) *HTTPProbe {
	p := &HTTPProbe{
		url:       url,
		method:    http.MethodHead,
		minStatus: 200,
		maxStatus: 499,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check sends one request and judges the status code
func (p *HTTPProbe) Check(ctx context.Context) Result {
	start := time.Now()
	done := func(healthy bool, format string, args ...interface{}) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return done(false, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "digest-health")

	resp, err := p.client.Do(req)
	if err != nil {
		return done(false, "request failed: %v", err)
	}
	defer resp.Body.Close()

	status := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < p.minStatus || resp.StatusCode > p.maxStatus {
		return done(false, "%s (expected %d-%d)", status, p.minStatus, p.maxStatus)
	}
	return done(true, "%s", status)
}

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/types"
)

// Processor handles a single summary task
type Processor interface {
	Process(ctx context.Context, task types.SummaryTask) error
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, task types.SummaryTask) error

// Process calls f(ctx, task)
func (f ProcessorFunc) Process(ctx context.Context, task types.SummaryTask) error {
	return f(ctx, task)
}

// LogProcessor only records that a task was due. Used when no summarizer
// endpoint is configured.
type LogProcessor struct{}

// Process logs the task
func (LogProcessor) Process(ctx context.Context, task types.SummaryTask) error {
	logger := log.WithTask(task)
	logger.Info().
		Int("least_message_count", task.LeastMessageCount).
		Str("style", task.Style).
		Msg("Summary due")
	return nil
}

// WebhookProcessor posts each task as JSON to a summarizer endpoint
type WebhookProcessor struct {
	// URL receives POST requests with a SummaryTask body
	URL string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewWebhookProcessor creates a webhook processor with a bounded client timeout
func NewWebhookProcessor(url string, timeout time.Duration) *WebhookProcessor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookProcessor{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Process delivers the task. Any non-2xx response is an error.
func (p *WebhookProcessor) Process(ctx context.Context, task types.SummaryTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "failed to encode task")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Digest-Task-ID", task.ID)

	resp, err := p.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "summarizer request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("summarizer returned %s", fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
	return nil
}

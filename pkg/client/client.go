package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/digest/pkg/api"
	"github.com/cuemby/digest/pkg/health"
	"github.com/cuemby/digest/pkg/repair"
	"github.com/cuemby/digest/pkg/types"
)

const (
	defaultTimeout = 10 * time.Second
	repairTimeout  = 2 * time.Minute
)

// APIError is a non-2xx response from the admin API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the admin API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running digest server for CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the admin API at addr (host:port or URL)
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{},
	}
}

// do sends a request and decodes a JSON response into out. Statuses listed
// in accept are decoded like 2xx.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, accept ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
		}
	}
	if !ok {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s %s response", method, path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

// Health returns the server's health snapshot. An unhealthy snapshot is not an error.
func (c *Client) Health() (*health.Report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var report health.Report
	if err := c.do(ctx, http.MethodGet, "/health", nil, &report, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &report, nil
}

// HealthText returns the plain-text health message
func (c *Client) HealthText() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/text", nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "GET /health/text failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read health text")
	}
	return string(data), nil
}

// Repair runs a repair on the server
func (c *Client) Repair() (*repair.Report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), repairTimeout)
	defer cancel()

	var report repair.Report
	if err := c.do(ctx, http.MethodPost, "/repair", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListGroups lists configured groups ordered by ID
func (c *Client) ListGroups() ([]api.GroupResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var groups []api.GroupResponse
	if err := c.do(ctx, http.MethodGet, "/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup gets one group
func (c *Client) GetGroup(id types.GroupID) (*api.GroupResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var group api.GroupResponse
	if err := c.do(ctx, http.MethodGet, "/groups/"+id.String(), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// SetGroup creates or updates a group and schedules its job
func (c *Client) SetGroup(id types.GroupID, req api.GroupRequest) (*api.PutGroupResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var resp api.PutGroupResponse
	if err := c.do(ctx, http.MethodPut, "/groups/"+id.String(), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveGroup deletes a group and its job
func (c *Client) RemoveGroup(id types.GroupID) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	return c.do(ctx, http.MethodDelete, "/groups/"+id.String(), nil, nil)
}

// ListJobs lists the jobs registered in the server's scheduler
func (c *Client) ListJobs() ([]types.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var jobs []types.Job
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GRPCServing asks the gRPC health service at addr whether digest is serving
func GRPCServing(addr string) (bool, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		return false, errors.Wrap(err, "gRPC health check failed")
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

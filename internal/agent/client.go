package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/insurechat-vn/orchestrator/internal/decode"
	"github.com/insurechat-vn/orchestrator/internal/metrics"
)

const defaultTimeout = 120 * time.Second

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every stage call. All five stages share the same
// timeout; no stage is allowed to hang the chain indefinitely.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithMetrics records per-stage invocation counts and durations.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client issues one network call per stage invocation against the remote
// agent service.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient creates an agent client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: defaultTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StageError is a transport-level stage failure: network error, timeout, or
// non-success HTTP status. It is fatal to the current invocation.
type StageError struct {
	Stage  Stage
	Status int // 0 when the call never completed
	cause  error
}

func (e *StageError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stage %s failed with status %d", e.Stage, e.Status)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.cause)
}

func (e *StageError) Unwrap() error { return e.cause }

// Invoke posts the composed request body to the stage endpoint and decodes
// the response. A decoded body that carries an upstream "error" field is
// still a successful invocation; only transport failures return an error.
// No retries are attempted.
func (c *Client) Invoke(ctx context.Context, d Descriptor, body map[string]any) (decode.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal stage body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+d.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create stage request: %w", err)
	}

	// The agent service expects JSON carried under a text content type.
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(d, start, false)
		return nil, &StageError{Stage: d.Stage, cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(d, start, false)
		return nil, &StageError{Stage: d.Stage, cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(d, start, false)
		return nil, &StageError{Stage: d.Stage, Status: resp.StatusCode}
	}

	c.observe(d, start, true)
	return decode.Decode(respBody), nil
}

func (c *Client) observe(d Descriptor, start time.Time, ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveStage(string(d.Stage), time.Since(start), ok)
	}
}

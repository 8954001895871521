package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Path is where the authority accepts request envelopes.
const Path = "/api/self-heal"

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 4 << 20

// HTTPClient talks to a remediation authority over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	retry   *retrier
	logger  *slog.Logger
}

// HTTPOptions configures an HTTPClient
type HTTPOptions struct {
	BaseURL string
	Retry   RetryConfig
	// HTTPClient overrides the transport; per-attempt timeouts come from Retry.Timeout
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewHTTPClient creates a client for the authority at opts.BaseURL
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("authority base URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &HTTPClient{
		baseURL: base,
		http:    opts.HTTPClient,
		retry:   newRetrier(opts.Retry, opts.Logger),
		logger:  opts.Logger,
	}, nil
}

// CircuitState exposes the circuit breaker state; closed when the breaker is disabled
func (c *HTTPClient) CircuitState() CircuitState {
	if c.retry.breaker == nil {
		return CircuitClosed
	}
	return c.retry.breaker.State()
}

// Send posts the request envelope and returns the reply.
// Non-2xx replies are returned as *StatusError; 429 and 5xx are retried.
func (c *HTTPClient) Send(ctx context.Context, req Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("authority request is nil")
	}
	body, err := json.Marshal(NewEnvelope(req))
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Kind(), err)
	}

	var resp *Response
	err = c.retry.do(ctx, string(req.Kind()), func(attemptCtx context.Context) error {
		r, err := c.post(attemptCtx, req.Kind(), body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, kind Kind, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending %s request: %w", kind, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", kind, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{Kind: kind, StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	c.logger.Debug("authority replied", "kind", kind, "status", httpResp.StatusCode, "bytes", len(data))
	return &Response{Kind: kind, StatusCode: httpResp.StatusCode, Body: json.RawMessage(data)}, nil
}

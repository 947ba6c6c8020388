package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opsguide/opsguide-ai/internal/metrics"
)

// DefaultBaseURL is where the operational API listens when none is configured.
const DefaultBaseURL = "http://localhost:8094"

// DefaultTimeout bounds every downstream call.
const DefaultTimeout = 10 * time.Second

// sharedTransport is reused by every client so concurrent step executions
// share one connection pool.
var sharedTransport = otelhttp.NewTransport(&http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 20,
	IdleConnTimeout:     90 * time.Second,
})

// Downstream is the operational API the engine dispatches steps to.
type Downstream interface {
	Call(ctx context.Context, method, path string, body map[string]interface{}) (*Response, error)
}

// Response is a decoded downstream reply. An empty body is valid and means
// the API returned no document.
type Response struct {
	StatusCode int
	Raw        []byte
}

// Empty reports whether the API returned no document.
func (r *Response) Empty() bool { return r == nil || len(bytes.TrimSpace(r.Raw)) == 0 }

// Get reads a field from the JSON document.
func (r *Response) Get(path string) gjson.Result {
	if r.Empty() {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Raw, path)
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPClient is a thin client for the operational REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Downstream = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL. Empty values fall back to
// DefaultBaseURL and DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: sharedTransport,
		},
	}
}

// BaseURL returns the configured API root.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Call sends one request. A nil body sends no payload.
func (c *HTTPClient) Call(ctx context.Context, method, path string, body map[string]interface{}) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		metrics.DownstreamCallsTotal.WithLabelValues(method, outcome).Inc()
		metrics.DownstreamCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil && method != http.MethodGet {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: httpResp.StatusCode,
			Body:       truncate(string(raw), 200),
		}
	}

	resp = &Response{StatusCode: httpResp.StatusCode, Raw: raw}
	if !resp.Empty() && (!gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject()) {
		return nil, fmt.Errorf("%s %s: response is not a JSON object", method, path)
	}
	return resp, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

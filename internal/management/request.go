package management

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
)

// Document is a management API resource as exchanged on the wire.
type Document map[string]any

// Query holds query-string parameters. Slice values are sent as repeated keys.
type Query map[string]any

// request describes one API call. The body is kept as bytes so retries can
// resend it.
type request struct {
	method      string
	path        string
	query       Query
	body        []byte
	contentType string
}

// jsonRequest builds a request with a JSON-encoded body (nil body allowed).
func jsonRequest(method, path string, body any) (*request, error) {
	req := &request{method: method, path: path}
	if body == nil {
		return req, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req.body = data
	req.contentType = "application/json"
	return req, nil
}

// pathParam escapes a single path segment.
func pathParam(name string, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("management: %s is required", name)
	}
	return runtime.StyleParamWithLocation("simple", false, name, runtime.ParamLocationPath, value)
}

// encodeQuery renders q as a form-style query string with exploded arrays.
// Keys are emitted in sorted order.
func encodeQuery(q Query) (string, error) {
	if len(q) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	values := url.Values{}
	for _, k := range keys {
		if q[k] == nil {
			continue
		}
		frag, err := runtime.StyleParamWithLocation("form", true, k, runtime.ParamLocationQuery, q[k])
		if err != nil {
			return "", fmt.Errorf("encoding query parameter %s: %w", k, err)
		}
		parsed, err := url.ParseQuery(frag)
		if err != nil {
			return "", fmt.Errorf("encoding query parameter %s: %w", k, err)
		}
		for pk, pv := range parsed {
			for _, v := range pv {
				values.Add(pk, v)
			}
		}
	}
	return values.Encode(), nil
}

// do sends req and decodes a 2xx JSON response into out (nil to discard).
func (c *Client) do(ctx context.Context, req *request, out any) error {
	query, err := encodeQuery(req.query)
	if err != nil {
		return err
	}
	target := c.baseURL + req.path
	if query != "" {
		target += "?" + query
	}

	correlationID := uuid.NewString()
	logger := slog.With("method", req.method, "path", req.path, "correlation_id", correlationID)

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
			}
		}

		var body io.Reader
		if req.body != nil {
			body = bytes.NewReader(req.body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Correlation-ID", correlationID)
		if req.contentType != "" {
			httpReq.Header.Set("Content-Type", req.contentType)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			logger.ErrorContext(ctx, "request failed", "error", err, "duration", time.Since(start))
			// Includes token acquisition failures surfaced by BearerTransport
			return nil, backoff.Permanent(fmt.Errorf("failed to send request: %w", err))
		}

		logger.DebugContext(ctx, "request completed",
			"status", resp.StatusCode,
			"duration", time.Since(start),
			"attempt", attempt,
		)

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			apiErr := readAPIError(resp)
			logger.WarnContext(ctx, "rate limited", "attempt", attempt, "retry_after", retryAfter)
			// The last attempt reports the API error itself
			if retryAfter > 0 && attempt <= int(c.maxRetries) {
				return nil, backoff.RetryAfter(int(retryAfter.Seconds()))
			}
			return nil, apiErr
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxRetries+1),
	)
	if err != nil {
		return err
	}

	return decodeResponse(resp, out)
}

// parseRetryAfter parses a Retry-After header given in seconds or as an HTTP date.
// Values below one second round up so the header is still honoured.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return max(d.Round(time.Second), time.Second)
		}
	}
	return 0
}

// decodeResponse turns non-2xx responses into *APIError and decodes the rest.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

package tokenprovider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// tokenServer is a fake token endpoint that answers with queued responses and
// records every request body it receives.
type tokenServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses []tokenServerResponse
	requests  []map[string]any
	calls     atomic.Int32
}

type tokenServerResponse struct {
	status int
	body   string
}

func newTokenServer(t *testing.T, responses ...tokenServerResponse) *tokenServer {
	t.Helper()

	ts := &tokenServer{responses: responses}
	ts.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding token request: %v", err)
		}

		n := int(ts.calls.Add(1))

		ts.mu.Lock()
		ts.requests = append(ts.requests, body)
		resp := ts.responses[len(ts.responses)-1]
		if n <= len(ts.responses) {
			resp = ts.responses[n-1]
		}
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(ts.Close)

	return ts
}

func (ts *tokenServer) domain() string {
	return ts.Listener.Addr().String()
}

func (ts *tokenServer) lastRequest(t *testing.T) map[string]any {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotEmpty(t, ts.requests, "no token request recorded")
	return ts.requests[len(ts.requests)-1]
}

func ok(body string) tokenServerResponse {
	return tokenServerResponse{status: http.StatusOK, body: body}
}

func newTestProvider(t *testing.T, ts *tokenServer, mutate func(*Config), opts ...Option) *Provider {
	t.Helper()

	cfg := &Config{
		Domain:       ts.domain(),
		ClientID:     "cid",
		ClientSecret: "sec",
	}
	if mutate != nil {
		mutate(cfg)
	}

	p, err := New(cfg, append([]Option{WithHTTPClient(ts.Client())}, opts...)...)
	require.NoError(t, err)
	return p
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func boolPtr(b bool) *bool {
	return &b
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestAccessToken_CacheHitAvoidsNetwork(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, ok(`{"access_token":"tok1","expires_in":3600,"token_type":"Bearer"}`))
	p := newTestProvider(t, ts, nil)

	first, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", first)

	second, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", second)

	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestAccessToken_ExpiredTokenTriggersRefetch(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":0}`),
		ok(`{"access_token":"tok2","expires_in":3600}`),
	)
	p := newTestProvider(t, ts, nil)

	first, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", first)

	time.Sleep(10 * time.Millisecond)

	second, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok2", second)
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestAccessToken_FractionalExpiry(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":0.025}`),
		ok(`{"access_token":"tok2","expires_in":3600}`),
	)
	p := newTestProvider(t, ts, nil)

	first, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", first)

	time.Sleep(50 * time.Millisecond)

	second, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok2", second)
	assert.NotEqual(t, first, second)
}

func TestAccessToken_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":60}`),
		ok(`{"access_token":"tok2","expires_in":60}`),
	)
	p := newTestProvider(t, ts, nil, WithClock(clock.Now))

	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)

	clock.Advance(59 * time.Second)
	tok, err = p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok, "token should still be served before expiry")

	// Exactly at expiresAt the token is no longer valid
	clock.Advance(time.Second)
	tok, err = p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok2", tok)
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestAccessToken_CacheDisabledNeverReuses(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":3600}`),
		ok(`{"access_token":"tok2","expires_in":3600}`),
	)
	p := newTestProvider(t, ts, func(c *Config) {
		c.UseCache = boolPtr(false)
	})
	require.False(t, p.UseCache())

	first, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	second, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok1", first)
	assert.Equal(t, "tok2", second)
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestAccessToken_RequestBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mutate       func(*Config)
		wantAudience func(domain string) string
		wantScope    any
	}{
		{
			name:         "default audience",
			wantAudience: DefaultAudience,
		},
		{
			name: "explicit audience and scope",
			mutate: func(c *Config) {
				c.Audience = "https://api.example.com/"
				c.Scope = "read:users update:users"
			},
			wantAudience: func(string) string { return "https://api.example.com/" },
			wantScope:    "read:users update:users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTokenServer(t, ok(`{"access_token":"tok1","expires_in":3600}`))
			p := newTestProvider(t, ts, tt.mutate)

			_, err := p.AccessToken(context.Background())
			require.NoError(t, err)

			body := ts.lastRequest(t)
			assert.Equal(t, "cid", body["client_id"])
			assert.Equal(t, "sec", body["client_secret"])
			assert.Equal(t, "client_credentials", body["grant_type"])
			assert.Equal(t, tt.wantAudience(ts.domain()), body["audience"])

			scope, present := body["scope"]
			if tt.wantScope == nil {
				assert.False(t, present, "scope must be omitted when not configured")
			} else {
				assert.Equal(t, tt.wantScope, scope)
			}
		})
	}
}

func TestAccessToken_Unauthorized(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, tokenServerResponse{
		status: http.StatusUnauthorized,
		body:   `{"error":"access_denied","error_description":"Unauthorized"}`,
	})
	p := newTestProvider(t, ts, nil)

	_, err := p.AccessToken(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "access_denied", apiErr.Code)
	assert.Equal(t, "Unauthorized", apiErr.Description)
	assert.JSONEq(t, `{"error":"access_denied","error_description":"Unauthorized"}`, string(apiErr.Body))
}

func TestAccessToken_RateLimitedKeepsStatus(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, tokenServerResponse{status: http.StatusTooManyRequests, body: `too many`})
	p := newTestProvider(t, ts, nil)

	_, err := p.AccessToken(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "too many", string(apiErr.Body))
}

func TestAccessToken_TransportFailure(t *testing.T) {
	t.Parallel()

	p, err := New(&Config{Domain: "x.example.com", ClientID: "cid", ClientSecret: "sec"},
		WithTransport(roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return nil, syscall.ECONNRESET
		})),
	)
	require.NoError(t, err)

	_, err = p.AccessToken(context.Background())
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, syscall.ECONNRESET)
}

func TestAccessToken_MalformedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "missing access_token", body: `{"expires_in":3600}`},
		{name: "missing expires_in", body: `{"access_token":"tok1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTokenServer(t, ok(tt.body))
			p := newTestProvider(t, ts, nil)

			_, err := p.AccessToken(context.Background())

			var transportErr *TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestAccessToken_FailureKeepsCachedToken(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":60}`),
		tokenServerResponse{status: http.StatusInternalServerError, body: `{}`},
	)
	p := newTestProvider(t, ts, nil, WithClock(clock.Now))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	// Force a miss, let the exchange fail, then rewind: tok1 must still be there.
	clock.Advance(2 * time.Minute)
	_, err = p.AccessToken(context.Background())
	require.Error(t, err)

	clock.Advance(-2 * time.Minute)
	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok)
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestAccessToken_ConcurrentMissesShareExchange(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"shared","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(&Config{Domain: srv.Listener.Addr().String(), ClientID: "cid", ClientSecret: "sec"},
		WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.AccessToken(context.Background())
		}()
	}

	// Give every goroutine a chance to join the in-flight exchange
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestAccessToken_CallerCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"access_token":"late","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	p, err := New(&Config{Domain: srv.Listener.Addr().String(), ClientID: "cid", ClientSecret: "sec"},
		WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.AccessToken(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestToken_ImplementsTokenSource(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, ok(`{"access_token":"tok1","expires_in":3600,"token_type":"Bearer","scope":"read:users"}`))
	p := newTestProvider(t, ts, nil)

	tok, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.Equal(t, "read:users", tok.Extra("scope"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)

	// The token source shares the cache with AccessToken
	s, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok1", s)
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestAccessToken_HugeExpiresInStaysCached(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":1e12}`),
		ok(`{"access_token":"tok2","expires_in":1e12}`),
	)
	p := newTestProvider(t, ts, nil)

	for range 2 {
		tok, err := p.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok1", tok)
	}
	assert.EqualValues(t, 1, ts.calls.Load())

	tok, err := p.Token()
	require.NoError(t, err)
	assert.True(t, tok.Expiry.After(time.Now().Add(100*365*24*time.Hour)))
}

func TestExchange_RecordsSpan(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t,
		ok(`{"access_token":"tok1","expires_in":3600}`),
		tokenServerResponse{status: http.StatusUnauthorized, body: `{"error":"access_denied"}`},
	)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	p := newTestProvider(t, ts, func(c *Config) { c.UseCache = boolPtr(false) }, WithTracerProvider(tp))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = p.AccessToken(context.Background())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	for _, span := range spans {
		assert.Equal(t, "tokenprovider.exchange", span.Name())
		assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	}
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.NotEmpty(t, spans[1].Events(), "error recorded as span event")
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

package tokenprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	grantTypeClientCredentials = "client_credentials"

	// flightKey identifies the single shared exchange for cache misses.
	flightKey = "token"
)

const tracerName = "github.com/florianilch/tenantctl/internal/tokenprovider"

// maxLifetimeSeconds is the longest expires_in that fits a time.Duration.
const maxLifetimeSeconds = float64(math.MaxInt64 / int64(time.Second))

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for token exchanges.
// Timeouts are whatever the client enforces.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTransport sets the round tripper used for token exchanges while keeping
// the default client timeout.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Provider) {
		p.httpClient = &http.Client{Timeout: defaultTimeout, Transport: rt}
	}
}

// WithTracerProvider sets the tracer provider for exchange spans.
// Default: the global provider installed with otel.SetTracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Provider) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithClock replaces time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

const defaultTimeout = 30 * time.Second

// Provider exchanges client credentials for access tokens and caches them.
// It is safe for concurrent use.
type Provider struct {
	cfg        Config
	useCache   bool
	tokenURL   string
	audience   string
	httpClient *http.Client
	now        func() time.Time
	tracer     trace.Tracer

	mu     sync.RWMutex
	cached *oauth2.Token

	group singleflight.Group
}

// Compile-time check to ensure Provider implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Provider)(nil)

// New validates cfg and creates a Provider. No network activity happens here.
func New(cfg *Config, opts ...Option) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	useCache := true
	if cfg.UseCache != nil {
		useCache = *cfg.UseCache
	}

	stored := *cfg
	stored.UseCache = &useCache

	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience(cfg.Domain)
	}

	p := &Provider{
		cfg:        stored,
		useCache:   useCache,
		tokenURL:   "https://" + cfg.Domain + "/oauth/token",
		audience:   audience,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Config returns the stored configuration with UseCache resolved.
func (p *Provider) Config() Config {
	cfg := p.cfg
	useCache := p.useCache
	cfg.UseCache = &useCache
	return cfg
}

// UseCache reports whether tokens are retained between calls.
func (p *Provider) UseCache() bool {
	return p.useCache
}

// AccessToken returns a currently valid access token, fetching a new one when
// the cache is empty, expired or disabled.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource.
// oauth2.TokenSource has no context parameter, so the exchange uses a background context.
func (p *Provider) Token() (*oauth2.Token, error) {
	return p.token(context.Background())
}

func (p *Provider) token(ctx context.Context) (*oauth2.Token, error) {
	if !p.useCache {
		return p.exchange(ctx)
	}

	// Hot path: no I/O while the cached token is valid
	if tok := p.validCached(); tok != nil {
		return tok, nil
	}

	// Concurrent misses share one exchange. The exchange is detached from the
	// first caller's cancellation; every caller still returns when its own ctx ends.
	ch := p.group.DoChan(flightKey, func() (any, error) {
		if tok := p.validCached(); tok != nil {
			return tok, nil
		}
		tok, err := p.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		p.store(tok)
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, &TransportError{Op: "wait for token", Err: ctx.Err()}
	}
}

// validCached returns the cached token if it has not yet expired.
func (p *Provider) validCached() *oauth2.Token {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.cached == nil || !p.now().Before(p.cached.Expiry) {
		return nil
	}
	return p.cached
}

// store replaces the cached token. The most recent successful exchange wins.
func (p *Provider) store(tok *oauth2.Token) {
	p.mu.Lock()
	p.cached = tok
	p.mu.Unlock()
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Audience     string `json:"audience"`
	Scope        string `json:"scope,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`

	// ExpiresIn is in seconds and may be fractional.
	ExpiresIn *float64 `json:"expires_in"`
}

// exchange performs the client credentials grant against the token endpoint.
func (p *Provider) exchange(ctx context.Context) (*oauth2.Token, error) {
	ctx, span := p.tracer.Start(ctx, "tokenprovider.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("oauth.domain", p.cfg.Domain),
			attribute.String("oauth.audience", p.audience),
		),
	)
	defer span.End()

	tok, err := p.doExchange(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		slog.DebugContext(ctx, "token exchange failed", "domain", p.cfg.Domain, "error", err)
		return nil, err
	}

	slog.DebugContext(ctx, "obtained access token",
		"domain", p.cfg.Domain,
		"expires_at", tok.Expiry.Format(time.RFC3339Nano),
		"cached", p.useCache,
	)
	return tok, nil
}

func (p *Provider) doExchange(ctx context.Context) (*oauth2.Token, error) {
	body, err := json.Marshal(tokenRequest{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		GrantType:    grantTypeClientCredentials,
		Audience:     p.audience,
		Scope:        p.cfg.Scope,
	})
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "send request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, &TransportError{Op: "decode response", Err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
	}
	if tr.AccessToken == "" {
		return nil, &TransportError{Op: "decode response", Err: fmt.Errorf("%w: missing access_token", ErrMalformedResponse)}
	}
	if tr.ExpiresIn == nil {
		return nil, &TransportError{Op: "decode response", Err: fmt.Errorf("%w: missing expires_in", ErrMalformedResponse)}
	}

	lifetime := time.Duration(min(*tr.ExpiresIn, maxLifetimeSeconds) * float64(time.Second))
	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      p.now().Add(lifetime),
		ExpiresIn:   int64(lifetime / time.Second),
	}
	if tr.Scope != "" {
		tok = tok.WithExtra(map[string]any{"scope": tr.Scope})
	}

	return tok, nil
}

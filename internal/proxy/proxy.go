package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/florianilch/tenantctl/internal/management"
	"github.com/florianilch/tenantctl/internal/tokenprovider"
)

// Option configures a Proxy.
type Option func(*config)

type config struct {
	baseTransport http.RoundTripper
	telemetry     bool
}

// WithBaseTransport sets the transport used for upstream requests below token injection.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *config) {
		c.baseTransport = rt
	}
}

// WithTelemetry toggles the client telemetry header on upstream requests. Default: enabled.
func WithTelemetry(enabled bool) Option {
	return func(c *config) {
		c.telemetry = enabled
	}
}

// Proxy is a local HTTP server that forwards management API calls to the
// tenant with a bearer token attached.
type Proxy struct {
	router chi.Router
	ts     oauth2.TokenSource
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a proxy for the management API of domain.
func New(ts oauth2.TokenSource, domain string, opts ...Option) (*Proxy, error) {
	if ts == nil {
		return nil, errors.New("missing token source")
	}
	domain = strings.TrimSuffix(domain, "/")
	if domain == "" {
		return nil, errors.New("missing tenant domain")
	}

	cfg := &config{telemetry: true}
	for _, opt := range opts {
		opt(cfg)
	}

	base := cfg.baseTransport
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.telemetry {
		base = &management.TelemetryTransport{Base: base}
	}

	// Client headers are filtered before the token is attached upstream
	transport := &management.BearerTransport{
		Source: ts,
		Base:   &HeaderFilterTransport{Base: base},
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = "https"
			pr.Out.URL.Host = domain
			pr.Out.Host = domain
		},
		Transport:    transport,
		ErrorHandler: upstreamError,
	}

	p := &Proxy{ts: ts}

	r := chi.NewRouter()
	r.Use(Logging(slog.Default()), Recovery)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(r.Context(), w, "not found", http.StatusNotFound)
	})
	r.Get("/healthz", p.handleHealth)
	r.Get("/readyz", p.handleReady)
	r.Handle("/api/v2/*", reverseProxyHandler)

	p.router = r
	return p, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

func (p *Proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleReady reports whether a token can currently be obtained.
// With caching enabled this is served from the cache.
func (p *Proxy) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := management.RequestToken(r.Context(), p.ts); err != nil {
		slog.WarnContext(r.Context(), "token unavailable", "error", err)
		writeJSONError(r.Context(), w, "token unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(r.Context(), w, map[string]string{"status": "ready"}, http.StatusOK)
}

// upstreamError maps failed upstream round trips to JSON errors.
func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var apiErr *tokenprovider.APIError
	var transportErr *tokenprovider.TransportError
	switch {
	case errors.As(err, &apiErr):
		slog.ErrorContext(ctx, "token exchange rejected", "status", apiErr.StatusCode, "code", apiErr.Code)
		writeJSONError(ctx, w, "token exchange rejected", http.StatusBadGateway)
	case errors.As(err, &transportErr):
		slog.ErrorContext(ctx, "token exchange failed", "error", err)
		writeJSONError(ctx, w, "token exchange failed", http.StatusBadGateway)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to answer
	default:
		slog.ErrorContext(ctx, "upstream request failed", "error", err)
		writeJSONError(ctx, w, "upstream request failed", http.StatusBadGateway)
	}
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request
		WriteTimeout: 2 * time.Minute,  // Inbound: Write entire response, covers user export downloads
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tenantctl/internal/management"
	"github.com/florianilch/tenantctl/internal/proxy"
	"github.com/florianilch/tenantctl/internal/tokenprovider"
)

// Option configures an App.
type Option func(*App)

// WithTransport sets the base transport for all outgoing tenant requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *App) {
		a.transport = rt
	}
}

// App wires configuration, the token source, the management client and the
// local proxy, and orchestrates their lifecycle.
type App struct {
	cfg       *Config
	transport http.RoundTripper
	tokens    AccessTokenSource
	proxy     *proxy.Proxy
}

// New creates a new App instance.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	// I/O deferred to first token request
	tokens, err := a.newTokenSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}
	a.tokens = tokens

	proxyServer, err := proxy.New(tokens, cfg.Auth.Domain,
		proxy.WithBaseTransport(a.transport),
		proxy.WithTelemetry(a.telemetry()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}
	a.proxy = proxyServer

	return a, nil
}

// TokenSource returns the shared access token source.
func (a *App) TokenSource() AccessTokenSource {
	return a.tokens
}

// AccessToken returns a valid access token for the configured tenant.
func (a *App) AccessToken(ctx context.Context) (string, error) {
	return a.tokens.AccessToken(ctx)
}

// Management creates a management API client sharing the app's token source.
func (a *App) Management() (*management.Client, error) {
	return management.New(a.cfg.Auth.Domain, a.tokens,
		management.WithBaseTransport(a.transport),
		management.WithRateLimit(a.cfg.Client.RateLimit, a.cfg.Client.RateBurst),
		management.WithRetries(a.cfg.Client.MaxRetries),
		management.WithTelemetry(a.telemetry()),
		management.WithTimeout(a.cfg.Client.Timeout),
	)
}

// Handler returns the local proxy as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.proxy
}

// Serve starts the local proxy and blocks until ctx is cancelled or the
// server fails. Uses errgroup for runtime error monitoring and shutdown
// function collection for coordinated cleanup.
func (a *App) Serve(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "address", address, "domain", a.cfg.Auth.Domain)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

func (a *App) telemetry() bool {
	return a.cfg.Client.Telemetry == nil || *a.cfg.Client.Telemetry
}

func (a *App) newProvider(secret string) (*tokenprovider.Provider, error) {
	return tokenprovider.New(a.cfg.Auth.ProviderConfig(secret),
		tokenprovider.WithHTTPClient(&http.Client{
			Timeout:   a.cfg.Client.Timeout,
			Transport: a.transport,
		}),
	)
}

// newTokenSource builds the token source for the configured secret storage.
// Inline secrets are validated immediately; stored secrets are read on first use.
func (a *App) newTokenSource() (AccessTokenSource, error) {
	if a.cfg.Auth.SecretStorage == SecretStorageInline {
		return a.newProvider(a.cfg.Auth.ClientSecret)
	}

	store, err := a.cfg.Auth.NewSecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create secret store: %w", err)
	}
	return NewSecretTokenSource(a.newProvider, store)
}

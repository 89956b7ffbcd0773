package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/florianilch/tenantctl/internal/secretstore"
	"github.com/florianilch/tenantctl/internal/tokenprovider"
)

// AccessTokenSource is what the app hands to the management client and proxy.
// *tokenprovider.Provider and *SecretTokenSource both implement it.
type AccessTokenSource interface {
	oauth2.TokenSource
	AccessToken(ctx context.Context) (string, error)
}

// ProviderFactory creates a token provider once the client secret is known.
type ProviderFactory func(secret string) (*tokenprovider.Provider, error)

// SecretTokenSource defers reading the client secret until the first token is
// requested, then delegates to a single long-lived token provider.
// No I/O happens during application startup. A failed read is retried on the
// next request, so a secret stored later (or an unlocked keyring) is picked up.
type SecretTokenSource struct {
	factory ProviderFactory
	store   secretstore.Store

	current atomic.Pointer[tokenprovider.Provider]
	initMu  sync.Mutex
}

// Compile-time check to ensure SecretTokenSource implements AccessTokenSource
var _ AccessTokenSource = (*SecretTokenSource)(nil)

// NewSecretTokenSource creates a SecretTokenSource.
// No I/O is performed until the first Token or AccessToken call.
func NewSecretTokenSource(factory ProviderFactory, store secretstore.Store) (*SecretTokenSource, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing token provider factory")
	}
	if store == nil {
		return nil, fmt.Errorf("missing secret store")
	}

	return &SecretTokenSource{
		factory: factory,
		store:   store,
	}, nil
}

// provider returns the token provider, creating it on first successful use.
func (s *SecretTokenSource) provider(ctx context.Context) (*tokenprovider.Provider, error) {
	if p := s.current.Load(); p != nil {
		return p, nil
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	// Another caller may have finished initialization while we waited
	if p := s.current.Load(); p != nil {
		return p, nil
	}

	secret, err := s.store.Read(ctx)
	if err != nil {
		slog.WarnContext(ctx, "client secret unavailable, will retry on next request", "error", err)
		return nil, fmt.Errorf("failed to read client secret: %w", err)
	}

	p, err := s.factory(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token provider: %w", err)
	}

	s.current.Store(p)
	return p, nil
}

// AccessToken returns a valid access token from the underlying provider.
func (s *SecretTokenSource) AccessToken(ctx context.Context) (string, error) {
	p, err := s.provider(ctx)
	if err != nil {
		return "", err
	}
	return p.AccessToken(ctx)
}

// Token implements oauth2.TokenSource.
func (s *SecretTokenSource) Token() (*oauth2.Token, error) {
	p, err := s.provider(context.Background())
	if err != nil {
		return nil, err
	}
	return p.Token()
}

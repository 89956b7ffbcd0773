package management

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// ContextTokenSource is a token source that can bound a token fetch by a
// context. *tokenprovider.Provider implements it.
type ContextTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// BearerTransport is an http.RoundTripper that attaches a bearer token fetched
// with the request's context, so a cancelled request stops waiting for a
// token. Sources without AccessToken fall back to oauth2.TokenSource.Token.
type BearerTransport struct {
	Source oauth2.TokenSource
	Base   http.RoundTripper
}

// Compile-time check that BearerTransport implements http.RoundTripper.
var _ http.RoundTripper = (*BearerTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	closeBody := func() {
		if req.Body != nil {
			_ = req.Body.Close()
		}
	}

	if t.Source == nil {
		closeBody()
		return nil, errors.New("management: BearerTransport's Source is nil")
	}

	token, err := RequestToken(req.Context(), t.Source)
	if err != nil {
		closeBody()
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())
	newReq.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(newReq)
}

// RequestToken returns an access token from ts, honouring ctx when ts
// implements ContextTokenSource.
func RequestToken(ctx context.Context, ts oauth2.TokenSource) (string, error) {
	if cts, ok := ts.(ContextTokenSource); ok {
		return cts.AccessToken(ctx)
	}
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Package tokenprovider obtains and caches access tokens for the management API
// using the OAuth2 client credentials grant.
//
// A Provider is long-lived and shared by everything that talks to one tenant.
// It exchanges the configured client id and secret at https://{domain}/oauth/token,
// keeps the resulting token in memory until it expires, and hands out the cached
// value without any I/O while it is still valid:
//
//	p, err := tokenprovider.New(&tokenprovider.Config{
//		Domain:       "tenant.example.com",
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//	})
//	if err != nil {
//		return err
//	}
//	token, err := p.AccessToken(ctx)
//
// Provider also implements oauth2.TokenSource. Callers that have a request
// context should prefer AccessToken so cancellation reaches the exchange.
//
// # Caching
//
// Caching is enabled unless Config.UseCache is explicitly false. With caching
// enabled, concurrent callers that miss the cache share a single exchange. With
// caching disabled every call performs its own exchange and nothing is retained.
// A failed exchange never replaces a cached token.
//
// # Errors
//
// Construction fails with *ConfigurationError. AccessToken fails with *APIError
// when the token endpoint answers with a non-2xx status and with *TransportError
// when the request could not be completed or the response could not be understood.
package tokenprovider

package proxy

import "net/http"

// allowedHeaders defines the HTTP headers permitted to pass through to the tenant.
var allowedHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Accept":           true,
	"Accept-Encoding":  true,
	"Authorization":    true,
	"X-Correlation-Id": true,

	// W3C Trace Context for distributed tracing correlation.
	// Baggage is excluded, it carries application-level context rather than tracing data.
	"Traceparent": true,
	"Tracestate":  true,
}

// HeaderFilterTransport is an http.RoundTripper that forwards only allow-listed headers.
type HeaderFilterTransport struct {
	Base http.RoundTripper
}

// Compile-time check that HeaderFilterTransport implements http.RoundTripper.
var _ http.RoundTripper = (*HeaderFilterTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
// Cookies, user agents and custom client headers never reach the tenant.
func (t *HeaderFilterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())

	newReq.Header = make(http.Header, len(req.Header))
	for key, values := range req.Header {
		if allowedHeaders[key] {
			newReq.Header[key] = values
		}
	}

	return base.RoundTrip(newReq)
}

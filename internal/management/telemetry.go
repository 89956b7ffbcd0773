package management

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"runtime"
)

// TelemetryHeader carries the client name and version to the tenant.
const TelemetryHeader = "Auth0-Client"

// Version is reported in the telemetry header. Overridden at build time.
var Version = "dev"

var telemetryValue = mustEncodeTelemetry(map[string]any{
	"name":    "tenantctl",
	"version": Version,
	"env":     map[string]string{"go": runtime.Version()},
})

// TelemetryTransport is an http.RoundTripper that adds the telemetry header
// to every request that does not already carry one.
type TelemetryTransport struct {
	Base http.RoundTripper
}

// Compile-time check that TelemetryTransport implements http.RoundTripper.
var _ http.RoundTripper = (*TelemetryTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *TelemetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if req.Header.Get(TelemetryHeader) != "" {
		return base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request
	newReq := req.Clone(req.Context())
	newReq.Header.Set(TelemetryHeader, telemetryValue)
	return base.RoundTrip(newReq)
}

// mustEncodeTelemetry marshals v to base64url JSON or panics.
// Used for package-level initialization only.
func mustEncodeTelemetry(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal telemetry: " + err.Error())
	}
	return base64.URLEncoding.EncodeToString(data)
}

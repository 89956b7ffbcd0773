package management

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/florianilch/tenantctl/internal/tokenprovider"
)

// DefaultTimeout bounds a single management API request.
const DefaultTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient    *http.Client
	baseTransport http.RoundTripper
	limiter       *rate.Limiter
	maxRetries    uint
	telemetry     bool
	timeout       time.Duration
}

// WithHTTPClient uses c as the template for the authenticated client.
// Its transport becomes the base transport under the token injection.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// WithBaseTransport sets the transport used below bearer token injection.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(cfg *clientConfig) {
		cfg.baseTransport = rt
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
// The tenant enforces its own limits; this keeps bulk scripts under them.
func WithRateLimit(rps float64, burst int) Option {
	return func(cfg *clientConfig) {
		if rps <= 0 {
			cfg.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cfg.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries retries requests rejected with 429 Too Many Requests up to n
// times with exponential backoff. Default: 0 (no retries).
func WithRetries(n uint) Option {
	return func(cfg *clientConfig) {
		cfg.maxRetries = n
	}
}

// WithTelemetry toggles the client telemetry header. Default: enabled.
func WithTelemetry(enabled bool) Option {
	return func(cfg *clientConfig) {
		cfg.telemetry = enabled
	}
}

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// Client talks to the management API of one tenant.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint

	Clients         *ClientsManager
	Connections     *Resource
	Users           *UsersManager
	Roles           *RolesManager
	Rules           *Resource
	ResourceServers *Resource
	LogStreams      *Resource
	Logs            *LogsManager
	Jobs            *JobsManager
	Prompts         *SettingsManager
	Tenant          *SettingsManager
}

// New creates a Client for domain that authenticates every request with
// tokens from ts.
func New(domain string, ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if domain == "" {
		return nil, fmt.Errorf("management: domain is required")
	}
	if ts == nil {
		return nil, fmt.Errorf("management: token source is required")
	}

	cfg := &clientConfig{
		telemetry: true,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	base := cfg.baseTransport
	if base == nil && cfg.httpClient != nil {
		base = cfg.httpClient.Transport
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.telemetry {
		base = &TelemetryTransport{Base: base}
	}

	httpClient := &http.Client{Timeout: cfg.timeout}
	if cfg.httpClient != nil {
		clone := *cfg.httpClient
		httpClient = &clone
	}
	httpClient.Transport = &BearerTransport{Source: ts, Base: base}

	c := &Client{
		baseURL:    "https://" + strings.TrimSuffix(domain, "/") + "/api/v2",
		httpClient: httpClient,
		limiter:    cfg.limiter,
		maxRetries: cfg.maxRetries,
	}

	c.Clients = &ClientsManager{Resource: c.resource("/clients")}
	c.Connections = c.resource("/connections")
	c.Users = &UsersManager{Resource: c.resource("/users")}
	c.Roles = &RolesManager{Resource: c.resource("/roles")}
	c.Rules = c.resource("/rules")
	c.ResourceServers = c.resource("/resource-servers")
	c.LogStreams = c.resource("/log-streams")
	c.Logs = &LogsManager{c: c}
	c.Jobs = &JobsManager{c: c}
	c.Prompts = &SettingsManager{c: c, path: "/prompts"}
	c.Tenant = &SettingsManager{c: c, path: "/tenants/settings"}

	return c, nil
}

// NewFromProvider creates a Client for the provider's domain.
func NewFromProvider(p *tokenprovider.Provider, opts ...Option) (*Client, error) {
	if p == nil {
		return nil, fmt.Errorf("management: token provider is required")
	}
	return New(p.Config().Domain, p, opts...)
}

// BaseURL returns the API root, e.g. https://tenant.example.com/api/v2.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) resource(path string) *Resource {
	return &Resource{c: c, path: path}
}

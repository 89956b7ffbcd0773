package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/tenantctl/internal/secretstore"
	"github.com/florianilch/tenantctl/internal/tokenprovider"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel" // OpenTelemetry log records on stdout
	LogFormatOTLP LogFormat = "otlp" // OpenTelemetry log records to an OTLP collector
)

// SecretStorageType represents where the client secret comes from.
type SecretStorageType string

const (
	SecretStorageInline  SecretStorageType = "inline"
	SecretStorageFile    SecretStorageType = "file"
	SecretStorageEnv     SecretStorageType = "env"
	SecretStorageKeyring SecretStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4100
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigSecretStorage   = SecretStorageInline
	DefaultConfigSecretEnvKey    = "TENANTCTL_CLIENT_SECRET"
	DefaultConfigClientTimeout   = 30 * time.Second
)

// ServerConfig holds settings for the local proxy.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// AuthConfig describes the tenant credentials and where the client secret is kept.
type AuthConfig struct {
	Domain   string `json:"domain" validate:"required"`
	ClientID string `json:"client_id" validate:"required"`
	Audience string `json:"audience,omitempty" validate:"omitempty,url"`
	Scope    string `json:"scope,omitempty"`
	UseCache *bool  `json:"use_cache,omitempty"`

	// ClientSecret is only used with inline storage.
	ClientSecret string `json:"client_secret,omitempty"`

	// CredentialsFile is a JSON document with domain, client_id, client_secret,
	// audience, scope and use_cache. Its values override the fields above.
	CredentialsFile string `json:"credentials_file,omitempty"`

	SecretStorage SecretStorageType `json:"secret_storage" validate:"required,oneof=inline file env keyring"`
	SecretFile    string            `json:"secret_file,omitempty"`    // For file storage: path to secret file
	SecretEnvKey  string            `json:"secret_env_key,omitempty"` // For env storage: environment variable name
	KeyringUser   string            `json:"keyring_user,omitempty"`   // For keyring storage: user identifier
}

// NewSecretStore creates the secretstore.Store for non-inline storage.
func (a *AuthConfig) NewSecretStore() (secretstore.Store, error) {
	switch a.SecretStorage {
	case SecretStorageFile:
		return secretstore.NewFileStore(a.SecretFile)
	case SecretStorageEnv:
		return secretstore.NewEnvStore(a.SecretEnvKey)
	case SecretStorageKeyring:
		return secretstore.NewKeyringStore(secretstore.KeyringService, a.KeyringUser)
	case SecretStorageInline:
		return nil, errors.New("inline secret storage has no backing store")
	default:
		return nil, fmt.Errorf("unsupported secret storage: %s", a.SecretStorage)
	}
}

// ProviderConfig returns the token provider configuration for secret.
func (a *AuthConfig) ProviderConfig(secret string) *tokenprovider.Config {
	return &tokenprovider.Config{
		Domain:       a.Domain,
		ClientID:     a.ClientID,
		ClientSecret: secret,
		Audience:     a.Audience,
		Scope:        a.Scope,
		UseCache:     a.UseCache,
	}
}

// applyCredentialsFile merges the credentials file into a, if one is configured.
func (a *AuthConfig) applyCredentialsFile() error {
	if a.CredentialsFile == "" {
		return nil
	}

	data, err := os.ReadFile(a.CredentialsFile)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing credentials file %s: %w", a.CredentialsFile, err)
	}
	creds, err := tokenprovider.ParseConfig(raw)
	if err != nil {
		return err
	}

	if creds.Domain != "" {
		a.Domain = creds.Domain
	}
	if creds.ClientID != "" {
		a.ClientID = creds.ClientID
	}
	if creds.Audience != "" {
		a.Audience = creds.Audience
	}
	if creds.Scope != "" {
		a.Scope = creds.Scope
	}
	if creds.UseCache != nil {
		a.UseCache = creds.UseCache
	}
	if creds.ClientSecret != "" {
		a.ClientSecret = creds.ClientSecret
		a.SecretStorage = SecretStorageInline
	}
	return nil
}

// ClientConfig tunes the management API client.
type ClientConfig struct {
	RateLimit  float64       `json:"rate_limit" validate:"gte=0"` // requests per second, 0 disables
	RateBurst  int           `json:"rate_burst" validate:"gte=0"`
	MaxRetries uint          `json:"max_retries" validate:"lte=10"`
	Telemetry  *bool         `json:"telemetry,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json otel otlp"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Auth      AuthConfig     `json:"auth"`
	Client    ClientConfig   `json:"client"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
// A configured credentials file is read here so later defaults see its values.
func (c *Config) ApplyDefaults() error {
	if err := c.Auth.applyCredentialsFile(); err != nil {
		return err
	}

	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = DefaultConfigClientTimeout
	}
	if c.Auth.SecretStorage == "" {
		c.Auth.SecretStorage = DefaultConfigSecretStorage
	}

	// Dynamic defaults based on storage type
	switch c.Auth.SecretStorage {
	case SecretStorageFile:
		if c.Auth.SecretFile == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.secret_file required (auto-detect failed: %w)", err)
			}
			c.Auth.SecretFile = filepath.Join(configDir, "tenantctl", "client_secret")
		}
	case SecretStorageEnv:
		if c.Auth.SecretEnvKey == "" {
			c.Auth.SecretEnvKey = DefaultConfigSecretEnvKey
		}
	case SecretStorageKeyring:
		if c.Auth.KeyringUser == "" {
			if c.Auth.ClientID != "" {
				c.Auth.KeyringUser = c.Auth.ClientID
			} else if currentUser, err := user.Current(); err == nil {
				c.Auth.KeyringUser = currentUser.Username
			} else {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
		}
	case SecretStorageInline:
		// client_secret must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.SecretStorage {
	case SecretStorageInline:
		if c.Auth.ClientSecret == "" {
			return errors.New("client_secret required for inline secret storage")
		}
	case SecretStorageFile:
		if c.Auth.SecretFile == "" {
			return errors.New("secret_file required for file secret storage")
		}
	case SecretStorageEnv:
		if c.Auth.SecretEnvKey == "" {
			return errors.New("secret_env_key required for env secret storage")
		}
	case SecretStorageKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring secret storage")
		}
	}

	return nil
}

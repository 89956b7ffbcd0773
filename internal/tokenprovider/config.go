package tokenprovider

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds the client credentials and cache settings for a Provider.
type Config struct {
	// Domain is the tenant host. It is used for the token endpoint and for the
	// default audience https://{domain}/api/v2/.
	Domain       string `json:"domain" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`

	// Audience overrides the default audience.
	Audience string `json:"audience,omitempty"`

	// Scope is a space-delimited scope list sent verbatim.
	Scope string `json:"scope,omitempty"`

	// UseCache controls whether tokens are kept between calls. Nil means true.
	UseCache *bool `json:"use_cache,omitempty"`
}

// DefaultAudience returns the audience used when none is configured.
func DefaultAudience(domain string) string {
	return "https://" + domain + "/api/v2/"
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// Report json names so errors match what users put in their config files.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate checks the required fields and returns a *ConfigurationError
// naming the first field at fault.
func (c *Config) validate() error {
	if c == nil {
		return &ConfigurationError{Message: "configuration is required"}
	}

	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Tag() == "required" {
			msg = "is required"
		}
		return &ConfigurationError{Field: fe.Field(), Message: msg}
	}
	return &ConfigurationError{Message: err.Error()}
}

// ParseConfig builds a Config from a loosely typed value such as decoded JSON
// or a raw koanf map. Unknown keys are ignored. Required fields are checked by
// New, but type mismatches are reported here: string fields must be strings and
// use_cache, when present, must be a boolean.
func ParseConfig(raw any) (*Config, error) {
	if raw == nil {
		return nil, &ConfigurationError{Message: "configuration is required"}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &ConfigurationError{Message: fmt.Sprintf("configuration must be an object, got %T", raw)}
	}

	cfg := &Config{}
	for key, dst := range map[string]*string{
		"domain":        &cfg.Domain,
		"client_id":     &cfg.ClientID,
		"client_secret": &cfg.ClientSecret,
		"audience":      &cfg.Audience,
		"scope":         &cfg.Scope,
	} {
		v, present := m[key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, &ConfigurationError{Field: key, Message: fmt.Sprintf("must be a string, got %T", v)}
		}
		*dst = s
	}

	if v, present := m["use_cache"]; present && v != nil {
		b, ok := v.(bool)
		if !ok {
			return nil, &ConfigurationError{Field: "use_cache", Message: fmt.Sprintf("must be a boolean, got %T", v)}
		}
		cfg.UseCache = &b
	}

	return cfg, nil
}

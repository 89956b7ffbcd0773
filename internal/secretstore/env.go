package secretstore

import (
	"context"
	"fmt"
	"os"
)

// EnvStore reads the secret from an environment variable.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given variable name.
// The variable does not need to be set yet; Read reports that.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}
	return &EnvStore{envKey: envKey}, nil
}

// Read returns the value of the environment variable.
func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret, ok := os.LookupEnv(e.envKey)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", e.envKey)
	}
	if secret == "" {
		return "", fmt.Errorf("environment variable %s is empty", e.envKey)
	}
	return secret, nil
}

// Write always fails: environment variables are read-only here.
func (e *EnvStore) Write(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.envKey)
}

package secretstore

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name secrets are stored under.
const KeyringService = "tenantctl-client-secret"

// KeyringStore keeps the secret in the OS-native credential store.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore. user is typically the client id so
// secrets for several clients can coexist.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	return &KeyringStore{service: service, user: user}, nil
}

// Read returns the secret from the keyring.
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret, err := keyring.Get(k.service, k.user)
	if err != nil {
		return "", fmt.Errorf("reading keyring entry %s/%s: %w", k.service, k.user, err)
	}
	if secret == "" {
		return "", fmt.Errorf("empty secret in keyring for service %s, user %s", k.service, k.user)
	}
	return secret, nil
}

// Write stores the secret in the keyring, overwriting any existing value.
func (k *KeyringStore) Write(ctx context.Context, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return keyring.Set(k.service, k.user, secret)
}

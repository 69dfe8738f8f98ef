package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

// KeyringStore keeps credentials as a JSON document in the OS keyring.
type KeyringStore struct {
	service string
	user    string
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	return &KeyringStore{service: service, user: user}, nil
}

// Read returns the credentials from the keyring.
func (k *KeyringStore) Read(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Credentials{}, fmt.Errorf("%w: no keyring entry for service %s, user %s", shared.ErrMissingCredentials, k.service, k.user)
		}
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(secret), &creds); err != nil {
		return Credentials{}, fmt.Errorf("decoding keyring entry: %w", err)
	}
	if !creds.Complete() {
		return Credentials{}, fmt.Errorf("%w: incomplete keyring entry for service %s, user %s", shared.ErrMissingCredentials, k.service, k.user)
	}
	return creds, nil
}

// Write stores the credentials, overwriting any existing entry.
func (k *KeyringStore) Write(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(k.service, k.user, string(data))
}

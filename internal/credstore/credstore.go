package credstore

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

const (
	EnvClientID     = "SPOTIFY_CLIENT_ID"
	EnvClientSecret = "SPOTIFY_CLIENT_SECRET"
	EnvRefreshToken = "SPOTIFY_REFRESH_TOKEN"

	// KeyringService names the keyring entry.
	KeyringService = "spotify-mcp"
)

// Credentials is the long-lived secret needed to mint access tokens.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether every field is set.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Env returns the credentials keyed by environment variable name.
func (c Credentials) Env() map[string]string {
	return map[string]string{
		EnvClientID:     c.ClientID,
		EnvClientSecret: c.ClientSecret,
		EnvRefreshToken: c.RefreshToken,
	}
}

func fromEnv(values map[string]string) Credentials {
	return Credentials{
		ClientID:     values[EnvClientID],
		ClientSecret: values[EnvClientSecret],
		RefreshToken: values[EnvRefreshToken],
	}
}

// Store reads and writes credentials to persistent storage.
type Store interface {
	// Read returns the stored credentials. Returns an error wrapping
	// [shared.ErrMissingCredentials] if nothing usable is stored.
	Read(ctx context.Context) (Credentials, error)

	// Write persists the credentials, replacing earlier values.
	Write(ctx context.Context, creds Credentials) error
}

// Open returns the backend selected by cfg.Storage.
func Open(cfg shared.SetupConfig) (Store, error) {
	switch cfg.Storage {
	case "", "dotenv":
		return NewDotenvStore(cfg.EnvFile)
	case "keyring":
		return NewKeyringStore(KeyringService, cfg.KeyringUser)
	default:
		return nil, fmt.Errorf("%w: unknown credential storage %q", shared.ErrInvalidConfig, cfg.Storage)
	}
}

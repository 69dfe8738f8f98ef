package main

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/desertthunder/spotify-mcp/internal/credstore"
	"github.com/desertthunder/spotify-mcp/internal/server"
	"github.com/desertthunder/spotify-mcp/internal/shared"
)

// Setup runs the authorization code flow once and persists the resulting refresh token.
//
// Starts a local callback listener, opens the browser at the consent page and waits for
// the first callback, a timeout or cancellation.
func (r *Runner) Setup(ctx context.Context) error {
	cfg := r.config
	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET (environment, %s or config file)",
			shared.ErrMissingCredentials, cfg.Setup.EnvFile)
	}

	store, err := credstore.Open(cfg.Setup)
	if err != nil {
		return err
	}

	state, err := shared.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state token: %w", err)
	}

	oauthConfig := r.oauthConfig()
	authURL := oauthConfig.AuthCodeURL(state)

	ln, err := r.listen("tcp", cfg.CallbackAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.CallbackAddr(), err)
	}

	handler := server.NewOAuthHandler(oauthConfig, state,
		server.WithHTTPClient(r.httpClient),
		server.WithLogger(shared.WithLogger(r.logger, "component", "setup")),
		server.WithCompleteFunc(r.persist(store)),
	)

	r.writePlain("%s", r.palette.Title("Spotify authorization"))
	r.writePlain("\n→ Open this URL in your browser to grant access:\n%s\n", r.palette.Link(authURL))
	r.writePlain("%s\n", r.palette.Help(fmt.Sprintf("Redirect URI (must be registered for your app): %s", cfg.Spotify.RedirectURI)))

	if err := r.openURL(authURL); err != nil {
		r.logger.Warn("failed to open browser automatically", "error", err)
		r.writePlain("%s\n", r.palette.Warn("⚠ Could not open browser automatically."))
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", cfg.Setup.Timeout)

	token, err := server.NewCallbackServer(handler, cfg.Setup.Timeout, r.logger).Serve(ctx, ln)
	if err != nil {
		r.writePlainln(r.palette.Error("✗ Authorization failed: " + err.Error()))
		return fmt.Errorf("authorization failed: %w", err)
	}

	r.writePlainln(r.palette.Success("✓ Authorization successful"))
	r.writePlain("✓ Refresh token saved (%s)\n", r.storageDescription())
	r.logger.Debug("token received", "expiry", token.Expiry)
	return nil
}

func (r *Runner) oauthConfig() *oauth2.Config {
	cfg := r.config
	return &oauth2.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURL:  cfg.Spotify.RedirectURI,
		Scopes:       cfg.Spotify.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL(),
			TokenURL:  cfg.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// persist writes the credential triple and, for dotenv storage, keeps the file out of git.
// The gitignore update is best-effort.
func (r *Runner) persist(store credstore.Store) server.CompleteFunc {
	cfg := r.config
	return func(ctx context.Context, token *oauth2.Token) error {
		creds := credstore.Credentials{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: token.RefreshToken,
		}
		if err := store.Write(ctx, creds); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		if _, ok := store.(*credstore.DotenvStore); ok && cfg.Setup.Gitignore != "" {
			entry := filepath.Base(cfg.Setup.EnvFile)
			added, err := credstore.EnsureIgnored(cfg.Setup.Gitignore, entry)
			switch {
			case err != nil:
				r.logger.Warn("could not update gitignore", "path", cfg.Setup.Gitignore, "error", err)
			case added:
				r.logger.Info("added env file to gitignore", "path", cfg.Setup.Gitignore, "entry", entry)
			}
		}
		return nil
	}
}

func (r *Runner) storageDescription() string {
	if r.config.Setup.Storage == "keyring" {
		return "system keyring, service " + credstore.KeyringService
	}
	return r.config.Setup.EnvFile
}

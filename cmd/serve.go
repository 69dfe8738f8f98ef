package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/desertthunder/spotify-mcp/internal/auth"
	"github.com/desertthunder/spotify-mcp/internal/credstore"
	"github.com/desertthunder/spotify-mcp/internal/services"
	"github.com/desertthunder/spotify-mcp/internal/shared"
	"github.com/desertthunder/spotify-mcp/internal/tools"
)

// Serve registers the tools and speaks MCP on the runner's transport until the host
// disconnects or ctx is cancelled.
func (r *Runner) Serve(ctx context.Context) error {
	tokens := r.tokenCache(ctx)

	client := services.NewSpotifyClient(tokens,
		services.WithBaseURL(r.config.API.BaseURL),
		services.WithHTTPClient(r.httpClient),
		services.WithLogger(shared.WithLogger(r.logger, "component", "spotify")),
	)

	server := mcp.NewServer(&mcp.Implementation{Name: appName, Version: version}, nil)
	tools.Register(server, tools.NewHandlers(client, shared.WithLogger(r.logger, "component", "tools")))

	r.logger.Info("serving MCP over stdio", "version", version)

	if err := server.Run(ctx, r.transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}

	r.logger.Info("stopped")
	return nil
}

// tokenCache builds the token source from config, falling back to the keyring for
// credentials the environment does not provide.
func (r *Runner) tokenCache(ctx context.Context) *auth.TokenCache {
	sc := r.config.Spotify
	secret := auth.RefreshSecret{
		ClientID:     sc.ClientID,
		ClientSecret: sc.ClientSecret,
		RefreshToken: sc.RefreshToken,
	}

	if !sc.HasRefreshSecret() && r.config.Setup.Storage == "keyring" {
		secret = r.keyringSecret(ctx, secret)
	}

	switch {
	case secret.Complete():
		r.logger.Debug("refresh credentials configured")
	case sc.AccessToken != "":
		r.logger.Warn("no refresh credentials, the static access token will stop working when it expires")
	default:
		r.logger.Warn("no Spotify credentials configured, tool calls will fail until --setup is run")
	}

	return auth.NewTokenCache(secret,
		auth.WithHTTPClient(r.httpClient),
		auth.WithTokenURL(r.config.TokenURL()),
		auth.WithStaticToken(sc.AccessToken),
		auth.WithLogger(shared.WithLogger(r.logger, "component", "auth")),
	)
}

func (r *Runner) keyringSecret(ctx context.Context, secret auth.RefreshSecret) auth.RefreshSecret {
	store, err := credstore.Open(r.config.Setup)
	if err != nil {
		r.logger.Warn("keyring unavailable", "error", err)
		return secret
	}

	creds, err := store.Read(ctx)
	if err != nil {
		r.logger.Debug("no keyring credentials", "error", err)
		return secret
	}

	if secret.ClientID == "" {
		secret.ClientID = creds.ClientID
	}
	if secret.ClientSecret == "" {
		secret.ClientSecret = creds.ClientSecret
	}
	if secret.RefreshToken == "" {
		secret.RefreshToken = creds.RefreshToken
	}
	return secret
}

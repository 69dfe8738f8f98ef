// package services defines interface Spotify for the Web API operations exposed as tools
package services

import (
	"context"
)

// Spotify defines the Web API operations the tool handlers depend on.
type Spotify interface {
	// CurrentUser retrieves the authenticated user's profile.
	CurrentUser(ctx context.Context) (*SpotifyUser, error)

	// TopTracks retrieves the user's top tracks. timeRange is short_term, medium_term or long_term.
	TopTracks(ctx context.Context, timeRange string, limit int) ([]SpotifyTrack, error)

	// CreatePlaylist creates a playlist under the given user.
	CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*SpotifyPlaylist, error)

	// AddTracks appends (or inserts at position) track URIs to a playlist.
	AddTracks(ctx context.Context, playlistID string, uris []string, position *int) (string, error)

	// SearchTracks searches the catalog for tracks.
	SearchTracks(ctx context.Context, query string, limit int) ([]SpotifyTrack, error)
}

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/desertthunder/spotify-mcp/internal/services"
)

const (
	noTopTracksText   = "No tracks found."
	noSearchMatchText = "No tracks found. Try a different query or filters."
)

// TopTracks lists the user's top tracks as numbered "name — artists" lines.
func (h *Handlers) TopTracks(ctx context.Context, _ *mcp.CallToolRequest, in TopTracksInput) (*mcp.CallToolResult, any, error) {
	if err := h.check(in); err != nil {
		return nil, nil, err
	}
	if in.TimeRange == "" {
		in.TimeRange = defaultTimeRange
	}
	if in.Limit == 0 {
		in.Limit = defaultTopTracksLimit
	}

	logger := h.invocation(ToolGetTopTracks)
	logger.Info("fetching top tracks", "time_range", in.TimeRange, "limit", in.Limit)

	tracks, err := h.api.TopTracks(ctx, in.TimeRange, in.Limit)
	if err != nil {
		logger.Error("top tracks failed", "error", err)
		return nil, nil, err
	}

	if len(tracks) == 0 {
		return textResult(noTopTracksText), nil, nil
	}
	return textResult(formatTracks(tracks, false)), nil, nil
}

// CreatePlaylist looks up the current user and creates a playlist they own.
func (h *Handlers) CreatePlaylist(ctx context.Context, _ *mcp.CallToolRequest, in CreatePlaylistInput) (*mcp.CallToolResult, any, error) {
	if err := h.check(in); err != nil {
		return nil, nil, err
	}
	if in.Description == "" {
		in.Description = defaultPlaylistDescription
	}

	logger := h.invocation(ToolCreatePlaylist)

	user, err := h.api.CurrentUser(ctx)
	if err != nil {
		logger.Error("current user lookup failed", "error", err)
		return nil, nil, err
	}

	logger.Info("creating playlist", "user", user.ID, "name", in.Name, "public", in.Public)

	playlist, err := h.api.CreatePlaylist(ctx, user.ID, in.Name, in.Description, in.Public)
	if err != nil {
		logger.Error("create playlist failed", "error", err)
		return nil, nil, err
	}

	link := &mcp.ResourceLink{
		URI:         playlist.Link(),
		Name:        playlist.Name,
		Description: fmt.Sprintf("Spotify playlist %s", playlist.ID),
	}
	text := fmt.Sprintf("Created playlist %q (%s)", playlist.Name, playlist.ID)

	return textResult(text, link), nil, nil
}

// AddToPlaylist posts track URIs to a playlist.
func (h *Handlers) AddToPlaylist(ctx context.Context, _ *mcp.CallToolRequest, in AddToPlaylistInput) (*mcp.CallToolResult, any, error) {
	if err := h.check(in); err != nil {
		return nil, nil, err
	}

	logger := h.invocation(ToolAddToPlaylist)
	logger.Info("adding tracks", "playlist", in.PlaylistID, "count", len(in.URIs))

	if _, err := h.api.AddTracks(ctx, in.PlaylistID, in.URIs, in.Position); err != nil {
		logger.Error("add tracks failed", "error", err)
		return nil, nil, err
	}

	text := fmt.Sprintf("Added %d track(s) to playlist %s.", len(in.URIs), in.PlaylistID)
	if in.Position != nil {
		text = fmt.Sprintf("Added %d track(s) to playlist %s at position %d.", len(in.URIs), in.PlaylistID, *in.Position)
	}
	return textResult(text), nil, nil
}

// SearchTracks lists catalog matches as numbered "name — artists [uri]" lines.
func (h *Handlers) SearchTracks(ctx context.Context, _ *mcp.CallToolRequest, in SearchTracksInput) (*mcp.CallToolResult, any, error) {
	if err := h.check(in); err != nil {
		return nil, nil, err
	}
	if in.Limit == 0 {
		in.Limit = defaultSearchLimit
	}

	logger := h.invocation(ToolSearchTracks)
	logger.Info("searching tracks", "q", in.Query, "limit", in.Limit)

	tracks, err := h.api.SearchTracks(ctx, in.Query, in.Limit)
	if err != nil {
		logger.Error("search failed", "error", err)
		return nil, nil, err
	}

	if len(tracks) == 0 {
		return textResult(noSearchMatchText), nil, nil
	}
	return textResult(formatTracks(tracks, true)), nil, nil
}

// formatTracks renders "N. name — artists" lines, appending " [uri]" when withURI is set.
func formatTracks(tracks []services.SpotifyTrack, withURI bool) string {
	lines := make([]string, 0, len(tracks))
	for i, t := range tracks {
		line := fmt.Sprintf("%d. %s — %s", i+1, t.Name, t.ArtistNames())
		if withURI {
			line += fmt.Sprintf(" [%s]", t.URI)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

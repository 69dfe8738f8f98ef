// Spotify Web API client
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

const spotifyBaseURL = "https://api.spotify.com/v1"

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	Popularity   int             `json:"popularity"`
	URI          string          `json:"uri"`
	ExternalURLs externalURLs    `json:"external_urls"`
}

// ArtistNames joins artist names with ", ".
func (t SpotifyTrack) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	URI         string `json:"uri"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SpotifyPlaylist represents a playlist as returned on creation.
type SpotifyPlaylist struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Owner        Owner        `json:"owner"`
	Public       bool         `json:"public"`
	URI          string       `json:"uri"`
	ExternalURLs externalURLs `json:"external_urls"`
}

// Link returns the open.spotify.com URL, falling back to the spotify: URI.
func (p SpotifyPlaylist) Link() string {
	if p.ExternalURLs.Spotify != "" {
		return p.ExternalURLs.Spotify
	}
	if p.URI != "" {
		return p.URI
	}
	return "spotify:playlist:" + p.ID
}

type trackPage struct {
	Items []SpotifyTrack `json:"items"`
	Total int            `json:"total"`
}

type searchResponse struct {
	Tracks trackPage `json:"tracks"`
}

type createPlaylistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

type addTracksRequest struct {
	URIs     []string `json:"uris"`
	Position *int     `json:"position,omitempty"`
}

type snapshotResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// APIError is returned for non-2xx responses from the Web API.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: %s %s: status %d: %s", shared.ErrAPIRequest, e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return shared.ErrAPIRequest
}

// TokenProvider hands out bearer tokens. [auth.TokenCache] implements it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by providers that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

// ClientOption configures a [SpotifyClient].
type ClientOption func(*SpotifyClient)

// WithBaseURL overrides the Web API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(s *SpotifyClient) {
		if baseURL != "" {
			s.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(s *SpotifyClient) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(s *SpotifyClient) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SpotifyClient issues authenticated requests to the Spotify Web API.
type SpotifyClient struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *log.Logger
}

// Compile-time check
var _ Spotify = (*SpotifyClient)(nil)

// NewSpotifyClient creates a client that authenticates every request with a token from tokens.
func NewSpotifyClient(tokens TokenProvider, opts ...ClientOption) *SpotifyClient {
	s := &SpotifyClient{
		baseURL:    spotifyBaseURL,
		tokens:     tokens,
		httpClient: http.DefaultClient,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request performs an authenticated request against baseURL+endpoint.
//
// body, when non-nil, is sent as JSON. result, when non-nil, receives the decoded response body;
// empty bodies are left undecoded. There are no retries.
func (s *SpotifyClient) Request(ctx context.Context, method, endpoint string, body, result any) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return shared.ErrNoCredentials
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	s.logger.Debug("spotify request", "method", method, "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(started))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := s.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return &APIError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// CurrentUser retrieves the authenticated user's profile.
func (s *SpotifyClient) CurrentUser(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.Request(ctx, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// TopTracks retrieves the user's top tracks for a time range.
func (s *SpotifyClient) TopTracks(ctx context.Context, timeRange string, limit int) ([]SpotifyTrack, error) {
	q := url.Values{}
	q.Set("time_range", timeRange)
	q.Set("limit", strconv.Itoa(limit))

	var page trackPage
	if err := s.Request(ctx, http.MethodGet, "/me/top/tracks?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// CreatePlaylist creates a playlist owned by userID.
func (s *SpotifyClient) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*SpotifyPlaylist, error) {
	endpoint := fmt.Sprintf("/users/%s/playlists", url.PathEscape(userID))
	body := createPlaylistRequest{Name: name, Description: description, Public: public}

	var playlist SpotifyPlaylist
	if err := s.Request(ctx, http.MethodPost, endpoint, body, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// AddTracks adds track URIs to a playlist, at position when non-nil. Returns the snapshot id.
func (s *SpotifyClient) AddTracks(ctx context.Context, playlistID string, uris []string, position *int) (string, error) {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	body := addTracksRequest{URIs: uris, Position: position}

	var snapshot snapshotResponse
	if err := s.Request(ctx, http.MethodPost, endpoint, body, &snapshot); err != nil {
		return "", err
	}
	return snapshot.SnapshotID, nil
}

// SearchTracks searches the catalog for tracks matching query.
func (s *SpotifyClient) SearchTracks(ctx context.Context, query string, limit int) ([]SpotifyTrack, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", strconv.Itoa(limit))

	var response searchResponse
	if err := s.Request(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &response); err != nil {
		return nil, err
	}
	return response.Tracks.Items, nil
}

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/desertthunder/spotify-mcp/internal/services"
	"github.com/desertthunder/spotify-mcp/internal/shared"
)

const (
	ToolGetTopTracks   = "get_top_tracks"
	ToolCreatePlaylist = "create_playlist"
	ToolAddToPlaylist  = "add_to_playlist"
	ToolSearchTracks   = "search_tracks"

	defaultTimeRange           = "long_term"
	defaultTopTracksLimit      = 5
	defaultSearchLimit         = 10
	defaultPlaylistDescription = "Created via MCP"
)

var timeRanges = []any{"short_term", "medium_term", "long_term"}

// TopTracksInput is the get_top_tracks argument object.
type TopTracksInput struct {
	TimeRange string `json:"time_range,omitempty" jsonschema:"Listening window: short_term (about 4 weeks), medium_term (about 6 months) or long_term (about 1 year)" validate:"omitempty,oneof=short_term medium_term long_term"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Number of tracks to return (1-50)" validate:"omitempty,min=1,max=50"`
}

// CreatePlaylistInput is the create_playlist argument object.
type CreatePlaylistInput struct {
	Name        string `json:"name" jsonschema:"Playlist name" validate:"required"`
	Description string `json:"description,omitempty" jsonschema:"Playlist description"`
	Public      bool   `json:"public,omitempty" jsonschema:"Whether the playlist is public"`
}

// AddToPlaylistInput is the add_to_playlist argument object.
type AddToPlaylistInput struct {
	PlaylistID string   `json:"playlistId" jsonschema:"Target playlist ID" validate:"required"`
	URIs       []string `json:"uris" jsonschema:"Spotify track URIs such as spotify:track:..." validate:"required,min=1,dive,required"`
	Position   *int     `json:"position,omitempty" jsonschema:"Zero-based insert position; appends when omitted" validate:"omitempty,min=0"`
}

// SearchTracksInput is the search_tracks argument object.
type SearchTracksInput struct {
	Query string `json:"q" jsonschema:"Search query, supports Spotify field filters like artist: and year:" validate:"required"`
	Limit int    `json:"limit,omitempty" jsonschema:"Number of results (1-50)" validate:"omitempty,min=1,max=50"`
}

// Handlers implements the tool operations on top of a [services.Spotify].
type Handlers struct {
	api      services.Spotify
	logger   *log.Logger
	validate *validator.Validate
}

// NewHandlers creates Handlers. A nil logger falls back to [log.Default].
func NewHandlers(api services.Spotify, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{api: api, logger: logger, validate: validator.New()}
}

// Register adds every tool to the server. The runtime validates arguments against the declared
// input schemas and rejects violations before a handler runs.
func Register(server *mcp.Server, h *Handlers) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGetTopTracks,
		Title:       "Get top tracks",
		Description: "Get the current user's top tracks from Spotify.",
		InputSchema: topTracksSchema(),
	}, h.TopTracks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolCreatePlaylist,
		Title:       "Create playlist",
		Description: "Create a new playlist owned by the current user.",
		InputSchema: createPlaylistSchema(),
	}, h.CreatePlaylist)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolAddToPlaylist,
		Title:       "Add to playlist",
		Description: "Add tracks to a playlist by Spotify URI.",
		InputSchema: addToPlaylistSchema(),
	}, h.AddToPlaylist)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSearchTracks,
		Title:       "Search tracks",
		Description: "Search the Spotify catalog for tracks.",
		InputSchema: searchTracksSchema(),
	}, h.SearchTracks)
}

// check validates input with the struct tags, the same rules the schemas declare.
func (h *Handlers) check(input any) error {
	if err := h.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", shared.ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

// invocation returns a logger tagged with the tool name and a fresh invocation id.
func (h *Handlers) invocation(tool string) *log.Logger {
	return shared.WithLogger(h.logger, "tool", tool, "invocation_id", shared.GenerateID())
}

func textResult(text string, extra ...mcp.Content) *mcp.CallToolResult {
	content := append([]mcp.Content{&mcp.TextContent{Text: text}}, extra...)
	return &mcp.CallToolResult{Content: content}
}

func mustSchema[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("tools: inferring schema: %v", err))
	}
	return s
}

func ptr[T any](v T) *T { return &v }

func rawDefault(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("tools: encoding default: %v", err))
	}
	return data
}

func topTracksSchema() *jsonschema.Schema {
	s := mustSchema[TopTracksInput]()
	tr := s.Properties["time_range"]
	tr.Enum = timeRanges
	tr.Default = rawDefault(defaultTimeRange)

	limit := s.Properties["limit"]
	limit.Minimum = ptr(1.0)
	limit.Maximum = ptr(50.0)
	limit.Default = rawDefault(defaultTopTracksLimit)
	return s
}

func createPlaylistSchema() *jsonschema.Schema {
	s := mustSchema[CreatePlaylistInput]()
	s.Properties["name"].MinLength = ptr(1)
	s.Properties["description"].Default = rawDefault(defaultPlaylistDescription)
	s.Properties["public"].Default = rawDefault(false)
	return s
}

func addToPlaylistSchema() *jsonschema.Schema {
	s := mustSchema[AddToPlaylistInput]()
	s.Properties["playlistId"].MinLength = ptr(1)
	uris := s.Properties["uris"]
	uris.Type, uris.Types = "array", nil
	uris.MinItems = ptr(1)
	s.Properties["position"].Minimum = ptr(0.0)
	return s
}

func searchTracksSchema() *jsonschema.Schema {
	s := mustSchema[SearchTracksInput]()
	s.Properties["q"].MinLength = ptr(1)

	limit := s.Properties["limit"]
	limit.Minimum = ptr(1.0)
	limit.Maximum = ptr(50.0)
	limit.Default = rawDefault(defaultSearchLimit)
	return s
}

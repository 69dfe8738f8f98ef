// Package tools exposes Spotify operations as MCP tools.
//
// [Register] adds get_top_tracks, create_playlist, add_to_playlist and search_tracks to an
// [mcp.Server]. Each tool declares an input schema with enums, bounds and defaults, so the runtime
// rejects malformed arguments before a handler runs. [Handlers] re-check the same rules with
// validator struct tags when called directly.
//
// Results are plain text blocks. create_playlist adds a resource link to the new playlist. Handler
// errors are returned to the runtime, which reports them to the host as tool errors.
package tools

// Package services defines the [Spotify] interface and implements it over the Spotify Web API.
//
// # Request client
//
// [SpotifyClient.Request] is the single path to the API. Each call asks its [TokenProvider] for a
// bearer token, which refreshes as needed, then sends JSON and decodes JSON. Non-2xx responses become
// [*APIError] values carrying the status and response text. A 401 additionally marks the cached token
// stale when the provider supports it, so the next call refreshes. There are no retries and no
// rate-limit handling.
//
// # Endpoints
//
//   - GET  /me
//   - GET  /me/top/tracks
//   - POST /users/{id}/playlists
//   - POST /playlists/{id}/tracks
//   - GET  /search?type=track
//
// # Error Handling
//
// Errors wrap sentinels from the shared package:
//   - [shared.ErrNoCredentials] : no token and no way to obtain one
//   - [shared.ErrRefreshFailed] : token refresh rejected
//   - [shared.ErrAPIRequest] : API returned non-2xx or the request failed
package services

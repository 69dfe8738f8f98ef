// Package auth holds the process-wide bearer credential and refreshes it against the Spotify
// accounts service.
//
// [TokenCache] is an explicitly owned value: it is created once in the command layer and handed
// to the request client, so tests can build their own with a fake clock and token endpoint.
//
// # Refresh
//
// A cached token is reused while it stays valid for at least 30 seconds. Otherwise, when a
// complete [RefreshSecret] is configured, a single refresh_token grant is posted with HTTP Basic
// client authentication. Rejections surface as [*TokenRefreshError] carrying status and body.
//
// # Static tokens
//
// Without a refresh secret the cache serves whatever token it was seeded with via
// [WithStaticToken], regardless of age, so a short-lived token can be supplied by hand.
package auth

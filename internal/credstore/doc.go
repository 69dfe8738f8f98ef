// Package credstore persists the Spotify refresh credentials produced by the setup flow.
//
// Two backends implement [Store]:
//   - Dotenv: KEY=value lines in a local file (0600), merged into any existing content
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// The dotenv backend is the default. Its file is what the server later loads into the
// environment, so SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET and SPOTIFY_REFRESH_TOKEN become
// available without further configuration.
package credstore

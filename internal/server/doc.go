// Package server runs the temporary HTTP listener used by setup mode.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] with method-qualified patterns.
// Paths that match nothing get a 404.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback.
//
// It checks the error parameter, the code and the state (CSRF protection) before exchanging the code.
// The exchange posts client credentials in the form body. A successful token is handed to a
// [CompleteFunc] for persistence, then the browser gets a success page.
//
// Only the first callback is processed, later ones get 400.
//
// # Callback Server
//
// [CallbackServer] serves the handler on a listener until the first outcome, a timeout or
// cancellation, then shuts down.
package server

// Package server provides HTTP routing, middleware, and OAuth handling for the plup CLI.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [Mux] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback flow.
//
// The handler validates the state parameter (CSRF protection), exchanges the authorization code for tokens,
// and sends the result through a channel.
//
// It only processes one callback to prevent replay attacks.
//
// # Callback Server
//
// When the user runs "plup auth", [CallbackServer.Authorize] starts a temporary HTTP server on the
// configured host and port, opens the consent page, handles the callback, and shuts down after receiving
// the OAuth token.
package server

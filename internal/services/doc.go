// Package services implements the Spotify Web API client used by the plup cache.
//
// # Spotify Client
//
// [SpotifyService] uses OAuth2 for authentication with automatic token refresh.
// The [oauth2.Client] transport refreshes expired access tokens with the refresh token, and
// [SpotifyService.Token] exposes the current token so callers can persist it.
//
// Every request waits on a [rate.Limiter] and carries a per-request timeout.
// Requests are single-shot: nothing is retried here.
//
// # Paging
//
// Collection endpoints return [models.Page] values. Playlist items whose track was removed from
// Spotify are kept as empty placeholders so cached positions keep matching remote offsets.
// Next cursors are absolute URLs and are followed with [SpotifyService.NextAlbums] and [SpotifyService.NextTracks].
//
// # Error Handling
//
// Non-2xx responses are returned as [*APIError], which matches:
//   - [shared.ErrAPIRequest] : any failed request
//   - [shared.ErrTokenExpired] : a 401, reauthorization needed
//   - [shared.ErrNotAuthenticated] : Authenticate was never called
//
// Transport failures wrap [shared.ErrAPIRequest], and [shared.ErrTimeout] when the deadline passed.
package services

// Package tasks runs plup's caller-facing operations with real-time progress reporting.
//
// # Core Operations
//
// [Engine] combines the Spotify client, the SQLite repositories and two [cache.Synchronizer] values:
//
//  1. [Engine.EnsurePlaylistsPage] : one page of a user's playlists
//     - Syncs the playlist ID list (50 per request)
//     - Creates records for new playlists and invalidates those whose track count moved
//
//  2. [Engine.EnsureTracksPage] : one page of a playlist's tracks (100 per request)
//
//  3. [Engine.GetOrResolveMainArtist] : new releases by the playlist's main artist
//     - Identifies the main artist once from credit frequency and the playlist name
//     - Lists the artist's albums and singles released after the playlist watermark
//     - Drops tracks the playlist already contains
//
//  4. [Engine.CommitNewTracks] : adds tracks in batches of 100 and advances the watermark
//
// # Concurrency
//
// Syncing a collection holds a per-key lock ("user:<id>" or "playlist:<id>") so concurrent requests for
// the same collection never append twice. The user key is always taken before a playlist key.
//
// # Progress Reporting
//
// Operations send [ProgressUpdate] values to the channel given to [Engine.SetProgress].
// Updates use select with default to prevent blocking.
package tasks

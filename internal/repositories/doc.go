// Package repositories implements SQLite persistence for the plup cache.
//
// Records are stored as typed rows whose remote snapshots are JSON documents, with cached collection items kept
// one row per remote position. Every method returns a fresh snapshot; nothing lazily reads back into the database.
//
// Key Implementations:
//   - [UserRepository] : user profiles and the header of their playlist list
//   - [PlaylistRepository] : playlist snapshots, main-artist state and watermarks
//   - [ArtistRepository] : artist snapshots shared across playlists
//   - [UserPlaylistsCollection] : the cached playlist IDs of one user
//   - [PlaylistTracksCollection] : the cached tracks of one playlist
//
// Multi-field updates of one record run inside a transaction. Nothing spans records.
package repositories

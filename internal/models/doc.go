// Package models defines the domain entities shared by the plup cache, services and tasks.
//
// The package contains two categories of types:
//
// 1. Remote snapshots: lightweight structs mirroring Spotify Web API objects
//   - [Track], [Album], [Artist], [Image], [User], [Playlist]
//   - [Page] : one page of a paginated remote collection
//   - [ReleaseDate] : an album release date with year, month or day precision
//
// 2. Cache records: what the local store keeps for each remote entity
//   - [UserRecord] : a user profile plus the cached list of its playlist IDs
//   - [PlaylistRecord] : a playlist snapshot, its resolver state and its cached tracks
//   - [ArtistRecord] : the last known snapshot of an artist, shared by ID
//   - [PageState] : the header of one cached paginated collection
package models

package models

import (
	"fmt"
	"time"
)

// PageState is the header of one cached paginated collection.
//
// A KnownTotal below zero means the collection has never been synced, or was invalidated, and needs a hard refresh.
// LastRefreshedAt records the last hard refresh, not the last append.
type PageState struct {
	Cached          int
	KnownTotal      int
	LastRefreshedAt time.Time
}

// Unknown reports whether the collection must be hard refreshed regardless of expiry.
func (s PageState) Unknown() bool {
	return s.KnownTotal < 0
}

// Complete reports whether every remote item is cached.
func (s PageState) Complete() bool {
	return s.KnownTotal >= 0 && s.Cached >= s.KnownTotal
}

// Page is one page of a paginated remote collection. Next is empty on the last page.
type Page[T any] struct {
	Items  []T    `json:"items"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Next   string `json:"next,omitempty"`
}

// Image is a cover or profile picture.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Artist is a credited artist. Simplified artists carry only ID, Name and URI.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URI    string   `json:"uri,omitempty"`
	Genres []string `json:"genres,omitempty"`
	Images []Image  `json:"images,omitempty"`
}

// Album groups
const (
	AlbumTypeAlbum       = "album"
	AlbumTypeSingle      = "single"
	AlbumTypeCompilation = "compilation"
)

// Album is a release. Tracks is only populated on full album objects.
type Album struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	AlbumType   string       `json:"album_type"`
	URI         string       `json:"uri,omitempty"`
	ReleaseDate ReleaseDate  `json:"release_date"`
	Artists     []Artist     `json:"artists,omitempty"`
	Images      []Image      `json:"images,omitempty"`
	TotalTracks int          `json:"total_tracks,omitempty"`
	Tracks      *Page[Track] `json:"tracks,omitempty"`
}

// IsSingle reports whether the album is a single.
func (a Album) IsSingle() bool {
	return a.AlbumType == AlbumTypeSingle
}

// Track is a song. Album is nil for tracks listed inside an album.
type Track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	URI         string   `json:"uri"`
	Artists     []Artist `json:"artists"`
	Album       *Album   `json:"album,omitempty"`
	DurationMS  int      `json:"duration_ms"`
	TrackNumber int      `json:"track_number,omitempty"`
	IsLocal     bool     `json:"is_local,omitempty"`
}

// Duration returns the track length.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMS) * time.Millisecond
}

// ArtistNames returns the names of every credited artist in credit order.
func (t Track) ArtistNames() []string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return names
}

// User is a Spotify profile.
type User struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Country     string  `json:"country,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// Playlist is the remote summary of a playlist.
type Playlist struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	OwnerID     string  `json:"owner_id"`
	OwnerName   string  `json:"owner_name,omitempty"`
	SnapshotID  string  `json:"snapshot_id,omitempty"`
	Public      bool    `json:"public"`
	TrackTotal  int     `json:"track_total"`
	Images      []Image `json:"images,omitempty"`
}

// UserRecord is a cached user. Its playlist list stores playlist IDs; bodies live in [PlaylistRecord].
type UserRecord struct {
	ID        string
	Profile   User
	Playlists PageState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistRecord is a cached playlist with its main-artist resolution state.
//
// MainArtistID is empty while unresolved. VariousArtists is sticky until the track cache is invalidated.
// LastUpdatedAt is the watermark: releases on or before it are not offered again.
type PlaylistRecord struct {
	ID             string
	UserID         string
	Snapshot       Playlist
	MainArtistID   string
	VariousArtists bool
	LastUpdatedAt  time.Time
	UpdatedMessage string
	Tracks         PageState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Resolved reports whether a main artist has been identified.
func (p *PlaylistRecord) Resolved() bool {
	return p.MainArtistID != "" && !p.VariousArtists
}

// Validate checks required fields before persistence.
func (p *PlaylistRecord) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("playlist id is required")
	}
	if p.UserID == "" {
		return fmt.Errorf("playlist owner is required")
	}
	return nil
}

// ArtistRecord is the last known snapshot of an artist.
type ArtistRecord struct {
	ID        string
	Info      Artist
	CreatedAt time.Time
	UpdatedAt time.Time
}

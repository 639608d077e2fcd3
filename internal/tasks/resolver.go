package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/plup/internal/cache"
	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/repositories"
	"github.com/desertthunder/plup/internal/shared"
)

// MainArtistThreshold is the share of tracks an artist must be credited on to be accepted.
const MainArtistThreshold = 0.75

// Rejection messages shown to the user
const (
	MessageBelowThreshold  = "Main artist does not appear in at least 75% of the tracks. Unable to properly identify."
	MessageMultipleArtists = "Playlist appears to contain multiple artists. Please ensure there are enough tracks by the desired artist."
	MessageNoTracks        = "Unable to identify main artist. Please ensure the playlist already contains tracks by the desired artist."
	MessageCannotIdentify  = "Could not identify main artist. Unable to find new tracks."
)

type artistCount struct {
	artist models.Artist
	count  int
}

// tally counts artist credits per ID in first-seen order.
func tally(tracks []models.Track) []*artistCount {
	var table []*artistCount
	index := map[string]*artistCount{}

	for _, t := range tracks {
		for _, a := range t.Artists {
			if a.ID == "" {
				continue
			}
			if entry, ok := index[a.ID]; ok {
				entry.count++
				continue
			}
			entry := &artistCount{artist: a, count: 1}
			index[a.ID] = entry
			table = append(table, entry)
		}
	}
	return table
}

// pickMainArtist applies the name match and frequency heuristics.
//
// The share is taken over every cached track, including placeholders without artists.
// It returns the accepted artist, or a rejection message when none qualifies.
func pickMainArtist(playlistName string, tracks []models.Track) (*models.Artist, string) {
	table := tally(tracks)
	if len(table) == 0 {
		return nil, MessageNoTracks
	}

	meets := func(e *artistCount) bool {
		return float64(e.count) >= MainArtistThreshold*float64(len(tracks))
	}

	var named *artistCount
	for _, e := range table {
		if shared.EqualFoldTrim(e.artist.Name, playlistName) {
			named = e
		}
	}
	if named != nil {
		if !meets(named) {
			return nil, MessageBelowThreshold
		}
		return &named.artist, ""
	}

	top := table[0]
	for _, e := range table[1:] {
		if e.count > top.count {
			top = e
		}
	}
	if !meets(top) {
		return nil, MessageMultipleArtists
	}
	return &top.artist, ""
}

// latestRelease returns the latest album release among tracks, ignoring local files and undated albums.
func latestRelease(tracks []models.Track) time.Time {
	var latest time.Time
	for _, t := range tracks {
		if t.IsLocal || t.Album == nil || t.Album.ReleaseDate.IsZero() {
			continue
		}
		if released := t.Album.ReleaseDate.Time(); released.After(latest) {
			latest = released
		}
	}
	return latest
}

// resolveMainArtist identifies and stores the main artist of record. The caller holds the playlist key.
//
// A rejection is persisted and returned as a message with a nil error.
func (e *Engine) resolveMainArtist(ctx context.Context, record *models.PlaylistRecord) (*models.ArtistRecord, string, error) {
	e.sendProgress(resolveUpdate(record.Snapshot.Name))
	coll := repositories.NewPlaylistTracksCollection(e.db, record.ID)

	tracks, err := coll.All(ctx)
	if err != nil {
		return nil, "", err
	}

	artist, rejection := pickMainArtist(record.Snapshot.Name, tracks)
	if artist == nil {
		e.logger.Info("main artist rejected", "playlist", record.ID, "reason", rejection)
		if err := e.playlists.MarkVariousArtists(ctx, record.ID, rejection); err != nil {
			return nil, "", err
		}
		return nil, rejection, nil
	}

	full, err := e.remote.Artist(ctx, artist.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch artist %s: %w", artist.ID, err)
	}
	if err := e.artists.Upsert(ctx, *full); err != nil {
		return nil, "", err
	}

	if _, err := e.ensureTracks(ctx, record.ID, cache.AllPages); err != nil {
		return nil, "", err
	}
	if tracks, err = coll.All(ctx); err != nil {
		return nil, "", err
	}

	watermark := record.LastUpdatedAt.UTC()
	if latest := latestRelease(tracks); latest.After(watermark) {
		watermark = latest
	}

	if err := e.playlists.SetMainArtist(ctx, record.ID, full.ID, watermark, shared.LastUpdatedMessage(watermark)); err != nil {
		return nil, "", err
	}
	e.logger.Info("main artist identified", "playlist", record.ID, "artist", full.Name, "watermark", watermark)

	stored, err := e.artists.Get(ctx, full.ID)
	if err != nil {
		return nil, "", err
	}
	return stored, "", nil
}

package tasks

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/plup/internal/cache"
	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/repositories"
	"github.com/desertthunder/plup/internal/services"
	"github.com/desertthunder/plup/internal/shared"
)

// Candidate is a released track missing from a playlist, paired with the album it came from.
type Candidate struct {
	Track models.Track `json:"track"`
	Album models.Album `json:"album"`
}

// Result is the outcome of [Engine.GetOrResolveMainArtist].
//
// Rejection is set when no main artist could be identified. In that case nothing else was fetched.
type Result struct {
	Playlist      *models.PlaylistRecord `json:"playlist"`
	Artist        *models.ArtistRecord   `json:"artist,omitempty"`
	Candidates    []Candidate            `json:"candidates"`
	CheckedAt     time.Time              `json:"checked_at"`
	InitialUpdate bool                   `json:"initial_update"`
	Rejection     string                 `json:"rejection,omitempty"`
}

// URIs returns the track URIs of the candidates in order.
func (r *Result) URIs() []string {
	uris := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		uris = append(uris, c.Track.URI)
	}
	return uris
}

// GetOrResolveMainArtist identifies the main artist of a playlist if needed and lists their releases
// newer than the playlist's watermark that the playlist does not contain yet.
//
// When nothing new is found the watermark advances to the check time. A resolved artist stays stored
// when listing releases fails.
func (e *Engine) GetOrResolveMainArtist(ctx context.Context, playlistID string) (*Result, error) {
	unlock, err := e.locks.Lock(ctx, playlistKey(playlistID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.ensureTracks(ctx, playlistID, 1); err != nil {
		return nil, err
	}

	record, err := e.playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	result := &Result{Playlist: record}
	if record.VariousArtists {
		result.Rejection = MessageCannotIdentify
		return result, nil
	}

	if record.MainArtistID == "" {
		artist, rejection, err := e.resolveMainArtist(ctx, record)
		if err != nil {
			return nil, err
		}
		if result.Playlist, err = e.playlists.Get(ctx, playlistID); err != nil {
			return nil, err
		}
		if rejection != "" {
			result.Rejection = rejection
			return result, nil
		}
		result.Artist = artist
		result.InitialUpdate = true
	} else if result.Artist, err = e.artists.Get(ctx, record.MainArtistID); err != nil {
		return nil, err
	}

	result.CheckedAt = e.now()
	result.Candidates, err = e.newReleases(ctx, result.Playlist)
	if err != nil {
		return result, err
	}

	if len(result.Candidates) == 0 {
		if err := e.playlists.SetWatermark(ctx, playlistID, result.CheckedAt, shared.LastUpdatedMessage(result.CheckedAt)); err != nil {
			return result, err
		}
		if result.Playlist, err = e.playlists.Get(ctx, playlistID); err != nil {
			return result, err
		}
	}

	e.logger.Info("checked for new releases", "playlist", playlistID, "candidates", len(result.Candidates))
	return result, nil
}

// newReleases lists tracks of the main artist released after the watermark and missing from the playlist.
func (e *Engine) newReleases(ctx context.Context, record *models.PlaylistRecord) ([]Candidate, error) {
	ids, err := e.artistAlbumIDs(ctx, record.MainArtistID)
	if err != nil {
		return nil, err
	}

	albums, err := e.fetchAlbums(ctx, ids)
	if err != nil {
		return nil, err
	}

	sortAlbums(albums)
	albums = slices.DeleteFunc(albums, func(a models.Album) bool {
		return !a.ReleaseDate.After(record.LastUpdatedAt)
	})
	e.logger.Debug("albums after watermark", "playlist", record.ID, "albums", len(albums), "watermark", record.LastUpdatedAt)

	candidates, err := e.expandAlbums(ctx, albums)
	if err != nil {
		return nil, err
	}

	if _, err := e.ensureTracks(ctx, record.ID, cache.AllPages); err != nil {
		return nil, err
	}
	known, err := repositories.NewPlaylistTracksCollection(e.db, record.ID).TrackIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	return slices.DeleteFunc(candidates, func(c Candidate) bool {
		if _, ok := known[c.Track.ID]; ok || seen[c.Track.ID] {
			return true
		}
		seen[c.Track.ID] = true
		return false
	}), nil
}

// artistAlbumIDs follows the artist's album pages to the end and returns unique IDs in listing order.
func (e *Engine) artistAlbumIDs(ctx context.Context, artistID string) ([]string, error) {
	page, err := e.remote.ArtistAlbums(ctx, artistID, services.DefaultAlbumGroups, services.AlbumPageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list albums of %s: %w", artistID, err)
	}

	var ids []string
	seen := map[string]bool{}
	for {
		for _, a := range page.Items {
			if a.ID != "" && !seen[a.ID] {
				seen[a.ID] = true
				ids = append(ids, a.ID)
			}
		}
		if page.Next == "" || len(page.Items) == 0 {
			return ids, nil
		}
		if page, err = e.remote.NextAlbums(ctx, page.Next); err != nil {
			return nil, fmt.Errorf("failed to list albums of %s: %w", artistID, err)
		}
	}
}

// fetchAlbums loads full albums in batches, running at most e.workers batches at once.
// The result keeps the order of ids.
func (e *Engine) fetchAlbums(ctx context.Context, ids []string) ([]models.Album, error) {
	batches := slices.Collect(slices.Chunk(ids, services.AlbumBatchLimit))
	results := make([][]models.Album, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, batch := range batches {
		g.Go(func() error {
			e.sendProgress(albumsUpdate(i+1, len(batches)))
			albums, err := e.remote.SeveralAlbums(gctx, batch)
			if err != nil {
				return fmt.Errorf("failed to fetch album batch %d: %w", i+1, err)
			}
			results[i] = albums
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.Concat(results...), nil
}

// sortAlbums orders albums by release date, singles first among equal dates.
func sortAlbums(albums []models.Album) {
	slices.SortStableFunc(albums, func(a, b models.Album) int {
		if c := a.ReleaseDate.Compare(b.ReleaseDate); c != 0 {
			return c
		}
		switch {
		case a.IsSingle() && !b.IsSingle():
			return -1
		case !a.IsSingle() && b.IsSingle():
			return 1
		default:
			return 0
		}
	})
}

// expandAlbums lists every track of albums, following each album's track pages.
func (e *Engine) expandAlbums(ctx context.Context, albums []models.Album) ([]Candidate, error) {
	var candidates []Candidate
	for i, album := range albums {
		e.sendProgress(expandUpdate(i+1, len(albums), album.Name))

		page := album.Tracks
		source := album
		source.Tracks = nil

		for page != nil {
			for _, t := range page.Items {
				candidates = append(candidates, Candidate{Track: t, Album: source})
			}
			if page.Next == "" || len(page.Items) == 0 {
				break
			}
			next, err := e.remote.NextTracks(ctx, page.Next)
			if err != nil {
				return nil, fmt.Errorf("failed to list tracks of album %s: %w", album.ID, err)
			}
			page = next
		}
	}
	return candidates, nil
}

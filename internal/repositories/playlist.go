package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
)

// PlaylistRepository persists [models.PlaylistRecord] values.
//
// The track cache itself is reached through [PlaylistTracksCollection].
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

const playlistColumns = `
	p.id, p.user_id, p.snapshot, p.main_artist_id, p.various_artists, p.last_updated_at, p.updated_message,
	p.tracks_total, p.tracks_refreshed_at, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM playlist_tracks pt WHERE pt.playlist_id = p.id)
`

// Get retrieves a playlist by Spotify playlist ID
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.PlaylistRecord, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists p WHERE p.id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, id), id)
}

// Create inserts a playlist first observed in its owner's playlist list.
//
// The track cache starts unsynced, the main artist unresolved and the status "Never Updated".
func (r *PlaylistRepository) Create(ctx context.Context, userID string, snapshot models.Playlist) (*models.PlaylistRecord, error) {
	record := &models.PlaylistRecord{
		ID:             snapshot.ID,
		UserID:         userID,
		Snapshot:       snapshot,
		LastUpdatedAt:  shared.Epoch,
		UpdatedMessage: shared.MessageNeverUpdated,
		Tracks:         models.PageState{KnownTotal: -1, LastRefreshedAt: shared.Epoch},
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	doc, err := encodeDoc(snapshot)
	if err != nil {
		return nil, err
	}

	ts := now()
	record.CreatedAt, record.UpdatedAt = ts, ts

	query := `
		INSERT INTO playlists (id, user_id, snapshot, main_artist_id, various_artists, last_updated_at, updated_message,
			tracks_total, tracks_refreshed_at, created_at, updated_at)
		VALUES (?, ?, ?, NULL, 0, ?, ?, -1, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.UserID, doc, record.LastUpdatedAt, record.UpdatedMessage, record.Tracks.LastRefreshedAt, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert playlist: %w", err)
	}

	return record, nil
}

// UpdateSnapshot replaces the stored remote summary of a playlist
func (r *PlaylistRepository) UpdateSnapshot(ctx context.Context, id string, snapshot models.Playlist) error {
	doc, err := encodeDoc(snapshot)
	if err != nil {
		return err
	}
	return r.update(ctx, id, `snapshot = ?`, doc)
}

// SetMainArtist records an accepted main artist together with the initial watermark.
func (r *PlaylistRepository) SetMainArtist(ctx context.Context, id, artistID string, watermark time.Time, message string) error {
	return r.update(ctx, id,
		`main_artist_id = ?, various_artists = 0, last_updated_at = ?, updated_message = ?`,
		artistID, watermark.UTC(), message,
	)
}

// MarkVariousArtists flags a playlist whose main artist could not be identified.
func (r *PlaylistRepository) MarkVariousArtists(ctx context.Context, id, message string) error {
	return r.update(ctx, id, `main_artist_id = NULL, various_artists = 1, updated_message = ?`, message)
}

// SetWatermark advances the newest release considered incorporated into the playlist.
func (r *PlaylistRepository) SetWatermark(ctx context.Context, id string, watermark time.Time, message string) error {
	return r.update(ctx, id, `last_updated_at = ?, updated_message = ?`, watermark.UTC(), message)
}

// InvalidateTracks clears the track cache and the main-artist state; the record itself stays.
func (r *PlaylistRepository) InvalidateTracks(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE playlists
			SET tracks_total = -1, tracks_refreshed_at = ?, main_artist_id = NULL, various_artists = 0, updated_at = ?
			WHERE id = ?`,
			shared.Epoch, now(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to invalidate playlist: %w", err)
		}
		if err := expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE playlist_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear tracks: %w", err)
		}
		return nil
	})
}

// ListByUser retrieves every playlist owned by userID, oldest first
func (r *PlaylistRepository) ListByUser(ctx context.Context, userID string) ([]*models.PlaylistRecord, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists p WHERE p.user_id = ? ORDER BY p.created_at ASC, p.id ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.PlaylistRecord
	for rows.Next() {
		playlist, err := r.scan(rows, "")
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return playlists, nil
}

// DeleteByUser removes every playlist owned by userID and returns how many were deleted
func (r *PlaylistRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM playlists WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete playlists: %w", err)
	}
	return result.RowsAffected()
}

func (r *PlaylistRepository) update(ctx context.Context, id, set string, args ...any) error {
	query := `UPDATE playlists SET ` + set + `, updated_at = ? WHERE id = ?`
	args = append(args, now(), id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id))
}

func (r *PlaylistRepository) scan(row scanner, id string) (*models.PlaylistRecord, error) {
	var (
		p        models.PlaylistRecord
		snapshot string
		artistID sql.NullString
	)

	err := row.Scan(
		&p.ID, &p.UserID, &snapshot, &artistID, &p.VariousArtists, &p.LastUpdatedAt, &p.UpdatedMessage,
		&p.Tracks.KnownTotal, &p.Tracks.LastRefreshedAt, &p.CreatedAt, &p.UpdatedAt, &p.Tracks.Cached,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	p.MainArtistID = artistID.String
	if err := decodeDoc(snapshot, &p.Snapshot); err != nil {
		return nil, err
	}
	return &p, nil
}

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

// collectionTable describes where one cached collection keeps its header and items.
type collectionTable struct {
	owner       string // owner table
	total       string
	refreshedAt string
	items       string // item table
	ownerKey    string // item column referencing the owner
	notFound    error
}

var (
	userPlaylistsTable = collectionTable{
		owner: "users", total: "playlists_total", refreshedAt: "playlists_refreshed_at",
		items: "user_playlists", ownerKey: "user_id", notFound: shared.ErrUserNotFound,
	}
	playlistTracksTable = collectionTable{
		owner: "playlists", total: "tracks_total", refreshedAt: "tracks_refreshed_at",
		items: "playlist_tracks", ownerKey: "playlist_id", notFound: shared.ErrPlaylistNotFound,
	}
)

// collection implements the header half of cache.Collection for one owner row.
type collection struct {
	db    *sql.DB
	table collectionTable
	id    string
}

func (c *collection) Snapshot(ctx context.Context) (models.PageState, error) {
	var state models.PageState
	query := fmt.Sprintf(
		`SELECT o.%s, o.%s, (SELECT COUNT(*) FROM %s i WHERE i.%s = o.id) FROM %s o WHERE o.id = ?`,
		c.table.total, c.table.refreshedAt, c.table.items, c.table.ownerKey, c.table.owner,
	)

	err := c.db.QueryRowContext(ctx, query, c.id).Scan(&state.KnownTotal, &state.LastRefreshedAt, &state.Cached)
	if errors.Is(err, sql.ErrNoRows) {
		return state, fmt.Errorf("%w: %s", c.table.notFound, c.id)
	}
	if err != nil {
		return state, fmt.Errorf("failed to read collection state: %w", err)
	}
	return state, nil
}

// Reset empties the collection and stamps the hard refresh. The total stays unknown until the first page is seeded.
func (c *collection) Reset(ctx context.Context, refreshedAt time.Time) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		if err := c.clear(ctx, tx); err != nil {
			return err
		}
		return c.setHeader(ctx, tx, fmt.Sprintf(`%s = -1, %s = ?`, c.table.total, c.table.refreshedAt), refreshedAt.UTC())
	})
}

// seed replaces every item and the known total.
func (c *collection) seed(ctx context.Context, total int, insert func(*sql.Tx) error) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		if err := c.clear(ctx, tx); err != nil {
			return err
		}
		if err := insert(tx); err != nil {
			return err
		}
		return c.setHeader(ctx, tx, fmt.Sprintf(`%s = ?`, c.table.total), total)
	})
}

// appendAt inserts items at offset, which must equal the stored item count.
func (c *collection) appendAt(ctx context.Context, offset int, insert func(*sql.Tx) error) error {
	return withTx(ctx, c.db, func(tx *sql.Tx) error {
		var count int
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ?`, c.table.items, c.table.ownerKey)
		if err := tx.QueryRowContext(ctx, query, c.id).Scan(&count); err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}
		if count != offset {
			return fmt.Errorf("%w: offset %d, cached %d", shared.ErrStaleAppend, offset, count)
		}
		return insert(tx)
	})
}

func (c *collection) clear(ctx context.Context, tx *sql.Tx) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, c.table.items, c.table.ownerKey)
	if _, err := tx.ExecContext(ctx, query, c.id); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	return nil
}

func (c *collection) setHeader(ctx context.Context, tx *sql.Tx, set string, args ...any) error {
	query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = ? WHERE id = ?`, c.table.owner, set)
	args = append(args, now(), c.id)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update collection header: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", c.table.notFound, c.id))
}

// UserPlaylistsCollection is the cached, ordered list of playlist IDs of one user.
type UserPlaylistsCollection struct {
	collection
}

// NewUserPlaylistsCollection creates the playlist list collection of userID
func NewUserPlaylistsCollection(db *sql.DB, userID string) *UserPlaylistsCollection {
	return &UserPlaylistsCollection{collection{db: db, table: userPlaylistsTable, id: userID}}
}

// Seed replaces the cached playlist IDs with the first remote page.
func (c *UserPlaylistsCollection) Seed(ctx context.Context, items []models.Playlist, total int) error {
	return c.seed(ctx, total, func(tx *sql.Tx) error { return c.insert(ctx, tx, 0, items) })
}

// Append stores the IDs of a remote page fetched at offset.
func (c *UserPlaylistsCollection) Append(ctx context.Context, offset int, items []models.Playlist) error {
	return c.appendAt(ctx, offset, func(tx *sql.Tx) error { return c.insert(ctx, tx, offset, items) })
}

// Slice returns up to limit playlist IDs starting at offset, in remote order.
func (c *UserPlaylistsCollection) Slice(ctx context.Context, offset, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT playlist_id FROM user_playlists WHERE user_id = ? AND position >= ? ORDER BY position ASC LIMIT ?`,
		c.id, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan playlist id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *UserPlaylistsCollection) insert(ctx context.Context, tx *sql.Tx, offset int, items []models.Playlist) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO user_playlists (user_id, position, playlist_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range items {
		if _, err := stmt.ExecContext(ctx, c.id, offset+i, p.ID); err != nil {
			return fmt.Errorf("failed to insert playlist id: %w", err)
		}
	}
	return nil
}

// PlaylistTracksCollection is the cached, ordered track list of one playlist.
type PlaylistTracksCollection struct {
	collection
}

// NewPlaylistTracksCollection creates the track collection of playlistID
func NewPlaylistTracksCollection(db *sql.DB, playlistID string) *PlaylistTracksCollection {
	return &PlaylistTracksCollection{collection{db: db, table: playlistTracksTable, id: playlistID}}
}

// Seed replaces the cached tracks with the first remote page.
func (c *PlaylistTracksCollection) Seed(ctx context.Context, items []models.Track, total int) error {
	return c.seed(ctx, total, func(tx *sql.Tx) error { return c.insert(ctx, tx, 0, items) })
}

// Append stores a remote page of tracks fetched at offset.
func (c *PlaylistTracksCollection) Append(ctx context.Context, offset int, items []models.Track) error {
	return c.appendAt(ctx, offset, func(tx *sql.Tx) error { return c.insert(ctx, tx, offset, items) })
}

// Slice returns up to limit tracks starting at offset, in remote order. A negative limit returns the rest.
func (c *PlaylistTracksCollection) Slice(ctx context.Context, offset, limit int) ([]models.Track, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT track FROM playlist_tracks WHERE playlist_id = ? AND position >= ? ORDER BY position ASC LIMIT ?`,
		c.id, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var (
			doc   string
			track models.Track
		)
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if err := decodeDoc(doc, &track); err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// All returns every cached track.
func (c *PlaylistTracksCollection) All(ctx context.Context) ([]models.Track, error) {
	return c.Slice(ctx, 0, -1)
}

// TrackIDs returns the set of cached track IDs. Local tracks without an ID are skipped.
func (c *PlaylistTracksCollection) TrackIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT track_id FROM playlist_tracks WHERE playlist_id = ? AND track_id != ''`, c.id)
	if err != nil {
		return nil, fmt.Errorf("failed to query track ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (c *PlaylistTracksCollection) insert(ctx context.Context, tx *sql.Tx, offset int, items []models.Track) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO playlist_tracks (playlist_id, position, track_id, track) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range items {
		doc, err := encodeDoc(t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.id, offset+i, t.ID, doc); err != nil {
			return fmt.Errorf("failed to insert track: %w", err)
		}
	}
	return nil
}

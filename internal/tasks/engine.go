package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plup/internal/cache"
	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/repositories"
	"github.com/desertthunder/plup/internal/services"
	"github.com/desertthunder/plup/internal/shared"
)

// Default expiry periods
const (
	DefaultPlaylistExpiry = 24 * time.Hour
	DefaultTrackExpiry    = 7 * 24 * time.Hour
	DefaultAlbumWorkers   = 4
)

// Remote is the subset of the Spotify Web API the engine depends on.
//
// [services.SpotifyService] implements it.
type Remote interface {
	CurrentUser(ctx context.Context) (*models.User, error)
	UserPlaylists(ctx context.Context, limit, offset int) (*models.Page[models.Playlist], error)
	Playlist(ctx context.Context, playlistID string) (*models.Playlist, error)
	PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.Page[models.Track], error)
	Artist(ctx context.Context, artistID string) (*models.Artist, error)
	ArtistAlbums(ctx context.Context, artistID string, groups []string, limit int) (*models.Page[models.Album], error)
	NextAlbums(ctx context.Context, next string) (*models.Page[models.Album], error)
	SeveralAlbums(ctx context.Context, albumIDs []string) ([]models.Album, error)
	NextTracks(ctx context.Context, next string) (*models.Page[models.Track], error)
	AddTracks(ctx context.Context, playlistID string, uris []string) (string, error)
}

// Options tunes an [Engine]. Zero values fall back to the defaults.
type Options struct {
	PlaylistExpiry time.Duration
	TrackExpiry    time.Duration
	AlbumWorkers   int
	Logger         *log.Logger
	Now            func() time.Time
}

// Engine runs cache operations against one database and one remote.
//
// Work on a user's playlist list and on a playlist's tracks is serialized per ID.
// When both are needed the user key is taken first.
type Engine struct {
	db        *sql.DB
	remote    Remote
	users     *repositories.UserRepository
	playlists *repositories.PlaylistRepository
	artists   *repositories.ArtistRepository

	playlistSync *cache.Synchronizer[models.Playlist]
	trackSync    *cache.Synchronizer[models.Track]

	locks    *keyedMutex
	workers  int
	now      func() time.Time
	logger   *log.Logger
	progress chan<- ProgressUpdate
}

// NewEngine creates an [Engine] over db and remote.
func NewEngine(db *sql.DB, remote Remote, opts Options) *Engine {
	if opts.PlaylistExpiry <= 0 {
		opts.PlaylistExpiry = DefaultPlaylistExpiry
	}
	if opts.TrackExpiry <= 0 {
		opts.TrackExpiry = DefaultTrackExpiry
	}
	if opts.AlbumWorkers <= 0 {
		opts.AlbumWorkers = DefaultAlbumWorkers
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	now := func() time.Time { return opts.Now().UTC() }
	playlistPolicy := cache.Policy{PageSize: services.PlaylistPageLimit, Expiry: opts.PlaylistExpiry}
	trackPolicy := cache.Policy{PageSize: services.TrackPageLimit, Expiry: opts.TrackExpiry}

	return &Engine{
		db:           db,
		remote:       remote,
		users:        repositories.NewUserRepository(db),
		playlists:    repositories.NewPlaylistRepository(db),
		artists:      repositories.NewArtistRepository(db),
		playlistSync: cache.NewSynchronizer[models.Playlist](playlistPolicy, shared.WithLogger(opts.Logger, "collection", "playlists")).WithClock(now),
		trackSync:    cache.NewSynchronizer[models.Track](trackPolicy, shared.WithLogger(opts.Logger, "collection", "tracks")).WithClock(now),
		locks:        newKeyedMutex(),
		workers:      opts.AlbumWorkers,
		now:          now,
		logger:       opts.Logger,
	}
}

// SetProgress sets the channel receiving [ProgressUpdate] values. Updates are dropped when it is full.
func (e *Engine) SetProgress(progress chan<- ProgressUpdate) {
	e.progress = progress
}

// sendProgress sends a progress update through the channel without blocking.
func (e *Engine) sendProgress(update ProgressUpdate) {
	if e.progress == nil {
		return
	}
	select {
	case e.progress <- update:
	default:
	}
}

// PlaylistsPage is one page of a user's cached playlist list.
type PlaylistsPage struct {
	User      *models.UserRecord
	Page      int
	MaxPage   int
	Playlists []*models.PlaylistRecord
}

// TracksPage is one page of a playlist's cached tracks.
type TracksPage struct {
	Playlist *models.PlaylistRecord
	Page     int
	MaxPage  int
	Tracks   []models.Track
}

// RegisterUser stores the authenticated user's profile, creating the user on first login.
func (e *Engine) RegisterUser(ctx context.Context) (*models.UserRecord, error) {
	profile, err := e.remote.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}

	unlock, err := e.locks.Lock(ctx, userKey(profile.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := e.users.Upsert(ctx, *profile)
	if err != nil {
		return nil, err
	}
	e.logger.Info("registered user", "user", user.ID)
	return user, nil
}

// EnsurePlaylistsPage syncs and returns the 1-indexed page of userID's playlists.
//
// Pages below 1 are read as 1 and pages past the end as the last page.
func (e *Engine) EnsurePlaylistsPage(ctx context.Context, userID string, page int) (*PlaylistsPage, error) {
	page = max(page, 1)

	unlock, err := e.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	coll := repositories.NewUserPlaylistsCollection(e.db, userID)
	fetch := func(ctx context.Context, limit, offset int) (*models.Page[models.Playlist], error) {
		return e.remote.UserPlaylists(ctx, limit, offset)
	}

	report, syncErr := e.playlistSync.EnsurePage(ctx, coll, page, fetch)
	if report != nil {
		if err := e.reconcile(ctx, userID, report.Added); err != nil {
			return nil, errors.Join(syncErr, err)
		}
	}
	if syncErr != nil {
		return nil, fmt.Errorf("failed to sync playlists of %s: %w", userID, syncErr)
	}
	e.sendProgress(syncUpdate(SyncPlaylists, report.State.Cached, report.State.KnownTotal))

	size := e.playlistSync.Policy().PageSize
	maxPage := max(1, ceilDiv(report.State.KnownTotal, size))
	page = min(page, maxPage)

	ids, err := coll.Slice(ctx, (page-1)*size, size)
	if err != nil {
		return nil, err
	}

	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &PlaylistsPage{User: user, Page: page, MaxPage: maxPage}
	for _, id := range ids {
		p, err := e.playlists.Get(ctx, id)
		if errors.Is(err, shared.ErrPlaylistNotFound) {
			e.logger.Warn("cached playlist id has no record", "playlist", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Playlists = append(result.Playlists, p)
	}
	return result, nil
}

// reconcile creates records for newly listed playlists and invalidates those whose track count moved.
func (e *Engine) reconcile(ctx context.Context, userID string, added []models.Playlist) error {
	for _, p := range added {
		if err := e.reconcileOne(ctx, userID, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reconcileOne(ctx context.Context, userID string, p models.Playlist) error {
	unlock, err := e.locks.Lock(ctx, playlistKey(p.ID))
	if err != nil {
		return err
	}
	defer unlock()

	record, err := e.playlists.Get(ctx, p.ID)
	if errors.Is(err, shared.ErrPlaylistNotFound) {
		_, err = e.playlists.Create(ctx, userID, p)
		return err
	}
	if err != nil {
		return err
	}

	if err := e.playlists.UpdateSnapshot(ctx, p.ID, p); err != nil {
		return err
	}

	if record.Tracks.KnownTotal < 0 || record.Tracks.KnownTotal != p.TrackTotal {
		e.logger.Debug("track count changed", "playlist", p.ID, "cached_total", record.Tracks.KnownTotal, "remote_total", p.TrackTotal)
		return e.playlists.InvalidateTracks(ctx, p.ID)
	}
	return nil
}

// EnsureTracksPage syncs and returns the 1-indexed page of a playlist's tracks.
//
// Pages below 1 are read as 1 and pages past the end as the last page.
func (e *Engine) EnsureTracksPage(ctx context.Context, playlistID string, page int) (*TracksPage, error) {
	page = max(page, 1)

	unlock, err := e.locks.Lock(ctx, playlistKey(playlistID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	report, err := e.ensureTracks(ctx, playlistID, page)
	if err != nil {
		return nil, err
	}

	size := e.trackSync.Policy().PageSize
	maxPage := max(1, ceilDiv(report.State.KnownTotal, size))
	page = min(page, maxPage)

	tracks, err := repositories.NewPlaylistTracksCollection(e.db, playlistID).Slice(ctx, (page-1)*size, size)
	if err != nil {
		return nil, err
	}

	record, err := e.playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	return &TracksPage{Playlist: record, Page: page, MaxPage: maxPage, Tracks: tracks}, nil
}

// ensureTracks syncs a playlist's track cache. The caller holds the playlist key.
func (e *Engine) ensureTracks(ctx context.Context, playlistID string, page int) (*cache.Report[models.Track], error) {
	coll := repositories.NewPlaylistTracksCollection(e.db, playlistID)
	fetch := func(ctx context.Context, limit, offset int) (*models.Page[models.Track], error) {
		return e.remote.PlaylistTracks(ctx, playlistID, limit, offset)
	}

	report, err := e.trackSync.EnsurePage(ctx, coll, page, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to sync tracks of %s: %w", playlistID, err)
	}
	e.sendProgress(syncUpdate(SyncTracks, report.State.Cached, report.State.KnownTotal))
	return report, nil
}

// Playlist returns the stored record of a playlist without syncing it.
func (e *Engine) Playlist(ctx context.Context, playlistID string) (*models.PlaylistRecord, error) {
	return e.playlists.Get(ctx, playlistID)
}

// Artist returns the stored snapshot of an artist.
func (e *Engine) Artist(ctx context.Context, artistID string) (*models.ArtistRecord, error) {
	return e.artists.Get(ctx, artistID)
}

// CommitResult reports what CommitNewTracks did.
type CommitResult struct {
	Added    int
	Playlist *models.PlaylistRecord
}

// CommitNewTracks adds uris to a playlist in batches and advances its watermark to checkedAt.
//
// The watermark only moves when every batch was added. The playlist is refreshed afterwards in every case
// and the errors of both steps are joined.
func (e *Engine) CommitNewTracks(ctx context.Context, playlistID string, uris []string, checkedAt time.Time) (*CommitResult, error) {
	unlock, err := e.locks.Lock(ctx, playlistKey(playlistID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &CommitResult{}
	batches := ceilDiv(len(uris), services.AddTracksLimit)

	var addErr error
	for i := 0; i < len(uris); i += services.AddTracksLimit {
		e.sendProgress(addTracksUpdate(i/services.AddTracksLimit+1, batches))
		batch := uris[i:min(i+services.AddTracksLimit, len(uris))]
		if _, err := e.remote.AddTracks(ctx, playlistID, batch); err != nil {
			addErr = fmt.Errorf("failed to add tracks to %s: %w", playlistID, err)
			break
		}
		result.Added += len(batch)
	}

	if addErr == nil {
		checkedAt = checkedAt.UTC()
		addErr = e.playlists.SetWatermark(ctx, playlistID, checkedAt, shared.LastUpdatedMessage(checkedAt))
	}

	refreshErr := e.refreshPlaylist(ctx, playlistID)
	if err := errors.Join(addErr, refreshErr); err != nil {
		return result, err
	}

	result.Playlist, err = e.playlists.Get(ctx, playlistID)
	if err != nil {
		return result, err
	}
	e.logger.Info("committed new tracks", "playlist", playlistID, "added", result.Added)
	return result, nil
}

// InvalidatePlaylist clears a playlist's track cache and refetches its snapshot.
func (e *Engine) InvalidatePlaylist(ctx context.Context, playlistID string) error {
	unlock, err := e.locks.Lock(ctx, playlistKey(playlistID))
	if err != nil {
		return err
	}
	defer unlock()

	return e.refreshPlaylist(ctx, playlistID)
}

// refreshPlaylist clears the track cache and stores the latest remote snapshot. The caller holds the playlist key.
func (e *Engine) refreshPlaylist(ctx context.Context, playlistID string) error {
	e.sendProgress(refreshUpdate(playlistID))

	if err := e.playlists.InvalidateTracks(ctx, playlistID); err != nil {
		return err
	}

	snapshot, err := e.remote.Playlist(ctx, playlistID)
	if err != nil {
		return fmt.Errorf("failed to refresh playlist %s: %w", playlistID, err)
	}
	return e.playlists.UpdateSnapshot(ctx, playlistID, *snapshot)
}

// InvalidateUser clears a user's playlist list and the track cache of every playlist they own.
func (e *Engine) InvalidateUser(ctx context.Context, userID string) error {
	unlock, err := e.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.users.InvalidatePlaylists(ctx, userID); err != nil {
		return err
	}

	playlists, err := e.playlists.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, p := range playlists {
		if err := e.invalidateTracks(ctx, p.ID); err != nil {
			return err
		}
	}
	e.logger.Info("invalidated user cache", "user", userID, "playlists", len(playlists))
	return nil
}

func (e *Engine) invalidateTracks(ctx context.Context, playlistID string) error {
	unlock, err := e.locks.Lock(ctx, playlistKey(playlistID))
	if err != nil {
		return err
	}
	defer unlock()

	return e.playlists.InvalidateTracks(ctx, playlistID)
}

// ForgetUser deletes a user and every playlist record they own.
func (e *Engine) ForgetUser(ctx context.Context, userID string) error {
	unlock, err := e.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	n, err := e.playlists.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.users.Delete(ctx, userID); err != nil {
		return err
	}
	e.logger.Info("removed personal info", "user", userID, "playlists", n)
	return nil
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

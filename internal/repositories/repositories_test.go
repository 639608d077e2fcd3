package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/plup/internal/cache"
	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sql.DB, id string) *models.UserRecord {
	t.Helper()
	user, err := NewUserRepository(db).Upsert(context.Background(), models.User{ID: id, DisplayName: "User " + id})
	if err != nil {
		t.Fatalf("failed to upsert user: %v", err)
	}
	return user
}

func seedPlaylist(t *testing.T, db *sql.DB, userID, id string) *models.PlaylistRecord {
	t.Helper()
	p, err := NewPlaylistRepository(db).Create(context.Background(), userID, models.Playlist{ID: id, Name: "Playlist " + id, TrackTotal: 3})
	if err != nil {
		t.Fatalf("failed to create playlist: %v", err)
	}
	return p
}

func makeTracks(offset, n int) []models.Track {
	tracks := make([]models.Track, n)
	for i := range tracks {
		id := fmt.Sprintf("t%d", offset+i)
		tracks[i] = models.Track{ID: id, Name: "Track " + id, URI: "spotify:track:" + id, Artists: []models.Artist{{ID: "a1", Name: "Artist"}}}
	}
	return tracks
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Upsert creates unsynced user", func(t *testing.T) {
		db := setupTestDB(t)
		user := seedUser(t, db, "u1")

		if user.Playlists.KnownTotal != -1 {
			t.Errorf("expected unknown playlist total, got %d", user.Playlists.KnownTotal)
		}
		if !user.Playlists.LastRefreshedAt.Equal(shared.Epoch) {
			t.Errorf("expected epoch refresh time, got %v", user.Playlists.LastRefreshedAt)
		}
		if user.Profile.DisplayName != "User u1" {
			t.Errorf("expected profile to round trip, got %+v", user.Profile)
		}
	})

	t.Run("Upsert keeps cache header", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		seedUser(t, db, "u1")

		coll := NewUserPlaylistsCollection(db, "u1")
		if err := coll.Seed(ctx, []models.Playlist{{ID: "p1"}}, 1); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		user, err := repo.Upsert(ctx, models.User{ID: "u1", DisplayName: "Renamed"})
		if err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		if user.Playlists.KnownTotal != 1 || user.Playlists.Cached != 1 {
			t.Errorf("expected header to survive upsert, got %+v", user.Playlists)
		}
		if user.Profile.DisplayName != "Renamed" {
			t.Errorf("expected profile update, got %q", user.Profile.DisplayName)
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		db := setupTestDB(t)
		if _, err := NewUserRepository(db).Get(ctx, "nope"); !errors.Is(err, shared.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("InvalidatePlaylists", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		seedUser(t, db, "u1")

		coll := NewUserPlaylistsCollection(db, "u1")
		if err := coll.Seed(ctx, []models.Playlist{{ID: "p1"}, {ID: "p2"}}, 2); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		if err := repo.InvalidatePlaylists(ctx, "u1"); err != nil {
			t.Fatalf("invalidate failed: %v", err)
		}

		user, err := repo.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if user.Playlists.KnownTotal != -1 || user.Playlists.Cached != 0 {
			t.Errorf("expected cleared playlist list, got %+v", user.Playlists)
		}
	})

	t.Run("Delete cascades playlist list", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)
		seedUser(t, db, "u1")

		if err := NewUserPlaylistsCollection(db, "u1").Seed(ctx, []models.Playlist{{ID: "p1"}}, 1); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		if err := repo.Delete(ctx, "u1"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM user_playlists").Scan(&count); err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected cascade delete, %d rows remain", count)
		}

		if err := repo.Delete(ctx, "u1"); !errors.Is(err, shared.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound on second delete, got %v", err)
		}
	})
}

func TestPlaylistRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		seedPlaylist(t, db, "u1", "p1")

		p, err := NewPlaylistRepository(db).Get(ctx, "p1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}

		if p.UserID != "u1" || p.Snapshot.Name != "Playlist p1" {
			t.Errorf("unexpected record %+v", p)
		}
		if p.Tracks.KnownTotal != -1 || p.Tracks.Cached != 0 {
			t.Errorf("expected unsynced tracks, got %+v", p.Tracks)
		}
		if p.MainArtistID != "" || p.VariousArtists {
			t.Error("expected unresolved main artist")
		}
		if p.UpdatedMessage != shared.MessageNeverUpdated {
			t.Errorf("expected %q, got %q", shared.MessageNeverUpdated, p.UpdatedMessage)
		}
	})

	t.Run("Create requires owner", func(t *testing.T) {
		db := setupTestDB(t)
		if _, err := NewPlaylistRepository(db).Create(ctx, "", models.Playlist{ID: "p1"}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SetMainArtist and MarkVariousArtists", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		seedPlaylist(t, db, "u1", "p1")

		watermark := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)
		if err := repo.SetMainArtist(ctx, "p1", "a1", watermark, "Last Updated: Jun 1st, 2021 at 00:00"); err != nil {
			t.Fatalf("set main artist failed: %v", err)
		}

		p, _ := repo.Get(ctx, "p1")
		if p.MainArtistID != "a1" || !p.LastUpdatedAt.Equal(watermark) || !p.Resolved() {
			t.Errorf("unexpected resolved record %+v", p)
		}

		if err := repo.MarkVariousArtists(ctx, "p1", "multiple artists"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		p, _ = repo.Get(ctx, "p1")
		if !p.VariousArtists || p.MainArtistID != "" || p.UpdatedMessage != "multiple artists" {
			t.Errorf("unexpected various artists record %+v", p)
		}
	})

	t.Run("SetWatermark missing playlist", func(t *testing.T) {
		db := setupTestDB(t)
		err := NewPlaylistRepository(db).SetWatermark(ctx, "nope", time.Now(), "msg")
		if !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("InvalidateTracks", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		seedPlaylist(t, db, "u1", "p1")

		coll := NewPlaylistTracksCollection(db, "p1")
		if err := coll.Seed(ctx, makeTracks(0, 3), 3); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if err := repo.MarkVariousArtists(ctx, "p1", "msg"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}

		if err := repo.InvalidateTracks(ctx, "p1"); err != nil {
			t.Fatalf("invalidate failed: %v", err)
		}

		p, _ := repo.Get(ctx, "p1")
		if p.Tracks.KnownTotal != -1 || p.Tracks.Cached != 0 || !p.Tracks.LastRefreshedAt.Equal(shared.Epoch) {
			t.Errorf("expected cleared track cache, got %+v", p.Tracks)
		}
		if p.VariousArtists || p.MainArtistID != "" {
			t.Error("expected main artist state to be cleared")
		}
	})

	t.Run("ListByUser and DeleteByUser", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewPlaylistRepository(db)
		seedPlaylist(t, db, "u1", "p1")
		seedPlaylist(t, db, "u1", "p2")
		seedPlaylist(t, db, "u2", "p3")

		list, err := repo.ListByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 playlists, got %d", len(list))
		}

		n, err := repo.DeleteByUser(ctx, "u1")
		if err != nil || n != 2 {
			t.Fatalf("expected 2 deleted, got %d (%v)", n, err)
		}
		if _, err := repo.Get(ctx, "p3"); err != nil {
			t.Errorf("other user's playlist should remain: %v", err)
		}
	})
}

func TestArtistRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewArtistRepository(db)

	if _, err := repo.Get(ctx, "a1"); !errors.Is(err, shared.ErrArtistNotFound) {
		t.Errorf("expected ErrArtistNotFound, got %v", err)
	}

	if err := repo.Upsert(ctx, models.Artist{ID: "a1", Name: "First"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := repo.Upsert(ctx, models.Artist{ID: "a1", Name: "Second", Genres: []string{"indie"}}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	a, err := repo.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if a.Info.Name != "Second" || len(a.Info.Genres) != 1 {
		t.Errorf("expected latest snapshot, got %+v", a.Info)
	}
}

func TestPlaylistTracksCollection(t *testing.T) {
	ctx := context.Background()
	var _ cache.Collection[models.Track] = (*PlaylistTracksCollection)(nil)
	var _ cache.Collection[models.Playlist] = (*UserPlaylistsCollection)(nil)

	t.Run("Seed, Append and Slice", func(t *testing.T) {
		db := setupTestDB(t)
		seedPlaylist(t, db, "u1", "p1")
		coll := NewPlaylistTracksCollection(db, "p1")

		if err := coll.Seed(ctx, makeTracks(0, 2), 5); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if err := coll.Append(ctx, 2, makeTracks(2, 3)); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		state, err := coll.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot failed: %v", err)
		}
		if state.Cached != 5 || state.KnownTotal != 5 {
			t.Errorf("unexpected state %+v", state)
		}

		page, err := coll.Slice(ctx, 1, 2)
		if err != nil {
			t.Fatalf("slice failed: %v", err)
		}
		if len(page) != 2 || page[0].ID != "t1" || page[1].ID != "t2" {
			t.Errorf("unexpected slice %+v", page)
		}

		all, err := coll.All(ctx)
		if err != nil || len(all) != 5 {
			t.Fatalf("expected 5 tracks, got %d (%v)", len(all), err)
		}
		if all[0].Artists[0].Name != "Artist" {
			t.Error("expected track document to round trip")
		}
	})

	t.Run("stale append is rejected", func(t *testing.T) {
		db := setupTestDB(t)
		seedPlaylist(t, db, "u1", "p1")
		coll := NewPlaylistTracksCollection(db, "p1")

		if err := coll.Seed(ctx, makeTracks(0, 2), 4); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		if err := coll.Append(ctx, 2, makeTracks(2, 2)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if err := coll.Append(ctx, 2, makeTracks(2, 2)); !errors.Is(err, shared.ErrStaleAppend) {
			t.Errorf("expected ErrStaleAppend, got %v", err)
		}

		state, _ := coll.Snapshot(ctx)
		if state.Cached != 4 {
			t.Errorf("expected no duplicate rows, got %d", state.Cached)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		db := setupTestDB(t)
		seedPlaylist(t, db, "u1", "p1")
		coll := NewPlaylistTracksCollection(db, "p1")

		if err := coll.Seed(ctx, makeTracks(0, 3), 3); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		at := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
		if err := coll.Reset(ctx, at); err != nil {
			t.Fatalf("reset failed: %v", err)
		}

		state, _ := coll.Snapshot(ctx)
		if state.Cached != 0 || !state.Unknown() || !state.LastRefreshedAt.Equal(at) {
			t.Errorf("unexpected state after reset %+v", state)
		}
	})

	t.Run("TrackIDs skips local tracks", func(t *testing.T) {
		db := setupTestDB(t)
		seedPlaylist(t, db, "u1", "p1")
		coll := NewPlaylistTracksCollection(db, "p1")

		tracks := append(makeTracks(0, 2), models.Track{Name: "local file", IsLocal: true}, makeTracks(0, 1)[0])
		if err := coll.Seed(ctx, tracks, 4); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		ids, err := coll.TrackIDs(ctx)
		if err != nil {
			t.Fatalf("track ids failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 distinct ids, got %v", ids)
		}
	})

	t.Run("missing owner", func(t *testing.T) {
		db := setupTestDB(t)
		if _, err := NewPlaylistTracksCollection(db, "nope").Snapshot(ctx); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("works with the synchronizer", func(t *testing.T) {
		db := setupTestDB(t)
		seedPlaylist(t, db, "u1", "p1")
		coll := NewPlaylistTracksCollection(db, "p1")
		remote := makeTracks(0, 7)

		fetch := func(_ context.Context, limit, offset int) (*models.Page[models.Track], error) {
			end := min(offset+limit, len(remote))
			return &models.Page[models.Track]{Items: remote[offset:end], Total: len(remote), Limit: limit, Offset: offset}, nil
		}

		s := cache.NewSynchronizer[models.Track](cache.Policy{PageSize: 3, Expiry: time.Hour}, nil)
		if _, err := s.EnsurePage(ctx, coll, cache.AllPages, fetch); err != nil {
			t.Fatalf("EnsurePage failed: %v", err)
		}

		all, _ := coll.All(ctx)
		if len(all) != 7 || all[6].ID != "t6" {
			t.Errorf("expected all 7 tracks in order, got %d", len(all))
		}
	})
}

func TestUserPlaylistsCollection(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	coll := NewUserPlaylistsCollection(db, "u1")

	if err := coll.Seed(ctx, []models.Playlist{{ID: "p1"}, {ID: "p2"}}, 3); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := coll.Append(ctx, 2, []models.Playlist{{ID: "p3"}}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	ids, err := coll.Slice(ctx, 1, 10)
	if err != nil {
		t.Fatalf("slice failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "p2" || ids[1] != "p3" {
		t.Errorf("unexpected ids %v", ids)
	}

	if err := NewUserPlaylistsCollection(db, "nope").Seed(ctx, nil, 0); !errors.Is(err, shared.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound for missing owner, got %v", err)
	}
}

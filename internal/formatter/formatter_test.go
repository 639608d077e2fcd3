package formatter

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
	"github.com/desertthunder/plup/internal/tasks"
	th "github.com/desertthunder/plup/internal/testing"
)

func sampleResult() *tasks.Result {
	date, _ := models.ParseReleaseDate("2024-06-07")
	album := models.Album{ID: "al1", Name: "New Album", AlbumType: models.AlbumTypeAlbum, ReleaseDate: date}
	return &tasks.Result{
		Playlist: &models.PlaylistRecord{
			ID:             "p1",
			Snapshot:       models.Playlist{ID: "p1", Name: "Artist X"},
			MainArtistID:   "ax",
			UpdatedMessage: "Last Updated: Jan 1st, 2024 at 00:00",
		},
		Artist: &models.ArtistRecord{ID: "ax", Info: models.Artist{ID: "ax", Name: "Artist X"}},
		Candidates: []tasks.Candidate{
			{
				Track: models.Track{ID: "t1", Name: "Song One", URI: "spotify:track:t1", DurationMS: 185_000,
					Artists: []models.Artist{{ID: "ax", Name: "Artist X"}, {ID: "ay", Name: "Artist Y"}}},
				Album: album,
			},
			{
				Track: models.Track{ID: "t2", Name: "Song, Two", URI: "spotify:track:t2", DurationMS: 3_725_000,
					Artists: []models.Artist{{ID: "ax", Name: "Artist X"}}},
				Album: album,
			},
		},
		CheckedAt: time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestFormatLength(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"zero", 0, "0:00"},
		{"seconds", 9 * time.Second, "0:09"},
		{"minutes", 3*time.Minute + 5*time.Second, "3:05"},
		{"rounds to the nearest second", 59*time.Second + 600*time.Millisecond, "1:00"},
		{"hours", time.Hour + 2*time.Minute + 5*time.Second, "1:02:05"},
		{"negative", -time.Second, "0:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLength(tt.in); got != tt.want {
				t.Errorf("FormatLength(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderers(t *testing.T) {
	t.Run("RenderPlaylists", func(t *testing.T) {
		page := &tasks.PlaylistsPage{
			User: &models.UserRecord{ID: "u1", Profile: models.User{ID: "u1", DisplayName: "Listener"},
				Playlists: models.PageState{Cached: 2, KnownTotal: 2}},
			Page:    1,
			MaxPage: 1,
			Playlists: []*models.PlaylistRecord{
				{ID: "p1", Snapshot: models.Playlist{Name: "Artist X", TrackTotal: 12}, UpdatedMessage: shared.MessageNeverUpdated},
				{ID: "p2", Snapshot: models.Playlist{Name: "Mix", TrackTotal: 40}, VariousArtists: true, UpdatedMessage: "Playlist appears to contain multiple artists."},
			},
		}

		var buf bytes.Buffer
		if err := RenderPlaylists(&buf, page); err != nil {
			t.Fatalf("RenderPlaylists failed: %v", err)
		}
		output := buf.String()

		for _, want := range []string{"Playlists of Listener", "Page 1 of 1 (2 playlists)", "Artist X", "(12 tracks, p1)", "Never Updated", "multiple artists"} {
			if !strings.Contains(output, want) {
				t.Errorf("output missing %q:\n%s", want, output)
			}
		}
	})

	t.Run("RenderPlaylists write error", func(t *testing.T) {
		page := &tasks.PlaylistsPage{User: &models.UserRecord{ID: "u1"}, Page: 1, MaxPage: 1}
		if err := RenderPlaylists(&th.FWriter{}, page); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("RenderTracks", func(t *testing.T) {
		page := &tasks.TracksPage{
			Playlist: &models.PlaylistRecord{ID: "p1", Snapshot: models.Playlist{Name: "Artist X"}, Tracks: models.PageState{Cached: 102, KnownTotal: 102}},
			Page:     2,
			MaxPage:  2,
			Tracks: []models.Track{
				{ID: "t101", Name: "Late Song", DurationMS: 61_000, Artists: []models.Artist{{Name: "Artist X"}}},
				{},
			},
		}

		var buf bytes.Buffer
		if err := RenderTracks(&buf, page, 100); err != nil {
			t.Fatalf("RenderTracks failed: %v", err)
		}
		output := buf.String()

		if !strings.Contains(output, " 101. Artist X - Late Song [1:01]") {
			t.Errorf("expected numbered track, got:\n%s", output)
		}
		if !strings.Contains(output, " 102. (unavailable)") {
			t.Errorf("expected placeholder line, got:\n%s", output)
		}
	})

	t.Run("RenderCandidates", func(t *testing.T) {
		var buf bytes.Buffer
		if err := RenderCandidates(&buf, sampleResult()); err != nil {
			t.Fatalf("RenderCandidates failed: %v", err)
		}
		output := buf.String()

		for _, want := range []string{"Main artist: Artist X", "2 new tracks available", "Artist X, Artist Y - Song One [3:05]", "[1:02:05]", "New Album, 2024-06-07", "2024-07-01T09:30:00Z"} {
			if !strings.Contains(output, want) {
				t.Errorf("output missing %q:\n%s", want, output)
			}
		}
	})

	t.Run("RenderCandidates rejection", func(t *testing.T) {
		result := sampleResult()
		result.Candidates = nil
		result.Artist = nil
		result.Rejection = tasks.MessageMultipleArtists

		var buf bytes.Buffer
		if err := RenderCandidates(&buf, result); err != nil {
			t.Fatalf("RenderCandidates failed: %v", err)
		}
		if !strings.Contains(buf.String(), tasks.MessageMultipleArtists) {
			t.Errorf("expected rejection message, got:\n%s", buf.String())
		}
	})

	t.Run("RenderCandidates nothing new", func(t *testing.T) {
		result := sampleResult()
		result.Candidates = nil

		var buf bytes.Buffer
		if err := RenderCandidates(&buf, result); err != nil {
			t.Fatalf("RenderCandidates failed: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "No new tracks found") || !strings.Contains(output, result.Playlist.UpdatedMessage) {
			t.Errorf("unexpected output:\n%s", output)
		}
	})
}

func TestExporters(t *testing.T) {
	t.Run("ExportCandidatesCSV", func(t *testing.T) {
		data, err := ExportCandidatesCSV(sampleResult().Candidates)
		if err != nil {
			t.Fatalf("ExportCandidatesCSV failed: %v", err)
		}

		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected header and 2 rows, got %d", len(records))
		}
		if strings.Join(records[0], ",") != "ID,Title,Artist,Album,Release Date,Duration,URI" {
			t.Errorf("unexpected headers %v", records[0])
		}
		if records[2][1] != "Song, Two" || records[2][5] != "1:02:05" || records[2][6] != "spotify:track:t2" {
			t.Errorf("unexpected row %v", records[2])
		}
	})

	t.Run("ExportCandidatesCSV empty", func(t *testing.T) {
		data, err := ExportCandidatesCSV(nil)
		if err != nil {
			t.Fatalf("ExportCandidatesCSV failed: %v", err)
		}
		if lines := strings.Count(string(data), "\n"); lines != 1 {
			t.Errorf("expected only the header line, got %d lines", lines)
		}
	})

	t.Run("WriteCandidatesCSV", func(t *testing.T) {
		tempDir := t.TempDir()
		originalDir := th.MustGetwd(t)
		th.MustChdir(t, tempDir)
		defer th.MustChdir(t, originalDir)

		path, err := WriteCandidatesCSV(sampleResult(), "")
		if err != nil {
			t.Fatalf("WriteCandidatesCSV failed: %v", err)
		}
		if path != "p1_candidates.csv" {
			t.Errorf("Expected 'p1_candidates.csv', got '%s'", path)
		}
		th.AssertFileExists(t, path)

		if content := th.MustReadFile(t, path); !strings.Contains(content, "Song One") {
			t.Errorf("CSV missing track data")
		}
	})

	t.Run("WriteJSON", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteJSON(&buf, sampleResult()); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, `"checked_at": "2024-07-01T09:30:00Z"`) {
			t.Errorf("expected checked_at field, got:\n%s", output)
		}
		if !strings.HasSuffix(output, "\n") {
			t.Error("expected trailing newline")
		}
	})
}

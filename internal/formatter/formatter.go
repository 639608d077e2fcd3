// package formatter renders cached playlists, tracks and release candidates as styled text, CSV and JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
	"github.com/desertthunder/plup/internal/tasks"
)

// FormatLength renders a track length as m:ss, or h:mm:ss from one hour up.
func FormatLength(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Artists joins the credited artist names of a track.
func Artists(t models.Track) string {
	return strings.Join(t.ArtistNames(), ", ")
}

// RenderPlaylists writes one page of a user's playlists.
func RenderPlaylists(w io.Writer, page *tasks.PlaylistsPage) error {
	var buf bytes.Buffer

	name := page.User.Profile.DisplayName
	if name == "" {
		name = page.User.ID
	}
	buf.WriteString(styles.title.Render(fmt.Sprintf("Playlists of %s", name)) + "\n")
	buf.WriteString(styles.help.Render(fmt.Sprintf("Page %d of %d (%d playlists)", page.Page, page.MaxPage, max(page.User.Playlists.KnownTotal, 0))) + "\n\n")

	if len(page.Playlists) == 0 {
		buf.WriteString(styles.warn.Render("No playlists found") + "\n")
	}

	for i, p := range page.Playlists {
		fmt.Fprintf(&buf, "%3d. %s %s\n", i+1, p.Snapshot.Name, styles.help.Render(fmt.Sprintf("(%d tracks, %s)", p.Snapshot.TrackTotal, p.ID)))
		fmt.Fprintf(&buf, "     %s\n", status(p))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func status(p *models.PlaylistRecord) string {
	switch {
	case p.VariousArtists:
		return styles.warn.Render(p.UpdatedMessage)
	case p.MainArtistID == "":
		return styles.help.Render(p.UpdatedMessage)
	default:
		return styles.ok.Render(p.UpdatedMessage)
	}
}

// RenderTracks writes one page of a playlist's tracks, numbered by playlist position.
func RenderTracks(w io.Writer, page *tasks.TracksPage, pageSize int) error {
	var buf bytes.Buffer

	buf.WriteString(styles.title.Render(page.Playlist.Snapshot.Name) + "\n")
	buf.WriteString(styles.help.Render(fmt.Sprintf("Page %d of %d (%d tracks)", page.Page, page.MaxPage, max(page.Playlist.Tracks.KnownTotal, 0))) + "\n\n")

	offset := (page.Page - 1) * pageSize
	for i, t := range page.Tracks {
		if t.ID == "" && t.Name == "" {
			fmt.Fprintf(&buf, "%4d. %s\n", offset+i+1, styles.help.Render("(unavailable)"))
			continue
		}
		fmt.Fprintf(&buf, "%4d. %s - %s [%s]\n", offset+i+1, Artists(t), t.Name, FormatLength(t.Duration()))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// RenderCandidates writes the outcome of a new release check.
func RenderCandidates(w io.Writer, result *tasks.Result) error {
	var buf bytes.Buffer

	buf.WriteString(styles.title.Render(result.Playlist.Snapshot.Name) + "\n")

	switch {
	case result.Rejection != "":
		buf.WriteString(styles.err.Render(result.Rejection) + "\n")
	case len(result.Candidates) == 0:
		if result.Artist != nil {
			fmt.Fprintf(&buf, "Main artist: %s\n", result.Artist.Info.Name)
		}
		buf.WriteString(styles.ok.Render("No new tracks found") + "\n")
		buf.WriteString(styles.help.Render(result.Playlist.UpdatedMessage) + "\n")
	default:
		if result.Artist != nil {
			fmt.Fprintf(&buf, "Main artist: %s\n", result.Artist.Info.Name)
		}
		if result.InitialUpdate {
			buf.WriteString(styles.help.Render(fmt.Sprintf("Identified main artist. Known releases up to %s", shared.DateString(result.Playlist.LastUpdatedAt))) + "\n")
		}
		buf.WriteString(styles.ok.Render(fmt.Sprintf("%d new tracks available", len(result.Candidates))) + "\n\n")

		for i, c := range result.Candidates {
			fmt.Fprintf(&buf, "%3d. %s - %s [%s] %s\n",
				i+1, Artists(c.Track), c.Track.Name, FormatLength(c.Track.Duration()),
				styles.help.Render(fmt.Sprintf("%s, %s", c.Album.Name, c.Album.ReleaseDate)),
			)
		}
		buf.WriteString("\n" + styles.help.Render(fmt.Sprintf("Checked at %s", result.CheckedAt.UTC().Format(time.RFC3339))) + "\n")
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// ExportCandidatesCSV converts candidates to CSV with columns: ID, Title, Artist, Album, Release Date, Duration, URI
func ExportCandidatesCSV(candidates []tasks.Candidate) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "Artist", "Album", "Release Date", "Duration", "URI"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, c := range candidates {
		record := []string{
			c.Track.ID,
			c.Track.Name,
			Artists(c.Track),
			c.Album.Name,
			c.Album.ReleaseDate.String(),
			FormatLength(c.Track.Duration()),
			c.Track.URI,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteCandidatesCSV writes the candidates of result to path.
//
// Defaults to {playlist.ID}_candidates.csv as the filename.
func WriteCandidatesCSV(result *tasks.Result, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_candidates.csv", result.Playlist.ID)
	}

	data, err := ExportCandidatesCSV(result.Candidates)
	if err != nil {
		return "", fmt.Errorf("failed to generate CSV: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write CSV file: %w", err)
	}

	return path, nil
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

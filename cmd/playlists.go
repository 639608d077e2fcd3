package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/plup/internal/formatter"
	"github.com/desertthunder/plup/internal/services"
	"github.com/desertthunder/plup/internal/shared"
	"github.com/urfave/cli/v3"
)

func playlistIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "Spotify playlist ID",
		Required: true,
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output as JSON",
	}
}

func pageFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "page",
		Usage: "Page number, starting at 1",
		Value: 1,
	}
}

func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "playlists",
		Usage:  "List a page of your playlists, synchronizing the cache as needed",
		Flags:  []cli.Flag{pageFlag(), jsonFlag()},
		Action: r.Playlists,
	}
}

func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "tracks",
		Usage:  "List a page of a playlist's tracks, synchronizing the cache as needed",
		Flags:  []cli.Flag{playlistIDFlag(), pageFlag(), jsonFlag()},
		Action: r.Tracks,
	}
}

func latestCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "latest",
		Usage: "Find tracks the playlist's main artist released since the last update",
		Flags: []cli.Flag{
			playlistIDFlag(),
			jsonFlag(),
			&cli.BoolFlag{
				Name:  "csv",
				Usage: "Export the candidates to a CSV file",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "CSV file path (default: <playlist id>_candidates.csv)",
			},
			&cli.BoolFlag{
				Name:  "commit",
				Usage: "Add the candidates to the playlist right away",
			},
		},
		Action: r.Latest,
	}
}

func commitCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "commit",
		Usage: "Add tracks to a playlist and advance its last updated time",
		Flags: []cli.Flag{
			playlistIDFlag(),
			&cli.StringSliceFlag{
				Name:     "uri",
				Usage:    "Track URI to add (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "checked-at",
				Usage: "RFC 3339 time the candidates were computed at (default: now)",
			},
		},
		Action: r.Commit,
	}
}

func refreshCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Invalidate cached playlists, or one playlist's tracks with --id",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Spotify playlist ID",
			},
		},
		Action: r.Refresh,
	}
}

// Playlists prints one page of the signed in user's playlists.
func (r *Runner) Playlists(ctx context.Context, cmd *cli.Command) error {
	engine, userID, err := r.session()
	if err != nil {
		return err
	}

	page, err := engine.EnsurePlaylistsPage(ctx, userID, cmd.Int("page"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(page)
	}
	return formatter.RenderPlaylists(r.output, page)
}

// Tracks prints one page of a playlist's tracks.
func (r *Runner) Tracks(ctx context.Context, cmd *cli.Command) error {
	engine, _, err := r.session()
	if err != nil {
		return err
	}

	page, err := engine.EnsureTracksPage(ctx, cmd.String("id"), cmd.Int("page"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(page)
	}
	return formatter.RenderTracks(r.output, page, services.TrackPageLimit)
}

// Latest resolves the playlist's main artist when needed and lists its new releases.
func (r *Runner) Latest(ctx context.Context, cmd *cli.Command) error {
	engine, _, err := r.session()
	if err != nil {
		return err
	}

	result, err := engine.GetOrResolveMainArtist(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		err = r.writeJSON(result)
	} else {
		err = formatter.RenderCandidates(r.output, result)
	}
	if err != nil {
		return err
	}

	if cmd.Bool("csv") {
		path, err := formatter.WriteCandidatesCSV(result, cmd.String("output"))
		if err != nil {
			return err
		}
		r.logger.Info("exported candidates", "path", path, "count", len(result.Candidates))
	}

	if !cmd.Bool("commit") || len(result.Candidates) == 0 {
		return nil
	}

	commit, err := engine.CommitNewTracks(ctx, result.Playlist.ID, result.URIs(), result.CheckedAt)
	if err != nil {
		return err
	}
	if !cmd.Bool("json") {
		return r.writePlain("✓ Added %d tracks. %s\n", commit.Added, commit.Playlist.UpdatedMessage)
	}
	return nil
}

// Commit adds the given track URIs and advances the playlist's watermark.
func (r *Runner) Commit(ctx context.Context, cmd *cli.Command) error {
	checkedAt := time.Now().UTC()
	if raw := cmd.String("checked-at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("%w: --checked-at must be RFC 3339: %v", shared.ErrInvalidArgument, err)
		}
		checkedAt = parsed
	}

	engine, _, err := r.session()
	if err != nil {
		return err
	}

	commit, err := engine.CommitNewTracks(ctx, cmd.String("id"), cmd.StringSlice("uri"), checkedAt)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Added %d tracks. %s\n", commit.Added, commit.Playlist.UpdatedMessage)
}

// Refresh invalidates the user's playlist cache, or a single playlist's tracks.
func (r *Runner) Refresh(ctx context.Context, cmd *cli.Command) error {
	engine, userID, err := r.session()
	if err != nil {
		return err
	}

	if id := cmd.String("id"); id != "" {
		if err := engine.InvalidatePlaylist(ctx, id); err != nil {
			return err
		}
		return r.writePlain("✓ Refreshed playlist %s\n", id)
	}

	if err := engine.InvalidateUser(ctx, userID); err != nil {
		return err
	}
	return r.writePlain("✓ Cleared cached playlists for %s\n", userID)
}

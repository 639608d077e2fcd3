package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
)

// ArtistRepository persists [models.ArtistRecord] values.
type ArtistRepository struct {
	db *sql.DB
}

// NewArtistRepository creates a new ArtistRepository with the given database connection
func NewArtistRepository(db *sql.DB) *ArtistRepository {
	return &ArtistRepository{db: db}
}

// Get retrieves an artist by Spotify artist ID
func (r *ArtistRepository) Get(ctx context.Context, id string) (*models.ArtistRecord, error) {
	var (
		a    models.ArtistRecord
		info string
	)

	err := r.db.QueryRowContext(ctx, `SELECT id, info, created_at, updated_at FROM artists WHERE id = ?`, id).
		Scan(&a.ID, &info, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrArtistNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan artist: %w", err)
	}

	if err := decodeDoc(info, &a.Info); err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert stores the latest snapshot of an artist
func (r *ArtistRepository) Upsert(ctx context.Context, artist models.Artist) error {
	if artist.ID == "" {
		return fmt.Errorf("%w: artist id is required", shared.ErrInvalidInput)
	}

	doc, err := encodeDoc(artist)
	if err != nil {
		return err
	}

	ts := now()
	query := `
		INSERT INTO artists (id, info, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET info = excluded.info, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, artist.ID, doc, ts, ts); err != nil {
		return fmt.Errorf("failed to upsert artist: %w", err)
	}
	return nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/plup/internal/models"
	"github.com/desertthunder/plup/internal/shared"
)

// UserRepository persists [models.UserRecord] values.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	u.id, u.profile, u.playlists_total, u.playlists_refreshed_at, u.created_at, u.updated_at,
	(SELECT COUNT(*) FROM user_playlists up WHERE up.user_id = u.id)
`

// Get retrieves a user by Spotify user ID
func (r *UserRepository) Get(ctx context.Context, id string) (*models.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, id), id)
}

// Upsert stores profile, creating the user with an unsynced playlist list when it is new.
func (r *UserRepository) Upsert(ctx context.Context, profile models.User) (*models.UserRecord, error) {
	if profile.ID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	doc, err := encodeDoc(profile)
	if err != nil {
		return nil, err
	}

	ts := now()
	query := `
		INSERT INTO users (id, profile, playlists_total, playlists_refreshed_at, created_at, updated_at)
		VALUES (?, ?, -1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, profile.ID, doc, shared.Epoch, ts, ts); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return r.Get(ctx, profile.ID)
}

// InvalidatePlaylists clears the cached playlist list so the next access hard refreshes it.
func (r *UserRepository) InvalidatePlaylists(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET playlists_total = -1, playlists_refreshed_at = ?, updated_at = ? WHERE id = ?`,
			shared.Epoch, now(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to invalidate playlists: %w", err)
		}
		if err := expectOne(result, fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_playlists WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear playlists: %w", err)
		}
		return nil
	})
}

// Delete removes a user and their cached playlist list
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrUserNotFound, id))
}

func (r *UserRepository) scan(row scanner, id string) (*models.UserRecord, error) {
	var (
		user    models.UserRecord
		profile string
	)

	err := row.Scan(
		&user.ID, &profile, &user.Playlists.KnownTotal, &user.Playlists.LastRefreshedAt,
		&user.CreatedAt, &user.UpdatedAt, &user.Playlists.Cached,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if err := decodeDoc(profile, &user.Profile); err != nil {
		return nil, err
	}
	return &user, nil
}

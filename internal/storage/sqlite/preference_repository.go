package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

// PreferenceRepository implements storage.PreferenceStore on the preferences table.
type PreferenceRepository struct {
	db *sql.DB
}

func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetInt64 returns the stored value for key, or fallback if the key was never written.
func (r *PreferenceRepository) GetInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	var value int64

	err := r.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}

	if err != nil {
		return 0, err
	}

	return value, nil
}

func (r *PreferenceRepository) PutInt64(ctx context.Context, key string, value int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)

	return err
}

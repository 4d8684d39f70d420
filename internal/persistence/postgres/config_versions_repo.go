package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// configVersionsRepo implements ConfigVersionsRepo for PostgreSQL
type configVersionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewConfigVersionsRepo creates a new PostgreSQL config versions repository
func NewConfigVersionsRepo(db *sqlx.DB, timeout time.Duration) persistence.ConfigVersionsRepo {
	return &configVersionsRepo{db: db, timeout: timeout}
}

// EnsureActive returns the id of the active version matching the hash,
// registering and activating a new version when the contents changed.
func (r *configVersionsRepo) EnsureActive(ctx context.Context, configType, hash string, data []byte, createdBy string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin config version: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var active bool
	err = tx.QueryRowxContext(ctx, `
		SELECT id, is_active FROM config_versions
		WHERE config_type = $1 AND config_hash = $2`,
		configType, hash).Scan(&id, &active)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up config version: %w", err)
	}

	if err == sql.ErrNoRows {
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO config_versions (config_type, config_hash, config_data, created_by, is_active)
			VALUES ($1, $2, $3, $4, FALSE)
			RETURNING id`,
			configType, hash, data, createdBy).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to insert config version: %w", err)
		}
	}

	if !active {
		if _, err := tx.ExecContext(ctx, `
			UPDATE config_versions SET is_active = (id = $1)
			WHERE config_type = $2`, id, configType); err != nil {
			return 0, fmt.Errorf("failed to activate config version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit config version: %w", err)
	}

	return id, nil
}

// GetActive retrieves the active version for a config type
func (r *configVersionsRepo) GetActive(ctx context.Context, configType string) (*persistence.ConfigVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, config_type, config_hash, config_data, created_by, is_active, created_at
		FROM config_versions
		WHERE config_type = $1 AND is_active`

	var cv persistence.ConfigVersion
	err := r.db.QueryRowxContext(ctx, query, configType).Scan(
		&cv.ID, &cv.ConfigType, &cv.ConfigHash, &cv.ConfigData,
		&cv.CreatedBy, &cv.IsActive, &cv.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active config version: %w", err)
	}

	return &cv, nil
}

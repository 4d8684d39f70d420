package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// sportsRepo implements SportsRepo for PostgreSQL
type sportsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSportsRepo creates a new PostgreSQL sports repository
func NewSportsRepo(db *sqlx.DB, timeout time.Duration) persistence.SportsRepo {
	return &sportsRepo{db: db, timeout: timeout}
}

// Upsert inserts or updates a sport by external id, returning its id
func (r *sportsRepo) Upsert(ctx context.Context, sport *persistence.Sport) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO sports (external_id, name, slug, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			enabled = EXCLUDED.enabled
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		sport.ExternalID, sport.Name, sport.Slug, sport.Enabled).
		Scan(&sport.ID, &sport.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert sport %s: %w", sport.Slug, err)
	}

	return sport.ID, nil
}

// GetBySlug retrieves a sport by its config slug
func (r *sportsRepo) GetBySlug(ctx context.Context, slug string) (*persistence.Sport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, external_id, name, slug, enabled, created_at
		FROM sports
		WHERE slug = $1`

	var sport persistence.Sport
	err := r.db.QueryRowxContext(ctx, query, slug).Scan(
		&sport.ID, &sport.ExternalID, &sport.Name, &sport.Slug,
		&sport.Enabled, &sport.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sport by slug: %w", err)
	}

	return &sport, nil
}

// List retrieves all sports ordered by name
func (r *sportsRepo) List(ctx context.Context) ([]*persistence.Sport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, external_id, name, slug, enabled, created_at
		FROM sports
		ORDER BY name`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sports: %w", err)
	}
	defer rows.Close()

	var sports []*persistence.Sport
	for rows.Next() {
		var sport persistence.Sport
		if err := rows.Scan(
			&sport.ID, &sport.ExternalID, &sport.Name, &sport.Slug,
			&sport.Enabled, &sport.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sport: %w", err)
		}
		sports = append(sports, &sport)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sports: %w", err)
	}

	return sports, nil
}

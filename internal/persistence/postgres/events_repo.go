package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// eventsRepo implements EventsRepo for PostgreSQL
type eventsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventsRepo creates a new PostgreSQL events repository
func NewEventsRepo(db *sqlx.DB, timeout time.Duration) persistence.EventsRepo {
	return &eventsRepo{db: db, timeout: timeout}
}

// Upsert inserts or updates an event by external id, returning its id
func (r *eventsRepo) Upsert(ctx context.Context, event *persistence.Event) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO events (external_id, competition_id, name, country_code, timezone, scheduled_start, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			country_code = EXCLUDED.country_code,
			timezone = EXCLUDED.timezone,
			scheduled_start = EXCLUDED.scheduled_start,
			updated_at = now()
		RETURNING id, status, created_at, updated_at`

	status := event.Status
	if status == "" {
		status = persistence.EventScheduled
	}

	err := r.db.QueryRowxContext(ctx, query,
		event.ExternalID, event.CompetitionID, event.Name, event.CountryCode,
		event.Timezone, event.ScheduledStart, status).
		Scan(&event.ID, &event.Status, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert event %s: %w", event.ExternalID, err)
	}

	return event.ID, nil
}

// GetByExternalID retrieves an event by exchange id
func (r *eventsRepo) GetByExternalID(ctx context.Context, externalID string) (*persistence.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, external_id, competition_id, name, country_code, timezone,
		       scheduled_start, status, created_at, updated_at
		FROM events
		WHERE external_id = $1`

	var event persistence.Event
	err := r.db.QueryRowxContext(ctx, query, externalID).Scan(
		&event.ID, &event.ExternalID, &event.CompetitionID, &event.Name,
		&event.CountryCode, &event.Timezone, &event.ScheduledStart,
		&event.Status, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event by external id: %w", err)
	}

	return &event, nil
}

// MarkStale closes scheduled events that started before the cutoff
func (r *eventsRepo) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE events
		SET status = $1, updated_at = now()
		WHERE status = $2 AND scheduled_start < $3`

	res, err := r.db.ExecContext(ctx, query, persistence.EventClosed, persistence.EventScheduled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale events: %w", err)
	}

	closed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count stale events: %w", err)
	}

	return closed, nil
}

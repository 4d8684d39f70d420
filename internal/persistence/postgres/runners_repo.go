package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// runnersRepo implements RunnersRepo for PostgreSQL
type runnersRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunnersRepo creates a new PostgreSQL runners repository
func NewRunnersRepo(db *sqlx.DB, timeout time.Duration) persistence.RunnersRepo {
	return &runnersRepo{db: db, timeout: timeout}
}

// InsertBatch inserts runners, skipping ones already known for their market
func (r *runnersRepo) InsertBatch(ctx context.Context, runners []*persistence.Runner) (int64, error) {
	if len(runners) == 0 {
		return 0, nil
	}

	// Scale timeout for batch size
	timeout := r.timeout * time.Duration(len(runners)/100+1)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin runner batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO runners (external_id, market_id, name, handicap, sort_priority, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, external_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare runner insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, runner := range runners {
		res, err := stmt.ExecContext(ctx,
			runner.ExternalID, runner.MarketID, runner.Name,
			runner.Handicap, runner.SortPriority, runner.Status)
		if err != nil {
			return 0, fmt.Errorf("failed to insert runner %d: %w", runner.ExternalID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count runner insert: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit runner batch: %w", err)
	}

	return inserted, nil
}

// ListByMarket retrieves a market's runners ordered by sort priority
func (r *runnersRepo) ListByMarket(ctx context.Context, marketID int64) ([]*persistence.Runner, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, external_id, market_id, name, handicap, sort_priority, status, created_at
		FROM runners
		WHERE market_id = $1
		ORDER BY sort_priority, external_id`

	rows, err := r.db.QueryxContext(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runners: %w", err)
	}
	defer rows.Close()

	var runners []*persistence.Runner
	for rows.Next() {
		var runner persistence.Runner
		if err := rows.Scan(
			&runner.ID, &runner.ExternalID, &runner.MarketID, &runner.Name,
			&runner.Handicap, &runner.SortPriority, &runner.Status,
			&runner.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan runner: %w", err)
		}
		runners = append(runners, &runner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runners: %w", err)
	}

	return runners, nil
}

// GetBySelection retrieves a runner by market and exchange selection id
func (r *runnersRepo) GetBySelection(ctx context.Context, marketID, selectionID int64) (*persistence.Runner, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, external_id, market_id, name, handicap, sort_priority, status, created_at
		FROM runners
		WHERE market_id = $1 AND external_id = $2`

	var runner persistence.Runner
	err := r.db.QueryRowxContext(ctx, query, marketID, selectionID).Scan(
		&runner.ID, &runner.ExternalID, &runner.MarketID, &runner.Name,
		&runner.Handicap, &runner.SortPriority, &runner.Status,
		&runner.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get runner by selection: %w", err)
	}

	return &runner, nil
}

// UpdateStatuses applies settlement statuses keyed by selection id
func (r *runnersRepo) UpdateStatuses(ctx context.Context, marketID int64, statuses map[int64]string) error {
	if len(statuses) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin status update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE runners SET status = $3 WHERE market_id = $1 AND external_id = $2`)
	if err != nil {
		return fmt.Errorf("failed to prepare status update: %w", err)
	}
	defer stmt.Close()

	for selectionID, status := range statuses {
		if _, err := stmt.ExecContext(ctx, marketID, selectionID, status); err != nil {
			return fmt.Errorf("failed to update runner %d status: %w", selectionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}

	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// resultsRepo implements ResultsRepo for PostgreSQL
type resultsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewResultsRepo creates a new PostgreSQL market results repository
func NewResultsRepo(db *sqlx.DB, timeout time.Duration) persistence.ResultsRepo {
	return &resultsRepo{db: db, timeout: timeout}
}

// Insert inserts a market result, returning its id
func (r *resultsRepo) Insert(ctx context.Context, result *persistence.MarketResult) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	statusesJSON, err := json.Marshal(result.RunnerStatuses)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal runner statuses for market %d: %w", result.MarketID, err)
	}

	query := `
		INSERT INTO market_results (market_id, settled_at, winner_selection_id, is_void, runner_statuses)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		result.MarketID, result.SettledAt, result.WinnerSelectionID,
		result.IsVoid, statusesJSON).
		Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, fmt.Errorf("result for market %d: %w", result.MarketID, persistence.ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to insert result for market %d: %w", result.MarketID, err)
	}

	return result.ID, nil
}

// GetByMarket retrieves a market's result
func (r *resultsRepo) GetByMarket(ctx context.Context, marketID int64) (*persistence.MarketResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, market_id, settled_at, winner_selection_id, is_void, runner_statuses, created_at
		FROM market_results
		WHERE market_id = $1`

	var result persistence.MarketResult
	var statusesJSON []byte

	err := r.db.QueryRowxContext(ctx, query, marketID).Scan(
		&result.ID, &result.MarketID, &result.SettledAt,
		&result.WinnerSelectionID, &result.IsVoid, &statusesJSON,
		&result.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	if len(statusesJSON) > 0 {
		if err := json.Unmarshal(statusesJSON, &result.RunnerStatuses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal runner statuses: %w", err)
		}
	} else {
		result.RunnerStatuses = make(map[int64]string)
	}

	return &result, nil
}

// Count returns the number of settled markets
func (r *resultsRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM market_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}

	return count, nil
}

// ListScoreDerivable retrieves unsettled past markets whose event has a
// known scoreline
func (r *resultsRepo) ListScoreDerivable(ctx context.Context, cutoff time.Time, limit int) ([]*persistence.ScoreDerivable, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Heuristic scorelines are guesses; only exact correct-score lines are
	// trustworthy enough to settle other markets from.
	query := `
		SELECT m.id AS market_id, m.market_type, e.id AS event_id,
		       er.home_score, er.away_score, er.total_goals, er.btts
		FROM markets m
		JOIN events e ON e.id = m.event_id
		JOIN event_results er ON er.event_id = e.id
		WHERE m.scheduled_start < $1 AND er.source = $2
		  AND NOT EXISTS (SELECT 1 FROM market_results res WHERE res.market_id = m.id)
		ORDER BY m.scheduled_start
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, cutoff, persistence.ResultSourceCorrectScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score derivable markets: %w", err)
	}
	defer rows.Close()

	var derivables []*persistence.ScoreDerivable
	for rows.Next() {
		var d persistence.ScoreDerivable
		if err := rows.Scan(
			&d.MarketID, &d.MarketType, &d.EventID,
			&d.HomeScore, &d.AwayScore, &d.TotalGoals, &d.BTTS); err != nil {
			return nil, fmt.Errorf("failed to scan score derivable: %w", err)
		}
		derivables = append(derivables, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score derivables: %w", err)
	}

	return derivables, nil
}

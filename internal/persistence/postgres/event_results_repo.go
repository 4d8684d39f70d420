package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// eventResultsRepo implements EventResultsRepo for PostgreSQL
type eventResultsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventResultsRepo creates a new PostgreSQL event results repository
func NewEventResultsRepo(db *sqlx.DB, timeout time.Duration) persistence.EventResultsRepo {
	return &eventResultsRepo{db: db, timeout: timeout}
}

// Upsert inserts a scoreline or updates a heuristic one. A stored
// correct-score line only yields to another correct-score line.
func (r *eventResultsRepo) Upsert(ctx context.Context, result *persistence.EventResult) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO event_results (event_id, home_score, away_score, total_goals, btts, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO UPDATE SET
			home_score = EXCLUDED.home_score,
			away_score = EXCLUDED.away_score,
			total_goals = EXCLUDED.total_goals,
			btts = EXCLUDED.btts,
			source = EXCLUDED.source,
			updated_at = now()
		WHERE event_results.source <> $7 OR EXCLUDED.source = $7
		RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		result.EventID, result.HomeScore, result.AwayScore,
		result.TotalGoals, result.BTTS, result.Source,
		persistence.ResultSourceCorrectScore).Scan(&id)
	if err == sql.ErrNoRows {
		// Refined scoreline already stored, heuristic discarded
		err = r.db.QueryRowxContext(ctx,
			`SELECT id FROM event_results WHERE event_id = $1`,
			result.EventID).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upsert event result for event %d: %w", result.EventID, err)
	}

	result.ID = id
	return id, nil
}

// GetByEvent retrieves an event's scoreline
func (r *eventResultsRepo) GetByEvent(ctx context.Context, eventID int64) (*persistence.EventResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, event_id, home_score, away_score, total_goals, btts, source, created_at, updated_at
		FROM event_results
		WHERE event_id = $1`

	var result persistence.EventResult
	err := r.db.QueryRowxContext(ctx, query, eventID).Scan(
		&result.ID, &result.EventID, &result.HomeScore, &result.AwayScore,
		&result.TotalGoals, &result.BTTS, &result.Source,
		&result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event result: %w", err)
	}

	return &result, nil
}

// ListMatchOddsCandidates retrieves settled match-odds winners for events
// without a scoreline
func (r *eventResultsRepo) ListMatchOddsCandidates(ctx context.Context, limit int) ([]*persistence.EventResultCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT e.id AS event_id, m.id AS market_id, res.is_void,
		       COALESCE(r.name, '') AS winner_name,
		       COALESCE(r.sort_priority, 0) AS winner_sort_priority
		FROM market_results res
		JOIN markets m ON m.id = res.market_id
		JOIN events e ON e.id = m.event_id
		LEFT JOIN runners r ON r.market_id = m.id AND r.external_id = res.winner_selection_id
		WHERE m.market_type = 'MATCH_ODDS'
		  AND NOT EXISTS (SELECT 1 FROM event_results er WHERE er.event_id = e.id)
		ORDER BY res.settled_at
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query event result candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*persistence.EventResultCandidate
	for rows.Next() {
		var c persistence.EventResultCandidate
		if err := rows.Scan(
			&c.EventID, &c.MarketID, &c.IsVoid,
			&c.WinnerName, &c.WinnerSortPriority); err != nil {
			return nil, fmt.Errorf("failed to scan event result candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event result candidates: %w", err)
	}

	return candidates, nil
}

// ListCorrectScoreCandidates retrieves settled correct-score winners for
// events whose scoreline is absent or heuristic
func (r *eventResultsRepo) ListCorrectScoreCandidates(ctx context.Context, limit int) ([]*persistence.ScoreRefinement, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT e.id AS event_id, r.name AS winner_name
		FROM market_results res
		JOIN markets m ON m.id = res.market_id
		JOIN events e ON e.id = m.event_id
		JOIN runners r ON r.market_id = m.id AND r.external_id = res.winner_selection_id
		WHERE m.market_type = 'CORRECT_SCORE' AND NOT res.is_void
		  AND NOT EXISTS (
			SELECT 1 FROM event_results er
			WHERE er.event_id = e.id AND er.source = $1)
		ORDER BY res.settled_at
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, persistence.ResultSourceCorrectScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score refinements: %w", err)
	}
	defer rows.Close()

	var refinements []*persistence.ScoreRefinement
	for rows.Next() {
		var ref persistence.ScoreRefinement
		if err := rows.Scan(&ref.EventID, &ref.WinnerName); err != nil {
			return nil, fmt.Errorf("failed to scan score refinement: %w", err)
		}
		refinements = append(refinements, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score refinements: %w", err)
	}

	return refinements, nil
}

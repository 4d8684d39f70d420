package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// closingRepo implements ClosingRepo for PostgreSQL
type closingRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClosingRepo creates a new PostgreSQL closing data repository
func NewClosingRepo(db *sqlx.DB, timeout time.Duration) persistence.ClosingRepo {
	return &closingRepo{db: db, timeout: timeout}
}

// Upsert stores closing data for a market. A re-capture only replaces the
// stored row when it is closer to the start.
func (r *closingRepo) Upsert(ctx context.Context, data *persistence.ClosingData) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ladderJSON, err := json.Marshal(data.Ladder)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal closing ladder for market %d: %w", data.MarketID, err)
	}

	query := `
		INSERT INTO market_closing_data
		(market_id, captured_at, minutes_to_start, total_matched, overround,
		 spread_ticks, favourite_mid, ladder, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id) DO UPDATE SET
			captured_at = EXCLUDED.captured_at,
			minutes_to_start = EXCLUDED.minutes_to_start,
			total_matched = EXCLUDED.total_matched,
			overround = EXCLUDED.overround,
			spread_ticks = EXCLUDED.spread_ticks,
			favourite_mid = EXCLUDED.favourite_mid,
			ladder = EXCLUDED.ladder,
			score = EXCLUDED.score
		WHERE market_closing_data.minutes_to_start > EXCLUDED.minutes_to_start
		RETURNING id`

	var id int64
	err = r.db.QueryRowxContext(ctx, query,
		data.MarketID, data.CapturedAt, data.MinutesToStart, data.TotalMatched,
		data.Overround, data.SpreadTicks, data.FavouriteMid, ladderJSON,
		data.Score).Scan(&id)
	if err == sql.ErrNoRows {
		// Conflict with a fresher capture already stored
		err = r.db.QueryRowxContext(ctx,
			`SELECT id FROM market_closing_data WHERE market_id = $1`,
			data.MarketID).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upsert closing data for market %d: %w", data.MarketID, err)
	}

	data.ID = id
	return id, nil
}

// GetByMarket retrieves a market's closing data
func (r *closingRepo) GetByMarket(ctx context.Context, marketID int64) (*persistence.ClosingData, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, market_id, captured_at, minutes_to_start, total_matched,
		       overround, spread_ticks, favourite_mid, ladder, score, created_at
		FROM market_closing_data
		WHERE market_id = $1`

	var data persistence.ClosingData
	var ladderJSON []byte

	err := r.db.QueryRowxContext(ctx, query, marketID).Scan(
		&data.ID, &data.MarketID, &data.CapturedAt, &data.MinutesToStart,
		&data.TotalMatched, &data.Overround, &data.SpreadTicks,
		&data.FavouriteMid, &ladderJSON, &data.Score, &data.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get closing data: %w", err)
	}

	if err := json.Unmarshal(ladderJSON, &data.Ladder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal closing ladder: %w", err)
	}

	return &data, nil
}

// Count returns the number of markets with closing data
func (r *closingRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM market_closing_data`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count closing data: %w", err)
	}

	return count, nil
}

// DateSpanDays returns the inclusive day span covered by closing captures
func (r *closingRepo) DateSpanDays(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COALESCE(MAX(captured_at::date) - MIN(captured_at::date) + 1, 0)
		FROM market_closing_data`

	var days int
	if err := r.db.QueryRowxContext(ctx, query).Scan(&days); err != nil {
		return 0, fmt.Errorf("failed to compute closing date span: %w", err)
	}

	return days, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// profilesRepo implements ProfilesRepo for PostgreSQL
type profilesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProfilesRepo creates a new PostgreSQL profiles repository
func NewProfilesRepo(db *sqlx.DB, timeout time.Duration) persistence.ProfilesRepo {
	return &profilesRepo{db: db, timeout: timeout}
}

const profileColumns = `id, market_id, profile_date, time_bucket, snapshot_count,
	avg_spread_ticks, min_spread_ticks, avg_back_depth, avg_lay_depth,
	update_rate_per_min, volatility, max_total_matched, mean_price, created_at`

// Upsert inserts or replaces the profile for its market, day and bucket
func (r *profilesRepo) Upsert(ctx context.Context, profile *persistence.MarketProfile) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO market_profiles
		(market_id, profile_date, time_bucket, snapshot_count, avg_spread_ticks,
		 min_spread_ticks, avg_back_depth, avg_lay_depth, update_rate_per_min,
		 volatility, max_total_matched, mean_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (market_id, profile_date, time_bucket) DO UPDATE SET
			snapshot_count = EXCLUDED.snapshot_count,
			avg_spread_ticks = EXCLUDED.avg_spread_ticks,
			min_spread_ticks = EXCLUDED.min_spread_ticks,
			avg_back_depth = EXCLUDED.avg_back_depth,
			avg_lay_depth = EXCLUDED.avg_lay_depth,
			update_rate_per_min = EXCLUDED.update_rate_per_min,
			volatility = EXCLUDED.volatility,
			max_total_matched = EXCLUDED.max_total_matched,
			mean_price = EXCLUDED.mean_price
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		profile.MarketID, dayUTC(profile.ProfileDate), profile.TimeBucket,
		profile.SnapshotCount, profile.AvgSpreadTicks, profile.MinSpreadTicks,
		profile.AvgBackDepth, profile.AvgLayDepth, profile.UpdateRatePerMin,
		profile.Volatility, profile.MaxTotalMatched, profile.MeanPrice).
		Scan(&profile.ID, &profile.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert profile for market %d: %w", profile.MarketID, err)
	}

	return profile.ID, nil
}

// ListForDate retrieves all profiles computed for a UTC day
func (r *profilesRepo) ListForDate(ctx context.Context, day time.Time) ([]*persistence.MarketProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + profileColumns + `
		FROM market_profiles
		WHERE profile_date = $1
		ORDER BY market_id, time_bucket`

	rows, err := r.db.QueryxContext(ctx, query, dayUTC(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles for date: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// ListForMarket retrieves a market's profiles, newest first
func (r *profilesRepo) ListForMarket(ctx context.Context, marketID int64, limit int) ([]*persistence.MarketProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + profileColumns + `
		FROM market_profiles
		WHERE market_id = $1
		ORDER BY profile_date DESC, time_bucket
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles for market: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// Helper methods

func scanProfiles(rows *sqlx.Rows) ([]*persistence.MarketProfile, error) {
	var profiles []*persistence.MarketProfile
	for rows.Next() {
		var p persistence.MarketProfile
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.ProfileDate, &p.TimeBucket, &p.SnapshotCount,
			&p.AvgSpreadTicks, &p.MinSpreadTicks, &p.AvgBackDepth, &p.AvgLayDepth,
			&p.UpdateRatePerMin, &p.Volatility, &p.MaxTotalMatched, &p.MeanPrice,
			&p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

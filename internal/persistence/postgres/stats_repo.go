package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// statsRepo implements StatsRepo for PostgreSQL
type statsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStatsRepo creates a new PostgreSQL competition stats repository
func NewStatsRepo(db *sqlx.DB, timeout time.Duration) persistence.StatsRepo {
	return &statsRepo{db: db, timeout: timeout}
}

const statsColumns = `id, competition_id, stat_date, markets_scored, mean_score,
	max_score, min_score, stddev_score, above_40, above_55, above_70,
	rolling_30d_avg, created_at`

// Upsert inserts or replaces the aggregate for its competition and day
func (r *statsRepo) Upsert(ctx context.Context, stats *persistence.CompetitionStats) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO competition_stats
		(competition_id, stat_date, markets_scored, mean_score, max_score,
		 min_score, stddev_score, above_40, above_55, above_70, rolling_30d_avg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (competition_id, stat_date) DO UPDATE SET
			markets_scored = EXCLUDED.markets_scored,
			mean_score = EXCLUDED.mean_score,
			max_score = EXCLUDED.max_score,
			min_score = EXCLUDED.min_score,
			stddev_score = EXCLUDED.stddev_score,
			above_40 = EXCLUDED.above_40,
			above_55 = EXCLUDED.above_55,
			above_70 = EXCLUDED.above_70,
			rolling_30d_avg = EXCLUDED.rolling_30d_avg
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		stats.CompetitionID, dayUTC(stats.StatDate), stats.MarketsScored,
		stats.MeanScore, stats.MaxScore, stats.MinScore, stats.StdDevScore,
		stats.Above40, stats.Above55, stats.Above70, stats.Rolling30dAvg).
		Scan(&stats.ID, &stats.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert stats for competition %d: %w", stats.CompetitionID, err)
	}

	return stats.ID, nil
}

// GetLatestBefore retrieves a competition's most recent aggregate strictly
// before the day
func (r *statsRepo) GetLatestBefore(ctx context.Context, competitionID int64, day time.Time) (*persistence.CompetitionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + statsColumns + `
		FROM competition_stats
		WHERE competition_id = $1 AND stat_date < $2
		ORDER BY stat_date DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, competitionID, dayUTC(day))
	stats, err := scanStats(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prior stats: %w", err)
	}

	return stats, nil
}

// ListForDate retrieves all aggregates for a UTC day
func (r *statsRepo) ListForDate(ctx context.Context, day time.Time) ([]*persistence.CompetitionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + statsColumns + `
		FROM competition_stats
		WHERE stat_date = $1
		ORDER BY mean_score DESC`

	rows, err := r.db.QueryxContext(ctx, query, dayUTC(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query stats for date: %w", err)
	}
	defer rows.Close()

	var all []*persistence.CompetitionStats
	for rows.Next() {
		var s persistence.CompetitionStats
		if err := rows.Scan(
			&s.ID, &s.CompetitionID, &s.StatDate, &s.MarketsScored,
			&s.MeanScore, &s.MaxScore, &s.MinScore, &s.StdDevScore,
			&s.Above40, &s.Above55, &s.Above70, &s.Rolling30dAvg,
			&s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		all = append(all, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	return all, nil
}

// ListRankings ranks competitions by mean score over the trailing days,
// dropping ones below the market floor
func (r *statsRepo) ListRankings(ctx context.Context, minMarkets int64, days int) ([]*persistence.CompetitionRanking, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT c.id AS competition_id, c.name AS competition_name, c.region, c.phase,
		       SUM(cs.markets_scored) AS markets_scored,
		       SUM(cs.mean_score * cs.markets_scored) / NULLIF(SUM(cs.markets_scored), 0) AS avg_score,
		       MAX(cs.max_score) AS max_score,
		       COUNT(*) AS days_active
		FROM competition_stats cs
		JOIN competitions c ON c.id = cs.competition_id
		WHERE cs.stat_date >= $1
		GROUP BY c.id, c.name, c.region, c.phase
		HAVING SUM(cs.markets_scored) >= $2
		ORDER BY avg_score DESC`

	since := dayUTC(time.Now().UTC().AddDate(0, 0, -days))

	rows, err := r.db.QueryxContext(ctx, query, since, minMarkets)
	if err != nil {
		return nil, fmt.Errorf("failed to query rankings: %w", err)
	}
	defer rows.Close()

	var rankings []*persistence.CompetitionRanking
	for rows.Next() {
		var rank persistence.CompetitionRanking
		if err := rows.Scan(
			&rank.CompetitionID, &rank.CompetitionName, &rank.Region, &rank.Phase,
			&rank.MarketsScored, &rank.AvgScore, &rank.MaxScore,
			&rank.DaysActive); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		rankings = append(rankings, &rank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rankings: %w", err)
	}

	return rankings, nil
}

// Helper methods

func scanStats(row *sqlx.Row) (*persistence.CompetitionStats, error) {
	var s persistence.CompetitionStats
	err := row.Scan(
		&s.ID, &s.CompetitionID, &s.StatDate, &s.MarketsScored,
		&s.MeanScore, &s.MaxScore, &s.MinScore, &s.StdDevScore,
		&s.Above40, &s.Above55, &s.Above70, &s.Rolling30dAvg,
		&s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

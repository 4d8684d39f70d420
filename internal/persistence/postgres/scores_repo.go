package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// scoresRepo implements ScoresRepo for PostgreSQL
type scoresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoresRepo creates a new PostgreSQL scores repository
func NewScoresRepo(db *sqlx.DB, timeout time.Duration) persistence.ScoresRepo {
	return &scoresRepo{db: db, timeout: timeout}
}

// Insert inserts a score, returning its id
func (r *scoresRepo) Insert(ctx context.Context, score *persistence.MarketScore) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	guardsJSON, err := json.Marshal(score.GuardsFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal guards for market %d: %w", score.MarketID, err)
	}

	query := `
		INSERT INTO market_scores
		(market_id, profile_id, config_version_id, scored_at, time_bucket, odds_band,
		 total_score, spread_score, volatility_score, update_rate_score, depth_score,
		 volume_penalty, guards_failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		score.MarketID, score.ProfileID, score.ConfigVersionID, score.ScoredAt,
		score.TimeBucket, score.OddsBand, score.TotalScore, score.SpreadScore,
		score.VolatilityScore, score.UpdateRateScore, score.DepthScore,
		score.VolumePenalty, guardsJSON).
		Scan(&score.ID, &score.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert score for market %d: %w", score.MarketID, err)
	}

	return score.ID, nil
}

// LatestForMarket retrieves a market's most recent score
func (r *scoresRepo) LatestForMarket(ctx context.Context, marketID int64) (*persistence.MarketScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, market_id, profile_id, config_version_id, scored_at, time_bucket,
		       odds_band, total_score, spread_score, volatility_score,
		       update_rate_score, depth_score, volume_penalty, guards_failed, created_at
		FROM market_scores
		WHERE market_id = $1
		ORDER BY scored_at DESC
		LIMIT 1`

	var score persistence.MarketScore
	var guardsJSON []byte

	err := r.db.QueryRowxContext(ctx, query, marketID).Scan(
		&score.ID, &score.MarketID, &score.ProfileID, &score.ConfigVersionID,
		&score.ScoredAt, &score.TimeBucket, &score.OddsBand, &score.TotalScore,
		&score.SpreadScore, &score.VolatilityScore, &score.UpdateRateScore,
		&score.DepthScore, &score.VolumePenalty, &guardsJSON, &score.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest score: %w", err)
	}

	if err := json.Unmarshal(guardsJSON, &score.GuardsFailed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guards: %w", err)
	}

	return &score, nil
}

// CountHighScoreMarkets counts distinct markets that ever scored at or above
// the threshold
func (r *scoresRepo) CountHighScoreMarkets(ctx context.Context, threshold float64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	query := `SELECT COUNT(DISTINCT market_id) FROM market_scores WHERE total_score >= $1`
	if err := r.db.QueryRowxContext(ctx, query, threshold).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count high score markets: %w", err)
	}

	return count, nil
}

// ListForStatsDate returns competition attributions for scores produced on a
// UTC day
func (r *scoresRepo) ListForStatsDate(ctx context.Context, day time.Time) ([]*persistence.CompetitionScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	from := dayUTC(day)
	to := from.Add(24 * time.Hour)

	query := `
		SELECT c.id AS competition_id, s.total_score
		FROM market_scores s
		JOIN markets m ON m.id = s.market_id
		JOIN events e ON e.id = m.event_id
		JOIN competitions c ON c.id = e.competition_id
		WHERE s.scored_at >= $1 AND s.scored_at < $2`

	rows, err := r.db.QueryxContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores for stats: %w", err)
	}
	defer rows.Close()

	var scores []*persistence.CompetitionScore
	for rows.Next() {
		var cs persistence.CompetitionScore
		if err := rows.Scan(&cs.CompetitionID, &cs.TotalScore); err != nil {
			return nil, fmt.Errorf("failed to scan competition score: %w", err)
		}
		scores = append(scores, &cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating competition scores: %w", err)
	}

	return scores, nil
}

const scoreViewSelect = `
	SELECT DISTINCT ON (m.id)
		m.id AS market_id, m.external_id, m.name AS market_name, m.market_type,
		m.total_matched, m.scheduled_start,
		e.id AS event_id, e.name AS event_name,
		c.id AS competition_id, c.name AS competition_name, c.phase,
		s.total_score, s.scored_at
	FROM market_scores s
	JOIN markets m ON m.id = s.market_id
	JOIN events e ON e.id = m.event_id
	JOIN competitions c ON c.id = e.competition_id
	WHERE c.enabled AND c.phase = $1
	  AND m.status = $2 AND NOT m.inplay
	  AND m.scheduled_start >= $3 AND m.scheduled_start <= $4`

// ListLatestForShadow retrieves latest scores for open pre-start markets in
// shadow competitions starting inside the window
func (r *scoresRepo) ListLatestForShadow(ctx context.Context, tr persistence.TimeRange) ([]*persistence.MarketScoreView, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := scoreViewSelect + `
	ORDER BY m.id, s.scored_at DESC`

	rows, err := r.db.QueryxContext(ctx, query,
		domain.Phase2Shadow, domain.MarketOpen, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query shadow score views: %w", err)
	}
	defer rows.Close()

	return scanScoreViews(rows)
}

// ListTradeable retrieves the top scored open markets that meet the
// liquidity floor and carry no rule decision yet. Markets with no recorded
// turnover pass the floor; missing data is not a disqualifier before start.
func (r *scoresRepo) ListTradeable(ctx context.Context, minScore, minMatched float64, tr persistence.TimeRange, limit int) ([]*persistence.MarketScoreView, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
	SELECT * FROM (` + scoreViewSelect + `
	  AND (m.total_matched >= $5 OR m.total_matched <= 0)
	  AND NOT EXISTS (
		SELECT 1 FROM shadow_decisions d
		WHERE d.market_id = m.id AND d.hypothesis_id IS NULL)
	ORDER BY m.id, s.scored_at DESC
	) latest
	WHERE latest.total_score >= $6
	ORDER BY latest.total_score DESC
	LIMIT $7`

	rows, err := r.db.QueryxContext(ctx, query,
		domain.Phase2Shadow, domain.MarketOpen, tr.From, tr.To,
		minMatched, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tradeable markets: %w", err)
	}
	defer rows.Close()

	return scanScoreViews(rows)
}

// Helper methods

func scanScoreViews(rows *sqlx.Rows) ([]*persistence.MarketScoreView, error) {
	var views []*persistence.MarketScoreView
	for rows.Next() {
		var v persistence.MarketScoreView
		if err := rows.Scan(
			&v.MarketID, &v.ExternalID, &v.MarketName, &v.MarketType,
			&v.TotalMatched, &v.ScheduledStart, &v.EventID, &v.EventName,
			&v.CompetitionID, &v.CompetitionName, &v.Phase,
			&v.TotalScore, &v.ScoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan score view: %w", err)
		}
		views = append(views, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score views: %w", err)
	}
	return views, nil
}

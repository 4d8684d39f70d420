// Package closing captures each market's final pre-start state and, once
// events finish, the settled outcomes. Closing data is the fair-price
// benchmark that phase activation and closing-line value are measured
// against, so the freshest capture before kickoff always wins.
package closing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// closingWindow is how far ahead of scheduled start markets become eligible
// for closing capture.
const closingWindow = 15 * time.Minute

// CaptureStats counts what one closing-capture run touched.
type CaptureStats struct {
	MarketsChecked    int `json:"markets_checked"`
	Captured          int `json:"captured"`
	ScoresAttached    int `json:"scores_attached"`
	SkippedNoSnapshot int `json:"skipped_no_snapshot"`
	Errors            int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *CaptureStats) Map() map[string]int {
	return map[string]int{
		"markets_checked":     s.MarketsChecked,
		"captured":            s.Captured,
		"scores_attached":     s.ScoresAttached,
		"skipped_no_snapshot": s.SkippedNoSnapshot,
		"errors":              s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *CaptureStats) Records() int {
	return s.Captured
}

// Capturer stores the last pre-start observation of markets about to go
// in-play.
type Capturer struct {
	repos  *persistence.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewCapturer builds a closing-data capturer.
func NewCapturer(repos *persistence.Repository, logger zerolog.Logger) *Capturer {
	return &Capturer{
		repos:  repos,
		logger: logger.With().Str("component", "closing").Logger(),
		now:    time.Now,
	}
}

// Run captures closing data for every open market starting within the next
// fifteen minutes. Per-market failures are counted and do not block the rest
// of the window: a kickoff missed now is gone for good.
func (c *Capturer) Run(ctx context.Context) (*CaptureStats, error) {
	stats := &CaptureStats{}
	now := c.now().UTC()

	markets, err := c.repos.Markets.ListClosingWindow(ctx, now, closingWindow)
	if err != nil {
		return stats, fmt.Errorf("failed to list closing window: %w", err)
	}
	stats.MarketsChecked = len(markets)

	for _, market := range markets {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := c.captureMarket(ctx, market, now, stats); err != nil {
			stats.Errors++
			c.logger.Error().
				Err(err).
				Int64("market_id", market.ID).
				Msg("closing_capture_error")
		}
	}

	c.logger.Info().
		Int("markets_checked", stats.MarketsChecked).
		Int("captured", stats.Captured).
		Int("scores_attached", stats.ScoresAttached).
		Int("errors", stats.Errors).
		Msg("closing_capture_complete")

	return stats, nil
}

// captureMarket snapshots one market's closing state. The repository keeps
// whichever capture is closest to kickoff.
func (c *Capturer) captureMarket(ctx context.Context, market *persistence.Market, now time.Time, stats *CaptureStats) error {
	snapshot, err := c.repos.Snapshots.LatestForMarket(ctx, market.ID)
	if err != nil {
		return fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if snapshot == nil {
		stats.SkippedNoSnapshot++
		return nil
	}

	data := &persistence.ClosingData{
		MarketID:       market.ID,
		CapturedAt:     snapshot.CapturedAt,
		MinutesToStart: domain.Round(market.ScheduledStart.Sub(now).Minutes(), 2),
		TotalMatched:   snapshot.TotalMatched,
		Overround:      snapshot.Overround,
		SpreadTicks:    snapshot.SpreadTicks,
		FavouriteMid:   snapshot.FavouriteMid,
		Ladder:         snapshot.Ladder,
	}

	score, err := c.repos.Scores.LatestForMarket(ctx, market.ID)
	if err != nil {
		return fmt.Errorf("failed to load latest score: %w", err)
	}
	if score != nil {
		total := score.TotalScore
		data.Score = &total
		stats.ScoresAttached++
	}

	if _, err := c.repos.Closing.Upsert(ctx, data); err != nil {
		return fmt.Errorf("failed to upsert closing data: %w", err)
	}
	stats.Captured++

	c.logger.Debug().
		Int64("market_id", market.ID).
		Float64("minutes_to_start", data.MinutesToStart).
		Msg("closing_captured")
	return nil
}

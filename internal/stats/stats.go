// Package stats aggregates daily score statistics per competition. The
// system never pre-judges a competition by name; these aggregates are how it
// learns which competitions keep producing exploitable markets.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// Competitions whose daily mean clears the high bar get attention; ones that
// sit under the low bar are candidates for deprioritising.
const (
	highValueThreshold = 60.0
	lowValueThreshold  = 35.0
)

// Stats counts what one aggregation run touched.
type Stats struct {
	CompetitionsSeen int `json:"competitions_seen"`
	MarketsScored    int `json:"markets_scored"`
	Upserted         int `json:"upserted"`
	HighValue        int `json:"high_value"`
	LowValue         int `json:"low_value"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *Stats) Map() map[string]int {
	return map[string]int{
		"competitions_seen": s.CompetitionsSeen,
		"markets_scored":    s.MarketsScored,
		"upserted":          s.Upserted,
		"high_value":        s.HighValue,
		"low_value":         s.LowValue,
	}
}

// Records is the headline count for the JobRun row.
func (s *Stats) Records() int {
	return s.Upserted
}

// Aggregator rolls a day's market scores up into per-competition aggregates.
type Aggregator struct {
	repos  *persistence.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewAggregator builds a competition stats aggregator.
func NewAggregator(repos *persistence.Repository, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		repos:  repos,
		logger: logger.With().Str("component", "stats").Logger(),
		now:    time.Now,
	}
}

// Run aggregates today's scores.
func (a *Aggregator) Run(ctx context.Context) (*Stats, error) {
	return a.RunForDate(ctx, a.now().UTC())
}

// RunForDate aggregates one UTC day's scores per competition and upserts the
// result, so re-runs for the same day replace rather than accumulate.
func (a *Aggregator) RunForDate(ctx context.Context, day time.Time) (*Stats, error) {
	stats := &Stats{}
	day = dayUTC(day)

	scores, err := a.repos.Scores.ListForStatsDate(ctx, day)
	if err != nil {
		return stats, fmt.Errorf("failed to list scores for %s: %w", day.Format("2006-01-02"), err)
	}
	stats.MarketsScored = len(scores)

	byCompetition := make(map[int64][]float64)
	for _, score := range scores {
		byCompetition[score.CompetitionID] = append(byCompetition[score.CompetitionID], score.TotalScore)
	}
	stats.CompetitionsSeen = len(byCompetition)

	for _, competitionID := range sortedKeys(byCompetition) {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := a.aggregateCompetition(ctx, competitionID, day, byCompetition[competitionID], stats); err != nil {
			return stats, err
		}
	}

	a.logger.Info().
		Str("date", day.Format("2006-01-02")).
		Int("competitions", stats.CompetitionsSeen).
		Int("markets_scored", stats.MarketsScored).
		Int("high_value", stats.HighValue).
		Int("low_value", stats.LowValue).
		Msg("competition_stats_complete")

	return stats, nil
}

// aggregateCompetition computes and stores one competition's daily row. The
// rolling 30-day average folds today's mean into the previous rolling value;
// the first day seeds it with today's mean alone.
func (a *Aggregator) aggregateCompetition(ctx context.Context, competitionID int64, day time.Time, scores []float64, stats *Stats) error {
	meanScore := mean(scores)
	maxScore, minScore := scores[0], scores[0]
	var above40, above55, above70 int
	for _, v := range scores {
		if v > maxScore {
			maxScore = v
		}
		if v < minScore {
			minScore = v
		}
		if v >= 40 {
			above40++
		}
		if v >= 55 {
			above55++
		}
		if v >= 70 {
			above70++
		}
	}

	rolling := meanScore
	prior, err := a.repos.Stats.GetLatestBefore(ctx, competitionID, day)
	if err != nil {
		return fmt.Errorf("failed to load prior stats for competition %d: %w", competitionID, err)
	}
	if prior != nil {
		rolling = (prior.Rolling30dAvg + meanScore) / 2
	}

	switch {
	case meanScore >= highValueThreshold:
		stats.HighValue++
	case meanScore < lowValueThreshold:
		stats.LowValue++
	}

	row := &persistence.CompetitionStats{
		CompetitionID: competitionID,
		StatDate:      day,
		MarketsScored: len(scores),
		MeanScore:     domain.Round(meanScore, 2),
		MaxScore:      domain.Round(maxScore, 2),
		MinScore:      domain.Round(minScore, 2),
		StdDevScore:   domain.Round(stddev(scores, meanScore), 2),
		Above40:       above40,
		Above55:       above55,
		Above70:       above70,
		Rolling30dAvg: domain.Round(rolling, 2),
	}
	if _, err := a.repos.Stats.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to upsert stats for competition %d: %w", competitionID, err)
	}
	stats.Upserted++

	a.logger.Debug().
		Int64("competition_id", competitionID).
		Int("markets", len(scores)).
		Float64("mean_score", row.MeanScore).
		Float64("rolling_30d", row.Rolling30dAvg).
		Msg("competition_stats_upserted")
	return nil
}

// Rankings orders competitions by mean score over the trailing window,
// dropping ones that scored fewer than minMarkets markets.
func (a *Aggregator) Rankings(ctx context.Context, minMarkets int64, days int) ([]*persistence.CompetitionRanking, error) {
	rankings, err := a.repos.Stats.ListRankings(ctx, minMarkets, days)
	if err != nil {
		return nil, fmt.Errorf("failed to list rankings: %w", err)
	}
	return rankings, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the sample standard deviation around the given mean.
func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func sortedKeys(m map[int64][]float64) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// dayUTC truncates to the UTC day.
func dayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

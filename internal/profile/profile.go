// Package profile rolls snapshots up into per-market, per-time-bucket daily
// aggregates. Profiles are the scorer's only input: re-running the profiler
// over the same snapshots must reproduce identical rows.
package profile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// minSnapshotsPerBucket is the floor below which a bucket yields no profile.
const minSnapshotsPerBucket = 2

// bucketOrder fixes the iteration order so re-runs upsert identically.
var bucketOrder = []domain.TimeBucket{
	domain.Bucket72hPlus,
	domain.Bucket24to72h,
	domain.Bucket6to24h,
	domain.Bucket2to6h,
	domain.BucketUnder2h,
}

// Stats counts what one profiling run touched.
type Stats struct {
	MarketsProcessed int `json:"markets_processed"`
	SnapshotsRead    int `json:"snapshots_read"`
	InplayDiscarded  int `json:"inplay_discarded"`
	BucketsSkipped   int `json:"buckets_skipped"`
	ProfilesUpserted int `json:"profiles_upserted"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *Stats) Map() map[string]int {
	return map[string]int{
		"markets_processed": s.MarketsProcessed,
		"snapshots_read":    s.SnapshotsRead,
		"inplay_discarded":  s.InplayDiscarded,
		"buckets_skipped":   s.BucketsSkipped,
		"profiles_upserted": s.ProfilesUpserted,
	}
}

// Records is the headline count for the JobRun row.
func (s *Stats) Records() int {
	return s.ProfilesUpserted
}

// Service computes daily market profiles.
type Service struct {
	repos  *persistence.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService builds a profile service.
func NewService(repos *persistence.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repos:  repos,
		logger: logger.With().Str("component", "profile").Logger(),
		now:    time.Now,
	}
}

// Run profiles the markets observed today (UTC).
func (s *Service) Run(ctx context.Context) (*Stats, error) {
	return s.RunForDate(ctx, s.now().UTC())
}

// RunForDate profiles every market that had snapshots on the given UTC day.
// Snapshots captured after scheduled start are discarded; buckets need at
// least two snapshots to produce a row. Upserts are keyed on (market, date,
// bucket), so re-runs overwrite with identical values.
func (s *Service) RunForDate(ctx context.Context, day time.Time) (*Stats, error) {
	stats := &Stats{}
	day = dayUTC(day)

	marketIDs, err := s.repos.Snapshots.MarketIDsForDate(ctx, day)
	if err != nil {
		return stats, fmt.Errorf("failed to list markets for %s: %w", day.Format("2006-01-02"), err)
	}

	for _, marketID := range marketIDs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := s.profileMarket(ctx, marketID, day, stats); err != nil {
			return stats, err
		}
		stats.MarketsProcessed++
	}

	s.logger.Info().
		Str("date", day.Format("2006-01-02")).
		Int("markets", stats.MarketsProcessed).
		Int("snapshots", stats.SnapshotsRead).
		Int("profiles", stats.ProfilesUpserted).
		Int("inplay_discarded", stats.InplayDiscarded).
		Msg("profile_run_complete")

	return stats, nil
}

// profileMarket buckets one market's snapshots and upserts its profiles.
func (s *Service) profileMarket(ctx context.Context, marketID int64, day time.Time, stats *Stats) error {
	market, err := s.repos.Markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("failed to load market %d: %w", marketID, err)
	}
	if market == nil {
		s.logger.Warn().Int64("market_id", marketID).Msg("market_missing_for_snapshots")
		return nil
	}

	snapshots, err := s.repos.Snapshots.ListForMarketDate(ctx, marketID, day)
	if err != nil {
		return fmt.Errorf("failed to list snapshots for market %d: %w", marketID, err)
	}
	stats.SnapshotsRead += len(snapshots)

	buckets := make(map[domain.TimeBucket][]*persistence.MarketSnapshot)
	for _, snap := range snapshots {
		bucket := domain.TimeBucketFor(market.ScheduledStart, snap.CapturedAt)
		if bucket == domain.BucketInplay {
			stats.InplayDiscarded++
			continue
		}
		buckets[bucket] = append(buckets[bucket], snap)
	}

	for _, bucket := range bucketOrder {
		snaps := buckets[bucket]
		if len(snaps) == 0 {
			continue
		}
		if len(snaps) < minSnapshotsPerBucket {
			stats.BucketsSkipped++
			continue
		}

		profile := buildProfile(marketID, day, bucket, snaps)
		if _, err := s.repos.Profiles.Upsert(ctx, profile); err != nil {
			return fmt.Errorf("failed to upsert profile %d/%s/%s: %w",
				marketID, day.Format("2006-01-02"), bucket, err)
		}
		stats.ProfilesUpserted++
	}
	return nil
}

// buildProfile aggregates one bucket's snapshots. Snapshots arrive in capture
// order, so first/last bound the observation window.
func buildProfile(marketID int64, day time.Time, bucket domain.TimeBucket, snaps []*persistence.MarketSnapshot) *persistence.MarketProfile {
	var (
		spreadSum  float64
		spreadMin  = math.MaxFloat64
		backSum    float64
		laySum     float64
		maxMatched float64
		mids       []float64
	)
	for _, snap := range snaps {
		spreadSum += snap.SpreadTicks
		if snap.SpreadTicks < spreadMin {
			spreadMin = snap.SpreadTicks
		}
		backSum += snap.BackDepth
		laySum += snap.LayDepth
		if snap.TotalMatched > maxMatched {
			maxMatched = snap.TotalMatched
		}
		if snap.FavouriteMid > 0 {
			mids = append(mids, snap.FavouriteMid)
		}
	}

	n := float64(len(snaps))

	// Duration floors at one minute so single-burst captures do not explode
	// the update rate.
	durationMin := snaps[len(snaps)-1].CapturedAt.Sub(snaps[0].CapturedAt).Minutes()
	if durationMin < 1 {
		durationMin = 1
	}

	var meanPrice, volatility float64
	if len(mids) > 0 {
		meanPrice = mean(mids)
		if meanPrice > 0 && len(mids) > 1 {
			volatility = stddev(mids, meanPrice) / meanPrice
		}
	}

	return &persistence.MarketProfile{
		MarketID:         marketID,
		ProfileDate:      day,
		TimeBucket:       string(bucket),
		SnapshotCount:    len(snaps),
		AvgSpreadTicks:   domain.Round(spreadSum/n, 4),
		MinSpreadTicks:   domain.Round(spreadMin, 4),
		AvgBackDepth:     domain.Round(backSum/n, 2),
		AvgLayDepth:      domain.Round(laySum/n, 2),
		UpdateRatePerMin: domain.Round(n/durationMin, 4),
		Volatility:       domain.Round(volatility, 6),
		MaxTotalMatched:  domain.Round(maxMatched, 2),
		MeanPrice:        domain.Round(meanPrice, 4),
	}
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

// dayUTC truncates to the UTC day.
func dayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

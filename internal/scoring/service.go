package scoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// highScoreThreshold is where a market becomes interesting enough to log.
const highScoreThreshold = 60.0

// bucketRank orders time buckets by proximity to scheduled start. When a
// market has several profiles for the day, the nearest bucket reflects the
// current book and is the one scored.
var bucketRank = map[string]int{
	string(domain.BucketUnder2h): 0,
	string(domain.Bucket2to6h):   1,
	string(domain.Bucket6to24h):  2,
	string(domain.Bucket24to72h): 3,
	string(domain.Bucket72hPlus): 4,
}

// Stats counts what one scoring run touched.
type Stats struct {
	ProfilesRead        int `json:"profiles_read"`
	ScoresCreated       int `json:"scores_created"`
	HighScores          int `json:"high_scores"`
	GuardsZeroed        int `json:"guards_zeroed"`
	SkippedClosed       int `json:"skipped_closed"`
	SkippedInsufficient int `json:"skipped_insufficient_data"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *Stats) Map() map[string]int {
	return map[string]int{
		"profiles_read":             s.ProfilesRead,
		"scores_created":            s.ScoresCreated,
		"high_scores":               s.HighScores,
		"guards_zeroed":             s.GuardsZeroed,
		"skipped_closed":            s.SkippedClosed,
		"skipped_insufficient_data": s.SkippedInsufficient,
	}
}

// Records is the headline count for the JobRun row.
func (s *Stats) Records() int {
	return s.ScoresCreated
}

// Service scores today's profiled markets against the active configuration.
type Service struct {
	repos           *persistence.Repository
	engine          *Engine
	config          *config.ScoringConfig
	configVersionID int64
	logger          zerolog.Logger
	now             func() time.Time
}

// NewService builds a scoring service.
func NewService(repos *persistence.Repository, cfg *config.ScoringConfig, logger zerolog.Logger) *Service {
	return &Service{
		repos:  repos,
		engine: NewEngine(cfg),
		config: cfg,
		logger: logger.With().Str("component", "scoring").Logger(),
		now:    time.Now,
	}
}

// EnsureConfigVersion registers the active scoring configuration so every
// score row can reference the exact parameters that produced it. Idempotent:
// an unchanged config reuses its existing version row.
func (s *Service) EnsureConfigVersion(ctx context.Context, createdBy string) error {
	hash, err := s.config.Hash()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("failed to marshal scoring config: %w", err)
	}

	id, err := s.repos.ConfigVersions.EnsureActive(ctx, "scoring", hash, data, createdBy)
	if err != nil {
		return fmt.Errorf("failed to ensure scoring config version: %w", err)
	}
	s.configVersionID = id

	s.logger.Info().
		Int64("config_version_id", id).
		Str("hash", hash[:12]).
		Msg("scoring_config_active")
	return nil
}

// Run scores every open market that produced a profile today. One score per
// market per run, taken from the bucket nearest to scheduled start.
func (s *Service) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if s.configVersionID == 0 {
		if err := s.EnsureConfigVersion(ctx, "score_markets"); err != nil {
			return stats, err
		}
	}

	day := s.now().UTC()
	profiles, err := s.repos.Profiles.ListForDate(ctx, day)
	if err != nil {
		return stats, fmt.Errorf("failed to list profiles: %w", err)
	}
	stats.ProfilesRead = len(profiles)

	for _, profile := range selectNearest(profiles) {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := s.scoreProfile(ctx, profile, stats); err != nil {
			return stats, err
		}
	}

	metrics.AddScoresComputed(stats.ScoresCreated, stats.GuardsZeroed)
	metrics.AddHighScores(stats.HighScores)
	s.logger.Info().
		Int("profiles", stats.ProfilesRead).
		Int("scores", stats.ScoresCreated).
		Int("high_scores", stats.HighScores).
		Int("guards_zeroed", stats.GuardsZeroed).
		Msg("scoring_run_complete")

	return stats, nil
}

// scoreProfile scores one market's nearest-bucket profile and persists the
// result.
func (s *Service) scoreProfile(ctx context.Context, profile *persistence.MarketProfile, stats *Stats) error {
	market, err := s.repos.Markets.GetByID(ctx, profile.MarketID)
	if err != nil {
		return fmt.Errorf("failed to load market %d: %w", profile.MarketID, err)
	}
	if market == nil || market.Status != string(domain.MarketOpen) {
		stats.SkippedClosed++
		return nil
	}
	if profile.SnapshotCount < s.config.Guards.MinSnapshotsRequired {
		stats.SkippedInsufficient++
		return nil
	}

	result := s.engine.Score(Input{
		SpreadTicks:   profile.AvgSpreadTicks,
		Volatility:    profile.Volatility,
		UpdateRate:    profile.UpdateRatePerMin,
		Depth:         profile.AvgBackDepth + profile.AvgLayDepth,
		Volume:        profile.MaxTotalMatched,
		MeanPrice:     profile.MeanPrice,
		SnapshotCount: profile.SnapshotCount,
	})

	versionID := s.configVersionID
	score := &persistence.MarketScore{
		MarketID:        profile.MarketID,
		ProfileID:       profile.ID,
		ConfigVersionID: &versionID,
		ScoredAt:        s.now().UTC(),
		TimeBucket:      profile.TimeBucket,
		OddsBand:        string(domain.OddsBandFor(profile.MeanPrice)),
		TotalScore:      result.TotalScore,
		SpreadScore:     result.SpreadScore,
		VolatilityScore: result.VolatilityScore,
		UpdateRateScore: result.UpdateRateScore,
		DepthScore:      result.DepthScore,
		VolumePenalty:   result.VolumePenalty,
		GuardsFailed:    result.GuardsFailed,
	}

	if _, err := s.repos.Scores.Insert(ctx, score); err != nil {
		return fmt.Errorf("failed to insert score for market %d: %w", profile.MarketID, err)
	}
	stats.ScoresCreated++

	if !result.Passed() {
		stats.GuardsZeroed++
		return nil
	}
	if result.TotalScore > highScoreThreshold {
		stats.HighScores++
		s.logger.Info().
			Int64("market_id", market.ID).
			Str("market_name", market.Name).
			Float64("score", result.TotalScore).
			Str("time_bucket", profile.TimeBucket).
			Msg("high_score_market")
	}
	return nil
}

// selectNearest keeps one profile per market: the time bucket closest to
// scheduled start. Output is ordered by market id so runs are deterministic.
func selectNearest(profiles []*persistence.MarketProfile) []*persistence.MarketProfile {
	best := make(map[int64]*persistence.MarketProfile)
	for _, p := range profiles {
		current, ok := best[p.MarketID]
		if !ok || rankOf(p.TimeBucket) < rankOf(current.TimeBucket) {
			best[p.MarketID] = p
		}
	}

	selected := make([]*persistence.MarketProfile, 0, len(best))
	for _, p := range best {
		selected = append(selected, p)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].MarketID < selected[j].MarketID })
	return selected
}

func rankOf(bucket string) int {
	if rank, ok := bucketRank[bucket]; ok {
		return rank
	}
	return len(bucketRank)
}

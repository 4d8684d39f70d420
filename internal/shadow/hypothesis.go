package shadow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// wideNetChangePct is the movement floor the finder casts with; every
// hypothesis applies its own tighter threshold on top.
const wideNetChangePct = 2.0

// EngineStats counts what one hypothesis evaluation run touched.
type EngineStats struct {
	HypothesesEvaluated int `json:"hypotheses_evaluated"`
	SignalsFound        int `json:"signals_found"`
	Matched             int `json:"matched"`
	Created             int `json:"created"`
	SkippedExisting     int `json:"skipped_existing"`
	Errors              int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *EngineStats) Map() map[string]int {
	return map[string]int{
		"hypotheses_evaluated": s.HypothesesEvaluated,
		"signals_found":        s.SignalsFound,
		"matched":              s.Matched,
		"created":              s.Created,
		"skipped_existing":     s.SkippedExisting,
		"errors":               s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *EngineStats) Records() int {
	return s.Created
}

// Match is a signal that satisfied a hypothesis's entry criteria.
type Match struct {
	Hypothesis *persistence.Hypothesis
	Signal     *Signal
	Side       domain.Side
	Reason     string
}

// Engine evaluates every enabled hypothesis against current momentum signals
// and records the matches as theoretical positions.
type Engine struct {
	repos  *persistence.Repository
	finder *Finder
	config *config.ShadowConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine builds a hypothesis engine.
func NewEngine(repos *persistence.Repository, finder *Finder, cfg *config.ShadowConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		repos:  repos,
		finder: finder,
		config: cfg,
		logger: logger.With().Str("component", "hypothesis").Logger(),
		now:    time.Now,
	}
}

// Run evaluates all enabled hypotheses against one wide-net signal sweep. At
// most one decision exists per market and hypothesis; re-runs and concurrent
// runs collapse onto the same row.
func (e *Engine) Run(ctx context.Context) (*EngineStats, error) {
	stats := &EngineStats{}

	hypotheses, err := e.repos.Hypotheses.ListEnabled(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list hypotheses: %w", err)
	}
	stats.HypothesesEvaluated = len(hypotheses)
	if len(hypotheses) == 0 {
		e.logger.Info().Msg("no_enabled_hypotheses")
		return stats, nil
	}

	signals, err := e.finder.FindSignals(ctx, wideNetChangePct)
	if err != nil {
		return stats, fmt.Errorf("failed to find signals: %w", err)
	}
	stats.SignalsFound = len(signals)

	for _, hypothesis := range hypotheses {
		for _, signal := range signals {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			match, ok := MatchHypothesis(hypothesis, signal)
			if !ok {
				continue
			}
			stats.Matched++
			e.recordMatch(ctx, match, stats)
		}
	}

	e.logger.Info().
		Int("hypotheses", stats.HypothesesEvaluated).
		Int("signals", stats.SignalsFound).
		Int("matched", stats.Matched).
		Int("created", stats.Created).
		Int("skipped_existing", stats.SkippedExisting).
		Int("errors", stats.Errors).
		Msg("hypothesis_evaluation_complete")

	return stats, nil
}

// recordMatch writes one match as a pending decision. Failures are counted,
// not fatal: one bad market must not stop the sweep.
func (e *Engine) recordMatch(ctx context.Context, match *Match, stats *EngineStats) {
	hypothesisID := match.Hypothesis.ID

	exists, err := e.repos.Decisions.Exists(ctx, match.Signal.Market.MarketID, &hypothesisID)
	if err != nil {
		stats.Errors++
		e.logger.Error().
			Err(err).
			Str("hypothesis", match.Hypothesis.Name).
			Int64("market_id", match.Signal.Market.MarketID).
			Msg("hypothesis_decision_error")
		return
	}
	if exists {
		stats.SkippedExisting++
		return
	}

	decision := e.buildDecision(match)
	if _, err := e.repos.Decisions.Insert(ctx, decision); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			stats.SkippedExisting++
			return
		}
		stats.Errors++
		e.logger.Error().
			Err(err).
			Str("hypothesis", match.Hypothesis.Name).
			Int64("market_id", match.Signal.Market.MarketID).
			Msg("hypothesis_decision_error")
		return
	}
	stats.Created++
	metrics.AddShadowDecision(match.Hypothesis.Name, string(match.Side))

	entry, _ := decision.EntryPrice.Float64()
	e.logger.Info().
		Str("hypothesis", match.Hypothesis.Name).
		Int64("market_id", match.Signal.Market.MarketID).
		Str("runner", match.Signal.RunnerName).
		Str("side", string(match.Side)).
		Float64("entry_price", entry).
		Str("reason", match.Reason).
		Str("disclaimer", Disclaimer).
		Msg("hypothesis_decision_created")
}

func (e *Engine) buildDecision(match *Match) *persistence.ShadowDecision {
	signal := match.Signal
	hypothesisID := match.Hypothesis.ID
	score := signal.Market.TotalScore

	entry := signal.BackPrice
	if match.Side == domain.SideLay {
		entry = signal.LayPrice
	}
	entryPrice := decimal.NewFromFloat(entry)
	stake, maxLoss := stakeAndRisk(e.config.Stake.BaseStake, match.Side, entryPrice)

	return &persistence.ShadowDecision{
		HypothesisID:   &hypothesisID,
		MarketID:       signal.Market.MarketID,
		RunnerID:       signal.RunnerID,
		SelectionID:    signal.SelectionID,
		Side:           match.Side,
		EntryPrice:     entryPrice,
		Stake:          stake,
		MaxLoss:        maxLoss,
		TriggerReason:  fmt.Sprintf("Hypothesis '%s': %s", match.Hypothesis.Name, match.Reason),
		Niche:          niche(signal.Market),
		MarketScore:    &score,
		MinutesToStart: signal.MinutesToStart,
		DecidedAt:      e.now().UTC(),
		Outcome:        domain.OutcomePending,
	}
}

// MatchHypothesis checks a signal against every applicable clause of a
// hypothesis: score floor, start window, spread, liquidity floor and cap,
// price band, market types, then momentum. Steam is always followed with a
// back; a contrarian hypothesis fades drift with a lay.
func MatchHypothesis(h *persistence.Hypothesis, signal *Signal) (*Match, bool) {
	reasons := make([]string, 0, 4)

	if signal.Market.TotalScore < h.MinScore {
		return nil, false
	}
	reasons = append(reasons, fmt.Sprintf("score %.0f >= %.0f", signal.Market.TotalScore, h.MinScore))

	if signal.MinutesToStart < float64(h.MinMinutesToStart) || signal.MinutesToStart > float64(h.MaxMinutesToStart) {
		return nil, false
	}
	reasons = append(reasons, fmt.Sprintf("%.0fm to start", signal.MinutesToStart))

	if signal.SpreadPct > h.MaxSpreadPercent {
		return nil, false
	}
	if h.MinTotalMatched != nil && signal.Market.TotalMatched < *h.MinTotalMatched {
		return nil, false
	}
	if h.MaxTotalMatched != nil && signal.Market.TotalMatched > *h.MaxTotalMatched {
		return nil, false
	}
	if h.MinPrice != nil && signal.BackPrice < *h.MinPrice {
		return nil, false
	}
	if h.MaxPrice != nil && signal.BackPrice > *h.MaxPrice {
		return nil, false
	}
	if len(h.MarketTypes) > 0 && !containsString(h.MarketTypes, signal.Market.MarketType) {
		return nil, false
	}

	var minChange float64
	if h.MomentumMinChangePct != nil {
		minChange = *h.MomentumMinChangePct
	}
	change := signal.ChangeForWindow(h.MomentumWindowMin)
	if change == nil && minChange > 0 {
		return nil, false
	}
	if change != nil {
		switch {
		case h.MomentumDirection != nil && *h.MomentumDirection == domain.MomentumSteaming:
			if *change >= 0 || math.Abs(*change) < minChange {
				return nil, false
			}
			reasons = append(reasons, fmt.Sprintf("steaming %.1f%%", math.Abs(*change)))
		case h.MomentumDirection != nil && *h.MomentumDirection == domain.MomentumDrifting:
			if *change <= 0 || *change < minChange {
				return nil, false
			}
			reasons = append(reasons, fmt.Sprintf("drifting %.1f%%", *change))
		case minChange > 0:
			if math.Abs(*change) < minChange {
				return nil, false
			}
			direction := "drifting"
			if *change < 0 {
				direction = "steaming"
			}
			reasons = append(reasons, fmt.Sprintf("%s %.1f%%", direction, math.Abs(*change)))
		}
	}

	side := h.Side
	if h.MomentumDirection != nil {
		switch *h.MomentumDirection {
		case domain.MomentumSteaming:
			side = domain.SideBack
		case domain.MomentumDrifting:
			if h.SelectionLogic == domain.SelectContrarian {
				side = domain.SideLay
			}
		}
	}

	return &Match{
		Hypothesis: h,
		Signal:     signal,
		Side:       side,
		Reason:     strings.Join(reasons, ", "),
	}, true
}

// RollupStats counts one hypothesis stats rollup.
type RollupStats struct {
	Updated int `json:"updated"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *RollupStats) Map() map[string]int {
	return map[string]int{"updated": s.Updated}
}

// Records is the headline count for the JobRun row.
func (s *RollupStats) Records() int {
	return s.Updated
}

// UpdateStats denormalises decision rollups onto their hypotheses so list
// surfaces never aggregate the decisions table on read.
func (e *Engine) UpdateStats(ctx context.Context) (*RollupStats, error) {
	stats := &RollupStats{}

	aggs, err := e.repos.Decisions.AggregateByHypothesis(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate decisions: %w", err)
	}
	for _, agg := range aggs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := e.repos.Hypotheses.ApplyStats(ctx, agg); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	e.logger.Info().Int("updated", stats.Updated).Msg("hypothesis_stats_updated")
	return stats, nil
}

// Seed inserts the default hypotheses that do not exist yet. Existing rows
// keep their tuning and counters.
func (e *Engine) Seed(ctx context.Context) (int64, error) {
	inserted, err := e.repos.Hypotheses.Seed(ctx, DefaultHypotheses())
	if err != nil {
		return 0, fmt.Errorf("failed to seed hypotheses: %w", err)
	}
	e.logger.Info().Int64("inserted", inserted).Msg("hypotheses_seeded")
	return inserted, nil
}

// DefaultHypotheses are the seven ideas the shadow book tests against each
// other: steam following with and without score validation, contrarian drift
// fading, the raw score as a baseline, and the niche-market theses (over/
// under, correct score, shallow books).
func DefaultHypotheses() []*persistence.Hypothesis {
	return []*persistence.Hypothesis{
		{
			Name:                 "steam_follower",
			Description:          "Backs selections steaming >5% in markets scoring >=30. Tests whether sharp money moves first in thin markets.",
			Enabled:              true,
			Side:                 domain.SideBack,
			SelectionLogic:       domain.SelectMomentum,
			MinScore:             30,
			MomentumDirection:    dirPtr(domain.MomentumSteaming),
			MomentumMinChangePct: fPtr(5.0),
			MomentumWindowMin:    120,
			MinMinutesToStart:    360,
			MaxMinutesToStart:    1440,
			MinTotalMatched:      fPtr(5000),
			MaxSpreadPercent:     5.0,
			MarketTypes:          []string{"MATCH_ODDS", "OVER_UNDER_25", "OVER_UNDER_15"},
		},
		{
			Name:                 "strong_steam_pure",
			Description:          "Strong steam >10% with no score requirement. If this beats steam_follower, the score adds nothing.",
			Enabled:              true,
			Side:                 domain.SideBack,
			SelectionLogic:       domain.SelectMomentum,
			MinScore:             0,
			MomentumDirection:    dirPtr(domain.MomentumSteaming),
			MomentumMinChangePct: fPtr(10.0),
			MomentumWindowMin:    120,
			MinMinutesToStart:    360,
			MaxMinutesToStart:    1440,
			MinTotalMatched:      fPtr(5000),
			MaxSpreadPercent:     6.0,
			MarketTypes:          []string{"MATCH_ODDS"},
		},
		{
			Name:                 "drift_fader",
			Description:          "Lays selections drifting >8% in high-score markets. Drift in thin markets may be recreational overreaction.",
			Enabled:              true,
			Side:                 domain.SideLay,
			SelectionLogic:       domain.SelectContrarian,
			MinScore:             40,
			MomentumDirection:    dirPtr(domain.MomentumDrifting),
			MomentumMinChangePct: fPtr(8.0),
			MomentumWindowMin:    120,
			MinMinutesToStart:    360,
			MaxMinutesToStart:    1440,
			MinTotalMatched:      fPtr(5000),
			MaxSpreadPercent:     5.0,
			MarketTypes:          []string{"MATCH_ODDS"},
		},
		{
			Name:              "score_based_classic",
			Description:       "Baseline: enters on score >=50 regardless of momentum. Tests whether structural inefficiency alone finds value.",
			Enabled:           true,
			Side:              domain.SideBack,
			SelectionLogic:    domain.SelectScoreBased,
			MinScore:          50,
			MinMinutesToStart: 360,
			MaxMinutesToStart: 1440,
			MinTotalMatched:   fPtr(5000),
			MaxSpreadPercent:  4.0,
			MarketTypes:       []string{"MATCH_ODDS", "OVER_UNDER_25"},
		},
		{
			Name:                 "over_under_specialist",
			Description:          "Steam in over/under markets, which get less attention than match odds and may be structurally inefficient.",
			Enabled:              true,
			Side:                 domain.SideBack,
			SelectionLogic:       domain.SelectMomentum,
			MinScore:             25,
			MomentumDirection:    dirPtr(domain.MomentumSteaming),
			MomentumMinChangePct: fPtr(4.0),
			MomentumWindowMin:    120,
			MinMinutesToStart:    360,
			MaxMinutesToStart:    1440,
			MinTotalMatched:      fPtr(3000),
			MaxSpreadPercent:     6.0,
			MarketTypes:          []string{"OVER_UNDER_25", "OVER_UNDER_15", "OVER_UNDER_35"},
		},
		{
			Name:              "correct_score_value",
			Description:       "Correct score markets are naturally thin and widely ignored. Lower liquidity floor, wider spread tolerance, mid-range prices only.",
			Enabled:           true,
			Side:              domain.SideBack,
			SelectionLogic:    domain.SelectScoreBased,
			MinScore:          35,
			MinMinutesToStart: 360,
			MaxMinutesToStart: 1440,
			MinTotalMatched:   fPtr(1000),
			MaxSpreadPercent:  8.0,
			MinPrice:          fPtr(3.0),
			MaxPrice:          fPtr(30.0),
			MarketTypes:       []string{"CORRECT_SCORE"},
		},
		{
			Name:              "shallow_market_edge",
			Description:       "Markets matching 1k-5k are too small for institutions but may still price lazily. Higher score floor offsets the thin book.",
			Enabled:           true,
			Side:              domain.SideBack,
			SelectionLogic:    domain.SelectScoreBased,
			MinScore:          45,
			MinMinutesToStart: 360,
			MaxMinutesToStart: 1440,
			MinTotalMatched:   fPtr(1000),
			MaxTotalMatched:   fPtr(5000),
			MaxSpreadPercent:  7.0,
			MarketTypes:       []string{"MATCH_ODDS", "OVER_UNDER_25"},
		},
	}
}

// niche labels the competition and market type slice a decision belongs to,
// so performance can be compared across them.
func niche(view *persistence.MarketScoreView) string {
	return fmt.Sprintf("%s - %s", view.CompetitionName, view.MarketType)
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func fPtr(v float64) *float64 {
	return &v
}

func dirPtr(d domain.MomentumDirection) *domain.MomentumDirection {
	return &d
}

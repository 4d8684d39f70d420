package shadow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// Best-value backs sit in the band where the implied probability is low
// enough for upside but the runner is still a live chance.
const (
	bestValueMinPrice = 2.0
	bestValueMaxPrice = 6.0
	minViablePrice    = 1.01
)

// TradeStats counts one rule-based decision run.
type TradeStats struct {
	MarketsEvaluated   int `json:"markets_evaluated"`
	DecisionsMade      int `json:"decisions_made"`
	SkippedNoRule      int `json:"skipped_no_rule"`
	SkippedNoSelection int `json:"skipped_no_selection"`
	SkippedNoPrice     int `json:"skipped_no_price"`
	SkippedSpread      int `json:"skipped_spread_too_wide"`
	SkippedExisting    int `json:"skipped_existing"`
	Errors             int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *TradeStats) Map() map[string]int {
	return map[string]int{
		"markets_evaluated":       s.MarketsEvaluated,
		"decisions_made":          s.DecisionsMade,
		"skipped_no_rule":         s.SkippedNoRule,
		"skipped_no_selection":    s.SkippedNoSelection,
		"skipped_no_price":        s.SkippedNoPrice,
		"skipped_spread_too_wide": s.SkippedSpread,
		"skipped_existing":        s.SkippedExisting,
		"errors":                  s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *TradeStats) Records() int {
	return s.DecisionsMade
}

// selection is a runner a strategy picked, with the side and why.
type selection struct {
	runner *persistence.Runner
	side   domain.Side
	reason string
}

// Trader records rule-based decisions: each tradeable high-score market is
// run through its market-type rule to pick a runner and side.
type Trader struct {
	repos  *persistence.Repository
	config *config.ShadowConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewTrader builds a rule-based decision maker.
func NewTrader(repos *persistence.Repository, cfg *config.ShadowConfig, logger zerolog.Logger) *Trader {
	return &Trader{
		repos:  repos,
		config: cfg,
		logger: logger.With().Str("component", "trader").Logger(),
		now:    time.Now,
	}
}

// Run evaluates the current tradeable markets. Markets that already carry a
// rule decision never come back from the query, so re-runs are no-ops for
// them.
func (t *Trader) Run(ctx context.Context) (*TradeStats, error) {
	stats := &TradeStats{}
	now := t.now().UTC()

	entry := t.config.Entry
	tr := persistence.TimeRange{
		From: now.Add(time.Duration(entry.MinMinutesToStart) * time.Minute),
		To:   now.Add(time.Duration(entry.MaxMinutesToStart) * time.Minute),
	}
	views, err := t.repos.Scores.ListTradeable(ctx, entry.MinScore, entry.MinTotalMatched, tr, entry.MaxMarketsPerRun)
	if err != nil {
		return stats, fmt.Errorf("failed to list tradeable markets: %w", err)
	}
	stats.MarketsEvaluated = len(views)

	for _, view := range views {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := t.evaluateMarket(ctx, view, now, stats); err != nil {
			stats.Errors++
			t.logger.Error().
				Err(err).
				Int64("market_id", view.MarketID).
				Msg("shadow_decision_error")
		}
	}

	t.logger.Info().
		Int("evaluated", stats.MarketsEvaluated).
		Int("decisions", stats.DecisionsMade).
		Int("skipped_no_rule", stats.SkippedNoRule).
		Int("skipped_no_selection", stats.SkippedNoSelection).
		Int("skipped_spread", stats.SkippedSpread).
		Int("errors", stats.Errors).
		Msg("shadow_decisions_complete")

	return stats, nil
}

func (t *Trader) evaluateMarket(ctx context.Context, view *persistence.MarketScoreView, now time.Time, stats *TradeStats) error {
	rule := t.config.GetMarketRule(view.MarketType)
	if !rule.Enabled || rule.Strategy == config.StrategySkip {
		stats.SkippedNoRule++
		return nil
	}

	runners, err := t.repos.Runners.ListByMarket(ctx, view.MarketID)
	if err != nil {
		return fmt.Errorf("failed to list runners: %w", err)
	}
	snapshot, err := t.repos.Snapshots.LatestForMarket(ctx, view.MarketID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	sel, ok := selectRunner(rule, runners, snapshot)
	if !ok {
		stats.SkippedNoSelection++
		t.logger.Debug().
			Int64("market_id", view.MarketID).
			Str("market_type", view.MarketType).
			Str("strategy", rule.Strategy).
			Msg("no_selection_for_rule")
		return nil
	}

	var back, lay float64
	if snapshot != nil {
		if rl, found := snapshot.Ladder.Runner(sel.runner.ExternalID); found {
			back = rl.BestBack()
			lay = rl.BestLay()
		}
	}
	entryPrice := back
	if sel.side == domain.SideLay {
		entryPrice = lay
	}
	if entryPrice <= 0 {
		stats.SkippedNoPrice++
		return nil
	}
	if back > 0 && lay > 0 {
		spreadPct := (lay - back) / back * 100
		if spreadPct > t.config.Entry.MaxSpreadPercent {
			stats.SkippedSpread++
			t.logger.Debug().
				Int64("market_id", view.MarketID).
				Float64("spread_pct", domain.Round(spreadPct, 2)).
				Msg("spread_too_wide")
			return nil
		}
	}

	strategy := rule.Strategy
	score := view.TotalScore
	entryDec := decimal.NewFromFloat(entryPrice)
	stake, maxLoss := stakeAndRisk(t.config.Stake.BaseStake, sel.side, entryDec)
	minutes := view.ScheduledStart.Sub(now).Minutes()
	if minutes < 0 {
		minutes = 0
	}

	decision := &persistence.ShadowDecision{
		MarketID:    view.MarketID,
		RunnerID:    sel.runner.ID,
		SelectionID: sel.runner.ExternalID,
		Side:        sel.side,
		EntryPrice:  entryDec,
		Stake:       stake,
		MaxLoss:     maxLoss,
		Strategy:    &strategy,
		TriggerReason: fmt.Sprintf("Score %.1f >= %.1f. %s",
			view.TotalScore, t.config.Entry.MinScore, sel.reason),
		Niche:          niche(view),
		MarketScore:    &score,
		MinutesToStart: domain.Round(minutes, 2),
		DecidedAt:      now,
		Outcome:        domain.OutcomePending,
	}
	if _, err := t.repos.Decisions.Insert(ctx, decision); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			stats.SkippedExisting++
			return nil
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	stats.DecisionsMade++
	metrics.AddShadowDecision(strategy, string(sel.side))

	t.logger.Info().
		Int64("market_id", view.MarketID).
		Str("market_type", view.MarketType).
		Str("runner", sel.runner.Name).
		Str("side", string(sel.side)).
		Str("strategy", strategy).
		Float64("entry_price", entryPrice).
		Float64("score", view.TotalScore).
		Str("disclaimer", Disclaimer).
		Msg("shadow_decision_made")

	return nil
}

// selectRunner applies a market-type rule to the runner list. A name pattern
// takes precedence over price strategies; pattern picks are always backs.
func selectRunner(rule config.MarketTypeRule, runners []*persistence.Runner, snapshot *persistence.MarketSnapshot) (*selection, bool) {
	if len(runners) == 0 {
		return nil, false
	}

	if rule.RunnerNamePattern != "" {
		re, err := regexp.Compile("(?i)" + rule.RunnerNamePattern)
		if err != nil {
			return nil, false
		}
		for _, r := range runners {
			if re.MatchString(r.Name) {
				return &selection{
					runner: r,
					side:   domain.SideBack,
					reason: fmt.Sprintf("Matched pattern '%s'", rule.RunnerNamePattern),
				}, true
			}
		}
		return nil, false
	}

	switch rule.Strategy {
	case config.StrategyBackBestValue:
		return selectBestValue(runners, snapshot)
	case config.StrategyBackFavorite:
		return selectByPrice(runners, snapshot, domain.SideBack, "Favourite at %.2f")
	case config.StrategyLayFavorite:
		return selectByPrice(runners, snapshot, domain.SideLay, "Laying favourite at %.2f")
	}
	return nil, false
}

// selectBestValue takes the highest back price inside the value band, or the
// first non-draw runner when no price qualifies.
func selectBestValue(runners []*persistence.Runner, snapshot *persistence.MarketSnapshot) (*selection, bool) {
	var best *persistence.Runner
	var bestPrice float64
	if snapshot != nil {
		for _, r := range runners {
			rl, ok := snapshot.Ladder.Runner(r.ExternalID)
			if !ok {
				continue
			}
			price := rl.BestBack()
			if price >= bestValueMinPrice && price <= bestValueMaxPrice && price > bestPrice {
				best = r
				bestPrice = price
			}
		}
	}
	if best != nil {
		return &selection{
			runner: best,
			side:   domain.SideBack,
			reason: fmt.Sprintf("Best value in %.1f-%.1f range at %.2f", bestValueMinPrice, bestValueMaxPrice, bestPrice),
		}, true
	}
	for _, r := range runners {
		if strings.Contains(strings.ToLower(r.Name), "draw") {
			continue
		}
		return &selection{
			runner: r,
			side:   domain.SideBack,
			reason: "Fallback to first non-draw runner",
		}, true
	}
	return nil, false
}

// selectByPrice takes the shortest-priced runner on the given side.
func selectByPrice(runners []*persistence.Runner, snapshot *persistence.MarketSnapshot, side domain.Side, reasonFormat string) (*selection, bool) {
	if snapshot == nil {
		return nil, false
	}
	var best *persistence.Runner
	var bestPrice float64
	for _, r := range runners {
		rl, ok := snapshot.Ladder.Runner(r.ExternalID)
		if !ok {
			continue
		}
		price := rl.BestBack()
		if side == domain.SideLay {
			price = rl.BestLay()
		}
		if price > minViablePrice && (best == nil || price < bestPrice) {
			best = r
			bestPrice = price
		}
	}
	if best == nil {
		return nil, false
	}
	return &selection{
		runner: best,
		side:   side,
		reason: fmt.Sprintf(reasonFormat, bestPrice),
	}, true
}

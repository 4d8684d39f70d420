package shadow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

func newTestTrader(store *fakeStore, now time.Time) *Trader {
	trader := NewTrader(store.repository(), config.DefaultShadowConfig(), nopLogger())
	trader.now = func() time.Time { return now }
	return trader
}

func TestSelectRunnerByPattern(t *testing.T) {
	rule := config.MarketTypeRule{Enabled: true, Strategy: config.StrategyBackUnder, RunnerNamePattern: `Under 2\.5`}
	runners := []*persistence.Runner{
		testRunner(1, 101, 10, "Over 2.5 Goals"),
		testRunner(2, 102, 10, "UNDER 2.5 GOALS"),
	}

	sel, ok := selectRunner(rule, runners, nil)
	require.True(t, ok)

	assert.Equal(t, int64(102), sel.runner.ExternalID, "pattern match is case-insensitive")
	assert.Equal(t, domain.SideBack, sel.side)
	assert.Equal(t, `Matched pattern 'Under 2\.5'`, sel.reason)
}

func TestSelectRunnerPatternMissReturnsNothing(t *testing.T) {
	rule := config.MarketTypeRule{Enabled: true, Strategy: config.StrategyBackNo, RunnerNamePattern: `No`}
	runners := []*persistence.Runner{testRunner(1, 101, 10, "Yes")}

	_, ok := selectRunner(rule, runners, nil)
	assert.False(t, ok)
}

func TestSelectBestValuePicksHighestInBand(t *testing.T) {
	rule := config.MarketTypeRule{Enabled: true, Strategy: config.StrategyBackBestValue}
	runners := []*persistence.Runner{
		testRunner(1, 101, 10, "Home"),
		testRunner(2, 102, 10, "Away"),
		testRunner(3, 103, 10, "The Draw"),
	}
	snapshot := testSnapshot(10, time.Now(),
		ladderEntry(101, 1.8, 1.85), // below the band
		ladderEntry(102, 3.4, 3.5),
		ladderEntry(103, 5.0, 5.2),
	)

	sel, ok := selectRunner(rule, runners, snapshot)
	require.True(t, ok)

	assert.Equal(t, int64(103), sel.runner.ExternalID)
	assert.Equal(t, "Best value in 2.0-6.0 range at 5.00", sel.reason)
}

func TestSelectBestValueFallsBackToNonDraw(t *testing.T) {
	rule := config.MarketTypeRule{Enabled: true, Strategy: config.StrategyBackBestValue}
	runners := []*persistence.Runner{
		testRunner(1, 101, 10, "The Draw"),
		testRunner(2, 102, 10, "Home"),
	}

	sel, ok := selectRunner(rule, runners, nil)
	require.True(t, ok)

	assert.Equal(t, int64(102), sel.runner.ExternalID)
	assert.Equal(t, "Fallback to first non-draw runner", sel.reason)
}

func TestSelectFavoriteTakesShortestBack(t *testing.T) {
	rule := config.MarketTypeRule{Enabled: true, Strategy: config.StrategyBackFavorite}
	runners := []*persistence.Runner{
		testRunner(1, 101, 10, "Home"),
		testRunner(2, 102, 10, "Away"),
		testRunner(3, 103, 10, "The Draw"),
	}
	snapshot := testSnapshot(10, time.Now(),
		ladderEntry(101, 1.005, 1.01), // suspiciously short: ignored
		ladderEntry(102, 1.8, 1.85),
		ladderEntry(103, 2.4, 2.5),
	)

	sel, ok := selectRunner(rule, runners, snapshot)
	require.True(t, ok)

	assert.Equal(t, int64(102), sel.runner.ExternalID)
	assert.Equal(t, domain.SideBack, sel.side)
}

func TestSelectLayFavoriteLaysShortestLay(t *testing.T) {
	rule := config.MarketTypeRule{Enabled: true, Strategy: config.StrategyLayFavorite}
	runners := []*persistence.Runner{
		testRunner(1, 101, 10, "Home"),
		testRunner(2, 102, 10, "Away"),
	}
	snapshot := testSnapshot(10, time.Now(),
		ladderEntry(101, 1.8, 1.85),
		ladderEntry(102, 2.4, 2.5),
	)

	sel, ok := selectRunner(rule, runners, snapshot)
	require.True(t, ok)

	assert.Equal(t, int64(101), sel.runner.ExternalID)
	assert.Equal(t, domain.SideLay, sel.side)
	assert.Equal(t, "Laying favourite at 1.85", sel.reason)
}

func TestTraderRunMakesDecision(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.tradeableViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{
		testRunner(1, 101, 10, "Home"),
		testRunner(2, 102, 10, "Away"),
	}
	store.latest[10] = testSnapshot(10, now,
		ladderEntry(101, 3.4, 3.5),
		ladderEntry(102, 1.8, 1.85),
	)

	trader := newTestTrader(store, now)
	stats, err := trader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.MarketsEvaluated)
	assert.Equal(t, 1, stats.DecisionsMade)
	assert.Equal(t, stats.DecisionsMade, stats.Records())

	require.Len(t, store.decisions, 1)
	decision := store.decisions[0]
	assert.Nil(t, decision.HypothesisID)
	assert.Equal(t, int64(101), decision.SelectionID)
	assert.Equal(t, domain.SideBack, decision.Side)
	assert.True(t, decision.EntryPrice.Equal(decimal.NewFromFloat(3.4)))
	require.NotNil(t, decision.Strategy)
	assert.Equal(t, config.StrategyBackBestValue, *decision.Strategy)
	assert.Equal(t, "Score 45.0 >= 30.0. Best value in 2.0-6.0 range at 3.40", decision.TriggerReason)
	assert.Equal(t, "Veikkausliiga - MATCH_ODDS", decision.Niche)
	assert.Equal(t, 600.0, decision.MinutesToStart)
	assert.Equal(t, domain.OutcomePending, decision.Outcome)
}

func TestTraderSkipsMarketsWithoutRule(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	view := testView(10, "ASIAN_HANDICAP", 45, now.Add(10*time.Hour))
	store.tradeableViews = []*persistence.MarketScoreView{view}

	trader := newTestTrader(store, now)
	stats, err := trader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedNoRule)
	assert.Zero(t, stats.DecisionsMade)
	assert.Empty(t, store.decisions)
}

func TestTraderSkipsWideSpread(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.tradeableViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(1, 101, 10, "Home")}
	// 10% spread against a 5% ceiling.
	store.latest[10] = testSnapshot(10, now, ladderEntry(101, 3.0, 3.3))

	trader := newTestTrader(store, now)
	stats, err := trader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedSpread)
	assert.Empty(t, store.decisions)
}

func TestTraderSkipsMissingPrices(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.tradeableViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(1, 101, 10, "Home")}

	trader := newTestTrader(store, now)
	stats, err := trader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedNoPrice)
	assert.Empty(t, store.decisions)
}

func TestTraderDuplicateInsertIsSkip(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.tradeableViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(1, 101, 10, "Home")}
	store.latest[10] = testSnapshot(10, now, ladderEntry(101, 3.4, 3.5))
	store.insertErr = persistence.ErrDuplicate

	trader := newTestTrader(store, now)
	stats, err := trader.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedExisting)
	assert.Zero(t, stats.Errors)
}

func TestTradeStatsMap(t *testing.T) {
	stats := &TradeStats{MarketsEvaluated: 8, DecisionsMade: 2, SkippedNoRule: 3, SkippedSpread: 1}
	m := stats.Map()
	assert.Equal(t, 8, m["markets_evaluated"])
	assert.Equal(t, 2, m["decisions_made"])
	assert.Equal(t, 1, m["skipped_spread_too_wide"])
}

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

func defaultHypothesis(t *testing.T, name string) *persistence.Hypothesis {
	t.Helper()
	for i, h := range DefaultHypotheses() {
		if h.Name == name {
			h.ID = int64(i + 1)
			return h
		}
	}
	t.Fatalf("unknown default hypothesis %q", name)
	return nil
}

func steamSignal(view *persistence.MarketScoreView, change2h float64) *Signal {
	return &Signal{
		Market:         view,
		RunnerID:       7,
		SelectionID:    456,
		RunnerName:     "Home",
		BackPrice:      2.4,
		LayPrice:       2.46,
		SpreadPct:      2.5,
		MinutesToStart: 600,
		Change2h:       &change2h,
	}
}

func TestMatchSteamFollower(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "MATCH_ODDS", 45, time.Now())

	match, ok := MatchHypothesis(h, steamSignal(view, -8.0))
	require.True(t, ok)

	assert.Equal(t, domain.SideBack, match.Side)
	assert.Equal(t, "score 45 >= 30, 600m to start, steaming 8.0%", match.Reason)
}

func TestMatchRejectsLowScore(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "MATCH_ODDS", 25, time.Now())

	_, ok := MatchHypothesis(h, steamSignal(view, -8.0))
	assert.False(t, ok)
}

func TestMatchRejectsOutsideStartWindow(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "MATCH_ODDS", 45, time.Now())

	tooSoon := steamSignal(view, -8.0)
	tooSoon.MinutesToStart = 200
	_, ok := MatchHypothesis(h, tooSoon)
	assert.False(t, ok)

	tooFar := steamSignal(view, -8.0)
	tooFar.MinutesToStart = 1500
	_, ok = MatchHypothesis(h, tooFar)
	assert.False(t, ok)
}

func TestMatchRejectsWideSpread(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "MATCH_ODDS", 45, time.Now())

	signal := steamSignal(view, -8.0)
	signal.SpreadPct = 6.0
	_, ok := MatchHypothesis(h, signal)
	assert.False(t, ok)
}

func TestMatchRejectsThinMarket(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "MATCH_ODDS", 45, time.Now())
	view.TotalMatched = 3000

	_, ok := MatchHypothesis(h, steamSignal(view, -8.0))
	assert.False(t, ok)
}

func TestMatchRejectsWrongMarketType(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "CORRECT_SCORE", 45, time.Now())

	_, ok := MatchHypothesis(h, steamSignal(view, -8.0))
	assert.False(t, ok)
}

func TestMatchShallowEdgeEnforcesLiquidityCap(t *testing.T) {
	h := defaultHypothesis(t, "shallow_market_edge")
	view := testView(10, "MATCH_ODDS", 50, time.Now())

	view.TotalMatched = 8000
	_, ok := MatchHypothesis(h, steamSignal(view, -1.0))
	assert.False(t, ok)

	view.TotalMatched = 3000
	match, ok := MatchHypothesis(h, steamSignal(view, -1.0))
	require.True(t, ok)
	assert.Equal(t, domain.SideBack, match.Side)
}

func TestMatchCorrectScoreEnforcesPriceBand(t *testing.T) {
	h := defaultHypothesis(t, "correct_score_value")
	view := testView(10, "CORRECT_SCORE", 40, time.Now())
	view.TotalMatched = 2000

	signal := steamSignal(view, -1.0)
	signal.BackPrice = 2.5
	_, ok := MatchHypothesis(h, signal)
	assert.False(t, ok)

	signal.BackPrice = 12.0
	signal.SpreadPct = 7.5
	_, ok = MatchHypothesis(h, signal)
	assert.True(t, ok)

	signal.BackPrice = 40.0
	_, ok = MatchHypothesis(h, signal)
	assert.False(t, ok)
}

func TestMatchSteamRequiresShortening(t *testing.T) {
	h := defaultHypothesis(t, "steam_follower")
	view := testView(10, "MATCH_ODDS", 45, time.Now())

	// Lengthening price is drift, not steam.
	_, ok := MatchHypothesis(h, steamSignal(view, 8.0))
	assert.False(t, ok)

	// Shortening but below the hypothesis threshold.
	_, ok = MatchHypothesis(h, steamSignal(view, -3.0))
	assert.False(t, ok)
}

func TestMatchDriftFaderForcesLay(t *testing.T) {
	h := defaultHypothesis(t, "drift_fader")
	view := testView(10, "MATCH_ODDS", 45, time.Now())

	match, ok := MatchHypothesis(h, steamSignal(view, 9.0))
	require.True(t, ok)

	assert.Equal(t, domain.SideLay, match.Side)
	assert.Contains(t, match.Reason, "drifting 9.0%")
}

func TestMatchScoreBasedIgnoresMomentum(t *testing.T) {
	h := defaultHypothesis(t, "score_based_classic")
	view := testView(10, "MATCH_ODDS", 55, time.Now())

	signal := steamSignal(view, 0)
	signal.Change2h = nil
	signal.SpreadPct = 3.0

	match, ok := MatchHypothesis(h, signal)
	require.True(t, ok)
	assert.Equal(t, domain.SideBack, match.Side)
	assert.Equal(t, "score 55 >= 50, 600m to start", match.Reason)
}

func TestMatchStrongSteamNeedsNoScore(t *testing.T) {
	h := defaultHypothesis(t, "strong_steam_pure")
	view := testView(10, "MATCH_ODDS", 5, time.Now())

	match, ok := MatchHypothesis(h, steamSignal(view, -11.0))
	require.True(t, ok)
	assert.Contains(t, match.Reason, "steaming 11.0%")
}

func TestMatchHonoursHypothesisWindow(t *testing.T) {
	view := testView(10, "MATCH_ODDS", 45, time.Now())
	signal := steamSignal(view, -12.0) // only the 2h window observed

	longWindow := defaultHypothesis(t, "steam_follower")
	_, ok := MatchHypothesis(longWindow, signal)
	assert.True(t, ok)

	shortWindow := defaultHypothesis(t, "steam_follower")
	shortWindow.MomentumWindowMin = 30
	_, ok = MatchHypothesis(shortWindow, signal)
	assert.False(t, ok, "30m window has no observation, so the clause cannot pass")
}

func TestDefaultHypothesesShape(t *testing.T) {
	defaults := DefaultHypotheses()
	require.Len(t, defaults, 7)

	names := make(map[string]bool)
	for _, h := range defaults {
		assert.True(t, h.Enabled, "%s should start enabled", h.Name)
		assert.False(t, names[h.Name], "duplicate name %s", h.Name)
		names[h.Name] = true
		if h.MomentumDirection != nil {
			assert.Equal(t, 120, h.MomentumWindowMin, "%s momentum window", h.Name)
		}
	}

	fader := defaults[2]
	assert.Equal(t, "drift_fader", fader.Name)
	assert.Equal(t, domain.SideLay, fader.Side)
	assert.Equal(t, domain.SelectContrarian, fader.SelectionLogic)

	shallow := defaults[6]
	assert.Equal(t, "shallow_market_edge", shallow.Name)
	require.NotNil(t, shallow.MaxTotalMatched)
	assert.Equal(t, 5000.0, *shallow.MaxTotalMatched)
}

func newTestEngine(store *fakeStore, now time.Time) *Engine {
	repos := store.repository()
	finder := NewFinder(repos, nopLogger())
	finder.now = func() time.Time { return now }
	engine := NewEngine(repos, finder, config.DefaultShadowConfig(), nopLogger())
	engine.now = func() time.Time { return now }
	return engine
}

func TestEngineRunCreatesDecision(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.hypotheses = []*persistence.Hypothesis{defaultHypothesis(t, "steam_follower")}
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.shadowViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(7, 456, 10, "Home")}
	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 2.1))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}

	engine := newTestEngine(store, now)
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.HypothesesEvaluated)
	assert.Equal(t, 1, stats.SignalsFound)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, stats.Created, stats.Records())

	require.Len(t, store.decisions, 1)
	decision := store.decisions[0]
	require.NotNil(t, decision.HypothesisID)
	assert.Equal(t, int64(1), *decision.HypothesisID)
	assert.Equal(t, domain.SideBack, decision.Side)
	assert.True(t, decision.EntryPrice.Equal(decimal.NewFromFloat(2.0)))
	assert.True(t, decision.Stake.Equal(decimal.NewFromFloat(10.0)))
	assert.True(t, decision.MaxLoss.Equal(decimal.NewFromFloat(10.0)))
	assert.Equal(t, "Hypothesis 'steam_follower': score 45 >= 30, 600m to start, steaming 20.0%", decision.TriggerReason)
	assert.Equal(t, "Veikkausliiga - MATCH_ODDS", decision.Niche)
	assert.Equal(t, domain.OutcomePending, decision.Outcome)
	require.NotNil(t, decision.MarketScore)
	assert.Equal(t, 45.0, *decision.MarketScore)

	// Re-running must not duplicate the position.
	stats, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Equal(t, 1, stats.SkippedExisting)
	assert.Len(t, store.decisions, 1)
}

func TestEngineRunTreatsDuplicateInsertAsSkip(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.hypotheses = []*persistence.Hypothesis{defaultHypothesis(t, "steam_follower")}
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.shadowViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(7, 456, 10, "Home")}
	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 2.1))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}
	store.insertErr = persistence.ErrDuplicate

	engine := newTestEngine(store, now)
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 1, stats.SkippedExisting)
}

func TestEngineLayEntryUsesLayPrice(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.hypotheses = []*persistence.Hypothesis{defaultHypothesis(t, "drift_fader")}
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.shadowViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(7, 456, 10, "Home")}
	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.75, 2.8))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}

	engine := newTestEngine(store, now)
	stats, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Created)

	decision := store.decisions[0]
	assert.Equal(t, domain.SideLay, decision.Side)
	assert.True(t, decision.EntryPrice.Equal(decimal.NewFromFloat(2.8)))
	// Laying at 2.8 risks stake * 1.8.
	assert.True(t, decision.MaxLoss.Equal(decimal.NewFromFloat(18.0)))
}

func TestEngineUpdateStatsAppliesRollups(t *testing.T) {
	store := newFakeStore()
	store.aggs = []*persistence.HypothesisAgg{
		{HypothesisID: 1, TotalDecisions: 4, Wins: 2, Losses: 2},
		{HypothesisID: 2, TotalDecisions: 1, Wins: 1},
	}

	engine := newTestEngine(store, time.Now())
	stats, err := engine.UpdateStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 2, stats.Records())
	require.Len(t, store.applied, 2)
	assert.Equal(t, int64(1), store.applied[0].HypothesisID)
}

func TestEngineSeedSkipsExisting(t *testing.T) {
	store := newFakeStore()
	store.hypotheses = []*persistence.Hypothesis{{ID: 1, Name: "steam_follower", Enabled: true}}

	engine := newTestEngine(store, time.Now())
	inserted, err := engine.Seed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), inserted)
	assert.Len(t, store.hypotheses, 7)
}

func TestEngineStatsMap(t *testing.T) {
	stats := &EngineStats{HypothesesEvaluated: 7, SignalsFound: 3, Matched: 2, Created: 2}
	m := stats.Map()
	assert.Equal(t, 7, m["hypotheses_evaluated"])
	assert.Equal(t, 3, m["signals_found"])
	assert.Equal(t, 2, m["created"])
}

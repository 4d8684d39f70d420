package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// TestRepositoriesRoundTrip walks one market through the whole pipeline:
// discovery rows, a snapshot, a profile and score, a closing capture, a
// settled result, and a shadow decision settled against it.
func TestRepositoriesRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	timeout := 10 * time.Second

	sports := NewSportsRepo(db, timeout)
	competitions := NewCompetitionsRepo(db, timeout)
	events := NewEventsRepo(db, timeout)
	markets := NewMarketsRepo(db, timeout)
	runners := NewRunnersRepo(db, timeout)
	snapshots := NewSnapshotsRepo(db, timeout)
	profiles := NewProfilesRepo(db, timeout)
	scores := NewScoresRepo(db, timeout)
	closing := NewClosingRepo(db, timeout)
	results := NewResultsRepo(db, timeout)
	decisions := NewDecisionsRepo(db, timeout)
	jobRuns := NewJobRunsRepo(db, timeout)

	start := time.Now().UTC().Add(3 * time.Hour).Truncate(time.Second)

	// Discovery rows
	sport := &persistence.Sport{ExternalID: "1", Name: "Soccer", Slug: "soccer", Enabled: true}
	sportID, err := sports.Upsert(ctx, sport)
	require.NoError(t, err)

	comp := &persistence.Competition{
		ExternalID: "10932509", SportID: sportID,
		Name: "Premier League", Region: "GBR", Enabled: true,
	}
	compID, err := competitions.Upsert(ctx, comp)
	require.NoError(t, err)
	assert.Equal(t, domain.Phase1Collecting, comp.Phase)

	event := &persistence.Event{
		ExternalID: "33999221", CompetitionID: compID,
		Name: "Arsenal v Spurs", CountryCode: "GB", Timezone: "Europe/London",
		ScheduledStart: start,
	}
	eventID, err := events.Upsert(ctx, event)
	require.NoError(t, err)

	market := &persistence.Market{
		ExternalID: "1.23456789", EventID: eventID,
		Name: "Match Odds", MarketType: "MATCH_ODDS",
		TotalMatched: 125000, ScheduledStart: start,
	}
	marketID, err := markets.Upsert(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, string(domain.MarketOpen), market.Status)

	inserted, err := runners.InsertBatch(ctx, []*persistence.Runner{
		{ExternalID: 47972, MarketID: marketID, Name: "Arsenal", SortPriority: 1, Status: string(domain.RunnerActive)},
		{ExternalID: 47973, MarketID: marketID, Name: "Spurs", SortPriority: 2, Status: string(domain.RunnerActive)},
		{ExternalID: 58805, MarketID: marketID, Name: "The Draw", SortPriority: 3, Status: string(domain.RunnerActive)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	// Re-running the batch inserts nothing new
	inserted, err = runners.InsertBatch(ctx, []*persistence.Runner{
		{ExternalID: 47972, MarketID: marketID, Name: "Arsenal", SortPriority: 1, Status: string(domain.RunnerActive)},
	})
	require.NoError(t, err)
	assert.Zero(t, inserted)

	runner, err := runners.GetBySelection(ctx, marketID, 47972)
	require.NoError(t, err)
	require.NotNil(t, runner)

	// One observation
	ladder := domain.Ladder{
		Runners: []domain.RunnerLadder{{
			RunnerID: 47972,
			Back:     []domain.PriceSize{{Price: 2.04, Size: 500}},
			Lay:      []domain.PriceSize{{Price: 2.06, Size: 480}},
		}},
		Depth: 3,
	}
	count, err := snapshots.InsertBatch(ctx, []*persistence.MarketSnapshot{{
		MarketID: marketID, CapturedAt: time.Now().UTC(),
		Status: string(domain.MarketOpen), TotalMatched: 125000, TotalAvailable: 980,
		SpreadTicks: 1, BackDepth: 500, LayDepth: 480,
		Overround: 1.0312, FavouriteMid: 2.05, Ladder: ladder,
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	latest, err := snapshots.LatestForMarket(ctx, marketID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Len(t, latest.Ladder.Runners, 1)

	// Profile and score
	profile := &persistence.MarketProfile{
		MarketID: marketID, ProfileDate: time.Now().UTC(),
		TimeBucket: string(domain.Bucket2to6h), SnapshotCount: 6,
		AvgSpreadTicks: 1.2, MinSpreadTicks: 1, AvgBackDepth: 480,
		AvgLayDepth: 460, UpdateRatePerMin: 0.8, Volatility: 0.031,
		MaxTotalMatched: 125000, MeanPrice: 2.05,
	}
	profileID, err := profiles.Upsert(ctx, profile)
	require.NoError(t, err)

	_, err = scores.Insert(ctx, &persistence.MarketScore{
		MarketID: marketID, ProfileID: profileID,
		ScoredAt: time.Now().UTC(), TimeBucket: string(domain.Bucket2to6h),
		OddsBand: string(domain.BandEven), TotalScore: 64.21,
		SpreadScore: 0.9, VolatilityScore: 0.55, UpdateRateScore: 0.71,
		DepthScore: 0.62, VolumePenalty: 0.1, GuardsFailed: []string{},
	})
	require.NoError(t, err)

	high, err := scores.CountHighScoreMarkets(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), high)

	// Closing capture keeps whichever row is closer to the start
	first := &persistence.ClosingData{
		MarketID: marketID, CapturedAt: time.Now().UTC(),
		MinutesToStart: 14.2, TotalMatched: 140000, Overround: 1.028,
		SpreadTicks: 1, FavouriteMid: 2.03, Ladder: ladder,
	}
	closingID, err := closing.Upsert(ctx, first)
	require.NoError(t, err)

	stale := &persistence.ClosingData{
		MarketID: marketID, CapturedAt: time.Now().UTC(),
		MinutesToStart: 60.0, TotalMatched: 90000, Overround: 1.04,
		SpreadTicks: 2, FavouriteMid: 2.10, Ladder: ladder,
	}
	staleID, err := closing.Upsert(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, closingID, staleID)

	stored, err := closing.GetByMarket(ctx, marketID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 14.2, stored.MinutesToStart, 0.001)

	days, err := closing.DateSpanDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, days)

	// Decision, then the market settles and the decision follows
	decision := &persistence.ShadowDecision{
		MarketID: marketID, RunnerID: runner.ID, SelectionID: 47972,
		Side: domain.SideBack, EntryPrice: decimal.NewFromFloat(2.50),
		Stake: decimal.NewFromFloat(10.00), MaxLoss: decimal.NewFromFloat(10.00),
		TriggerReason: "steaming 2h -6.2%", Niche: "Premier League - MATCH_ODDS",
		MinutesToStart: 145.2, DecidedAt: time.Now().UTC(),
	}
	decisionID, err := decisions.Insert(ctx, decision)
	require.NoError(t, err)

	_, err = decisions.Insert(ctx, decision)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrDuplicate))

	exists, err := decisions.Exists(ctx, marketID, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	winner := int64(47972)
	_, err = results.Insert(ctx, &persistence.MarketResult{
		MarketID: marketID, SettledAt: time.Now().UTC(),
		WinnerSelectionID: &winner,
		RunnerStatuses: map[int64]string{
			47972: string(domain.RunnerWinner),
			47973: string(domain.RunnerLoser),
			58805: string(domain.RunnerLoser),
		},
	})
	require.NoError(t, err)

	_, err = results.Insert(ctx, &persistence.MarketResult{
		MarketID: marketID, SettledAt: time.Now().UTC(),
	})
	assert.True(t, errors.Is(err, persistence.ErrDuplicate))

	require.NoError(t, decisions.Settle(ctx, decisionID, persistence.Settlement{
		Outcome:      domain.OutcomeWin,
		GrossPnl:     decimal.NewFromFloat(15.00),
		Commission:   decimal.NewFromFloat(0.30),
		NetPnl:       decimal.NewFromFloat(14.70),
		ReturnOnRisk: 1.47,
		SettledAt:    time.Now().UTC(),
	}))

	outcomes, err := decisions.CountByOutcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcomes[domain.OutcomeWin])

	// Promotion moves the competition into shadow exactly once
	promoted, err := competitions.PromoteToShadow(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), promoted)

	promoted, err = competitions.PromoteToShadow(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, promoted)

	shadow, err := competitions.ListByPhase(ctx, domain.Phase2Shadow)
	require.NoError(t, err)
	require.Len(t, shadow, 1)
	assert.NotNil(t, shadow[0].PhaseActivatedAt)

	// Job audit trail
	runID, err := jobRuns.Start(ctx, "discover_markets", time.Now().UTC())
	require.NoError(t, err)

	running, err := jobRuns.IsRunning(ctx, "discover_markets")
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, jobRuns.Complete(ctx, runID, persistence.JobSucceeded, 42,
		map[string]int{"markets": 42}, nil))

	last, err := jobRuns.LastCompleted(ctx, "discover_markets")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, persistence.JobSucceeded, last.Status)
	assert.Equal(t, 42, last.Stats["markets"])
}

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

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(money(want)), "want %s, got %s", want, got.String())
}

func TestCalculatePnlBackWin(t *testing.T) {
	pnl := CalculatePnl(domain.SideBack, money("10"), money("3.00"), domain.OutcomeWin, 0.02)

	assertMoney(t, "20.00", pnl.Gross)
	assertMoney(t, "0.40", pnl.Commission)
	assertMoney(t, "19.60", pnl.Net)
	assertMoney(t, "10.00", pnl.MaxLoss)
	assert.Equal(t, 1.96, pnl.ReturnOnRisk)
}

func TestCalculatePnlBackLose(t *testing.T) {
	pnl := CalculatePnl(domain.SideBack, money("10"), money("3.00"), domain.OutcomeLose, 0.02)

	assertMoney(t, "-10", pnl.Gross)
	assertMoney(t, "0", pnl.Commission)
	assertMoney(t, "-10", pnl.Net)
	assert.Equal(t, -1.0, pnl.ReturnOnRisk)
}

func TestCalculatePnlLayWin(t *testing.T) {
	pnl := CalculatePnl(domain.SideLay, money("10"), money("4.00"), domain.OutcomeWin, 0.02)

	assertMoney(t, "10.00", pnl.Gross)
	assertMoney(t, "0.20", pnl.Commission)
	assertMoney(t, "9.80", pnl.Net)
	assertMoney(t, "30.00", pnl.MaxLoss)
	assert.Equal(t, 0.3267, pnl.ReturnOnRisk)
}

func TestCalculatePnlLayLose(t *testing.T) {
	pnl := CalculatePnl(domain.SideLay, money("10"), money("4.00"), domain.OutcomeLose, 0.02)

	assertMoney(t, "-30.00", pnl.Gross)
	assertMoney(t, "0", pnl.Commission)
	assertMoney(t, "-30.00", pnl.Net)
	assert.Equal(t, -1.0, pnl.ReturnOnRisk)
}

func TestCalculatePnlVoid(t *testing.T) {
	pnl := CalculatePnl(domain.SideBack, money("10"), money("3.00"), domain.OutcomeVoid, 0.02)

	assertMoney(t, "0", pnl.Gross)
	assertMoney(t, "0", pnl.Commission)
	assertMoney(t, "0", pnl.Net)
	assertMoney(t, "0", pnl.MaxLoss)
	assert.Zero(t, pnl.ReturnOnRisk)
}

func TestCLV(t *testing.T) {
	// Backed at 3.0, closed at 2.5: the entry beat the close by 20%.
	assert.Equal(t, 20.0, CLV(domain.SideBack, 3.0, 2.5))
	// Backed at 2.5, closed at 3.0: gave up 16.67%.
	assert.InDelta(t, -16.6667, CLV(domain.SideBack, 2.5, 3.0), 0.001)
	// Laid at 2.0, closed at 2.2: laying low beat the close by 10%.
	assert.Equal(t, 10.0, CLV(domain.SideLay, 2.0, 2.2))
	assert.Zero(t, CLV(domain.SideBack, 3.0, 0))
}

func settleable(side domain.Side, statuses map[int64]string) *persistence.SettleableDecision {
	return &persistence.SettleableDecision{
		Decision: &persistence.ShadowDecision{
			ID:          1,
			MarketID:    10,
			SelectionID: 456,
			Side:        side,
			Stake:       money("10"),
			EntryPrice:  money("3.00"),
			Outcome:     domain.OutcomePending,
		},
		RunnerStatuses: statuses,
	}
}

func TestResolveOutcomeMatrix(t *testing.T) {
	cases := []struct {
		name   string
		side   domain.Side
		status string
		want   domain.Outcome
	}{
		{"back winner wins", domain.SideBack, "WINNER", domain.OutcomeWin},
		{"back loser loses", domain.SideBack, "LOSER", domain.OutcomeLose},
		{"lay winner loses", domain.SideLay, "WINNER", domain.OutcomeLose},
		{"lay loser wins", domain.SideLay, "LOSER", domain.OutcomeWin},
		{"removed voids", domain.SideBack, "REMOVED", domain.OutcomeVoid},
		{"removed vacant voids", domain.SideLay, "REMOVED_VACANT", domain.OutcomeVoid},
		{"active is not settled", domain.SideBack, "ACTIVE", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sd := settleable(tc.side, map[int64]string{456: tc.status})
			assert.Equal(t, tc.want, resolveOutcome(sd))
		})
	}
}

func TestResolveOutcomeVoidFlagWins(t *testing.T) {
	sd := settleable(domain.SideBack, map[int64]string{456: "WINNER"})
	sd.IsVoid = true
	assert.Equal(t, domain.OutcomeVoid, resolveOutcome(sd))
}

func TestResolveOutcomeFallsBackToWinnerSelection(t *testing.T) {
	winner := int64(456)

	sd := settleable(domain.SideBack, nil)
	sd.WinnerSelectionID = &winner
	assert.Equal(t, domain.OutcomeWin, resolveOutcome(sd))

	other := int64(999)
	sd.WinnerSelectionID = &other
	assert.Equal(t, domain.OutcomeLose, resolveOutcome(sd))

	sd.WinnerSelectionID = nil
	assert.Equal(t, domain.Outcome(""), resolveOutcome(sd))
}

func newTestSettler(store *fakeStore, now time.Time) *Settler {
	settler := NewSettler(store.repository(), config.DefaultShadowConfig(), nopLogger())
	settler.now = func() time.Time { return now }
	return settler
}

func TestCaptureClosingPrices(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.closingQueue = []*persistence.DecisionClosing{
		{
			Decision: &persistence.ShadowDecision{
				ID:          1,
				MarketID:    10,
				SelectionID: 456,
				Side:        domain.SideBack,
				EntryPrice:  money("2.0"),
			},
			ScheduledStart: now.Add(2 * time.Minute),
		},
	}
	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 2.2))

	settler := newTestSettler(store, now)
	stats, err := settler.CaptureClosingPrices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DecisionsChecked)
	assert.Equal(t, 1, stats.Captured)
	assert.Equal(t, stats.Captured, stats.Records())

	write, ok := store.closingWrites[1]
	require.True(t, ok)
	assertMoney(t, "2.1", write.mid)
	// Entry 2.0 against a 2.1 close: the back gave up 4.7619%.
	assert.InDelta(t, -4.7619, write.clv, 0.001)
}

func TestCaptureClosingSkipsOneSidedBooks(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.closingQueue = []*persistence.DecisionClosing{
		{
			Decision: &persistence.ShadowDecision{
				ID:          1,
				MarketID:    10,
				SelectionID: 456,
				Side:        domain.SideBack,
				EntryPrice:  money("2.0"),
			},
			ScheduledStart: now,
		},
	}
	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 0))

	settler := newTestSettler(store, now)
	stats, err := settler.CaptureClosingPrices(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Captured)
	assert.Equal(t, 1, stats.SkippedNoQuote)
	assert.Empty(t, store.closingWrites)
}

func TestSettleWritesSettlement(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.settleQueue = []*persistence.SettleableDecision{
		settleable(domain.SideBack, map[int64]string{456: "WINNER"}),
	}

	settler := newTestSettler(store, now)
	stats, err := settler.Settle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DecisionsChecked)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Records())

	settlement, ok := store.settlements[1]
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeWin, settlement.Outcome)
	assertMoney(t, "20.00", settlement.GrossPnl)
	assertMoney(t, "0.40", settlement.Commission)
	assertMoney(t, "19.60", settlement.NetPnl)
	assert.Equal(t, 1.96, settlement.ReturnOnRisk)
	assert.Equal(t, now, settlement.SettledAt)
}

func TestSettleLeavesUnresolvedPending(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.settleQueue = []*persistence.SettleableDecision{
		settleable(domain.SideBack, map[int64]string{456: "ACTIVE"}),
	}

	settler := newTestSettler(store, now)
	stats, err := settler.Settle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NotYetSettled)
	assert.Zero(t, stats.Records())
	assert.Empty(t, store.settlements)
}

func TestSettleStatsMap(t *testing.T) {
	stats := &SettleStats{DecisionsChecked: 5, Wins: 2, Losses: 1, Voids: 1, NotYetSettled: 1}
	m := stats.Map()
	assert.Equal(t, 2, m["wins"])
	assert.Equal(t, 1, m["voids"])
	assert.Equal(t, 4, stats.Records())
}

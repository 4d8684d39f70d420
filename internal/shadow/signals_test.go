package shadow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

func newTestFinder(store *fakeStore, now time.Time) *Finder {
	finder := NewFinder(store.repository(), nopLogger())
	finder.now = func() time.Time { return now }
	return finder
}

func signalMarket(store *fakeStore, now time.Time) *persistence.MarketScoreView {
	view := testView(10, "MATCH_ODDS", 45, now.Add(10*time.Hour))
	store.shadowViews = []*persistence.MarketScoreView{view}
	store.runners[10] = []*persistence.Runner{testRunner(7, 456, 10, "Home")}
	return view
}

func TestFindSignalsComputesWindowChanges(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	signalMarket(store, now)

	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 2.1))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-30*time.Minute), ladderEntry(456, 2.1, 2.2)),
		testSnapshot(10, now.Add(-60*time.Minute), ladderEntry(456, 2.2, 2.3)),
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}

	finder := newTestFinder(store, now)
	signals, err := finder.FindSignals(context.Background(), 2.0)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	signal := signals[0]
	assert.Equal(t, int64(456), signal.SelectionID)
	assert.Equal(t, 2.0, signal.BackPrice)
	assert.Equal(t, 2.1, signal.LayPrice)
	assert.Equal(t, 5.0, signal.SpreadPct)
	assert.Equal(t, 600.0, signal.MinutesToStart)
	assert.Equal(t, 250.0, signal.AvailableToBack)
	assert.Equal(t, 180.0, signal.AvailableToLay)

	require.NotNil(t, signal.Change30m)
	assert.InDelta(t, -4.7619, *signal.Change30m, 0.001)
	require.NotNil(t, signal.Change1h)
	assert.InDelta(t, -9.0909, *signal.Change1h, 0.001)
	require.NotNil(t, signal.Change2h)
	assert.Equal(t, -20.0, *signal.Change2h)

	// Longest window wins as the primary change.
	assert.Equal(t, -20.0, *signal.PrimaryChange())
}

func TestFindSignalsLayFallback(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	signalMarket(store, now)

	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 0))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}

	finder := newTestFinder(store, now)
	signals, err := finder.FindSignals(context.Background(), 2.0)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	assert.InDelta(t, 2.04, signals[0].LayPrice, 0.0001)
}

func TestFindSignalsSkipsHandicapMarkets(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	view := signalMarket(store, now)
	view.MarketType = "ASIAN_HANDICAP"

	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 2.1))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}

	finder := newTestFinder(store, now)
	signals, err := finder.FindSignals(context.Background(), 2.0)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestFindSignalsSkipsPricesOutOfBounds(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)

	for _, price := range []float64{1.05, 60.0} {
		store := newFakeStore()
		signalMarket(store, now)
		store.latest[10] = testSnapshot(10, now, ladderEntry(456, price, price*1.02))
		store.history[10] = []*persistence.MarketSnapshot{
			testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, price*1.2, price*1.25)),
		}

		finder := newTestFinder(store, now)
		signals, err := finder.FindSignals(context.Background(), 2.0)
		require.NoError(t, err)
		assert.Empty(t, signals, "price %.2f should be out of bounds", price)
	}
}

func TestFindSignalsRejectsNoiseMoves(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	signalMarket(store, now)

	// 1.5 -> 3.2 is a +113% move: bad data, not sentiment.
	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 3.2, 3.3))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 1.5, 1.6)),
	}

	finder := newTestFinder(store, now)
	signals, err := finder.FindSignals(context.Background(), 2.0)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestFindSignalsAppliesChangeFloor(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	signalMarket(store, now)

	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.47, 2.52))
	store.history[10] = []*persistence.MarketSnapshot{
		testSnapshot(10, now.Add(-2*time.Hour), ladderEntry(456, 2.5, 2.6)),
	}

	finder := newTestFinder(store, now)
	signals, err := finder.FindSignals(context.Background(), 2.0)
	require.NoError(t, err)
	assert.Empty(t, signals, "a 1.2 percent move is below the floor")
}

func TestFindSignalsSkipsRunnersWithoutHistory(t *testing.T) {
	now := time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	signalMarket(store, now)

	store.latest[10] = testSnapshot(10, now, ladderEntry(456, 2.0, 2.1))

	finder := newTestFinder(store, now)
	signals, err := finder.FindSignals(context.Background(), 2.0)
	require.NoError(t, err)
	assert.Empty(t, signals, "no historical snapshot means no change to measure")
}

func TestChangeForWindowFallbacks(t *testing.T) {
	c30, c1h, c2h := -3.0, -6.0, -12.0

	full := &Signal{Change30m: &c30, Change1h: &c1h, Change2h: &c2h}
	assert.Equal(t, -3.0, *full.ChangeForWindow(30))
	assert.Equal(t, -6.0, *full.ChangeForWindow(60))
	assert.Equal(t, -12.0, *full.ChangeForWindow(120))

	sparse := &Signal{Change30m: &c30}
	assert.Equal(t, -3.0, *sparse.ChangeForWindow(60), "1h window falls back to 30m")
	assert.Equal(t, -3.0, *sparse.ChangeForWindow(120), "primary falls back to the only observation")
	assert.Nil(t, (&Signal{}).ChangeForWindow(120))
}

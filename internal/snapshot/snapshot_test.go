package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/exchange"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// --- fakes ---

type fakeGateway struct {
	exchange.Gateway

	mu      sync.Mutex
	books   map[string]exchange.MarketBook
	bookErr error

	requests [][]string
	depths   []int
}

func (f *fakeGateway) ListMarketBook(_ context.Context, marketIDs []string, priceDepth int) ([]exchange.MarketBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, append([]string(nil), marketIDs...))
	f.depths = append(f.depths, priceDepth)
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	out := make([]exchange.MarketBook, 0, len(marketIDs))
	for _, id := range marketIDs {
		if book, ok := f.books[id]; ok {
			out = append(out, book)
		}
	}
	return out, nil
}

// fakeStore backs in-memory repo fakes. Only the methods the sweep calls are
// implemented; the embedded interfaces panic on anything else.
type fakeStore struct {
	mu sync.Mutex

	open        []*persistence.Market
	staleCutoff time.Time

	snapshots []*persistence.MarketSnapshot
	insertErr error

	stateUpdates []stateUpdate
	closedIDs    []int64
}

type stateUpdate struct {
	marketID int64
	status   string
	inplay   bool
	matched  float64
}

func (f *fakeStore) repository() *persistence.Repository {
	return &persistence.Repository{
		Markets:   &fakeMarketsRepo{store: f},
		Snapshots: &fakeSnapshotsRepo{store: f},
	}
}

type fakeMarketsRepo struct {
	persistence.MarketsRepo
	store *fakeStore
}

func (f *fakeMarketsRepo) ListOpen(_ context.Context, staleCutoff time.Time) ([]*persistence.Market, error) {
	f.store.staleCutoff = staleCutoff
	return f.store.open, nil
}

func (f *fakeMarketsRepo) UpdateBookState(_ context.Context, id int64, status string, inplay bool, totalMatched float64) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.stateUpdates = append(f.store.stateUpdates, stateUpdate{id, status, inplay, totalMatched})
	return nil
}

func (f *fakeMarketsRepo) MarkClosed(_ context.Context, ids []int64) (int64, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.closedIDs = append(f.store.closedIDs, ids...)
	return int64(len(ids)), nil
}

type fakeSnapshotsRepo struct {
	persistence.SnapshotsRepo
	store *fakeStore
}

func (f *fakeSnapshotsRepo) InsertBatch(_ context.Context, snapshots []*persistence.MarketSnapshot) (int64, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.insertErr != nil {
		return 0, f.store.insertErr
	}
	f.store.snapshots = append(f.store.snapshots, snapshots...)
	return int64(len(snapshots)), nil
}

// --- helpers ---

func newTestService(gateway *fakeGateway, store *fakeStore, cfg Config, now time.Time) *Service {
	svc := NewService(gateway, store.repository(), cfg, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func openMarket(id int64, externalID string) *persistence.Market {
	return &persistence.Market{
		ID:             id,
		ExternalID:     externalID,
		Name:           "Match Odds",
		MarketType:     "MATCH_ODDS",
		Status:         string(domain.MarketOpen),
		ScheduledStart: time.Now().Add(6 * time.Hour),
	}
}

func openBook(marketID string, matched float64, runners ...exchange.RunnerBook) exchange.MarketBook {
	return exchange.MarketBook{
		MarketID:     marketID,
		Status:       string(domain.MarketOpen),
		Inplay:       false,
		TotalMatched: matched,
		Runners:      runners,
	}
}

func bookRunner(selectionID int64, back, lay []domain.PriceSize) exchange.RunnerBook {
	return exchange.RunnerBook{
		SelectionID:     selectionID,
		Status:          string(domain.RunnerActive),
		AvailableToBack: back,
		AvailableToLay:  lay,
	}
}

// --- tests ---

func TestRunStoresSnapshotsWithDerivedFields(t *testing.T) {
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	gateway := &fakeGateway{
		books: map[string]exchange.MarketBook{
			"1.2345": openBook("1.2345", 55000,
				bookRunner(101,
					[]domain.PriceSize{{Price: 2.00, Size: 100}, {Price: 1.99, Size: 50}},
					[]domain.PriceSize{{Price: 2.02, Size: 80}},
				),
				bookRunner(102,
					[]domain.PriceSize{{Price: 4.00, Size: 60}},
					[]domain.PriceSize{{Price: 4.40, Size: 40}},
				),
			),
		},
	}
	store := &fakeStore{open: []*persistence.Market{openMarket(7, "1.2345")}}

	svc := newTestService(gateway, store, DefaultConfig(), now)
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.MarketsPolled)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 1, stats.SnapshotsStored)
	assert.Equal(t, stats.SnapshotsStored, stats.Records())
	assert.Equal(t, 0, stats.Errors)

	require.Len(t, store.snapshots, 1)
	snap := store.snapshots[0]
	assert.Equal(t, int64(7), snap.MarketID)
	assert.Equal(t, now, snap.CapturedAt)
	assert.Equal(t, "OPEN", snap.Status)
	assert.False(t, snap.Inplay)
	assert.Equal(t, 55000.0, snap.TotalMatched)

	// Runner 101 spans 1 tick at mid 2.01, runner 102 spans 4 ticks at mid
	// 4.20; the market spread is their average.
	assert.Equal(t, 2.5, snap.SpreadTicks)
	// 1/2.00 + 1/4.00
	assert.Equal(t, 0.75, snap.Overround)
	// Both back levels of runner 101 sit within 5 ticks of best.
	assert.Equal(t, 210.0, snap.BackDepth)
	assert.Equal(t, 120.0, snap.LayDepth)
	assert.Equal(t, 2.01, snap.FavouriteMid)
	// Book reported no total; the ladder sum fills in.
	assert.Equal(t, 330.0, snap.TotalAvailable)

	require.Len(t, snap.Ladder.Runners, 2)
	assert.Equal(t, DefaultConfig().PriceDepth, snap.Ladder.Depth)

	// The stale cutoff trails the sweep time by the configured hours.
	assert.Equal(t, now.Add(-4*time.Hour), store.staleCutoff)
	require.Len(t, gateway.depths, 1)
	assert.Equal(t, 3, gateway.depths[0])
}

func TestRunBatchesBookRequests(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 45; i++ {
		store.open = append(store.open, openMarket(i, fmt.Sprintf("1.%d", 1000+i)))
	}
	gateway := &fakeGateway{books: map[string]exchange.MarketBook{}}

	cfg := DefaultConfig()
	cfg.Parallelism = 1
	svc := newTestService(gateway, store, cfg, time.Now().UTC())
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Batches)
	require.Len(t, gateway.requests, 3)
	assert.Len(t, gateway.requests[0], 20)
	assert.Len(t, gateway.requests[1], 20)
	assert.Len(t, gateway.requests[2], 5)
}

func TestRunSkipsBatchOnTooMuchData(t *testing.T) {
	gateway := &fakeGateway{
		bookErr: &exchange.APIError{Code: exchange.ErrCodeTooMuchData, Message: "too much data"},
	}
	store := &fakeStore{open: []*persistence.Market{openMarket(1, "1.1"), openMarket(2, "1.2")}}

	svc := newTestService(gateway, store, DefaultConfig(), time.Now().UTC())
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BatchesSkipped)
	assert.Equal(t, 0, stats.SnapshotsStored)
	assert.Equal(t, 0, stats.Errors)
	assert.Empty(t, store.closedIDs)
}

func TestRunClosesBatchOnInvalidInput(t *testing.T) {
	gateway := &fakeGateway{
		bookErr: &exchange.APIError{Code: exchange.ErrCodeInvalidInput, Message: "bad market id", HTTPStatus: 400},
	}
	store := &fakeStore{open: []*persistence.Market{openMarket(1, "1.1"), openMarket(2, "1.2")}}

	svc := newTestService(gateway, store, DefaultConfig(), time.Now().UTC())
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.MarketsClosed)
	assert.ElementsMatch(t, []int64{1, 2}, store.closedIDs)
	assert.Equal(t, 0, stats.SnapshotsStored)
}

func TestRunCountsTransientErrorsAndContinues(t *testing.T) {
	gateway := &fakeGateway{bookErr: errors.New("connection reset")}
	store := &fakeStore{open: []*persistence.Market{openMarket(1, "1.1")}}

	svc := newTestService(gateway, store, DefaultConfig(), time.Now().UTC())
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, stats.SnapshotsStored)
}

func TestRunUpdatesStateForNonOpenBooks(t *testing.T) {
	suspended := openBook("1.1", 9000)
	suspended.Status = string(domain.MarketSuspended)
	live := openBook("1.2", 41000, bookRunner(5, []domain.PriceSize{{Price: 1.5, Size: 20}}, nil))
	live.Inplay = true

	gateway := &fakeGateway{books: map[string]exchange.MarketBook{"1.1": suspended, "1.2": live}}
	store := &fakeStore{open: []*persistence.Market{openMarket(1, "1.1"), openMarket(2, "1.2")}}

	svc := newTestService(gateway, store, DefaultConfig(), time.Now().UTC())
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.StateUpdates)
	assert.Equal(t, 0, stats.SnapshotsStored)
	require.Len(t, store.stateUpdates, 2)

	byID := make(map[int64]stateUpdate)
	for _, up := range store.stateUpdates {
		byID[up.marketID] = up
	}
	assert.Equal(t, "SUSPENDED", byID[1].status)
	assert.False(t, byID[1].inplay)
	assert.Equal(t, "OPEN", byID[2].status)
	assert.True(t, byID[2].inplay)
	assert.Equal(t, 41000.0, byID[2].matched)
}

func TestRunAbortsOnStorageError(t *testing.T) {
	gateway := &fakeGateway{
		books: map[string]exchange.MarketBook{
			"1.1": openBook("1.1", 100, bookRunner(5, []domain.PriceSize{{Price: 2, Size: 10}}, []domain.PriceSize{{Price: 2.1, Size: 10}})),
		},
	}
	store := &fakeStore{
		open:      []*persistence.Market{openMarket(1, "1.1")},
		insertErr: errors.New("db down"),
	}

	svc := newTestService(gateway, store, DefaultConfig(), time.Now().UTC())
	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.BatchSize = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.PriceDepth = -1
	assert.Error(t, bad.Validate())
}

func TestStatsMap(t *testing.T) {
	stats := &Stats{MarketsPolled: 40, Batches: 2, SnapshotsStored: 36, StateUpdates: 3, BatchesSkipped: 1, Errors: 1}
	m := stats.Map()
	assert.Equal(t, 36, m["snapshots_stored"])
	assert.Equal(t, 3, m["state_updates"])
	assert.Equal(t, 36, stats.Records())
}

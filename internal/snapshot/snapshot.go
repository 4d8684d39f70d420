// Package snapshot polls live order books for active markets and persists
// point-in-time ladder snapshots. Each sweep batches market ids, fans the
// batches out with bounded parallelism and derives the per-market liquidity
// scalars the profiler aggregates later.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/exchange"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// depthTickWindow is how many tick-increments from best count as depth.
const depthTickWindow = 5

// Config sets the sweep's batching knobs.
type Config struct {
	// BatchSize is how many markets share one book request. Twenty is safe
	// at shallow price depths; bigger batches trip TOO_MUCH_DATA.
	BatchSize int
	// PriceDepth is how many ladder levels to request per side.
	PriceDepth int
	// Parallelism bounds concurrent book requests. The shared limiter still
	// paces the actual calls.
	Parallelism int
	// StaleAfterHours drops markets whose scheduled start passed this long
	// ago from the sweep; the settlement sweep closes them.
	StaleAfterHours int
}

// DefaultConfig returns the production sweep parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:       20,
		PriceDepth:      3,
		Parallelism:     4,
		StaleAfterHours: 4,
	}
}

// Validate checks the knobs are usable.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("snapshot batch size must be positive, got %d", c.BatchSize)
	}
	if c.PriceDepth <= 0 {
		return fmt.Errorf("snapshot price depth must be positive, got %d", c.PriceDepth)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("snapshot parallelism must be positive, got %d", c.Parallelism)
	}
	return nil
}

// Stats counts what one snapshot sweep touched.
type Stats struct {
	MarketsPolled   int `json:"markets_polled"`
	Batches         int `json:"batches"`
	SnapshotsStored int `json:"snapshots_stored"`
	StateUpdates    int `json:"state_updates"`
	MarketsClosed   int `json:"markets_closed"`
	BatchesSkipped  int `json:"batches_skipped"`
	Errors          int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *Stats) Map() map[string]int {
	return map[string]int{
		"markets_polled":   s.MarketsPolled,
		"batches":          s.Batches,
		"snapshots_stored": s.SnapshotsStored,
		"state_updates":    s.StateUpdates,
		"markets_closed":   s.MarketsClosed,
		"batches_skipped":  s.BatchesSkipped,
		"errors":           s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *Stats) Records() int {
	return s.SnapshotsStored
}

// Service runs the snapshot sweep against the exchange.
type Service struct {
	gateway exchange.Gateway
	repos   *persistence.Repository
	config  Config
	logger  zerolog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// NewService builds a snapshot service.
func NewService(gateway exchange.Gateway, repos *persistence.Repository, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		repos:   repos,
		config:  cfg,
		logger:  logger.With().Str("component", "snapshot").Logger(),
		now:     time.Now,
	}
}

// Run executes one sweep: list open pre-start markets, request their books in
// batches and store one snapshot per open book. TOO_MUCH_DATA skips the
// batch, a permanent input rejection closes the batch's markets as stale ids,
// other batch errors are counted and the sweep continues. Storage failures
// abort the sweep.
func (s *Service) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	now := s.now().UTC()

	staleCutoff := now.Add(-time.Duration(s.config.StaleAfterHours) * time.Hour)
	markets, err := s.repos.Markets.ListOpen(ctx, staleCutoff)
	if err != nil {
		return stats, fmt.Errorf("failed to list open markets: %w", err)
	}
	stats.MarketsPolled = len(markets)
	if len(markets) == 0 {
		s.logger.Debug().Msg("no_open_markets")
		return stats, nil
	}

	batches := s.batch(markets)
	stats.Batches = len(batches)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Parallelism)
	for i, b := range batches {
		idx, batch := i, b
		group.Go(func() error {
			return s.sweepBatch(groupCtx, idx, len(batches), batch, now, stats)
		})
	}
	if err := group.Wait(); err != nil {
		return stats, err
	}

	metrics.AddSnapshotsStored(stats.SnapshotsStored)
	s.logger.Info().
		Int("markets", stats.MarketsPolled).
		Int("batches", stats.Batches).
		Int("snapshots", stats.SnapshotsStored).
		Int("state_updates", stats.StateUpdates).
		Int("markets_closed", stats.MarketsClosed).
		Int("errors", stats.Errors).
		Msg("snapshot_sweep_complete")

	return stats, nil
}

// batch splits the market list into book-request groups.
func (s *Service) batch(markets []*persistence.Market) [][]*persistence.Market {
	size := s.config.BatchSize
	batches := make([][]*persistence.Market, 0, (len(markets)+size-1)/size)
	for start := 0; start < len(markets); start += size {
		end := start + size
		if end > len(markets) {
			end = len(markets)
		}
		batches = append(batches, markets[start:end])
	}
	return batches
}

// sweepBatch requests one batch's books and stores the resulting snapshots.
func (s *Service) sweepBatch(ctx context.Context, idx, total int, batch []*persistence.Market, capturedAt time.Time, stats *Stats) error {
	ids := make([]string, 0, len(batch))
	index := make(map[string]*persistence.Market, len(batch))
	for _, m := range batch {
		ids = append(ids, m.ExternalID)
		index[m.ExternalID] = m
	}

	books, err := s.gateway.ListMarketBook(ctx, ids, s.config.PriceDepth)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case exchange.IsTooMuchData(err):
			s.count(stats, func(st *Stats) { st.BatchesSkipped++ })
			s.logger.Warn().Int("batch", idx+1).Int("markets", len(batch)).Msg("batch_skipped_too_much_data")
			return nil
		case exchange.IsInvalidInput(err):
			// Stale exchange ids poison the whole request. Close them so
			// the next sweep proceeds without the batch.
			return s.closeBatch(ctx, idx, batch, stats)
		default:
			s.count(stats, func(st *Stats) { st.Errors++ })
			s.logger.Warn().Err(err).Int("batch", idx+1).Msg("list_market_book_failed")
			return nil
		}
	}

	snapshots := make([]*persistence.MarketSnapshot, 0, len(books))
	for _, book := range books {
		market, ok := index[book.MarketID]
		if !ok {
			continue
		}

		if book.Status != string(domain.MarketOpen) || book.Inplay {
			if err := s.repos.Markets.UpdateBookState(ctx, market.ID, book.Status, book.Inplay, book.TotalMatched); err != nil {
				return fmt.Errorf("failed to update market %s state: %w", market.ExternalID, err)
			}
			s.count(stats, func(st *Stats) { st.StateUpdates++ })
			continue
		}

		snapshots = append(snapshots, s.buildSnapshot(market, book, capturedAt))
	}

	if len(snapshots) > 0 {
		if _, err := s.repos.Snapshots.InsertBatch(ctx, snapshots); err != nil {
			return fmt.Errorf("failed to insert snapshot batch %d: %w", idx+1, err)
		}
		s.count(stats, func(st *Stats) { st.SnapshotsStored += len(snapshots) })
	}

	if idx == 0 || idx == total-1 || (idx+1)%100 == 0 {
		s.logger.Info().
			Int("batch", idx+1).
			Int("of", total).
			Int("snapshots", len(snapshots)).
			Msg("snapshot_batch_progress")
	}
	return nil
}

// closeBatch marks a rejected batch's markets CLOSED.
func (s *Service) closeBatch(ctx context.Context, idx int, batch []*persistence.Market, stats *Stats) error {
	ids := make([]int64, 0, len(batch))
	for _, m := range batch {
		ids = append(ids, m.ID)
	}
	closed, err := s.repos.Markets.MarkClosed(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to close stale batch %d: %w", idx+1, err)
	}
	s.count(stats, func(st *Stats) { st.MarketsClosed += int(closed) })
	s.logger.Warn().Int("batch", idx+1).Int64("closed", closed).Msg("batch_closed_invalid_input")
	return nil
}

// buildSnapshot derives the stored scalars from one open book.
func (s *Service) buildSnapshot(market *persistence.Market, book exchange.MarketBook, capturedAt time.Time) *persistence.MarketSnapshot {
	ladder := domain.Ladder{
		Runners: make([]domain.RunnerLadder, 0, len(book.Runners)),
		Depth:   s.config.PriceDepth,
	}

	var (
		spreadSum    float64
		spreadCount  int
		backDepth    float64
		layDepth     float64
		favouriteMid float64
	)
	for _, r := range book.Runners {
		rl := r.Ladder()
		ladder.Runners = append(ladder.Runners, rl)

		back, lay := rl.BestBack(), rl.BestLay()
		if ticks := domain.SpreadTicks(back, lay); ticks > 0 {
			spreadSum += ticks
			spreadCount++
		}
		backDepth += domain.DepthWithinTicks(rl.Back, depthTickWindow)
		layDepth += domain.DepthWithinTicks(rl.Lay, depthTickWindow)

		if mid := rl.MidPrice(); mid > 0 && (favouriteMid == 0 || mid < favouriteMid) {
			favouriteMid = mid
		}
	}

	var spreadTicks float64
	if spreadCount > 0 {
		spreadTicks = domain.Round(spreadSum/float64(spreadCount), 4)
	}

	totalAvailable := book.TotalAvailable
	if totalAvailable == 0 {
		totalAvailable = ladder.TotalAvailable()
	}

	return &persistence.MarketSnapshot{
		MarketID:       market.ID,
		CapturedAt:     capturedAt,
		Status:         book.Status,
		Inplay:         book.Inplay,
		TotalMatched:   book.TotalMatched,
		TotalAvailable: totalAvailable,
		SpreadTicks:    spreadTicks,
		BackDepth:      domain.Round(backDepth, 2),
		LayDepth:       domain.Round(layDepth, 2),
		Overround:      ladder.Overround(),
		FavouriteMid:   domain.Round(favouriteMid, 4),
		Ladder:         ladder,
	}
}

// count applies a stats mutation under the sweep lock.
func (s *Service) count(stats *Stats, fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(stats)
}

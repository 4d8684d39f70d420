package closing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/exchange"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

const (
	// Markets younger than two hours are usually still in play; older than
	// 48 the exchange has likely purged the book.
	settleMinAge = 2 * time.Hour
	settleMaxAge = 48 * time.Hour

	sweepLimit = 100

	// Closed books are requested in small batches so one purged id cannot
	// fail the whole sweep.
	resultBatchSize  = 5
	resultPriceDepth = 1
)

// SweepStats counts what one settlement sweep touched.
type SweepStats struct {
	MarketsChecked  int `json:"markets_checked"`
	ResultsCaptured int `json:"results_captured"`
	VoidedMarkets   int `json:"voided_markets"`
	NotSettled      int `json:"not_settled"`
	APIErrors       int `json:"api_errors"`
	Errors          int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *SweepStats) Map() map[string]int {
	return map[string]int{
		"markets_checked":  s.MarketsChecked,
		"results_captured": s.ResultsCaptured,
		"voided_markets":   s.VoidedMarkets,
		"not_settled":      s.NotSettled,
		"api_errors":       s.APIErrors,
		"errors":           s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *SweepStats) Records() int {
	return s.ResultsCaptured + s.VoidedMarkets
}

// bookOutcome is the settled state read off one closed exchange book.
type bookOutcome struct {
	winner   *int64
	void     bool
	statuses map[int64]string
}

// Sweeper polls the exchange for settled outcomes of markets that have
// started but carry no result yet.
type Sweeper struct {
	gateway exchange.Gateway
	repos   *persistence.Repository
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSweeper builds a settlement sweeper.
func NewSweeper(gateway exchange.Gateway, repos *persistence.Repository, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		gateway: gateway,
		repos:   repos,
		logger:  logger.With().Str("component", "settlement").Logger(),
		now:     time.Now,
	}
}

// Run sweeps unsettled markets newest first, reading winner and runner
// statuses from closed books. Markets whose book is not yet CLOSED stay
// unsettled and are retried on the next sweep; batch-level exchange failures
// are counted and skipped so the rest of the sweep proceeds.
func (s *Sweeper) Run(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{}
	now := s.now().UTC()

	tr := persistence.TimeRange{From: now.Add(-settleMaxAge), To: now.Add(-settleMinAge)}
	markets, err := s.repos.Markets.ListUnsettled(ctx, tr, sweepLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to list unsettled markets: %w", err)
	}
	stats.MarketsChecked = len(markets)
	if len(markets) == 0 {
		s.logger.Debug().Msg("settlement_sweep_empty")
		return stats, nil
	}

	index := make(map[string]*persistence.Market, len(markets))
	ids := make([]string, 0, len(markets))
	for _, market := range markets {
		index[market.ExternalID] = market
		ids = append(ids, market.ExternalID)
	}

	outcomes := make(map[int64]*bookOutcome)
	for start := 0; start < len(ids); start += resultBatchSize {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		end := start + resultBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		books, err := s.gateway.ListMarketBook(ctx, ids[start:end], resultPriceDepth)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.APIErrors++
			s.logger.Warn().
				Err(err).
				Strs("market_ids", ids[start:end]).
				Msg("settlement_batch_error")
			continue
		}
		for i := range books {
			book := &books[i]
			market, ok := index[book.MarketID]
			if !ok {
				continue
			}
			if outcome := readOutcome(book); outcome != nil {
				outcomes[market.ID] = outcome
			}
		}
	}

	for _, market := range markets {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		outcome, ok := outcomes[market.ID]
		if !ok {
			stats.NotSettled++
			continue
		}
		if err := s.storeOutcome(ctx, market, outcome, now, stats); err != nil {
			stats.Errors++
			s.logger.Error().
				Err(err).
				Int64("market_id", market.ID).
				Msg("settlement_store_error")
		}
	}

	metrics.AddMarketResults("settled", stats.ResultsCaptured)
	metrics.AddMarketResults("voided", stats.VoidedMarkets)
	s.logger.Info().
		Int("markets_checked", stats.MarketsChecked).
		Int("results_captured", stats.ResultsCaptured).
		Int("voided_markets", stats.VoidedMarkets).
		Int("not_settled", stats.NotSettled).
		Int("api_errors", stats.APIErrors).
		Int("errors", stats.Errors).
		Msg("settlement_sweep_complete")

	return stats, nil
}

// readOutcome extracts the settled outcome from a book, or nil if the market
// has not settled. Only CLOSED books carry final runner statuses: a winner
// settles the market, all runners removed voids it, anything else (a closed
// book still showing only ACTIVE runners happens during exchange
// reconciliation) is left for the next sweep.
func readOutcome(book *exchange.MarketBook) *bookOutcome {
	if book.Status != string(domain.MarketClosed) || len(book.Runners) == 0 {
		return nil
	}

	statuses := make(map[int64]string, len(book.Runners))
	var winner *int64
	allRemoved := true
	for _, runner := range book.Runners {
		statuses[runner.SelectionID] = runner.Status
		switch domain.RunnerStatus(runner.Status) {
		case domain.RunnerWinner:
			id := runner.SelectionID
			winner = &id
			allRemoved = false
		case domain.RunnerRemoved, domain.RunnerRemovedVacant:
		default:
			allRemoved = false
		}
	}

	switch {
	case winner != nil:
		return &bookOutcome{winner: winner, statuses: statuses}
	case allRemoved:
		return &bookOutcome{void: true, statuses: statuses}
	default:
		return nil
	}
}

// storeOutcome persists one settled outcome and pushes the final statuses
// down onto the runners.
func (s *Sweeper) storeOutcome(ctx context.Context, market *persistence.Market, outcome *bookOutcome, now time.Time, stats *SweepStats) error {
	result := &persistence.MarketResult{
		MarketID:          market.ID,
		SettledAt:         now,
		WinnerSelectionID: outcome.winner,
		IsVoid:            outcome.void,
		RunnerStatuses:    outcome.statuses,
	}
	if _, err := s.repos.Results.Insert(ctx, result); err != nil {
		// A concurrent sweep got there first; the runners already carry
		// their final statuses.
		if errors.Is(err, persistence.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("failed to insert result: %w", err)
	}

	if err := s.repos.Runners.UpdateStatuses(ctx, market.ID, outcome.statuses); err != nil {
		return fmt.Errorf("failed to update runner statuses: %w", err)
	}

	if outcome.void {
		stats.VoidedMarkets++
		s.logger.Debug().
			Int64("market_id", market.ID).
			Str("external_id", market.ExternalID).
			Msg("market_voided")
		return nil
	}

	stats.ResultsCaptured++
	s.logger.Debug().
		Int64("market_id", market.ID).
		Str("external_id", market.ExternalID).
		Int64("winner_selection_id", *outcome.winner).
		Msg("result_captured")
	return nil
}

package shadow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

const (
	// Closing mids are captured for markets starting within the next few
	// minutes or started up to two hours ago, which covers delayed offs.
	closingLookahead = 5 * time.Minute
	closingLookback  = 2 * time.Hour

	// Settlement waits until the market has been off long enough for the
	// result sweep to have landed.
	settleAfter = 2 * time.Hour
	settleBatch = 200
)

// ClosingStats counts one closing-price capture run.
type ClosingStats struct {
	DecisionsChecked int `json:"decisions_checked"`
	Captured         int `json:"captured"`
	SkippedNoQuote   int `json:"skipped_no_quote"`
	Errors           int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *ClosingStats) Map() map[string]int {
	return map[string]int{
		"decisions_checked": s.DecisionsChecked,
		"captured":          s.Captured,
		"skipped_no_quote":  s.SkippedNoQuote,
		"errors":            s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *ClosingStats) Records() int {
	return s.Captured
}

// SettleStats counts one settlement run.
type SettleStats struct {
	DecisionsChecked int `json:"decisions_checked"`
	Wins             int `json:"wins"`
	Losses           int `json:"losses"`
	Voids            int `json:"voids"`
	NotYetSettled    int `json:"not_yet_settled"`
	Errors           int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *SettleStats) Map() map[string]int {
	return map[string]int{
		"decisions_checked": s.DecisionsChecked,
		"wins":              s.Wins,
		"losses":            s.Losses,
		"voids":             s.Voids,
		"not_yet_settled":   s.NotYetSettled,
		"errors":            s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *SettleStats) Records() int {
	return s.Wins + s.Losses + s.Voids
}

// Settler prices pending decisions at the close and settles them once market
// results arrive. Everything here is bookkeeping on theoretical positions.
type Settler struct {
	repos  *persistence.Repository
	config *config.ShadowConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewSettler builds a settler.
func NewSettler(repos *persistence.Repository, cfg *config.ShadowConfig, logger zerolog.Logger) *Settler {
	return &Settler{
		repos:  repos,
		config: cfg,
		logger: logger.With().Str("component", "settler").Logger(),
		now:    time.Now,
	}
}

// CaptureClosingPrices snapshots the closing mid for decisions whose market
// is at or just past the off, and derives closing line value from it.
func (s *Settler) CaptureClosingPrices(ctx context.Context) (*ClosingStats, error) {
	stats := &ClosingStats{}
	now := s.now().UTC()

	tr := persistence.TimeRange{
		From: now.Add(-closingLookback),
		To:   now.Add(closingLookahead),
	}
	decisions, err := s.repos.Decisions.ListNeedingClosingPrice(ctx, tr)
	if err != nil {
		return stats, fmt.Errorf("failed to list decisions needing closing price: %w", err)
	}
	stats.DecisionsChecked = len(decisions)

	for _, dc := range decisions {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := s.captureClosing(ctx, dc, stats); err != nil {
			stats.Errors++
			s.logger.Error().
				Err(err).
				Int64("decision_id", dc.Decision.ID).
				Msg("closing_price_error")
		}
	}

	s.logger.Info().
		Int("checked", stats.DecisionsChecked).
		Int("captured", stats.Captured).
		Int("skipped_no_quote", stats.SkippedNoQuote).
		Int("errors", stats.Errors).
		Msg("closing_prices_complete")

	return stats, nil
}

func (s *Settler) captureClosing(ctx context.Context, dc *persistence.DecisionClosing, stats *ClosingStats) error {
	snapshot, err := s.repos.Snapshots.LatestForMarket(ctx, dc.Decision.MarketID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snapshot == nil {
		stats.SkippedNoQuote++
		return nil
	}
	rl, ok := snapshot.Ladder.Runner(dc.Decision.SelectionID)
	if !ok {
		stats.SkippedNoQuote++
		return nil
	}
	back, lay := rl.BestBack(), rl.BestLay()
	if back <= 0 || lay <= 0 {
		stats.SkippedNoQuote++
		return nil
	}

	mid := (back + lay) / 2
	entry, _ := dc.Decision.EntryPrice.Float64()
	clv := CLV(dc.Decision.Side, entry, mid)

	midDec := decimal.NewFromFloat(domain.Round(mid, 4))
	if err := s.repos.Decisions.SetClosingPrice(ctx, dc.Decision.ID, midDec, clv); err != nil {
		return fmt.Errorf("failed to set closing price: %w", err)
	}
	stats.Captured++

	s.logger.Debug().
		Int64("decision_id", dc.Decision.ID).
		Float64("closing_mid", domain.Round(mid, 4)).
		Float64("clv_percent", clv).
		Msg("closing_price_captured")

	return nil
}

// Settle resolves pending decisions against settled runner statuses. Markets
// are given two hours past the off before their result is expected.
func (s *Settler) Settle(ctx context.Context) (*SettleStats, error) {
	stats := &SettleStats{}
	cutoff := s.now().UTC().Add(-settleAfter)

	decisions, err := s.repos.Decisions.ListSettleable(ctx, cutoff, settleBatch)
	if err != nil {
		return stats, fmt.Errorf("failed to list settleable decisions: %w", err)
	}
	stats.DecisionsChecked = len(decisions)

	for _, sd := range decisions {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := s.settleDecision(ctx, sd, stats); err != nil {
			stats.Errors++
			s.logger.Error().
				Err(err).
				Int64("decision_id", sd.Decision.ID).
				Msg("settlement_error")
		}
	}

	metrics.AddShadowSettlements("won", stats.Wins)
	metrics.AddShadowSettlements("lost", stats.Losses)
	metrics.AddShadowSettlements("void", stats.Voids)
	s.logger.Info().
		Int("checked", stats.DecisionsChecked).
		Int("wins", stats.Wins).
		Int("losses", stats.Losses).
		Int("voids", stats.Voids).
		Int("not_yet_settled", stats.NotYetSettled).
		Int("errors", stats.Errors).
		Str("disclaimer", Disclaimer).
		Msg("shadow_settlement_complete")

	return stats, nil
}

func (s *Settler) settleDecision(ctx context.Context, sd *persistence.SettleableDecision, stats *SettleStats) error {
	outcome := resolveOutcome(sd)
	if outcome == "" {
		stats.NotYetSettled++
		return nil
	}

	pnl := CalculatePnl(sd.Decision.Side, sd.Decision.Stake, sd.Decision.EntryPrice, outcome, s.config.Stake.CommissionRate)
	settlement := persistence.Settlement{
		Outcome:      outcome,
		GrossPnl:     pnl.Gross,
		Commission:   pnl.Commission,
		NetPnl:       pnl.Net,
		ReturnOnRisk: pnl.ReturnOnRisk,
		SettledAt:    s.now().UTC(),
	}
	if err := s.repos.Decisions.Settle(ctx, sd.Decision.ID, settlement); err != nil {
		return fmt.Errorf("failed to settle decision: %w", err)
	}
	metrics.AddShadowNetPnl(pnl.Net.InexactFloat64())

	switch outcome {
	case domain.OutcomeWin:
		stats.Wins++
	case domain.OutcomeLose:
		stats.Losses++
	case domain.OutcomeVoid:
		stats.Voids++
	}

	s.logger.Info().
		Int64("decision_id", sd.Decision.ID).
		Int64("market_id", sd.Decision.MarketID).
		Str("side", string(sd.Decision.Side)).
		Str("outcome", string(outcome)).
		Str("net_pnl", pnl.Net.String()).
		Str("disclaimer", Disclaimer).
		Msg("shadow_decision_settled")

	return nil
}

// resolveOutcome maps the settled runner status onto the decision. A winner
// pays a back and costs a lay; a loser the reverse; removals void the bet.
// An empty outcome means the result has not landed yet.
func resolveOutcome(sd *persistence.SettleableDecision) domain.Outcome {
	if sd.IsVoid {
		return domain.OutcomeVoid
	}

	status, ok := sd.RunnerStatuses[sd.Decision.SelectionID]
	if !ok {
		if sd.WinnerSelectionID == nil {
			return ""
		}
		if *sd.WinnerSelectionID == sd.Decision.SelectionID {
			status = string(domain.RunnerWinner)
		} else {
			status = string(domain.RunnerLoser)
		}
	}

	switch domain.RunnerStatus(status) {
	case domain.RunnerWinner:
		if sd.Decision.Side == domain.SideBack {
			return domain.OutcomeWin
		}
		return domain.OutcomeLose
	case domain.RunnerLoser:
		if sd.Decision.Side == domain.SideBack {
			return domain.OutcomeLose
		}
		return domain.OutcomeWin
	case domain.RunnerRemoved, domain.RunnerRemovedVacant:
		return domain.OutcomeVoid
	}
	return ""
}

// Pnl carries the money outcome of one settled decision.
type Pnl struct {
	Gross        decimal.Decimal
	Commission   decimal.Decimal
	Net          decimal.Decimal
	MaxLoss      decimal.Decimal
	ReturnOnRisk float64
}

// CalculatePnl prices a settled decision. Commission applies to winnings
// only. Return on risk divides net P&L by the amount that was at risk, so
// back and lay results compare on one scale.
func CalculatePnl(side domain.Side, stake, entry decimal.Decimal, outcome domain.Outcome, commissionRate float64) Pnl {
	zero := decimal.Zero
	if outcome == domain.OutcomeVoid {
		return Pnl{Gross: zero, Commission: zero, Net: zero, MaxLoss: zero}
	}

	one := decimal.NewFromInt(1)
	rate := decimal.NewFromFloat(commissionRate)

	var gross, commission, maxLoss decimal.Decimal
	if side == domain.SideBack {
		maxLoss = stake
		if outcome == domain.OutcomeWin {
			gross = stake.Mul(entry.Sub(one))
			commission = gross.Mul(rate)
		} else {
			gross = stake.Neg()
			commission = zero
		}
	} else {
		maxLoss = stake.Mul(entry.Sub(one))
		if outcome == domain.OutcomeWin {
			gross = stake
			commission = gross.Mul(rate)
		} else {
			gross = maxLoss.Neg()
			commission = zero
		}
	}

	net := gross.Sub(commission)
	var ror float64
	if !maxLoss.IsZero() {
		v, _ := net.Div(maxLoss).Float64()
		ror = domain.Round(v, 4)
	}
	return Pnl{Gross: gross, Commission: commission, Net: net, MaxLoss: maxLoss, ReturnOnRisk: ror}
}

// CLV is the closing line value of an entry against the closing mid, as a
// percentage. Positive means the entry beat the close on its side.
func CLV(side domain.Side, entry, closingMid float64) float64 {
	if entry <= 0 || closingMid <= 0 {
		return 0
	}
	if side == domain.SideLay {
		return domain.Round((closingMid-entry)/entry*100, 4)
	}
	return domain.Round((entry-closingMid)/closingMid*100, 4)
}

// stakeAndRisk sizes a theoretical position: a back risks the stake, a lay
// risks the payout.
func stakeAndRisk(baseStake float64, side domain.Side, entry decimal.Decimal) (stake, maxLoss decimal.Decimal) {
	stake = decimal.NewFromFloat(baseStake)
	maxLoss = stake
	if side == domain.SideLay {
		maxLoss = stake.Mul(entry.Sub(decimal.NewFromInt(1)))
	}
	return stake, maxLoss
}

package shadow

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

const (
	// signalHorizon bounds how far ahead of kickoff signals are gathered.
	signalHorizon = 24 * time.Hour

	// Prices outside this band are dead longshots or near-certainties;
	// neither moves for reasons worth trading.
	minSignalPrice = 1.10
	maxSignalPrice = 50.0

	// layFallbackFactor approximates a missing lay side from the back price.
	layFallbackFactor = 1.02

	// noiseCapPct rejects moves so large they can only be bad data.
	noiseCapPct = 100.0
)

// Handicap lines reprice when the line itself moves, which reads as extreme
// swings that have nothing to do with sentiment.
var excludedSignalTypes = map[string]bool{
	"ASIAN_HANDICAP": true,
	"HANDICAP":       true,
}

// Signal is one runner showing notable best-back movement ahead of kickoff.
// Changes are percentages; negative means the price shortened (steaming),
// positive that it lengthened (drifting).
type Signal struct {
	Market          *persistence.MarketScoreView
	RunnerID        int64
	SelectionID     int64
	RunnerName      string
	BackPrice       float64
	LayPrice        float64
	SpreadPct       float64
	AvailableToBack float64
	AvailableToLay  float64
	MinutesToStart  float64
	Change30m       *float64
	Change1h        *float64
	Change2h        *float64
}

// PrimaryChange is the movement over the longest observed window.
func (s *Signal) PrimaryChange() *float64 {
	for _, change := range []*float64{s.Change2h, s.Change1h, s.Change30m} {
		if change != nil {
			return change
		}
	}
	return nil
}

// ChangeForWindow picks the movement a hypothesis's window asks for, falling
// back to shorter windows when the preferred one has no observation.
func (s *Signal) ChangeForWindow(windowMinutes int) *float64 {
	switch {
	case windowMinutes <= 30:
		return s.Change30m
	case windowMinutes <= 60:
		if s.Change1h != nil {
			return s.Change1h
		}
		return s.Change30m
	default:
		return s.PrimaryChange()
	}
}

// Finder extracts momentum signals from stored snapshots.
type Finder struct {
	repos  *persistence.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewFinder builds a momentum signal finder.
func NewFinder(repos *persistence.Repository, logger zerolog.Logger) *Finder {
	return &Finder{
		repos:  repos,
		logger: logger.With().Str("component", "signals").Logger(),
		now:    time.Now,
	}
}

// FindSignals returns every runner in shadow-phase markets whose primary
// change clears minChangePct. Per-market extraction failures are logged and
// skipped; one broken ladder must not silence the rest of the horizon.
func (f *Finder) FindSignals(ctx context.Context, minChangePct float64) ([]*Signal, error) {
	now := f.now().UTC()
	views, err := f.repos.Scores.ListLatestForShadow(ctx, persistence.TimeRange{
		From: now,
		To:   now.Add(signalHorizon),
	})
	if err != nil {
		return nil, err
	}

	var signals []*Signal
	for _, view := range views {
		if ctx.Err() != nil {
			return signals, ctx.Err()
		}
		if excludedSignalTypes[view.MarketType] {
			continue
		}
		found, err := f.marketSignals(ctx, view, now, minChangePct)
		if err != nil {
			f.logger.Warn().
				Err(err).
				Int64("market_id", view.MarketID).
				Msg("signal_extraction_error")
			continue
		}
		signals = append(signals, found...)
	}
	return signals, nil
}

// Historical comparison windows ordered 30m, 1h, 2h. Each half-open range
// ends where the next begins so one snapshot never feeds two windows.
func historyWindows(now time.Time) [3]persistence.TimeRange {
	return [3]persistence.TimeRange{
		{From: now.Add(-45 * time.Minute), To: now.Add(-25 * time.Minute)},
		{From: now.Add(-90 * time.Minute), To: now.Add(-45 * time.Minute)},
		{From: now.Add(-180 * time.Minute), To: now.Add(-90 * time.Minute)},
	}
}

func (f *Finder) marketSignals(ctx context.Context, view *persistence.MarketScoreView, now time.Time, minChangePct float64) ([]*Signal, error) {
	current, err := f.repos.Snapshots.LatestForMarket(ctx, view.MarketID)
	if err != nil {
		return nil, err
	}
	if current == nil || len(current.Ladder.Runners) == 0 {
		return nil, nil
	}

	var history [3]*persistence.MarketSnapshot
	for i, tr := range historyWindows(now) {
		snaps, err := f.repos.Snapshots.ListForMarketWindow(ctx, view.MarketID, tr)
		if err != nil {
			return nil, err
		}
		if len(snaps) > 0 {
			history[i] = snaps[len(snaps)-1]
		}
	}

	runners, err := f.repos.Runners.ListByMarket(ctx, view.MarketID)
	if err != nil {
		return nil, err
	}
	bySelection := make(map[int64]*persistence.Runner, len(runners))
	for _, r := range runners {
		bySelection[r.ExternalID] = r
	}

	minutesToStart := view.ScheduledStart.Sub(now).Minutes()
	if minutesToStart < 0 {
		minutesToStart = 0
	}

	var signals []*Signal
	for _, rl := range current.Ladder.Runners {
		runner, ok := bySelection[rl.RunnerID]
		if !ok {
			continue
		}

		back := rl.BestBack()
		if back < minSignalPrice || back > maxSignalPrice {
			continue
		}
		lay := rl.BestLay()
		if lay <= 0 {
			lay = back * layFallbackFactor
		}

		signal := &Signal{
			Market:          view,
			RunnerID:        runner.ID,
			SelectionID:     runner.ExternalID,
			RunnerName:      runner.Name,
			BackPrice:       back,
			LayPrice:        lay,
			SpreadPct:       domain.Round((lay-back)/back*100, 4),
			AvailableToBack: bestSize(rl.Back),
			AvailableToLay:  bestSize(rl.Lay),
			MinutesToStart:  domain.Round(minutesToStart, 2),
			Change30m:       priceChange(back, history[0], rl.RunnerID),
			Change1h:        priceChange(back, history[1], rl.RunnerID),
			Change2h:        priceChange(back, history[2], rl.RunnerID),
		}

		primary := signal.PrimaryChange()
		if primary == nil || math.Abs(*primary) < minChangePct || math.Abs(*primary) > noiseCapPct {
			continue
		}
		signals = append(signals, signal)
	}
	return signals, nil
}

// priceChange is the percentage move of the current best back against a
// historical snapshot, nil when the runner had no back side then.
func priceChange(current float64, snapshot *persistence.MarketSnapshot, selectionID int64) *float64 {
	if snapshot == nil {
		return nil
	}
	rl, ok := snapshot.Ladder.Runner(selectionID)
	if !ok {
		return nil
	}
	old := rl.BestBack()
	if old <= 0 {
		return nil
	}
	change := domain.Round((current-old)/old*100, 4)
	return &change
}

func bestSize(levels []domain.PriceSize) float64 {
	if len(levels) == 0 {
		return 0
	}
	return levels[0].Size
}

package closing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

const (
	eventResultLimit = 100
	refineLimit      = 50
	deriveLimit      = 100
)

// EventResultStats counts what one event-result capture touched.
type EventResultStats struct {
	EventsChecked   int `json:"events_checked"`
	ResultsCaptured int `json:"results_captured"`
	SkippedVoid     int `json:"skipped_void"`
	Errors          int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *EventResultStats) Map() map[string]int {
	return map[string]int{
		"events_checked":   s.EventsChecked,
		"results_captured": s.ResultsCaptured,
		"skipped_void":     s.SkippedVoid,
		"errors":           s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *EventResultStats) Records() int {
	return s.ResultsCaptured
}

// RefineStats counts what one correct-score refinement run touched.
type RefineStats struct {
	EventsChecked      int `json:"events_checked"`
	ResultsUpdated     int `json:"results_updated"`
	SkippedUnparseable int `json:"skipped_unparseable"`
	MarketsDerived     int `json:"markets_derived"`
	Errors             int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *RefineStats) Map() map[string]int {
	return map[string]int{
		"events_checked":      s.EventsChecked,
		"results_updated":     s.ResultsUpdated,
		"skipped_unparseable": s.SkippedUnparseable,
		"markets_derived":     s.MarketsDerived,
		"errors":              s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *RefineStats) Records() int {
	return s.ResultsUpdated + s.MarketsDerived
}

// Resolver turns settled markets into event scorelines and scorelines back
// into market results. Match-odds winners give a rough scoreline immediately;
// correct-score winners replace it with the exact one when available, which
// then settles goal markets the exchange sweep missed.
type Resolver struct {
	repos  *persistence.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewResolver builds an event-result resolver.
func NewResolver(repos *persistence.Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{
		repos:  repos,
		logger: logger.With().Str("component", "results").Logger(),
		now:    time.Now,
	}
}

// CaptureEventResults derives a heuristic scoreline for each event whose
// match-odds market has settled: 1-1 for a draw, 2-1 for a home win, 1-2 for
// an away win. The scores are placeholders carrying only who won; a later
// correct-score refinement replaces them where one settled.
func (r *Resolver) CaptureEventResults(ctx context.Context) (*EventResultStats, error) {
	stats := &EventResultStats{}

	candidates, err := r.repos.EventResults.ListMatchOddsCandidates(ctx, eventResultLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to list match-odds candidates: %w", err)
	}
	stats.EventsChecked = len(candidates)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if candidate.IsVoid {
			stats.SkippedVoid++
			continue
		}

		home, away := heuristicScoreline(candidate)
		result := &persistence.EventResult{
			EventID:    candidate.EventID,
			HomeScore:  home,
			AwayScore:  away,
			TotalGoals: home + away,
			BTTS:       home > 0 && away > 0,
			Source:     persistence.ResultSourceMatchOdds,
		}
		if _, err := r.repos.EventResults.Upsert(ctx, result); err != nil {
			stats.Errors++
			r.logger.Error().
				Err(err).
				Int64("event_id", candidate.EventID).
				Msg("event_result_error")
			continue
		}
		stats.ResultsCaptured++
		r.logger.Debug().
			Int64("event_id", candidate.EventID).
			Int("home_score", home).
			Int("away_score", away).
			Str("winner_name", candidate.WinnerName).
			Msg("event_result_captured")
	}

	r.logger.Info().
		Int("events_checked", stats.EventsChecked).
		Int("results_captured", stats.ResultsCaptured).
		Int("skipped_void", stats.SkippedVoid).
		Int("errors", stats.Errors).
		Msg("event_results_complete")

	return stats, nil
}

// RefineFromScores upgrades heuristic scorelines to exact ones wherever a
// correct-score market settled, then settles goal markets the exchange never
// resolved by deriving their results from the refined scorelines.
func (r *Resolver) RefineFromScores(ctx context.Context) (*RefineStats, error) {
	stats := &RefineStats{}

	refinements, err := r.repos.EventResults.ListCorrectScoreCandidates(ctx, refineLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to list correct-score candidates: %w", err)
	}
	stats.EventsChecked = len(refinements)

	for _, refinement := range refinements {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		home, away, err := parseScoreline(refinement.WinnerName)
		if err != nil {
			// "Any Other Home Win" and friends carry no exact score.
			stats.SkippedUnparseable++
			continue
		}

		result := &persistence.EventResult{
			EventID:    refinement.EventID,
			HomeScore:  home,
			AwayScore:  away,
			TotalGoals: home + away,
			BTTS:       home > 0 && away > 0,
			Source:     persistence.ResultSourceCorrectScore,
		}
		if _, err := r.repos.EventResults.Upsert(ctx, result); err != nil {
			stats.Errors++
			r.logger.Error().
				Err(err).
				Int64("event_id", refinement.EventID).
				Msg("score_refinement_error")
			continue
		}
		stats.ResultsUpdated++
		r.logger.Debug().
			Int64("event_id", refinement.EventID).
			Int("home_score", home).
			Int("away_score", away).
			Msg("scoreline_refined")
	}

	if err := r.deriveMarketResults(ctx, stats); err != nil {
		return stats, err
	}

	metrics.AddMarketResults("derived", stats.MarketsDerived)
	r.logger.Info().
		Int("events_checked", stats.EventsChecked).
		Int("results_updated", stats.ResultsUpdated).
		Int("skipped_unparseable", stats.SkippedUnparseable).
		Int("markets_derived", stats.MarketsDerived).
		Int("errors", stats.Errors).
		Msg("score_refinement_complete")

	return stats, nil
}

// deriveMarketResults settles started-but-unresolved markets whose event has
// an exact scoreline. The exchange sweep normally gets there first; this
// covers books that were purged before the sweep saw them closed.
func (r *Resolver) deriveMarketResults(ctx context.Context, stats *RefineStats) error {
	cutoff := r.now().UTC().Add(-settleMinAge)
	derivables, err := r.repos.Results.ListScoreDerivable(ctx, cutoff, deriveLimit)
	if err != nil {
		return fmt.Errorf("failed to list score-derivable markets: %w", err)
	}

	for _, derivable := range derivables {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.deriveMarket(ctx, derivable, stats); err != nil {
			stats.Errors++
			r.logger.Error().
				Err(err).
				Int64("market_id", derivable.MarketID).
				Str("market_type", derivable.MarketType).
				Msg("market_derivation_error")
		}
	}
	return nil
}

// deriveMarket resolves one market from its event's scoreline. Market types a
// scoreline cannot settle are left alone.
func (r *Resolver) deriveMarket(ctx context.Context, d *persistence.ScoreDerivable, stats *RefineStats) error {
	runners, err := r.repos.Runners.ListByMarket(ctx, d.MarketID)
	if err != nil {
		return fmt.Errorf("failed to list runners: %w", err)
	}

	winner := derivedWinner(d, runners)
	if winner == nil {
		return nil
	}

	statuses := make(map[int64]string, len(runners))
	for _, runner := range runners {
		if runner.ExternalID == winner.ExternalID {
			statuses[runner.ExternalID] = string(domain.RunnerWinner)
		} else {
			statuses[runner.ExternalID] = string(domain.RunnerLoser)
		}
	}

	winnerID := winner.ExternalID
	result := &persistence.MarketResult{
		MarketID:          d.MarketID,
		SettledAt:         r.now().UTC(),
		WinnerSelectionID: &winnerID,
		RunnerStatuses:    statuses,
	}
	if _, err := r.repos.Results.Insert(ctx, result); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("failed to insert derived result: %w", err)
	}
	if err := r.repos.Runners.UpdateStatuses(ctx, d.MarketID, statuses); err != nil {
		return fmt.Errorf("failed to update runner statuses: %w", err)
	}

	stats.MarketsDerived++
	r.logger.Debug().
		Int64("market_id", d.MarketID).
		Str("market_type", d.MarketType).
		Str("winner_name", winner.Name).
		Msg("market_result_derived")
	return nil
}

// heuristicScoreline guesses a scoreline from a match-odds winner. Only the
// outcome matters downstream until a correct-score refinement lands.
func heuristicScoreline(c *persistence.EventResultCandidate) (home, away int) {
	switch {
	case strings.Contains(strings.ToLower(c.WinnerName), "draw"):
		return 1, 1
	case c.WinnerSortPriority == 1:
		return 2, 1
	default:
		return 1, 2
	}
}

// parseScoreline reads a correct-score runner name like "2 - 1".
func parseScoreline(name string) (home, away int, err error) {
	parts := strings.Split(name, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("not a scoreline: %q", name)
	}
	home, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("not a scoreline: %q", name)
	}
	away, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("not a scoreline: %q", name)
	}
	return home, away, nil
}

// derivedWinner picks the runner a scoreline settles, or nil when the market
// type cannot be resolved from a score alone. Runners arrive ordered by sort
// priority, so for match odds the first non-draw runner is the home side.
func derivedWinner(d *persistence.ScoreDerivable, runners []*persistence.Runner) *persistence.Runner {
	switch {
	case d.MarketType == "MATCH_ODDS":
		if d.HomeScore == d.AwayScore {
			return runnerContaining(runners, "draw")
		}
		sides := make([]*persistence.Runner, 0, 2)
		for _, runner := range runners {
			if !strings.Contains(strings.ToLower(runner.Name), "draw") {
				sides = append(sides, runner)
			}
		}
		if len(sides) < 2 {
			return nil
		}
		if d.HomeScore > d.AwayScore {
			return sides[0]
		}
		return sides[1]

	case strings.HasPrefix(d.MarketType, "OVER_UNDER_"):
		line, ok := overUnderLine(d.MarketType)
		if !ok {
			return nil
		}
		if float64(d.TotalGoals) > line {
			return runnerWithPrefix(runners, "over")
		}
		return runnerWithPrefix(runners, "under")

	case d.MarketType == "BOTH_TEAMS_TO_SCORE":
		if d.BTTS {
			return runnerEqualFold(runners, "yes")
		}
		return runnerEqualFold(runners, "no")
	}
	return nil
}

// overUnderLine reads the goal line off a market type: OVER_UNDER_25 is 2.5.
func overUnderLine(marketType string) (float64, bool) {
	raw := strings.TrimPrefix(marketType, "OVER_UNDER_")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return float64(n) / 10, true
}

func runnerContaining(runners []*persistence.Runner, substr string) *persistence.Runner {
	for _, runner := range runners {
		if strings.Contains(strings.ToLower(runner.Name), substr) {
			return runner
		}
	}
	return nil
}

func runnerWithPrefix(runners []*persistence.Runner, prefix string) *persistence.Runner {
	for _, runner := range runners {
		if strings.HasPrefix(strings.ToLower(runner.Name), prefix) {
			return runner
		}
	}
	return nil
}

func runnerEqualFold(runners []*persistence.Runner, name string) *persistence.Runner {
	for _, runner := range runners {
		if strings.EqualFold(runner.Name, name) {
			return runner
		}
	}
	return nil
}

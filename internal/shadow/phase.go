// Package shadow decides, prices and settles theoretical positions once
// enough market evidence has accumulated. Decisions are database rows, never
// orders: no code path in this package or anywhere else touches an order
// endpoint, and the phase gate cannot return the live phase.
package shadow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// Disclaimer accompanies every surface that shows shadow-trading figures.
const Disclaimer = "PAPER TRADING: all figures theoretical, no real money at risk."

// activationScoreFloor is the score at which a market counts toward the
// high-score activation signal.
const activationScoreFloor = 30.0

// PhaseStatus is one evaluation of the trading phase gate.
type PhaseStatus struct {
	Phase   domain.TradingPhase            `json:"phase"`
	Ready   bool                           `json:"ready"`
	Reason  string                         `json:"reason,omitempty"`
	Signals map[string]config.SignalDetail `json:"signals,omitempty"`
}

// PhaseStats counts what one phase check touched.
type PhaseStats struct {
	SignalsMet int  `json:"signals_met"`
	Promoted   int  `json:"promoted"`
	InShadow   bool `json:"in_shadow"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *PhaseStats) Map() map[string]int {
	inShadow := 0
	if s.InShadow {
		inShadow = 1
	}
	return map[string]int{
		"signals_met": s.SignalsMet,
		"promoted":    s.Promoted,
		"in_shadow":   inShadow,
	}
}

// Records is the headline count for the JobRun row.
func (s *PhaseStats) Records() int {
	return s.Promoted
}

// Gate decides the current trading phase from observed data volumes.
type Gate struct {
	repos  *persistence.Repository
	config *config.ShadowConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewGate builds a phase gate.
func NewGate(repos *persistence.Repository, cfg *config.ShadowConfig, logger zerolog.Logger) *Gate {
	return &Gate{
		repos:  repos,
		config: cfg,
		logger: logger.With().Str("component", "phase_gate").Logger(),
		now:    time.Now,
	}
}

// Evaluate returns the current trading phase with per-signal progress.
// Promotion stops at shadow: nothing here can yield the live phase, no matter
// what the data says.
func (g *Gate) Evaluate(ctx context.Context) (*PhaseStatus, error) {
	if !g.config.Enabled {
		return &PhaseStatus{Phase: domain.Phase1Collecting, Reason: "shadow trading disabled"}, nil
	}

	closing, err := g.repos.Closing.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count closing data: %w", err)
	}
	results, err := g.repos.Results.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}
	highScore, err := g.repos.Scores.CountHighScoreMarkets(ctx, activationScoreFloor)
	if err != nil {
		return nil, fmt.Errorf("failed to count high-score markets: %w", err)
	}
	days, err := g.repos.Closing.DateSpanDays(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to measure collection span: %w", err)
	}

	ready, signals := g.config.Activation.CheckActivation(int(closing), int(results), int(highScore), days)
	status := &PhaseStatus{Phase: domain.Phase1Collecting, Ready: ready, Signals: signals}

	switch {
	case ready && g.config.AutoActivatePhase2:
		status.Phase = domain.Phase2Shadow
	case ready:
		status.Reason = "auto activation disabled"
	}
	return status, nil
}

// InShadow reports whether paper trading is active. Phase-gated jobs call
// this before doing any work.
func (g *Gate) InShadow(ctx context.Context) (bool, error) {
	status, err := g.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return status.Phase == domain.Phase2Shadow, nil
}

// Run is the hourly phase check: it evaluates the gate, logs progress toward
// activation and promotes collecting competitions once shadow opens.
func (g *Gate) Run(ctx context.Context) (*PhaseStats, error) {
	stats := &PhaseStats{}

	status, err := g.Evaluate(ctx)
	if err != nil {
		return stats, err
	}
	for _, signal := range status.Signals {
		if signal.Met {
			stats.SignalsMet++
		}
	}
	stats.InShadow = status.Phase == domain.Phase2Shadow
	metrics.SetShadowPhase(stats.InShadow)

	if stats.InShadow {
		promoted, err := g.repos.Competitions.PromoteToShadow(ctx, g.now().UTC())
		if err != nil {
			return stats, fmt.Errorf("failed to promote competitions: %w", err)
		}
		stats.Promoted = int(promoted)
		if promoted > 0 {
			g.logger.Info().
				Int64("promoted", promoted).
				Str("disclaimer", Disclaimer).
				Msg("competitions_promoted_to_shadow")
		}
	}

	g.logger.Info().
		Str("phase", string(status.Phase)).
		Bool("ready", status.Ready).
		Int("signals_met", stats.SignalsMet).
		Msg("phase_status_checked")

	return stats, nil
}

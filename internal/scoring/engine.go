// Package scoring turns daily market profiles into bounded exploitability
// scores. High matched volume is a penalty: heavily traded markets are
// efficient and score low. The sweet spot is moderate spread, moderate
// volatility and enough depth to actually trade.
package scoring

import (
	"math"
	"strconv"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
)

// Input carries one profile's metrics into the engine.
type Input struct {
	SpreadTicks   float64
	Volatility    float64
	UpdateRate    float64
	Depth         float64
	Volume        float64
	MeanPrice     float64
	SnapshotCount int
}

// Result is a scored market: total in [0, 100], components in [0, 100], and
// the guards that zeroed it (empty when none did).
type Result struct {
	TotalScore      float64
	SpreadScore     float64
	VolatilityScore float64
	UpdateRateScore float64
	DepthScore      float64
	VolumePenalty   float64
	GuardsFailed    []string
}

// Passed reports whether the input cleared every guard.
func (r Result) Passed() bool {
	return len(r.GuardsFailed) == 0
}

// Engine computes exploitability scores. It holds only configuration: the
// same input always yields the same result.
type Engine struct {
	weights config.ScoringWeights
	norm    config.ScoringNormalisation
	guards  config.ScoringGuards
}

// NewEngine builds an engine from scoring configuration.
func NewEngine(cfg *config.ScoringConfig) *Engine {
	return &Engine{
		weights: cfg.Weights,
		norm:    cfg.Normalisation,
		guards:  cfg.Guards,
	}
}

// Score computes the exploitability score for one set of metrics. Guards are
// checked first: any failure zeroes the total and every component, with the
// failed guard names recorded.
func (e *Engine) Score(in Input) Result {
	if failed := e.checkGuards(in); len(failed) > 0 {
		return Result{GuardsFailed: failed}
	}

	spread := e.spreadNorm(in.SpreadTicks)
	volatility := e.volatilityNorm(in.Volatility)
	update := e.updateNorm(in.UpdateRate)
	depth := e.depthNorm(in.Depth)
	penalty := e.volumePenaltyNorm(in.Volume)

	raw := e.weights.Spread*spread +
		e.weights.Volatility*volatility +
		e.weights.UpdateRate*update +
		e.weights.Depth*depth -
		e.weights.VolumePenalty*penalty

	return Result{
		TotalScore:      domain.Round(clamp(raw*100, 0, 100), 2),
		SpreadScore:     domain.Round(spread*100, 2),
		VolatilityScore: domain.Round(volatility*100, 2),
		UpdateRateScore: domain.Round(update*100, 2),
		DepthScore:      domain.Round(depth*100, 2),
		VolumePenalty:   domain.Round(penalty*100, 2),
	}
}

// checkGuards returns the names of every failed disqualifier. Names embed
// the configured threshold so stored rows stay meaningful after retuning.
func (e *Engine) checkGuards(in Input) []string {
	var failed []string
	if in.Depth < e.guards.AbsoluteMinDepth {
		failed = append(failed, "depth_below_"+formatThreshold(e.guards.AbsoluteMinDepth))
	}
	if in.SpreadTicks > e.guards.AbsoluteMaxSpreadTicks {
		failed = append(failed, "spread_above_"+formatThreshold(e.guards.AbsoluteMaxSpreadTicks))
	}
	if in.SnapshotCount < e.guards.MinSnapshotsRequired {
		failed = append(failed, "snapshots_below_"+strconv.Itoa(e.guards.MinSnapshotsRequired))
	}
	if in.Volume > e.guards.AbsoluteMaxVolume {
		failed = append(failed, "volume_above_"+formatThreshold(e.guards.AbsoluteMaxVolume))
	}
	return failed
}

// spreadNorm is trapezoidal. Below MinTicks the market is too efficient and
// caps at 0.3; MinTicks..SweetSpotMax rises to 1.0; above SweetSpotMax it
// decays to zero at MaxTicks.
func (e *Engine) spreadNorm(ticks float64) float64 {
	p := e.norm.Spread
	switch {
	case ticks < p.MinTicks:
		return ticks / p.MinTicks * 0.3
	case ticks <= p.SweetSpotMax:
		return 0.3 + (ticks-p.MinTicks)/(p.SweetSpotMax-p.MinTicks)*0.7
	default:
		return math.Max(0, 1.0-(ticks-p.SweetSpotMax)/(p.MaxTicks-p.SweetSpotMax))
	}
}

// volatilityNorm peaks at Target. No movement means no opportunity, too much
// means chaos.
func (e *Engine) volatilityNorm(vol float64) float64 {
	p := e.norm.Volatility
	if vol <= 0 {
		return 0
	}
	if vol < p.Target {
		return vol / p.Target
	}
	span := p.Max - p.Target
	if span <= 0 {
		return 0
	}
	return math.Max(0, 1.0-(vol-p.Target)/span)
}

// updateNorm ramps to 0.3 at Min, then follows a log curve with diminishing
// returns, capped at 1 from Max.
func (e *Engine) updateNorm(rate float64) float64 {
	p := e.norm.UpdateRate
	if rate <= 0 {
		return 0
	}
	if rate < p.Min {
		return rate / p.Min * 0.3
	}
	return clamp(math.Log(1+rate)/math.Log(1+p.Max), 0, 1)
}

// depthNorm is zero below Min (untradeable), rises to 1 at Optimal, then
// decays toward a 0.7 floor at Max. Very deep books signal efficiency but
// remain tradeable.
func (e *Engine) depthNorm(depth float64) float64 {
	p := e.norm.Depth
	if depth < p.Min {
		return 0
	}
	if depth <= p.Optimal {
		return (depth - p.Min) / (p.Optimal - p.Min)
	}
	span := p.Max - p.Optimal
	if span <= 0 {
		return 1
	}
	return math.Max(0.7, 1.0-(depth-p.Optimal)/span*0.3)
}

// volumePenaltyNorm is the efficiency penalty: free below Threshold, linear
// up to Max, pinned at full penalty from the hard cap.
func (e *Engine) volumePenaltyNorm(volume float64) float64 {
	p := e.norm.Volume
	if volume <= p.Threshold {
		return 0
	}
	if volume >= p.HardCap {
		return 1
	}
	span := p.Max - p.Threshold
	if span <= 0 {
		return 1
	}
	return clamp((volume-p.Threshold)/span, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// formatThreshold renders a guard threshold without a trailing ".0" so names
// read depth_below_100 rather than depth_below_100.0.
func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

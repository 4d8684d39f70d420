package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds the exploitability scoring parameters: component
// weights, per-component normalisation curves and the hard guards that zero a
// market out entirely.
type ScoringConfig struct {
	Weights       ScoringWeights       `yaml:"weights"`
	Normalisation ScoringNormalisation `yaml:"normalisation"`
	Guards        ScoringGuards        `yaml:"guards"`
}

// ScoringWeights are the component weights. The volume penalty weight is
// subtracted from the weighted sum, not added.
type ScoringWeights struct {
	Spread        float64 `yaml:"spread"`
	Volatility    float64 `yaml:"volatility"`
	UpdateRate    float64 `yaml:"update_rate"`
	Depth         float64 `yaml:"depth"`
	VolumePenalty float64 `yaml:"volume_penalty"`
}

// ScoringNormalisation holds the per-component curve parameters.
type ScoringNormalisation struct {
	Spread     SpreadNorm     `yaml:"spread"`
	Volatility VolatilityNorm `yaml:"volatility"`
	UpdateRate UpdateRateNorm `yaml:"update_rate"`
	Depth      DepthNorm      `yaml:"depth"`
	Volume     VolumeNorm     `yaml:"volume"`
}

// SpreadNorm shapes the spread trapezoid: below MinTicks is too efficient,
// MinTicks..SweetSpotMax is the sweet spot, above MaxTicks scores zero.
type SpreadNorm struct {
	MinTicks     float64 `yaml:"min_ticks"`
	SweetSpotMax float64 `yaml:"sweet_spot_max"`
	MaxTicks     float64 `yaml:"max_ticks"`
}

// VolatilityNorm peaks at Target and decays to zero at Max.
type VolatilityNorm struct {
	Target float64 `yaml:"target"`
	Max    float64 `yaml:"max"`
}

// UpdateRateNorm ramps up to Min then follows a log curve capped at Max.
type UpdateRateNorm struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DepthNorm is zero below Min, linear up to Optimal, then decays toward a
// 0.7 floor at Max.
type DepthNorm struct {
	Min     float64 `yaml:"min"`
	Optimal float64 `yaml:"optimal"`
	Max     float64 `yaml:"max"`
}

// VolumeNorm shapes the penalty: free below Threshold, linear to Max, pinned
// at full penalty from HardCap. HardCap is also a guard.
type VolumeNorm struct {
	Threshold float64 `yaml:"threshold"`
	Max       float64 `yaml:"max"`
	HardCap   float64 `yaml:"hard_cap"`
}

// ScoringGuards are absolute disqualifiers. A market failing any guard gets a
// zero score with the failed guard names recorded.
type ScoringGuards struct {
	AbsoluteMinDepth       float64 `yaml:"absolute_min_depth"`
	AbsoluteMaxSpreadTicks float64 `yaml:"absolute_max_spread_ticks"`
	AbsoluteMaxVolume      float64 `yaml:"absolute_max_volume"`
	MinSnapshotsRequired   int     `yaml:"min_snapshots_required"`
}

// LoadScoringConfig loads the scoring configuration from a YAML file. A
// missing file yields the defaults.
func LoadScoringConfig(configPath string) (*ScoringConfig, error) {
	if configPath == "" {
		configPath = GetScoringConfigPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		return DefaultScoringConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring config: %w", err)
	}

	config := DefaultScoringConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse scoring config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}

	return config, nil
}

// Validate checks weights and curve parameters for consistency.
func (c *ScoringConfig) Validate() error {
	weights := map[string]float64{
		"spread":         c.Weights.Spread,
		"volatility":     c.Weights.Volatility,
		"update_rate":    c.Weights.UpdateRate,
		"depth":          c.Weights.Depth,
		"volume_penalty": c.Weights.VolumePenalty,
	}
	for name, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("weight %s must be in [0, 1], got %f", name, w)
		}
	}

	if c.Normalisation.Spread.MinTicks <= 0 {
		return fmt.Errorf("spread min_ticks must be positive, got %f", c.Normalisation.Spread.MinTicks)
	}
	if c.Normalisation.Spread.SweetSpotMax <= c.Normalisation.Spread.MinTicks {
		return fmt.Errorf("spread sweet_spot_max (%f) must exceed min_ticks (%f)",
			c.Normalisation.Spread.SweetSpotMax, c.Normalisation.Spread.MinTicks)
	}
	if c.Normalisation.Spread.MaxTicks <= c.Normalisation.Spread.SweetSpotMax {
		return fmt.Errorf("spread max_ticks (%f) must exceed sweet_spot_max (%f)",
			c.Normalisation.Spread.MaxTicks, c.Normalisation.Spread.SweetSpotMax)
	}
	if c.Normalisation.Volatility.Target <= 0 || c.Normalisation.Volatility.Max <= c.Normalisation.Volatility.Target {
		return fmt.Errorf("volatility curve requires 0 < target < max")
	}
	if c.Normalisation.Depth.Min < 0 || c.Normalisation.Depth.Optimal <= c.Normalisation.Depth.Min {
		return fmt.Errorf("depth curve requires 0 <= min < optimal")
	}
	if c.Normalisation.Volume.Threshold <= 0 || c.Normalisation.Volume.Max <= c.Normalisation.Volume.Threshold {
		return fmt.Errorf("volume curve requires 0 < threshold < max")
	}
	if c.Normalisation.Volume.HardCap < c.Normalisation.Volume.Max {
		return fmt.Errorf("volume hard_cap (%f) must be >= max (%f)",
			c.Normalisation.Volume.HardCap, c.Normalisation.Volume.Max)
	}
	if c.Guards.MinSnapshotsRequired < 0 {
		return fmt.Errorf("min_snapshots_required cannot be negative")
	}
	if c.Guards.AbsoluteMaxVolume <= 0 {
		return fmt.Errorf("absolute_max_volume must be positive, got %f", c.Guards.AbsoluteMaxVolume)
	}

	return nil
}

// Hash returns a stable hex digest of the canonical YAML rendering. Score
// rows reference the config version row carrying this hash, so re-scoring
// with changed parameters is always distinguishable.
func (c *ScoringConfig) Hash() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scoring config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DefaultScoringConfig returns the production scoring parameters.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Weights: ScoringWeights{
			Spread:        0.25,
			Volatility:    0.25,
			UpdateRate:    0.15,
			Depth:         0.20,
			VolumePenalty: 0.15,
		},
		Normalisation: ScoringNormalisation{
			Spread:     SpreadNorm{MinTicks: 2, SweetSpotMax: 8, MaxTicks: 12},
			Volatility: VolatilityNorm{Target: 0.04, Max: 0.12},
			UpdateRate: UpdateRateNorm{Min: 0.2, Max: 3.0},
			Depth:      DepthNorm{Min: 150, Optimal: 1500, Max: 8000},
			Volume:     VolumeNorm{Threshold: 30000, Max: 200000, HardCap: 500000},
		},
		Guards: ScoringGuards{
			AbsoluteMinDepth:       100,
			AbsoluteMaxSpreadTicks: 20,
			AbsoluteMaxVolume:      500000,
			MinSnapshotsRequired:   5,
		},
	}
}

// GetScoringConfigPath returns the default path for the scoring config file.
func GetScoringConfigPath() string {
	return filepath.Join("config", "scoring.yaml")
}

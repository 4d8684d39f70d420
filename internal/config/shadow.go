package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Decision strategies a market-type rule can select.
const (
	StrategyBackBestValue = "back_best_value"
	StrategyBackFavorite  = "back_favorite"
	StrategyBackUnderdog  = "back_underdog"
	StrategyBackUnder     = "back_under"
	StrategyBackOver      = "back_over"
	StrategyBackNo        = "back_no"
	StrategyBackYes       = "back_yes"
	StrategyLayFavorite   = "lay_favorite"
	StrategySkip          = "skip"
)

var knownStrategies = map[string]bool{
	StrategyBackBestValue: true,
	StrategyBackFavorite:  true,
	StrategyBackUnderdog:  true,
	StrategyBackUnder:     true,
	StrategyBackOver:      true,
	StrategyBackNo:        true,
	StrategyBackYes:       true,
	StrategyLayFavorite:   true,
	StrategySkip:          true,
}

// ShadowConfig is the complete paper-trading configuration. Everything here
// drives theoretical positions only; no order placement exists anywhere in
// the system.
type ShadowConfig struct {
	Enabled            bool `yaml:"enabled"`
	AutoActivatePhase2 bool `yaml:"auto_activate_phase2"`

	// LiveTradingEnabled must be false. Loading a config with it set is an
	// error, and phase evaluation never returns the live phase.
	LiveTradingEnabled          bool `yaml:"live_trading_enabled"`
	RequireManualLiveActivation bool `yaml:"require_manual_live_activation"`

	Activation  ActivationThresholds      `yaml:"activation"`
	Entry       EntryCriteria             `yaml:"entry"`
	Stake       StakeConfig               `yaml:"stake"`
	MarketRules map[string]MarketTypeRule `yaml:"market_rules"`
}

// ActivationThresholds gate the move from data collection to shadow trading.
type ActivationThresholds struct {
	MinClosingData      int `yaml:"min_closing_data"`
	MinResults          int `yaml:"min_results"`
	MinHighScoreMarkets int `yaml:"min_high_score_markets"`
	MinDaysCollecting   int `yaml:"min_days_collecting"`
}

// EntryCriteria qualify a market for a score-threshold shadow decision. The
// 6-24 hour pre-start window is where sharp money shows up.
type EntryCriteria struct {
	MinScore          float64 `yaml:"min_score"`
	MinMinutesToStart int     `yaml:"min_minutes_to_start"`
	MaxMinutesToStart int     `yaml:"max_minutes_to_start"`
	MinTotalMatched   float64 `yaml:"min_total_matched"`
	MaxSpreadPercent  float64 `yaml:"max_spread_percent"`
	MarketStatus      string  `yaml:"market_status"`
	RequireNotInPlay  bool    `yaml:"require_not_in_play"`
	MaxMarketsPerRun  int     `yaml:"max_markets_per_run"`
}

// StakeConfig sizes theoretical stakes. CommissionRate is the single source
// of truth for the commission applied to winnings at settlement.
type StakeConfig struct {
	BaseStake           float64 `yaml:"base_stake"`
	UseKelly            bool    `yaml:"use_kelly"`
	KellyFraction       float64 `yaml:"kelly_fraction"`
	MaxStakePerMarket   float64 `yaml:"max_stake_per_market"`
	MaxExposurePerEvent float64 `yaml:"max_exposure_per_event"`
	MaxDailyExposure    float64 `yaml:"max_daily_exposure"`
	CommissionRate      float64 `yaml:"commission_rate"`
}

// MarketTypeRule describes how the score-threshold decision maker trades one
// market type.
type MarketTypeRule struct {
	Enabled           bool   `yaml:"enabled"`
	Strategy          string `yaml:"strategy"`
	Description       string `yaml:"description"`
	RunnerNamePattern string `yaml:"runner_name_pattern,omitempty"`
}

// LoadShadowConfig loads the shadow-trading configuration. A missing file
// yields the defaults. A config enabling live trading is rejected.
func LoadShadowConfig(configPath string) (*ShadowConfig, error) {
	if configPath == "" {
		configPath = GetShadowConfigPath()
	}

	config := DefaultShadowConfig()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read shadow config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse shadow config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shadow config: %w", err)
	}

	return config, nil
}

// Validate enforces the safety pins and basic consistency.
func (c *ShadowConfig) Validate() error {
	if c.LiveTradingEnabled {
		return fmt.Errorf("live_trading_enabled must be false: this system is paper trading only")
	}
	if c.Activation.MinClosingData <= 0 || c.Activation.MinResults <= 0 ||
		c.Activation.MinHighScoreMarkets <= 0 || c.Activation.MinDaysCollecting <= 0 {
		return fmt.Errorf("activation thresholds must all be positive")
	}
	if c.Entry.MinMinutesToStart >= c.Entry.MaxMinutesToStart {
		return fmt.Errorf("entry window min_minutes_to_start (%d) must be below max_minutes_to_start (%d)",
			c.Entry.MinMinutesToStart, c.Entry.MaxMinutesToStart)
	}
	if c.Entry.MaxSpreadPercent <= 0 {
		return fmt.Errorf("entry max_spread_percent must be positive, got %f", c.Entry.MaxSpreadPercent)
	}
	if c.Stake.BaseStake <= 0 {
		return fmt.Errorf("stake base_stake must be positive, got %f", c.Stake.BaseStake)
	}
	if c.Stake.CommissionRate < 0 || c.Stake.CommissionRate >= 1 {
		return fmt.Errorf("stake commission_rate must be in [0, 1), got %f", c.Stake.CommissionRate)
	}
	for marketType, rule := range c.MarketRules {
		if !knownStrategies[rule.Strategy] {
			return fmt.Errorf("market rule %s: unknown strategy %q", marketType, rule.Strategy)
		}
	}
	return nil
}

// GetMarketRule returns the rule for a market type; unknown types are not
// traded.
func (c *ShadowConfig) GetMarketRule(marketType string) MarketTypeRule {
	if rule, ok := c.MarketRules[marketType]; ok {
		return rule
	}
	return MarketTypeRule{
		Enabled:     false,
		Strategy:    StrategySkip,
		Description: "Unknown market type - not traded",
	}
}

// CheckActivation evaluates the thresholds against observed counts. The
// returned details map one entry per signal with current/target/met.
func (a ActivationThresholds) CheckActivation(closingData, results, highScore, days int) (bool, map[string]SignalDetail) {
	details := map[string]SignalDetail{
		"closing_data": {
			Current: closingData,
			Target:  a.MinClosingData,
			Met:     closingData >= a.MinClosingData,
		},
		"results": {
			Current: results,
			Target:  a.MinResults,
			Met:     results >= a.MinResults,
		},
		"high_score_markets": {
			Current: highScore,
			Target:  a.MinHighScoreMarkets,
			Met:     highScore >= a.MinHighScoreMarkets,
		},
		"days_collecting": {
			Current: days,
			Target:  a.MinDaysCollecting,
			Met:     days >= a.MinDaysCollecting,
		},
	}
	ready := true
	for _, d := range details {
		if !d.Met {
			ready = false
		}
	}
	return ready, details
}

// SignalDetail reports one activation signal's progress.
type SignalDetail struct {
	Current int  `json:"current"`
	Target  int  `json:"target"`
	Met     bool `json:"met"`
}

// DefaultShadowConfig returns the production paper-trading configuration.
func DefaultShadowConfig() *ShadowConfig {
	return &ShadowConfig{
		Enabled:                     true,
		AutoActivatePhase2:          true,
		LiveTradingEnabled:          false,
		RequireManualLiveActivation: true,
		Activation: ActivationThresholds{
			MinClosingData:      500,
			MinResults:          200,
			MinHighScoreMarkets: 50,
			MinDaysCollecting:   2,
		},
		Entry: EntryCriteria{
			MinScore:          30,
			MinMinutesToStart: 360,
			MaxMinutesToStart: 1440,
			MinTotalMatched:   5000,
			MaxSpreadPercent:  5.0,
			MarketStatus:      "OPEN",
			RequireNotInPlay:  true,
			MaxMarketsPerRun:  50,
		},
		Stake: StakeConfig{
			BaseStake:           10.00,
			UseKelly:            false,
			KellyFraction:       0.25,
			MaxStakePerMarket:   50.00,
			MaxExposurePerEvent: 100.00,
			MaxDailyExposure:    500.00,
			CommissionRate:      0.02,
		},
		MarketRules: map[string]MarketTypeRule{
			"MATCH_ODDS": {
				Enabled:     true,
				Strategy:    StrategyBackBestValue,
				Description: "Back runner where score indicates mispricing",
			},
			"OVER_UNDER_25": {
				Enabled:           true,
				Strategy:          StrategyBackUnder,
				Description:       "Back Under 2.5 when score is high (less public action)",
				RunnerNamePattern: `Under 2\.5`,
			},
			"OVER_UNDER_15": {
				Enabled:           true,
				Strategy:          StrategyBackUnder,
				Description:       "Back Under 1.5 when score is high",
				RunnerNamePattern: `Under 1\.5`,
			},
			"OVER_UNDER_35": {
				Enabled:           true,
				Strategy:          StrategyBackUnder,
				Description:       "Back Under 3.5 when score is high",
				RunnerNamePattern: `Under 3\.5`,
			},
			"BOTH_TEAMS_TO_SCORE": {
				Enabled:           true,
				Strategy:          StrategyBackNo,
				Description:       "Back 'No' when score indicates value",
				RunnerNamePattern: `No`,
			},
			"DRAW_NO_BET": {
				Enabled:     true,
				Strategy:    StrategyBackBestValue,
				Description: "Back runner with best value signal",
			},
			"DOUBLE_CHANCE": {
				Enabled:     true,
				Strategy:    StrategyBackBestValue,
				Description: "Back runner with best value signal",
			},
			"HALF_TIME_FULL_TIME": {
				Enabled:     false,
				Strategy:    StrategySkip,
				Description: "Skipped - too many selections, complex",
			},
			"CORRECT_SCORE": {
				Enabled:     true,
				Strategy:    StrategyBackBestValue,
				Description: "Tested via hypothesis engine (correct_score_value) with specific criteria",
			},
			"ASIAN_HANDICAP": {
				Enabled:     false,
				Strategy:    StrategySkip,
				Description: "Skipped - requires line selection logic",
			},
		},
	}
}

// GetShadowConfigPath returns the default path for the shadow config file.
func GetShadowConfigPath() string {
	return filepath.Join("config", "shadow.yaml")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultShadowConfig_Valid(t *testing.T) {
	config := DefaultShadowConfig()
	require.NoError(t, config.Validate())

	assert.True(t, config.Enabled)
	assert.True(t, config.AutoActivatePhase2)
	assert.False(t, config.LiveTradingEnabled)
	assert.True(t, config.RequireManualLiveActivation)

	assert.Equal(t, 500, config.Activation.MinClosingData)
	assert.Equal(t, 200, config.Activation.MinResults)
	assert.Equal(t, 50, config.Activation.MinHighScoreMarkets)
	assert.Equal(t, 2, config.Activation.MinDaysCollecting)

	assert.InDelta(t, 30.0, config.Entry.MinScore, 1e-9)
	assert.Equal(t, 360, config.Entry.MinMinutesToStart)
	assert.Equal(t, 1440, config.Entry.MaxMinutesToStart)
	assert.InDelta(t, 10.00, config.Stake.BaseStake, 1e-9)
	assert.InDelta(t, 0.02, config.Stake.CommissionRate, 1e-9)
}

func TestShadowConfig_LiveTradingRejected(t *testing.T) {
	config := DefaultShadowConfig()
	config.LiveTradingEnabled = true

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live_trading_enabled must be false")
}

func TestLoadShadowConfig_LiveTradingInFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.yaml")
	body := `
enabled: true
live_trading_enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := LoadShadowConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live_trading_enabled")
}

func TestShadowConfig_UnknownStrategyRejected(t *testing.T) {
	config := DefaultShadowConfig()
	config.MarketRules["MATCH_ODDS"] = MarketTypeRule{
		Enabled:  true,
		Strategy: "yolo_max_leverage",
	}

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestShadowConfig_CheckActivation(t *testing.T) {
	config := DefaultShadowConfig()

	tests := []struct {
		name        string
		closingData int
		results     int
		highScore   int
		days        int
		wantReady   bool
	}{
		{"all thresholds met exactly", 500, 200, 50, 2, true},
		{"all comfortably exceeded", 1200, 480, 93, 5, true},
		{"closing data one short", 499, 200, 50, 2, false},
		{"results short", 500, 199, 50, 2, false},
		{"high scores short", 500, 200, 49, 2, false},
		{"first day of collection", 500, 200, 50, 1, false},
		{"nothing collected", 0, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready, details := config.Activation.CheckActivation(tt.closingData, tt.results, tt.highScore, tt.days)
			assert.Equal(t, tt.wantReady, ready)

			require.Len(t, details, 4)
			for _, key := range []string{"closing_data", "results", "high_score_markets", "days_collecting"} {
				assert.Contains(t, details, key)
			}
			assert.Equal(t, tt.closingData, details["closing_data"].Current)
			assert.Equal(t, 500, details["closing_data"].Target)
		})
	}
}

func TestShadowConfig_GetMarketRule(t *testing.T) {
	config := DefaultShadowConfig()

	rule := config.GetMarketRule("MATCH_ODDS")
	assert.True(t, rule.Enabled)
	assert.Equal(t, StrategyBackBestValue, rule.Strategy)

	rule = config.GetMarketRule("SOME_EXOTIC_MARKET")
	assert.False(t, rule.Enabled)
	assert.Equal(t, StrategySkip, rule.Strategy)
}

func TestShadowConfigValidate_Thresholds(t *testing.T) {
	config := DefaultShadowConfig()
	config.Entry.MaxMinutesToStart = config.Entry.MinMinutesToStart - 1
	require.Error(t, config.Validate())

	config = DefaultShadowConfig()
	config.Stake.BaseStake = 0
	require.Error(t, config.Validate())

	config = DefaultShadowConfig()
	config.Stake.CommissionRate = 1.5
	require.Error(t, config.Validate())
}

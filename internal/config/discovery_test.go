package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDiscoveryConfig(t *testing.T) {
	config := DefaultDiscoveryConfig()
	require.Empty(t, config.ValidateConfig())

	assert.Equal(t, []string{"soccer"}, config.EnabledSports)
	assert.Equal(t, 72, config.LookaheadHours)
	assert.Equal(t, 20, config.EventBatchSize)
	assert.Equal(t, 50, config.MarketBatchSize)
	assert.Equal(t, 200, config.MaxCatalogueResults)
	assert.Contains(t, config.EnabledMarketTypes, "MATCH_ODDS")
	assert.Contains(t, config.EnabledMarketTypes, "CORRECT_SCORE")
}

func TestDiscoveryConfig_ShouldExclude(t *testing.T) {
	config := DefaultDiscoveryConfig()

	tests := []struct {
		name string
		want bool
	}{
		{"International Friendlies", true},
		{"Club Friendly Matches", true},
		{"Premier League U21", true},
		{"u19 Bundesliga", true},
		{"Spanish Tercera - Reserve Teams", true},
		{"FA Women's Super League", true},
		{"Amateur Cup", true},
		{"English Premier League", false},
		{"UEFA Champions League", false},
		{"Serie A", false},
		{"Copa Libertadores", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.ShouldExclude(tt.name))
		})
	}
}

func TestDiscoveryConfig_SportExternalID(t *testing.T) {
	assert.Equal(t, "1", SportExternalID("soccer"))
	assert.Equal(t, "7", SportExternalID("horse_racing"))
	assert.Equal(t, "2", SportExternalID("Tennis"))
	assert.Equal(t, "", SportExternalID("chess"))
}

func TestDiscoveryConfig_Validate(t *testing.T) {
	config := DefaultDiscoveryConfig()
	config.EnabledSports = nil
	issues := config.ValidateConfig()
	require.NotEmpty(t, issues)

	config = DefaultDiscoveryConfig()
	config.LookaheadHours = 0
	issues = config.ValidateConfig()
	require.NotEmpty(t, issues)

	config = DefaultDiscoveryConfig()
	config.EnabledSports = []string{"quidditch"}
	issues = config.ValidateConfig()
	require.NotEmpty(t, issues)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// DiscoveryConfig controls what the discovery sweep ingests. The philosophy
// is ingest broadly and let the scoring engine filter: the only name-based
// filtering is the hard-exclusion list, which exists to save API quota on
// fixtures that can never be worth snapshotting.
type DiscoveryConfig struct {
	EnabledSports       []string `yaml:"enabled_sports"`
	HardExclusions      []string `yaml:"hard_exclusions"`
	EnabledMarketTypes  []string `yaml:"enabled_market_types"`
	LookaheadHours      int      `yaml:"lookahead_hours"`
	EventBatchSize      int      `yaml:"event_batch_size"`
	MarketBatchSize     int      `yaml:"market_batch_size"`
	MaxCatalogueResults int      `yaml:"max_catalogue_results"`
	StaleEventHours     int      `yaml:"stale_event_hours"`
}

// LoadDiscoveryConfig loads discovery configuration from file. A missing file
// yields the defaults.
func LoadDiscoveryConfig(configPath string) (*DiscoveryConfig, error) {
	if configPath == "" {
		configPath = GetDiscoveryConfigPath()
	}
	if _, err := os.Stat(configPath); err != nil {
		return DefaultDiscoveryConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery config: %w", err)
	}

	config := DefaultDiscoveryConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse discovery YAML: %w", err)
	}

	return config, nil
}

// SaveDiscoveryConfig saves discovery configuration to file.
func SaveDiscoveryConfig(config *DiscoveryConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write discovery config: %w", err)
	}

	return nil
}

// ValidateConfig validates the discovery configuration for consistency.
func (dc *DiscoveryConfig) ValidateConfig() []string {
	var errors []string

	if len(dc.EnabledSports) == 0 {
		errors = append(errors, "at least one sport must be enabled")
	}
	for _, sport := range dc.EnabledSports {
		if SportExternalID(sport) == "" {
			errors = append(errors, fmt.Sprintf("unknown sport: %s", sport))
		}
	}
	if len(dc.EnabledMarketTypes) == 0 {
		errors = append(errors, "at least one market type must be enabled")
	}
	if dc.LookaheadHours <= 0 {
		errors = append(errors, fmt.Sprintf("lookahead_hours must be positive, got %d", dc.LookaheadHours))
	}
	if dc.EventBatchSize <= 0 || dc.EventBatchSize > 100 {
		errors = append(errors, fmt.Sprintf("event_batch_size %d outside (0, 100] range", dc.EventBatchSize))
	}
	if dc.MarketBatchSize <= 0 || dc.MarketBatchSize > 200 {
		errors = append(errors, fmt.Sprintf("market_batch_size %d outside (0, 200] range", dc.MarketBatchSize))
	}
	if dc.StaleEventHours <= 0 {
		errors = append(errors, fmt.Sprintf("stale_event_hours must be positive, got %d", dc.StaleEventHours))
	}

	return errors
}

// ShouldExclude reports whether a competition name matches a hard-exclusion
// pattern. Matching is case-insensitive substring; there is deliberately no
// quality or tier filtering here.
func (dc *DiscoveryConfig) ShouldExclude(competitionName string) bool {
	nameLower := strings.ToLower(competitionName)
	for _, pattern := range dc.HardExclusions {
		if strings.Contains(nameLower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// sportExternalIDs maps configured sport names to exchange event-type ids.
var sportExternalIDs = map[string]string{
	"soccer":       "1",
	"tennis":       "2",
	"golf":         "3",
	"cricket":      "4",
	"rugby_union":  "5",
	"boxing":       "6",
	"horse_racing": "7",
	"motor_sport":  "8",
}

// SportExternalID returns the exchange event-type id for a sport name, or ""
// if the sport is unknown.
func SportExternalID(sportName string) string {
	return sportExternalIDs[strings.ToLower(sportName)]
}

// DefaultDiscoveryConfig returns the production discovery configuration.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{
		EnabledSports: []string{"soccer"},
		HardExclusions: []string{
			"friendly",
			"u21",
			"u19",
			"u17",
			"reserve",
			"amateur",
			"women",
		},
		EnabledMarketTypes: []string{
			"MATCH_ODDS",
			"OVER_UNDER_25",
			"OVER_UNDER_15",
			"OVER_UNDER_35",
			"BOTH_TEAMS_TO_SCORE",
			"CORRECT_SCORE",
		},
		LookaheadHours:      72,
		EventBatchSize:      20,
		MarketBatchSize:     50,
		MaxCatalogueResults: 200,
		StaleEventHours:     4,
	}
}

// GetDiscoveryConfigPath returns the default path for the discovery config.
func GetDiscoveryConfigPath() string {
	return filepath.Join("config", "discovery.yaml")
}

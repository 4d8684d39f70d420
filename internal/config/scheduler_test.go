package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchedulerConfig_Valid(t *testing.T) {
	config := DefaultSchedulerConfig()
	require.NoError(t, config.Validate())
	assert.Len(t, config.Jobs, 14)
	assert.Equal(t, "UTC", config.Global.Timezone)

	discover, ok := config.Job("discover_markets")
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, discover.Interval())
	assert.Equal(t, 5*time.Minute, discover.SoftLimit())
	assert.Equal(t, 6*time.Minute, discover.HardLimit())
	assert.False(t, discover.PhaseGated)

	profiles, ok := config.Job("compute_daily_profiles")
	require.True(t, ok)
	require.NotNil(t, profiles.HourlyAtMinute)
	assert.Equal(t, 5, *profiles.HourlyAtMinute)

	decisions, ok := config.Job("make_shadow_decisions")
	require.True(t, ok)
	assert.True(t, decisions.PhaseGated)
	assert.Equal(t, 2*time.Minute, decisions.Interval())

	for _, job := range config.Jobs {
		assert.True(t, job.Enabled, "job %s should be enabled by default", job.Name)
	}
}

func TestSchedulerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SchedulerConfig)
		wantErr string
	}{
		{
			name: "duplicate name",
			mutate: func(c *SchedulerConfig) {
				c.Jobs = append(c.Jobs, c.Jobs[0])
			},
			wantErr: "duplicate job name",
		},
		{
			name: "both schedules set",
			mutate: func(c *SchedulerConfig) {
				c.Jobs[0].HourlyAtMinute = minutePtr(10)
			},
			wantErr: "exactly one",
		},
		{
			name: "no schedule set",
			mutate: func(c *SchedulerConfig) {
				c.Jobs[0].IntervalSeconds = 0
			},
			wantErr: "exactly one",
		},
		{
			name: "minute out of range",
			mutate: func(c *SchedulerConfig) {
				c.Jobs[2].HourlyAtMinute = minutePtr(75)
			},
			wantErr: "outside [0, 59]",
		},
		{
			name: "hard limit below soft",
			mutate: func(c *SchedulerConfig) {
				c.Jobs[0].HardLimitSec = c.Jobs[0].SoftLimitSec - 1
			},
			wantErr: "hard_limit_sec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultSchedulerConfig()
			tt.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSchedulerConfig_FileOverridesJobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	body := `
jobs:
  - name: discover_markets
    enabled: true
    interval_seconds: 60
    soft_limit_sec: 30
    hard_limit_sec: 45
global:
  timezone: UTC
  orphan_after_sec: 1800
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	config, err := LoadSchedulerConfig(path)
	require.NoError(t, err)
	assert.Len(t, config.Jobs, 1)
	assert.Equal(t, 1800, config.Global.OrphanAfterSec)

	job, ok := config.Job("discover_markets")
	require.True(t, ok)
	assert.Equal(t, time.Minute, job.Interval())
}

func TestLoadSchedulerConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadSchedulerConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, config.Jobs, 14)
}

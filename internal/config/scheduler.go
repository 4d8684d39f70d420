package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig holds the job table for the scheduler daemon.
type SchedulerConfig struct {
	Jobs   []JobSpec       `yaml:"jobs"`
	Global SchedulerGlobal `yaml:"global"`
}

// SchedulerGlobal holds global scheduler settings.
type SchedulerGlobal struct {
	Timezone string `yaml:"timezone"`
	// OrphanAfterSec marks a running JobRun as failed when its started_at is
	// older than this and no completion was recorded (crashed worker).
	OrphanAfterSec int `yaml:"orphan_after_sec"`
}

// JobSpec is one scheduled job. Exactly one of IntervalSeconds or
// HourlyAtMinute must be set.
type JobSpec struct {
	Name            string `yaml:"name"`
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"interval_seconds,omitempty"`
	HourlyAtMinute  *int   `yaml:"hourly_at_minute,omitempty"`
	SoftLimitSec    int    `yaml:"soft_limit_sec"`
	HardLimitSec    int    `yaml:"hard_limit_sec"`
	// PhaseGated jobs consult the phase gate first and record a skipped run
	// while the system is still collecting data.
	PhaseGated bool `yaml:"phase_gated,omitempty"`
}

// Interval returns the job's interval schedule, or 0 when hourly.
func (j JobSpec) Interval() time.Duration {
	return time.Duration(j.IntervalSeconds) * time.Second
}

// SoftLimit returns the soft time limit as a duration.
func (j JobSpec) SoftLimit() time.Duration {
	return time.Duration(j.SoftLimitSec) * time.Second
}

// HardLimit returns the hard time limit as a duration.
func (j JobSpec) HardLimit() time.Duration {
	return time.Duration(j.HardLimitSec) * time.Second
}

// LoadSchedulerConfig loads the job table from a YAML file. A missing file
// yields the defaults.
func LoadSchedulerConfig(configPath string) (*SchedulerConfig, error) {
	if configPath == "" {
		configPath = GetSchedulerConfigPath()
	}

	config := DefaultSchedulerConfig()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read scheduler config: %w", err)
		}
		loaded := &SchedulerConfig{}
		if err := yaml.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("failed to parse scheduler config: %w", err)
		}
		if len(loaded.Jobs) > 0 {
			config.Jobs = loaded.Jobs
		}
		if loaded.Global.Timezone != "" {
			config.Global.Timezone = loaded.Global.Timezone
		}
		if loaded.Global.OrphanAfterSec > 0 {
			config.Global.OrphanAfterSec = loaded.Global.OrphanAfterSec
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	return config, nil
}

// Validate checks every job has exactly one schedule and sane limits.
func (c *SchedulerConfig) Validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job with empty name")
		}
		if seen[job.Name] {
			return fmt.Errorf("duplicate job name: %s", job.Name)
		}
		seen[job.Name] = true

		hasInterval := job.IntervalSeconds > 0
		hasHourly := job.HourlyAtMinute != nil
		if hasInterval == hasHourly {
			return fmt.Errorf("job %s: exactly one of interval_seconds or hourly_at_minute must be set", job.Name)
		}
		if hasHourly && (*job.HourlyAtMinute < 0 || *job.HourlyAtMinute > 59) {
			return fmt.Errorf("job %s: hourly_at_minute %d outside [0, 59]", job.Name, *job.HourlyAtMinute)
		}
		if job.SoftLimitSec <= 0 || job.HardLimitSec <= 0 {
			return fmt.Errorf("job %s: time limits must be positive", job.Name)
		}
		if job.HardLimitSec < job.SoftLimitSec {
			return fmt.Errorf("job %s: hard_limit_sec (%d) below soft_limit_sec (%d)",
				job.Name, job.HardLimitSec, job.SoftLimitSec)
		}
	}
	return nil
}

// Job returns the JobSpec for the named job.
func (c *SchedulerConfig) Job(name string) (JobSpec, bool) {
	for _, job := range c.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return JobSpec{}, false
}

func minutePtr(m int) *int { return &m }

// DefaultSchedulerConfig returns the production job table.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Global: SchedulerGlobal{
			Timezone:       "UTC",
			OrphanAfterSec: 3600,
		},
		Jobs: []JobSpec{
			{Name: "discover_markets", Enabled: true, IntervalSeconds: 900, SoftLimitSec: 300, HardLimitSec: 360},
			{Name: "capture_snapshots", Enabled: true, IntervalSeconds: 300, SoftLimitSec: 45, HardLimitSec: 60},
			{Name: "compute_daily_profiles", Enabled: true, HourlyAtMinute: minutePtr(5), SoftLimitSec: 540, HardLimitSec: 600},
			{Name: "score_markets", Enabled: true, IntervalSeconds: 300, SoftLimitSec: 150, HardLimitSec: 180},
			{Name: "aggregate_competition_stats", Enabled: true, HourlyAtMinute: minutePtr(30), SoftLimitSec: 120, HardLimitSec: 180},
			{Name: "capture_closing_data", Enabled: true, IntervalSeconds: 120, SoftLimitSec: 60, HardLimitSec: 90},
			{Name: "capture_results", Enabled: true, IntervalSeconds: 900, SoftLimitSec: 120, HardLimitSec: 180},
			{Name: "capture_event_results", Enabled: true, IntervalSeconds: 1800, SoftLimitSec: 120, HardLimitSec: 180},
			{Name: "update_results_from_scores", Enabled: true, HourlyAtMinute: minutePtr(45), SoftLimitSec: 120, HardLimitSec: 180},
			{Name: "check_phase_status", Enabled: true, HourlyAtMinute: minutePtr(0), SoftLimitSec: 30, HardLimitSec: 60},
			{Name: "make_shadow_decisions", Enabled: true, IntervalSeconds: 120, SoftLimitSec: 60, HardLimitSec: 90, PhaseGated: true},
			{Name: "capture_closing_prices", Enabled: true, IntervalSeconds: 120, SoftLimitSec: 60, HardLimitSec: 90},
			{Name: "settle_shadow_decisions", Enabled: true, IntervalSeconds: 900, SoftLimitSec: 120, HardLimitSec: 180},
			{Name: "update_hypothesis_stats", Enabled: true, HourlyAtMinute: minutePtr(15), SoftLimitSec: 60, HardLimitSec: 90},
		},
	}
}

// GetSchedulerConfigPath returns the default path for the scheduler config.
func GetSchedulerConfigPath() string {
	return filepath.Join("config", "scheduler.yaml")
}

// Package scheduler runs the observation pipeline's jobs on their configured
// cadence. Every run is recorded in the job_runs table, so the audit trail of
// what ran, for how long, and what it touched survives restarts; a job that
// dies with its run still open is failed by orphan recovery at the next
// startup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/metrics"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// tickInterval is the scheduler's clock resolution. Intervals are multiples
// of it and hourly jobs fire inside a one-minute window, so fifteen seconds
// keeps both accurate without busy-waiting.
const tickInterval = 15 * time.Second

// Stats is what a job handler reports for its JobRun row.
type Stats interface {
	// Records is the headline count of rows the run touched.
	Records() int
	// Map flattens the run's counters for the metadata column.
	Map() map[string]int
}

// Handler executes one job run. The context carries the job's soft time
// limit; handlers are expected to return promptly once it expires.
type Handler func(ctx context.Context) (Stats, error)

// PhaseGate tells phase-gated jobs whether shadow mode is active.
type PhaseGate interface {
	InShadow(ctx context.Context) (bool, error)
}

// RunResult is the outcome of one job execution.
type RunResult struct {
	JobName   string
	RunID     int64
	Status    string
	Records   int
	Stats     map[string]int
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// JobInfo describes one configured job for operator surfaces.
type JobInfo struct {
	Name       string `json:"name"`
	Schedule   string `json:"schedule"`
	Enabled    bool   `json:"enabled"`
	PhaseGated bool   `json:"phase_gated"`
	Registered bool   `json:"registered"`
}

// job carries a spec plus its scheduling bookkeeping.
type job struct {
	spec    config.JobSpec
	lastRun time.Time
}

// Scheduler dispatches registered handlers on the configured job table.
type Scheduler struct {
	config   *config.SchedulerConfig
	repos    *persistence.Repository
	gate     PhaseGate
	logger   zerolog.Logger
	now      func() time.Time
	handlers map[string]Handler

	mu      sync.Mutex
	jobs    []*job
	running map[string]bool

	wg        sync.WaitGroup
	startTime time.Time
}

// New builds a scheduler over the given job table. The gate may be nil when
// no phase-gated jobs are registered.
func New(cfg *config.SchedulerConfig, repos *persistence.Repository, gate PhaseGate, logger zerolog.Logger) *Scheduler {
	jobs := make([]*job, 0, len(cfg.Jobs))
	for _, spec := range cfg.Jobs {
		jobs = append(jobs, &job{spec: spec})
	}
	return &Scheduler{
		config:   cfg,
		repos:    repos,
		gate:     gate,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		handlers: make(map[string]Handler),
		jobs:     jobs,
		running:  make(map[string]bool),
	}
}

// Register binds a handler to a configured job. Registration happens once at
// wiring time, before Start.
func (s *Scheduler) Register(name string, handler Handler) error {
	if _, ok := s.config.Job(name); !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	s.handlers[name] = handler
	return nil
}

// Jobs describes the configured job table.
func (s *Scheduler) Jobs() []JobInfo {
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{
			Name:       j.spec.Name,
			Schedule:   scheduleLabel(j.spec),
			Enabled:    j.spec.Enabled,
			PhaseGated: j.spec.PhaseGated,
			Registered: s.handlers[j.spec.Name] != nil,
		})
	}
	return infos
}

// Start runs the dispatch loop until the context is canceled, draining
// in-flight jobs before returning. Orphaned runs from a previous process are
// failed first so IsRunning checks do not deadlock on a crashed worker's row.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startTime = s.now().UTC()
	if err := s.recoverOrphans(ctx); err != nil {
		return err
	}

	enabled := 0
	for _, j := range s.jobs {
		if j.spec.Enabled && s.handlers[j.spec.Name] != nil {
			enabled++
		}
	}
	s.logger.Info().
		Int("jobs", len(s.jobs)).
		Int("enabled", enabled).
		Msg("scheduler_started")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("scheduler_stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, s.now().UTC())
		}
	}
}

// recoverOrphans fails runs still marked running from before this process
// started, once they are older than the configured orphan window.
func (s *Scheduler) recoverOrphans(ctx context.Context) error {
	cutoff := s.startTime.Add(-time.Duration(s.config.Global.OrphanAfterSec) * time.Second)
	failed, err := s.repos.JobRuns.FailOrphans(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned runs: %w", err)
	}
	if failed > 0 {
		s.logger.Warn().Int64("orphans_failed", failed).Msg("orphaned_runs_recovered")
	}
	return nil
}

// tick launches every due job. Due times are marked before launch so a slow
// run cannot double-fire; overlapping runs of the same job are skipped.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if !j.spec.Enabled || s.handlers[j.spec.Name] == nil {
			continue
		}
		if !due(j, now) {
			continue
		}
		j.lastRun = now

		if !s.acquire(j.spec.Name) {
			s.logger.Warn().Str("job", j.spec.Name).Msg("job_overlap_skipped")
			continue
		}
		spec := j.spec
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(spec.Name)
			s.execute(ctx, spec)
		}()
	}
}

// RunOnce executes a job immediately, outside its schedule. Used by the CLI;
// disabled jobs run too, a manual trigger is explicit enough.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*RunResult, error) {
	spec, ok := s.config.Job(name)
	if !ok {
		return nil, fmt.Errorf("unknown job: %s", name)
	}
	if s.handlers[name] == nil {
		return nil, fmt.Errorf("no handler registered for job: %s", name)
	}
	if !s.acquire(name) {
		return nil, fmt.Errorf("job already running: %s", name)
	}
	defer s.release(name)
	return s.execute(ctx, spec), nil
}

// execute runs one job under its time limits and records the run. The soft
// limit rides the handler's context; the hard limit abandons a handler that
// ignores it and fails the run.
func (s *Scheduler) execute(ctx context.Context, spec config.JobSpec) *RunResult {
	started := s.now().UTC()
	result := &RunResult{JobName: spec.Name, StartedAt: started}

	running, err := s.repos.JobRuns.IsRunning(ctx, spec.Name)
	if err != nil {
		result.Status = persistence.JobFailed
		result.Error = err.Error()
		s.logger.Error().Err(err).Str("job", spec.Name).Msg("job_audit_error")
		return result
	}
	if running {
		result.Status = persistence.JobSkipped
		s.logger.Warn().Str("job", spec.Name).Msg("job_overlap_skipped")
		return result
	}

	runID, err := s.repos.JobRuns.Start(ctx, spec.Name, started)
	if err != nil {
		result.Status = persistence.JobFailed
		result.Error = err.Error()
		s.logger.Error().Err(err).Str("job", spec.Name).Msg("job_audit_error")
		return result
	}
	result.RunID = runID

	if spec.PhaseGated && s.gate != nil {
		inShadow, err := s.gate.InShadow(ctx)
		if err != nil {
			return s.complete(ctx, result, nil, fmt.Errorf("phase gate check failed: %w", err))
		}
		if !inShadow {
			result.Status = persistence.JobSkipped
			s.finalize(ctx, result, nil, nil)
			s.logger.Debug().Str("job", spec.Name).Msg("job_phase_skipped")
			return result
		}
	}

	handler := s.handlers[spec.Name]
	runCtx, cancel := context.WithTimeout(ctx, spec.SoftLimit())
	defer cancel()

	type outcome struct {
		stats Stats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := handler(runCtx)
		done <- outcome{stats: stats, err: err}
	}()

	hardTimer := time.NewTimer(spec.HardLimit())
	defer hardTimer.Stop()

	var out outcome
	select {
	case out = <-done:
	case <-hardTimer.C:
		// The handler is abandoned; its context is already past the soft
		// limit, so it will unwind on its own.
		out = outcome{err: fmt.Errorf("hard time limit %s exceeded", spec.HardLimit())}
	}

	return s.complete(ctx, result, out.stats, out.err)
}

// complete settles the run's status from the handler outcome and writes the
// audit row.
func (s *Scheduler) complete(ctx context.Context, result *RunResult, stats Stats, runErr error) *RunResult {
	result.Duration = s.now().UTC().Sub(result.StartedAt)
	if stats != nil {
		result.Records = stats.Records()
		result.Stats = stats.Map()
	}

	if runErr != nil {
		result.Status = persistence.JobFailed
		result.Error = runErr.Error()
		s.finalize(ctx, result, result.Stats, &result.Error)
		metrics.RecordJobRun(result.JobName, string(result.Status), result.Duration.Seconds(), result.Records)
		s.logger.Error().
			Err(runErr).
			Str("job", result.JobName).
			Dur("duration", result.Duration).
			Msg("job_failed")
		return result
	}

	result.Status = persistence.JobSucceeded
	s.finalize(ctx, result, result.Stats, nil)
	metrics.RecordJobRun(result.JobName, string(result.Status), result.Duration.Seconds(), result.Records)
	s.logger.Info().
		Str("job", result.JobName).
		Int("records", result.Records).
		Dur("duration", result.Duration).
		Msg("job_succeeded")
	return result
}

// finalize writes the completion row. It survives shutdown cancellation so a
// finished job is never left looking orphaned; if the write still fails, the
// next startup's orphan recovery settles the row.
func (s *Scheduler) finalize(ctx context.Context, result *RunResult, stats map[string]int, errMsg *string) {
	auditCtx := context.WithoutCancel(ctx)
	if err := s.repos.JobRuns.Complete(auditCtx, result.RunID, result.Status, result.Records, stats, errMsg); err != nil {
		s.logger.Error().Err(err).Str("job", result.JobName).Msg("job_audit_error")
	}
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

// due reports whether a job should fire at the given instant. Interval jobs
// fire immediately at startup and then every interval; hourly jobs fire once
// inside their configured minute.
func due(j *job, now time.Time) bool {
	if j.spec.IntervalSeconds > 0 {
		return j.lastRun.IsZero() || now.Sub(j.lastRun) >= j.spec.Interval()
	}
	if j.spec.HourlyAtMinute == nil || now.Minute() != *j.spec.HourlyAtMinute {
		return false
	}
	return j.lastRun.IsZero() || !j.lastRun.Truncate(time.Hour).Equal(now.Truncate(time.Hour))
}

// scheduleLabel renders a job's cadence for listings.
func scheduleLabel(spec config.JobSpec) string {
	if spec.IntervalSeconds > 0 {
		return fmt.Sprintf("every %s", spec.Interval())
	}
	return fmt.Sprintf("hourly at :%02d", *spec.HourlyAtMinute)
}

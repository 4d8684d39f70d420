package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// jobRunsRepo implements JobRunsRepo for PostgreSQL
type jobRunsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewJobRunsRepo creates a new PostgreSQL job runs repository
func NewJobRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.JobRunsRepo {
	return &jobRunsRepo{db: db, timeout: timeout}
}

const jobRunColumns = `id, job_name, started_at, completed_at, status,
	records_processed, error, stats, created_at`

// Start records a job starting, returning the run id
func (r *jobRunsRepo) Start(ctx context.Context, jobName string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO job_runs (job_name, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, query, jobName, at, persistence.JobRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to start job run %s: %w", jobName, err)
	}

	return id, nil
}

// Complete finishes a run with its status, counters and error
func (r *jobRunsRepo) Complete(ctx context.Context, id int64, status string, records int, stats map[string]int, errMsg *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if stats == nil {
		stats = map[string]int{}
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal job stats: %w", err)
	}

	query := `
		UPDATE job_runs
		SET completed_at = now(), status = $2, records_processed = $3,
		    stats = $4, error = $5
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, status, records, statsJSON, errMsg); err != nil {
		return fmt.Errorf("failed to complete job run %d: %w", id, err)
	}

	return nil
}

// IsRunning reports whether the job has an unfinished run
func (r *jobRunsRepo) IsRunning(ctx context.Context, jobName string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM job_runs
			WHERE job_name = $1 AND status = $2)`

	var running bool
	if err := r.db.QueryRowxContext(ctx, query, jobName, persistence.JobRunning).Scan(&running); err != nil {
		return false, fmt.Errorf("failed to check running job %s: %w", jobName, err)
	}

	return running, nil
}

// FailOrphans fails running jobs started before the cutoff
func (r *jobRunsRepo) FailOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE job_runs
		SET status = $1, completed_at = now(), error = 'orphaned: no completion recorded'
		WHERE status = $2 AND started_at < $3`

	res, err := r.db.ExecContext(ctx, query, persistence.JobFailed, persistence.JobRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned runs: %w", err)
	}

	failed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count orphaned runs: %w", err)
	}

	return failed, nil
}

// ListRecent retrieves recent runs, all jobs when jobName is empty
func (r *jobRunsRepo) ListRecent(ctx context.Context, jobName string, limit int) ([]*persistence.JobRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + jobRunColumns + `
		FROM job_runs
		WHERE ($1 = '' OR job_name = $1)
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var runs []*persistence.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job runs: %w", err)
	}

	return runs, nil
}

// LastCompleted retrieves the most recent finished run of a job
func (r *jobRunsRepo) LastCompleted(ctx context.Context, jobName string) (*persistence.JobRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + jobRunColumns + `
		FROM job_runs
		WHERE job_name = $1 AND status <> $2
		ORDER BY started_at DESC
		LIMIT 1`

	rows, err := r.db.QueryxContext(ctx, query, jobName, persistence.JobRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query last completed run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query last completed run: %w", err)
		}
		return nil, nil
	}

	return scanJobRun(rows)
}

// Helper methods

func scanJobRun(rows *sqlx.Rows) (*persistence.JobRun, error) {
	var run persistence.JobRun
	var statsJSON []byte

	err := rows.Scan(
		&run.ID, &run.JobName, &run.StartedAt, &run.CompletedAt, &run.Status,
		&run.RecordsProcessed, &run.Error, &statsJSON, &run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job run: %w", err)
	}

	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job stats: %w", err)
		}
	} else {
		run.Stats = map[string]int{}
	}

	return &run, nil
}

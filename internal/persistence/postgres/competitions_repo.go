package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// competitionsRepo implements CompetitionsRepo for PostgreSQL
type competitionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCompetitionsRepo creates a new PostgreSQL competitions repository
func NewCompetitionsRepo(db *sqlx.DB, timeout time.Duration) persistence.CompetitionsRepo {
	return &competitionsRepo{db: db, timeout: timeout}
}

const competitionColumns = `id, external_id, sport_id, name, region, enabled,
	phase, phase_activated_at, created_at, updated_at`

// Upsert inserts or updates a competition by external id. The phase columns
// are deliberately left out of the update; discovery must never reset a
// promotion.
func (r *competitionsRepo) Upsert(ctx context.Context, comp *persistence.Competition) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO competitions (external_id, sport_id, name, region, enabled, phase)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			region = EXCLUDED.region,
			enabled = EXCLUDED.enabled,
			updated_at = now()
		RETURNING id, phase, created_at, updated_at`

	phase := comp.Phase
	if phase == "" {
		phase = domain.Phase1Collecting
	}

	err := r.db.QueryRowxContext(ctx, query,
		comp.ExternalID, comp.SportID, comp.Name, comp.Region, comp.Enabled, phase).
		Scan(&comp.ID, &comp.Phase, &comp.CreatedAt, &comp.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert competition %s: %w", comp.ExternalID, err)
	}

	return comp.ID, nil
}

// GetByID retrieves a competition by internal id
func (r *competitionsRepo) GetByID(ctx context.Context, id int64) (*persistence.Competition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + competitionColumns + ` FROM competitions WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, query, id)
	comp, err := scanCompetition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}

	return comp, nil
}

// GetByExternalID retrieves a competition by exchange id
func (r *competitionsRepo) GetByExternalID(ctx context.Context, externalID string) (*persistence.Competition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + competitionColumns + ` FROM competitions WHERE external_id = $1`

	row := r.db.QueryRowxContext(ctx, query, externalID)
	comp, err := scanCompetition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get competition by external id: %w", err)
	}

	return comp, nil
}

// ListEnabled retrieves enabled competitions ordered by name
func (r *competitionsRepo) ListEnabled(ctx context.Context) ([]*persistence.Competition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + competitionColumns + ` FROM competitions WHERE enabled ORDER BY name`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled competitions: %w", err)
	}
	defer rows.Close()

	return scanCompetitions(rows)
}

// ListByPhase retrieves competitions in a trading phase
func (r *competitionsRepo) ListByPhase(ctx context.Context, phase domain.TradingPhase) ([]*persistence.Competition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + competitionColumns + ` FROM competitions WHERE phase = $1 ORDER BY name`

	rows, err := r.db.QueryxContext(ctx, query, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to query competitions by phase: %w", err)
	}
	defer rows.Close()

	return scanCompetitions(rows)
}

// PromoteToShadow moves enabled collecting competitions into shadow
func (r *competitionsRepo) PromoteToShadow(ctx context.Context, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE competitions
		SET phase = $1, phase_activated_at = $2, updated_at = now()
		WHERE enabled AND phase = $3`

	res, err := r.db.ExecContext(ctx, query, domain.Phase2Shadow, at, domain.Phase1Collecting)
	if err != nil {
		return 0, fmt.Errorf("failed to promote competitions: %w", err)
	}

	promoted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count promoted competitions: %w", err)
	}

	return promoted, nil
}

// PhaseCounts returns competition counts grouped by phase
func (r *competitionsRepo) PhaseCounts(ctx context.Context) (map[domain.TradingPhase]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT phase, COUNT(*) FROM competitions GROUP BY phase`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TradingPhase]int64)
	for rows.Next() {
		var phase domain.TradingPhase
		var count int64
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, fmt.Errorf("failed to scan phase count: %w", err)
		}
		counts[phase] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase counts: %w", err)
	}

	return counts, nil
}

// Helper methods

func scanCompetition(row *sqlx.Row) (*persistence.Competition, error) {
	var comp persistence.Competition
	err := row.Scan(
		&comp.ID, &comp.ExternalID, &comp.SportID, &comp.Name, &comp.Region,
		&comp.Enabled, &comp.Phase, &comp.PhaseActivatedAt,
		&comp.CreatedAt, &comp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

func scanCompetitions(rows *sqlx.Rows) ([]*persistence.Competition, error) {
	var comps []*persistence.Competition
	for rows.Next() {
		var comp persistence.Competition
		if err := rows.Scan(
			&comp.ID, &comp.ExternalID, &comp.SportID, &comp.Name, &comp.Region,
			&comp.Enabled, &comp.Phase, &comp.PhaseActivatedAt,
			&comp.CreatedAt, &comp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		comps = append(comps, &comp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating competitions: %w", err)
	}
	return comps, nil
}

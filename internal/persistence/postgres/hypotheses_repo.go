package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// hypothesesRepo implements HypothesesRepo for PostgreSQL
type hypothesesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHypothesesRepo creates a new PostgreSQL hypotheses repository
func NewHypothesesRepo(db *sqlx.DB, timeout time.Duration) persistence.HypothesesRepo {
	return &hypothesesRepo{db: db, timeout: timeout}
}

const hypothesisColumns = `id, name, description, enabled, side, selection_logic,
	min_score, momentum_direction, momentum_min_change_pct, momentum_window_minutes,
	min_minutes_to_start, max_minutes_to_start, min_total_matched, max_total_matched,
	max_spread_percent, min_price, max_price, market_types, total_decisions, wins,
	losses, voids, total_pnl, avg_clv, last_decision_at, created_at, updated_at`

// Seed inserts hypotheses that do not exist yet by name. Existing rows keep
// their tuning and counters.
func (r *hypothesesRepo) Seed(ctx context.Context, hypotheses []*persistence.Hypothesis) (int64, error) {
	if len(hypotheses) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin hypothesis seed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hypotheses
		(name, description, enabled, side, selection_logic, min_score,
		 momentum_direction, momentum_min_change_pct, momentum_window_minutes,
		 min_minutes_to_start, max_minutes_to_start, min_total_matched,
		 max_total_matched, max_spread_percent, min_price, max_price, market_types)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (name) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare hypothesis seed: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, h := range hypotheses {
		typesJSON, err := json.Marshal(h.MarketTypes)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal market types for %s: %w", h.Name, err)
		}

		res, err := stmt.ExecContext(ctx,
			h.Name, h.Description, h.Enabled, h.Side, h.SelectionLogic,
			h.MinScore, h.MomentumDirection, h.MomentumMinChangePct,
			h.MomentumWindowMin, h.MinMinutesToStart, h.MaxMinutesToStart,
			h.MinTotalMatched, h.MaxTotalMatched, h.MaxSpreadPercent,
			h.MinPrice, h.MaxPrice, typesJSON)
		if err != nil {
			return 0, fmt.Errorf("failed to seed hypothesis %s: %w", h.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count hypothesis seed: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit hypothesis seed: %w", err)
	}

	return inserted, nil
}

// List retrieves all hypotheses ordered by name
func (r *hypothesesRepo) List(ctx context.Context) ([]*persistence.Hypothesis, error) {
	return r.list(ctx, `SELECT `+hypothesisColumns+` FROM hypotheses ORDER BY name`)
}

// ListEnabled retrieves enabled hypotheses ordered by name
func (r *hypothesesRepo) ListEnabled(ctx context.Context) ([]*persistence.Hypothesis, error) {
	return r.list(ctx, `SELECT `+hypothesisColumns+` FROM hypotheses WHERE enabled ORDER BY name`)
}

// GetByName retrieves a hypothesis by name
func (r *hypothesesRepo) GetByName(ctx context.Context, name string) (*persistence.Hypothesis, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + hypothesisColumns + ` FROM hypotheses WHERE name = $1`

	row := r.db.QueryRowxContext(ctx, query, name)
	h, err := scanHypothesis(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get hypothesis %s: %w", name, err)
	}

	return h, nil
}

// ApplyStats writes a decision rollup onto its hypothesis
func (r *hypothesesRepo) ApplyStats(ctx context.Context, agg *persistence.HypothesisAgg) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE hypotheses
		SET total_decisions = $2, wins = $3, losses = $4, voids = $5,
		    total_pnl = $6, avg_clv = $7, last_decision_at = $8, updated_at = now()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query,
		agg.HypothesisID, agg.TotalDecisions, agg.Wins, agg.Losses,
		agg.Voids, agg.NetPnl, agg.AvgCLV, agg.LastDecisionAt); err != nil {
		return fmt.Errorf("failed to apply stats to hypothesis %d: %w", agg.HypothesisID, err)
	}

	return nil
}

// Helper methods

func (r *hypothesesRepo) list(ctx context.Context, query string) ([]*persistence.Hypothesis, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hypotheses: %w", err)
	}
	defer rows.Close()

	var hypotheses []*persistence.Hypothesis
	for rows.Next() {
		h, err := scanHypothesisFromRows(rows)
		if err != nil {
			return nil, err
		}
		hypotheses = append(hypotheses, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hypotheses: %w", err)
	}

	return hypotheses, nil
}

func scanHypothesis(row *sqlx.Row) (*persistence.Hypothesis, error) {
	var h persistence.Hypothesis
	var typesJSON []byte

	err := row.Scan(
		&h.ID, &h.Name, &h.Description, &h.Enabled, &h.Side, &h.SelectionLogic,
		&h.MinScore, &h.MomentumDirection, &h.MomentumMinChangePct,
		&h.MomentumWindowMin, &h.MinMinutesToStart, &h.MaxMinutesToStart,
		&h.MinTotalMatched, &h.MaxTotalMatched, &h.MaxSpreadPercent,
		&h.MinPrice, &h.MaxPrice, &typesJSON, &h.TotalDecisions, &h.Wins,
		&h.Losses, &h.Voids, &h.TotalPnl, &h.AvgCLV, &h.LastDecisionAt,
		&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(typesJSON, &h.MarketTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market types: %w", err)
	}

	return &h, nil
}

func scanHypothesisFromRows(rows *sqlx.Rows) (*persistence.Hypothesis, error) {
	var h persistence.Hypothesis
	var typesJSON []byte

	err := rows.Scan(
		&h.ID, &h.Name, &h.Description, &h.Enabled, &h.Side, &h.SelectionLogic,
		&h.MinScore, &h.MomentumDirection, &h.MomentumMinChangePct,
		&h.MomentumWindowMin, &h.MinMinutesToStart, &h.MaxMinutesToStart,
		&h.MinTotalMatched, &h.MaxTotalMatched, &h.MaxSpreadPercent,
		&h.MinPrice, &h.MaxPrice, &typesJSON, &h.TotalDecisions, &h.Wins,
		&h.Losses, &h.Voids, &h.TotalPnl, &h.AvgCLV, &h.LastDecisionAt,
		&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan hypothesis: %w", err)
	}

	if err := json.Unmarshal(typesJSON, &h.MarketTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market types: %w", err)
	}

	return &h, nil
}

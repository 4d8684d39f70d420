package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// decisionsRepo implements DecisionsRepo for PostgreSQL
type decisionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionsRepo creates a new PostgreSQL shadow decisions repository
func NewDecisionsRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionsRepo {
	return &decisionsRepo{db: db, timeout: timeout}
}

const decisionColumns = `d.id, d.hypothesis_id, d.market_id, d.runner_id, d.selection_id,
	d.side, d.entry_price, d.stake, d.max_loss, d.strategy, d.trigger_reason, d.niche,
	d.market_score, d.minutes_to_start, d.decided_at, d.closing_mid, d.clv_percent,
	d.outcome, d.settled_at, d.gross_pnl, d.commission, d.net_pnl, d.return_on_risk,
	d.created_at`

// Insert inserts a decision, returning its id
func (r *decisionsRepo) Insert(ctx context.Context, decision *persistence.ShadowDecision) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO shadow_decisions
		(hypothesis_id, market_id, runner_id, selection_id, side, entry_price,
		 stake, max_loss, strategy, trigger_reason, niche, market_score,
		 minutes_to_start, decided_at, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`

	outcome := decision.Outcome
	if outcome == "" {
		outcome = domain.OutcomePending
	}

	err := r.db.QueryRowxContext(ctx, query,
		decision.HypothesisID, decision.MarketID, decision.RunnerID,
		decision.SelectionID, decision.Side, decision.EntryPrice,
		decision.Stake, decision.MaxLoss, decision.Strategy,
		decision.TriggerReason, decision.Niche, decision.MarketScore,
		decision.MinutesToStart, decision.DecidedAt, outcome).
		Scan(&decision.ID, &decision.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, fmt.Errorf("decision for market %d: %w", decision.MarketID, persistence.ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to insert decision for market %d: %w", decision.MarketID, err)
	}

	decision.Outcome = outcome
	return decision.ID, nil
}

// Exists reports whether a decision exists for the market and hypothesis
func (r *decisionsRepo) Exists(ctx context.Context, marketID int64, hypothesisID *int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM shadow_decisions
			WHERE market_id = $1
			  AND COALESCE(hypothesis_id, 0) = COALESCE($2::bigint, 0))`

	var exists bool
	if err := r.db.QueryRowxContext(ctx, query, marketID, hypothesisID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check decision existence: %w", err)
	}

	return exists, nil
}

// ListNeedingClosingPrice retrieves pending decisions without a closing
// price whose market start falls inside the capture window
func (r *decisionsRepo) ListNeedingClosingPrice(ctx context.Context, tr persistence.TimeRange) ([]*persistence.DecisionClosing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `, m.scheduled_start
		FROM shadow_decisions d
		JOIN markets m ON m.id = d.market_id
		WHERE d.outcome = $1 AND d.closing_mid IS NULL
		  AND m.scheduled_start > $2 AND m.scheduled_start <= $3
		ORDER BY m.scheduled_start`

	rows, err := r.db.QueryxContext(ctx, query, domain.OutcomePending, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions needing closing price: %w", err)
	}
	defer rows.Close()

	var pending []*persistence.DecisionClosing
	for rows.Next() {
		var dc persistence.DecisionClosing
		decision, err := scanDecision(rows, &dc.ScheduledStart)
		if err != nil {
			return nil, err
		}
		dc.Decision = decision
		pending = append(pending, &dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending decisions: %w", err)
	}

	return pending, nil
}

// SetClosingPrice writes the closing mid and CLV onto a decision
func (r *decisionsRepo) SetClosingPrice(ctx context.Context, id int64, mid decimal.Decimal, clvPercent float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE shadow_decisions
		SET closing_mid = $2, clv_percent = $3
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, mid, clvPercent); err != nil {
		return fmt.Errorf("failed to set closing price on decision %d: %w", id, err)
	}

	return nil
}

// ListSettleable retrieves pending decisions whose market started before the
// cutoff and has a settled result
func (r *decisionsRepo) ListSettleable(ctx context.Context, cutoff time.Time, limit int) ([]*persistence.SettleableDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `, res.winner_selection_id, res.is_void, res.runner_statuses
		FROM shadow_decisions d
		JOIN markets m ON m.id = d.market_id
		JOIN market_results res ON res.market_id = d.market_id
		WHERE d.outcome = $1 AND m.scheduled_start <= $2
		ORDER BY m.scheduled_start
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, domain.OutcomePending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query settleable decisions: %w", err)
	}
	defer rows.Close()

	var settleable []*persistence.SettleableDecision
	for rows.Next() {
		var sd persistence.SettleableDecision
		var statusesJSON []byte

		decision, err := scanDecision(rows, &sd.WinnerSelectionID, &sd.IsVoid, &statusesJSON)
		if err != nil {
			return nil, err
		}

		if len(statusesJSON) > 0 {
			if err := json.Unmarshal(statusesJSON, &sd.RunnerStatuses); err != nil {
				return nil, fmt.Errorf("failed to unmarshal runner statuses: %w", err)
			}
		} else {
			sd.RunnerStatuses = make(map[int64]string)
		}

		sd.Decision = decision
		settleable = append(settleable, &sd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settleable decisions: %w", err)
	}

	return settleable, nil
}

// Settle writes a settlement onto a pending decision
func (r *decisionsRepo) Settle(ctx context.Context, id int64, s persistence.Settlement) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE shadow_decisions
		SET outcome = $2, gross_pnl = $3, commission = $4, net_pnl = $5,
		    return_on_risk = $6, settled_at = $7
		WHERE id = $1 AND outcome = $8`

	res, err := r.db.ExecContext(ctx, query,
		id, s.Outcome, s.GrossPnl, s.Commission, s.NetPnl,
		s.ReturnOnRisk, s.SettledAt, domain.OutcomePending)
	if err != nil {
		return fmt.Errorf("failed to settle decision %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count settle update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("decision %d is not pending", id)
	}

	return nil
}

// ListRecent retrieves the newest decisions
func (r *decisionsRepo) ListRecent(ctx context.Context, limit int) ([]*persistence.ShadowDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + decisionColumns + `
		FROM shadow_decisions d
		ORDER BY d.decided_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*persistence.ShadowDecision
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}

// CountByOutcome returns decision counts grouped by outcome
func (r *decisionsRepo) CountByOutcome(ctx context.Context) (map[domain.Outcome]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT outcome, COUNT(*) FROM shadow_decisions GROUP BY outcome`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Outcome]int64)
	for rows.Next() {
		var outcome domain.Outcome
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome counts: %w", err)
	}

	return counts, nil
}

// AggregateByHypothesis returns decision rollups per hypothesis
func (r *decisionsRepo) AggregateByHypothesis(ctx context.Context) ([]*persistence.HypothesisAgg, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT hypothesis_id,
		       COUNT(*) AS total_decisions,
		       COUNT(*) FILTER (WHERE outcome = 'WIN') AS wins,
		       COUNT(*) FILTER (WHERE outcome = 'LOSE') AS losses,
		       COUNT(*) FILTER (WHERE outcome = 'VOID') AS voids,
		       COALESCE(SUM(net_pnl), 0) AS net_pnl,
		       AVG(clv_percent) AS avg_clv,
		       MAX(decided_at) AS last_decision_at
		FROM shadow_decisions
		WHERE hypothesis_id IS NOT NULL
		GROUP BY hypothesis_id`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hypothesis aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*persistence.HypothesisAgg
	for rows.Next() {
		var agg persistence.HypothesisAgg
		if err := rows.Scan(
			&agg.HypothesisID, &agg.TotalDecisions, &agg.Wins, &agg.Losses,
			&agg.Voids, &agg.NetPnl, &agg.AvgCLV, &agg.LastDecisionAt); err != nil {
			return nil, fmt.Errorf("failed to scan hypothesis aggregate: %w", err)
		}
		aggs = append(aggs, &agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hypothesis aggregates: %w", err)
	}

	return aggs, nil
}

// AggregateByNiche returns decision rollups per niche. Win and loss counts
// cover settled decisions; the decision count covers all of them.
func (r *decisionsRepo) AggregateByNiche(ctx context.Context) ([]*persistence.NicheAgg, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT niche,
		       COUNT(*) AS decisions,
		       COUNT(*) FILTER (WHERE outcome = 'WIN') AS wins,
		       COUNT(*) FILTER (WHERE outcome = 'LOSE') AS losses,
		       COUNT(*) FILTER (WHERE outcome = 'VOID') AS voids,
		       COALESCE(SUM(net_pnl), 0) AS net_pnl,
		       AVG(clv_percent) AS avg_clv
		FROM shadow_decisions
		GROUP BY niche
		ORDER BY net_pnl DESC`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query niche aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*persistence.NicheAgg
	for rows.Next() {
		var agg persistence.NicheAgg
		if err := rows.Scan(
			&agg.Niche, &agg.Decisions, &agg.Wins, &agg.Losses,
			&agg.Voids, &agg.NetPnl, &agg.AvgCLV); err != nil {
			return nil, fmt.Errorf("failed to scan niche aggregate: %w", err)
		}
		aggs = append(aggs, &agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating niche aggregates: %w", err)
	}

	return aggs, nil
}

// Helper methods

// scanDecision scans the decision columns plus any trailing join columns.
func scanDecision(rows *sqlx.Rows, extras ...interface{}) (*persistence.ShadowDecision, error) {
	var d persistence.ShadowDecision
	var closingMid, grossPnl, commission, netPnl decimal.NullDecimal

	dest := []interface{}{
		&d.ID, &d.HypothesisID, &d.MarketID, &d.RunnerID, &d.SelectionID,
		&d.Side, &d.EntryPrice, &d.Stake, &d.MaxLoss, &d.Strategy,
		&d.TriggerReason, &d.Niche, &d.MarketScore, &d.MinutesToStart,
		&d.DecidedAt, &closingMid, &d.CLVPercent, &d.Outcome, &d.SettledAt,
		&grossPnl, &commission, &netPnl, &d.ReturnOnRisk, &d.CreatedAt,
	}

	if err := rows.Scan(append(dest, extras...)...); err != nil {
		return nil, fmt.Errorf("failed to scan decision: %w", err)
	}

	d.ClosingMid = decimalPtr(closingMid)
	d.GrossPnl = decimalPtr(grossPnl)
	d.Commission = decimalPtr(commission)
	d.NetPnl = decimalPtr(netPnl)

	return &d, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// marketsRepo implements MarketsRepo for PostgreSQL
type marketsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMarketsRepo creates a new PostgreSQL markets repository
func NewMarketsRepo(db *sqlx.DB, timeout time.Duration) persistence.MarketsRepo {
	return &marketsRepo{db: db, timeout: timeout}
}

const marketColumns = `id, external_id, event_id, name, market_type, status,
	inplay, total_matched, scheduled_start, created_at, updated_at`

// Upsert inserts or updates a market by external id, returning its id
func (r *marketsRepo) Upsert(ctx context.Context, market *persistence.Market) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO markets (external_id, event_id, name, market_type, status, total_matched, scheduled_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			total_matched = EXCLUDED.total_matched,
			scheduled_start = EXCLUDED.scheduled_start,
			updated_at = now()
		RETURNING id, status, inplay, created_at, updated_at`

	status := market.Status
	if status == "" {
		status = string(domain.MarketOpen)
	}

	err := r.db.QueryRowxContext(ctx, query,
		market.ExternalID, market.EventID, market.Name, market.MarketType,
		status, market.TotalMatched, market.ScheduledStart).
		Scan(&market.ID, &market.Status, &market.Inplay, &market.CreatedAt, &market.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert market %s: %w", market.ExternalID, err)
	}

	return market.ID, nil
}

// GetByID retrieves a market by internal id
func (r *marketsRepo) GetByID(ctx context.Context, id int64) (*persistence.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, query, id)
	market, err := scanMarket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get market: %w", err)
	}

	return market, nil
}

// GetByExternalID retrieves a market by exchange id
func (r *marketsRepo) GetByExternalID(ctx context.Context, externalID string) (*persistence.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + marketColumns + ` FROM markets WHERE external_id = $1`

	row := r.db.QueryRowxContext(ctx, query, externalID)
	market, err := scanMarket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get market by external id: %w", err)
	}

	return market, nil
}

// ListOpen retrieves snapshot-eligible markets: open, not in play, in an
// enabled competition, and scheduled after the stale cutoff
func (r *marketsRepo) ListOpen(ctx context.Context, staleCutoff time.Time) ([]*persistence.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT m.id, m.external_id, m.event_id, m.name, m.market_type, m.status,
		       m.inplay, m.total_matched, m.scheduled_start, m.created_at, m.updated_at
		FROM markets m
		JOIN events e ON e.id = m.event_id
		JOIN competitions c ON c.id = e.competition_id
		WHERE m.status = $1 AND NOT m.inplay AND c.enabled AND m.scheduled_start > $2
		ORDER BY m.scheduled_start`

	rows, err := r.db.QueryxContext(ctx, query, domain.MarketOpen, staleCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query open markets: %w", err)
	}
	defer rows.Close()

	return scanMarkets(rows)
}

// UpdateBookState applies the latest book status to a market
func (r *marketsRepo) UpdateBookState(ctx context.Context, id int64, status string, inplay bool, totalMatched float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE markets
		SET status = $2, inplay = $3, total_matched = $4, updated_at = now()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, status, inplay, totalMatched); err != nil {
		return fmt.Errorf("failed to update market book state: %w", err)
	}

	return nil
}

// MarkClosed closes the given markets, returning how many changed
func (r *marketsRepo) MarkClosed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE markets
		SET status = $1, updated_at = now()
		WHERE id = ANY($2) AND status <> $1`

	res, err := r.db.ExecContext(ctx, query, domain.MarketClosed, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to close markets: %w", err)
	}

	closed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count closed markets: %w", err)
	}

	return closed, nil
}

// ListClosingWindow retrieves open markets starting within the window
func (r *marketsRepo) ListClosingWindow(ctx context.Context, now time.Time, window time.Duration) ([]*persistence.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE status = $1 AND NOT inplay AND scheduled_start > $2 AND scheduled_start <= $3
		ORDER BY scheduled_start`

	rows, err := r.db.QueryxContext(ctx, query, domain.MarketOpen, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query closing window markets: %w", err)
	}
	defer rows.Close()

	return scanMarkets(rows)
}

// ListUnsettled retrieves markets that started inside the range and have no
// settled result yet, newest first
func (r *marketsRepo) ListUnsettled(ctx context.Context, tr persistence.TimeRange, limit int) ([]*persistence.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Newest first: the exchange purges settled books after a few days, so
	// markets near the old edge of the range are the least likely to resolve.
	query := `
		SELECT ` + marketColumns + `
		FROM markets m
		WHERE m.scheduled_start >= $1 AND m.scheduled_start <= $2
		  AND NOT EXISTS (SELECT 1 FROM market_results res WHERE res.market_id = m.id)
		ORDER BY m.scheduled_start DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled markets: %w", err)
	}
	defer rows.Close()

	return scanMarkets(rows)
}

// Helper methods

func scanMarket(row *sqlx.Row) (*persistence.Market, error) {
	var market persistence.Market
	err := row.Scan(
		&market.ID, &market.ExternalID, &market.EventID, &market.Name,
		&market.MarketType, &market.Status, &market.Inplay,
		&market.TotalMatched, &market.ScheduledStart,
		&market.CreatedAt, &market.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &market, nil
}

func scanMarkets(rows *sqlx.Rows) ([]*persistence.Market, error) {
	var markets []*persistence.Market
	for rows.Next() {
		var market persistence.Market
		if err := rows.Scan(
			&market.ID, &market.ExternalID, &market.EventID, &market.Name,
			&market.MarketType, &market.Status, &market.Inplay,
			&market.TotalMatched, &market.ScheduledStart,
			&market.CreatedAt, &market.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, &market)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating markets: %w", err)
	}
	return markets, nil
}

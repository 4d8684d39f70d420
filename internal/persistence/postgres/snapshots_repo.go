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

// snapshotsRepo implements SnapshotsRepo for PostgreSQL
type snapshotsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotsRepo creates a new PostgreSQL snapshots repository
func NewSnapshotsRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotsRepo {
	return &snapshotsRepo{db: db, timeout: timeout}
}

const snapshotColumns = `id, market_id, captured_at, status, inplay, total_matched,
	total_available, spread_ticks, back_depth, lay_depth, overround, favourite_mid,
	ladder, created_at`

// InsertBatch inserts snapshots atomically, returning how many
func (r *snapshotsRepo) InsertBatch(ctx context.Context, snapshots []*persistence.MarketSnapshot) (int64, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	// Scale timeout for batch size
	timeout := r.timeout * time.Duration(len(snapshots)/100+1)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin snapshot batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_snapshots
		(market_id, captured_at, status, inplay, total_matched, total_available,
		 spread_ticks, back_depth, lay_depth, overround, favourite_mid, ladder)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		ladderJSON, err := json.Marshal(snap.Ladder)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal ladder for market %d: %w", snap.MarketID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			snap.MarketID, snap.CapturedAt, snap.Status, snap.Inplay,
			snap.TotalMatched, snap.TotalAvailable, snap.SpreadTicks,
			snap.BackDepth, snap.LayDepth, snap.Overround,
			snap.FavouriteMid, ladderJSON); err != nil {
			return 0, fmt.Errorf("failed to insert snapshot for market %d: %w", snap.MarketID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot batch: %w", err)
	}

	return int64(len(snapshots)), nil
}

// LatestForMarket retrieves a market's most recent snapshot
func (r *snapshotsRepo) LatestForMarket(ctx context.Context, marketID int64) (*persistence.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM market_snapshots
		WHERE market_id = $1
		ORDER BY captured_at DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, marketID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return snap, nil
}

// MarketIDsForDate returns ids of markets observed on a UTC day
func (r *snapshotsRepo) MarketIDsForDate(ctx context.Context, day time.Time) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	from := dayUTC(day)
	to := from.Add(24 * time.Hour)

	query := `
		SELECT DISTINCT market_id
		FROM market_snapshots
		WHERE captured_at >= $1 AND captured_at < $2
		ORDER BY market_id`

	rows, err := r.db.QueryxContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot market ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market ids: %w", err)
	}

	return ids, nil
}

// ListForMarketDate retrieves a market's snapshots for a UTC day in capture order
func (r *snapshotsRepo) ListForMarketDate(ctx context.Context, marketID int64, day time.Time) ([]*persistence.MarketSnapshot, error) {
	from := dayUTC(day)
	return r.ListForMarketWindow(ctx, marketID, persistence.TimeRange{
		From: from,
		To:   from.Add(24*time.Hour - time.Nanosecond),
	})
}

// ListForMarketWindow retrieves a market's snapshots inside a window in
// capture order
func (r *snapshotsRepo) ListForMarketWindow(ctx context.Context, marketID int64, tr persistence.TimeRange) ([]*persistence.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM market_snapshots
		WHERE market_id = $1 AND captured_at >= $2 AND captured_at <= $3
		ORDER BY captured_at`

	rows, err := r.db.QueryxContext(ctx, query, marketID, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot window: %w", err)
	}
	defer rows.Close()

	var snaps []*persistence.MarketSnapshot
	for rows.Next() {
		snap, err := scanSnapshotFromRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// DeleteOlderThan prunes snapshots captured before the cutoff
func (r *snapshotsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM market_snapshots WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}

	return pruned, nil
}

// Helper methods

func scanSnapshot(row *sqlx.Row) (*persistence.MarketSnapshot, error) {
	var snap persistence.MarketSnapshot
	var ladderJSON []byte

	err := row.Scan(
		&snap.ID, &snap.MarketID, &snap.CapturedAt, &snap.Status, &snap.Inplay,
		&snap.TotalMatched, &snap.TotalAvailable, &snap.SpreadTicks,
		&snap.BackDepth, &snap.LayDepth, &snap.Overround, &snap.FavouriteMid,
		&ladderJSON, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(ladderJSON, &snap.Ladder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ladder: %w", err)
	}

	return &snap, nil
}

func scanSnapshotFromRows(rows *sqlx.Rows) (*persistence.MarketSnapshot, error) {
	var snap persistence.MarketSnapshot
	var ladderJSON []byte

	err := rows.Scan(
		&snap.ID, &snap.MarketID, &snap.CapturedAt, &snap.Status, &snap.Inplay,
		&snap.TotalMatched, &snap.TotalAvailable, &snap.SpreadTicks,
		&snap.BackDepth, &snap.LayDepth, &snap.Overround, &snap.FavouriteMid,
		&ladderJSON, &snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if err := json.Unmarshal(ladderJSON, &snap.Ladder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ladder: %w", err)
	}

	return &snap, nil
}

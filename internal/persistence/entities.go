package persistence

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/domain"
)

// TimeRange bounds a query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Sport is an exchange event type we ingest.
type Sport struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Name       string    `json:"name" db:"name"`
	Slug       string    `json:"slug" db:"slug"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Competition is a league or tournament. Phase is the trading phase the
// competition has reached; promotion never passes shadow.
type Competition struct {
	ID               int64               `json:"id" db:"id"`
	ExternalID       string              `json:"external_id" db:"external_id"`
	SportID          int64               `json:"sport_id" db:"sport_id"`
	Name             string              `json:"name" db:"name"`
	Region           string              `json:"region" db:"region"`
	Enabled          bool                `json:"enabled" db:"enabled"`
	Phase            domain.TradingPhase `json:"phase" db:"phase"`
	PhaseActivatedAt *time.Time          `json:"phase_activated_at,omitempty" db:"phase_activated_at"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

// Event is a fixture.
type Event struct {
	ID             int64     `json:"id" db:"id"`
	ExternalID     string    `json:"external_id" db:"external_id"`
	CompetitionID  int64     `json:"competition_id" db:"competition_id"`
	Name           string    `json:"name" db:"name"`
	CountryCode    string    `json:"country_code" db:"country_code"`
	Timezone       string    `json:"timezone" db:"timezone"`
	ScheduledStart time.Time `json:"scheduled_start" db:"scheduled_start"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Event statuses. Events flip to CLOSED when they pass the stale cutoff.
const (
	EventScheduled = "SCHEDULED"
	EventClosed    = "CLOSED"
)

// Market is one tradeable market on an event.
type Market struct {
	ID             int64     `json:"id" db:"id"`
	ExternalID     string    `json:"external_id" db:"external_id"`
	EventID        int64     `json:"event_id" db:"event_id"`
	Name           string    `json:"name" db:"name"`
	MarketType     string    `json:"market_type" db:"market_type"`
	Status         string    `json:"status" db:"status"`
	Inplay         bool      `json:"inplay" db:"inplay"`
	TotalMatched   float64   `json:"total_matched" db:"total_matched"`
	ScheduledStart time.Time `json:"scheduled_start" db:"scheduled_start"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Runner is one selection in a market. ExternalID is the exchange selection
// id, unique per market but not globally.
type Runner struct {
	ID           int64     `json:"id" db:"id"`
	ExternalID   int64     `json:"external_id" db:"external_id"`
	MarketID     int64     `json:"market_id" db:"market_id"`
	Name         string    `json:"name" db:"name"`
	Handicap     float64   `json:"handicap" db:"handicap"`
	SortPriority int       `json:"sort_priority" db:"sort_priority"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MarketSnapshot is one liquidity observation. Ladder holds the full
// per-runner price ladders as JSONB; the scalar columns are what the
// profiler aggregates without unpacking JSON.
type MarketSnapshot struct {
	ID             int64         `json:"id" db:"id"`
	MarketID       int64         `json:"market_id" db:"market_id"`
	CapturedAt     time.Time     `json:"captured_at" db:"captured_at"`
	Status         string        `json:"status" db:"status"`
	Inplay         bool          `json:"inplay" db:"inplay"`
	TotalMatched   float64       `json:"total_matched" db:"total_matched"`
	TotalAvailable float64       `json:"total_available" db:"total_available"`
	SpreadTicks    float64       `json:"spread_ticks" db:"spread_ticks"`
	BackDepth      float64       `json:"back_depth" db:"back_depth"`
	LayDepth       float64       `json:"lay_depth" db:"lay_depth"`
	Overround      float64       `json:"overround" db:"overround"`
	FavouriteMid   float64       `json:"favourite_mid" db:"favourite_mid"`
	Ladder         domain.Ladder `json:"ladder" db:"ladder"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// MarketProfile is one day's aggregate for a (market, time bucket) pair.
type MarketProfile struct {
	ID               int64     `json:"id" db:"id"`
	MarketID         int64     `json:"market_id" db:"market_id"`
	ProfileDate      time.Time `json:"profile_date" db:"profile_date"`
	TimeBucket       string    `json:"time_bucket" db:"time_bucket"`
	SnapshotCount    int       `json:"snapshot_count" db:"snapshot_count"`
	AvgSpreadTicks   float64   `json:"avg_spread_ticks" db:"avg_spread_ticks"`
	MinSpreadTicks   float64   `json:"min_spread_ticks" db:"min_spread_ticks"`
	AvgBackDepth     float64   `json:"avg_back_depth" db:"avg_back_depth"`
	AvgLayDepth      float64   `json:"avg_lay_depth" db:"avg_lay_depth"`
	UpdateRatePerMin float64   `json:"update_rate_per_min" db:"update_rate_per_min"`
	Volatility       float64   `json:"volatility" db:"volatility"`
	MaxTotalMatched  float64   `json:"max_total_matched" db:"max_total_matched"`
	MeanPrice        float64   `json:"mean_price" db:"mean_price"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// MarketScore is one exploitability scoring run over a profile.
type MarketScore struct {
	ID              int64     `json:"id" db:"id"`
	MarketID        int64     `json:"market_id" db:"market_id"`
	ProfileID       int64     `json:"profile_id" db:"profile_id"`
	ConfigVersionID *int64    `json:"config_version_id,omitempty" db:"config_version_id"`
	ScoredAt        time.Time `json:"scored_at" db:"scored_at"`
	TimeBucket      string    `json:"time_bucket" db:"time_bucket"`
	OddsBand        string    `json:"odds_band" db:"odds_band"`
	TotalScore      float64   `json:"total_score" db:"total_score"`
	SpreadScore     float64   `json:"spread_score" db:"spread_score"`
	VolatilityScore float64   `json:"volatility_score" db:"volatility_score"`
	UpdateRateScore float64   `json:"update_rate_score" db:"update_rate_score"`
	DepthScore      float64   `json:"depth_score" db:"depth_score"`
	VolumePenalty   float64   `json:"volume_penalty" db:"volume_penalty"`
	GuardsFailed    []string  `json:"guards_failed" db:"guards_failed"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ConfigVersion pins a scoring run to the exact parameters that produced it.
// One row per distinct config hash; exactly one active row per config type.
type ConfigVersion struct {
	ID         int64     `json:"id" db:"id"`
	ConfigType string    `json:"config_type" db:"config_type"`
	ConfigHash string    `json:"config_hash" db:"config_hash"`
	ConfigData []byte    `json:"config_data" db:"config_data"`
	CreatedBy  string    `json:"created_by" db:"created_by"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ClosingData is the last pre-start observation of a market. One row per
// market; re-captures with a smaller minutes_to_start replace older ones.
type ClosingData struct {
	ID             int64         `json:"id" db:"id"`
	MarketID       int64         `json:"market_id" db:"market_id"`
	CapturedAt     time.Time     `json:"captured_at" db:"captured_at"`
	MinutesToStart float64       `json:"minutes_to_start" db:"minutes_to_start"`
	TotalMatched   float64       `json:"total_matched" db:"total_matched"`
	Overround      float64       `json:"overround" db:"overround"`
	SpreadTicks    float64       `json:"spread_ticks" db:"spread_ticks"`
	FavouriteMid   float64       `json:"favourite_mid" db:"favourite_mid"`
	Ladder         domain.Ladder `json:"ladder" db:"ladder"`
	Score          *float64      `json:"score,omitempty" db:"score"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// MarketResult is the settled outcome of a market.
type MarketResult struct {
	ID                int64            `json:"id" db:"id"`
	MarketID          int64            `json:"market_id" db:"market_id"`
	SettledAt         time.Time        `json:"settled_at" db:"settled_at"`
	WinnerSelectionID *int64           `json:"winner_selection_id,omitempty" db:"winner_selection_id"`
	IsVoid            bool             `json:"is_void" db:"is_void"`
	RunnerStatuses    map[int64]string `json:"runner_statuses" db:"runner_statuses"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}

// EventResult is a scoreline derived from settled markets. Source records
// how it was derived; correct-score refinements overwrite heuristics.
type EventResult struct {
	ID         int64     `json:"id" db:"id"`
	EventID    int64     `json:"event_id" db:"event_id"`
	HomeScore  int       `json:"home_score" db:"home_score"`
	AwayScore  int       `json:"away_score" db:"away_score"`
	TotalGoals int       `json:"total_goals" db:"total_goals"`
	BTTS       bool      `json:"btts" db:"btts"`
	Source     string    `json:"source" db:"source"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Event result sources.
const (
	ResultSourceMatchOdds    = "betfair"
	ResultSourceCorrectScore = "betfair_correct_score"
)

// CompetitionStats is one day's score aggregate for a competition.
type CompetitionStats struct {
	ID            int64     `json:"id" db:"id"`
	CompetitionID int64     `json:"competition_id" db:"competition_id"`
	StatDate      time.Time `json:"stat_date" db:"stat_date"`
	MarketsScored int       `json:"markets_scored" db:"markets_scored"`
	MeanScore     float64   `json:"mean_score" db:"mean_score"`
	MaxScore      float64   `json:"max_score" db:"max_score"`
	MinScore      float64   `json:"min_score" db:"min_score"`
	StdDevScore   float64   `json:"stddev_score" db:"stddev_score"`
	Above40       int       `json:"above_40" db:"above_40"`
	Above55       int       `json:"above_55" db:"above_55"`
	Above70       int       `json:"above_70" db:"above_70"`
	Rolling30dAvg float64   `json:"rolling_30d_avg" db:"rolling_30d_avg"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Hypothesis is one testable trading idea. The momentum fields are nil when
// the hypothesis does not require price movement. Counter fields are
// denormalized from decisions by the stats rollup.
type Hypothesis struct {
	ID                   int64                     `json:"id" db:"id"`
	Name                 string                    `json:"name" db:"name"`
	Description          string                    `json:"description" db:"description"`
	Enabled              bool                      `json:"enabled" db:"enabled"`
	Side                 domain.Side               `json:"side" db:"side"`
	SelectionLogic       domain.SelectionLogic     `json:"selection_logic" db:"selection_logic"`
	MinScore             float64                   `json:"min_score" db:"min_score"`
	MomentumDirection    *domain.MomentumDirection `json:"momentum_direction,omitempty" db:"momentum_direction"`
	MomentumMinChangePct *float64                  `json:"momentum_min_change_pct,omitempty" db:"momentum_min_change_pct"`
	MomentumWindowMin    int                       `json:"momentum_window_minutes" db:"momentum_window_minutes"`
	MinMinutesToStart    int                       `json:"min_minutes_to_start" db:"min_minutes_to_start"`
	MaxMinutesToStart    int                       `json:"max_minutes_to_start" db:"max_minutes_to_start"`
	MinTotalMatched      *float64                  `json:"min_total_matched,omitempty" db:"min_total_matched"`
	MaxTotalMatched      *float64                  `json:"max_total_matched,omitempty" db:"max_total_matched"`
	MaxSpreadPercent     float64                   `json:"max_spread_percent" db:"max_spread_percent"`
	MinPrice             *float64                  `json:"min_price,omitempty" db:"min_price"`
	MaxPrice             *float64                  `json:"max_price,omitempty" db:"max_price"`
	MarketTypes          []string                  `json:"market_types" db:"market_types"`
	TotalDecisions       int                       `json:"total_decisions" db:"total_decisions"`
	Wins                 int                       `json:"wins" db:"wins"`
	Losses               int                       `json:"losses" db:"losses"`
	Voids                int                       `json:"voids" db:"voids"`
	TotalPnl             decimal.Decimal           `json:"total_pnl" db:"total_pnl"`
	AvgCLV               *float64                  `json:"avg_clv,omitempty" db:"avg_clv"`
	LastDecisionAt       *time.Time                `json:"last_decision_at,omitempty" db:"last_decision_at"`
	CreatedAt            time.Time                 `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at" db:"updated_at"`
}

// ShadowDecision is one theoretical position. Money fields are decimals; no
// order ever leaves the system.
type ShadowDecision struct {
	ID             int64            `json:"id" db:"id"`
	HypothesisID   *int64           `json:"hypothesis_id,omitempty" db:"hypothesis_id"`
	MarketID       int64            `json:"market_id" db:"market_id"`
	RunnerID       int64            `json:"runner_id" db:"runner_id"`
	SelectionID    int64            `json:"selection_id" db:"selection_id"`
	Side           domain.Side      `json:"side" db:"side"`
	EntryPrice     decimal.Decimal  `json:"entry_price" db:"entry_price"`
	Stake          decimal.Decimal  `json:"stake" db:"stake"`
	MaxLoss        decimal.Decimal  `json:"max_loss" db:"max_loss"`
	Strategy       *string          `json:"strategy,omitempty" db:"strategy"`
	TriggerReason  string           `json:"trigger_reason" db:"trigger_reason"`
	Niche          string           `json:"niche" db:"niche"`
	MarketScore    *float64         `json:"market_score,omitempty" db:"market_score"`
	MinutesToStart float64          `json:"minutes_to_start" db:"minutes_to_start"`
	DecidedAt      time.Time        `json:"decided_at" db:"decided_at"`
	ClosingMid     *decimal.Decimal `json:"closing_mid,omitempty" db:"closing_mid"`
	CLVPercent     *float64         `json:"clv_percent,omitempty" db:"clv_percent"`
	Outcome        domain.Outcome   `json:"outcome" db:"outcome"`
	SettledAt      *time.Time       `json:"settled_at,omitempty" db:"settled_at"`
	GrossPnl       *decimal.Decimal `json:"gross_pnl,omitempty" db:"gross_pnl"`
	Commission     *decimal.Decimal `json:"commission,omitempty" db:"commission"`
	NetPnl         *decimal.Decimal `json:"net_pnl,omitempty" db:"net_pnl"`
	ReturnOnRisk   *float64         `json:"return_on_risk,omitempty" db:"return_on_risk"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// JobRun is one scheduler job execution.
type JobRun struct {
	ID               int64          `json:"id" db:"id"`
	JobName          string         `json:"job_name" db:"job_name"`
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Status           string         `json:"status" db:"status"`
	RecordsProcessed int            `json:"records_processed" db:"records_processed"`
	Error            *string        `json:"error,omitempty" db:"error"`
	Stats            map[string]int `json:"stats" db:"stats"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// Job run statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobSkipped   = "skipped"
)

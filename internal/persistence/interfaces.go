package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/domain"
)

// SportsRepo persists exchange event types.
type SportsRepo interface {
	// Upsert inserts or updates a sport by external id, returning its id
	Upsert(ctx context.Context, sport *Sport) (int64, error)

	// GetBySlug retrieves a sport by its config slug
	GetBySlug(ctx context.Context, slug string) (*Sport, error)

	// List retrieves all sports ordered by name
	List(ctx context.Context) ([]*Sport, error)
}

// CompetitionsRepo persists competitions and their trading phase.
type CompetitionsRepo interface {
	// Upsert inserts or updates a competition by external id without
	// touching its phase, returning its id
	Upsert(ctx context.Context, comp *Competition) (int64, error)

	// GetByID retrieves a competition by internal id
	GetByID(ctx context.Context, id int64) (*Competition, error)

	// GetByExternalID retrieves a competition by exchange id
	GetByExternalID(ctx context.Context, externalID string) (*Competition, error)

	// ListEnabled retrieves enabled competitions ordered by name
	ListEnabled(ctx context.Context) ([]*Competition, error)

	// ListByPhase retrieves competitions in a trading phase
	ListByPhase(ctx context.Context, phase domain.TradingPhase) ([]*Competition, error)

	// PromoteToShadow moves enabled collecting competitions into shadow,
	// returning how many were promoted
	PromoteToShadow(ctx context.Context, at time.Time) (int64, error)

	// PhaseCounts returns competition counts grouped by phase
	PhaseCounts(ctx context.Context) (map[domain.TradingPhase]int64, error)
}

// EventsRepo persists fixtures.
type EventsRepo interface {
	// Upsert inserts or updates an event by external id, returning its id
	Upsert(ctx context.Context, event *Event) (int64, error)

	// GetByExternalID retrieves an event by exchange id
	GetByExternalID(ctx context.Context, externalID string) (*Event, error)

	// MarkStale closes scheduled events that started before the cutoff,
	// returning how many were closed
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// MarketsRepo persists markets and their book state.
type MarketsRepo interface {
	// Upsert inserts or updates a market by external id, returning its id
	Upsert(ctx context.Context, market *Market) (int64, error)

	// GetByID retrieves a market by internal id
	GetByID(ctx context.Context, id int64) (*Market, error)

	// GetByExternalID retrieves a market by exchange id
	GetByExternalID(ctx context.Context, externalID string) (*Market, error)

	// ListOpen retrieves open markets scheduled after the stale cutoff
	ListOpen(ctx context.Context, staleCutoff time.Time) ([]*Market, error)

	// UpdateBookState applies the latest book status to a market
	UpdateBookState(ctx context.Context, id int64, status string, inplay bool, totalMatched float64) error

	// MarkClosed closes the given markets, returning how many changed
	MarkClosed(ctx context.Context, ids []int64) (int64, error)

	// ListClosingWindow retrieves open markets starting within the window
	ListClosingWindow(ctx context.Context, now time.Time, window time.Duration) ([]*Market, error)

	// ListUnsettled retrieves markets that started inside the range and
	// have no settled result yet, newest first
	ListUnsettled(ctx context.Context, tr TimeRange, limit int) ([]*Market, error)
}

// RunnersRepo persists market selections.
type RunnersRepo interface {
	// InsertBatch inserts runners, skipping ones already known for their
	// market, and returns how many were inserted
	InsertBatch(ctx context.Context, runners []*Runner) (int64, error)

	// ListByMarket retrieves a market's runners ordered by sort priority
	ListByMarket(ctx context.Context, marketID int64) ([]*Runner, error)

	// GetBySelection retrieves a runner by market and exchange selection id
	GetBySelection(ctx context.Context, marketID, selectionID int64) (*Runner, error)

	// UpdateStatuses applies settlement statuses keyed by selection id
	UpdateStatuses(ctx context.Context, marketID int64, statuses map[int64]string) error
}

// SnapshotsRepo persists liquidity observations.
type SnapshotsRepo interface {
	// InsertBatch inserts snapshots atomically, returning how many
	InsertBatch(ctx context.Context, snapshots []*MarketSnapshot) (int64, error)

	// LatestForMarket retrieves a market's most recent snapshot
	LatestForMarket(ctx context.Context, marketID int64) (*MarketSnapshot, error)

	// MarketIDsForDate returns ids of markets observed on a UTC day
	MarketIDsForDate(ctx context.Context, day time.Time) ([]int64, error)

	// ListForMarketDate retrieves a market's snapshots for a UTC day in
	// capture order
	ListForMarketDate(ctx context.Context, marketID int64, day time.Time) ([]*MarketSnapshot, error)

	// ListForMarketWindow retrieves a market's snapshots inside a window
	// in capture order
	ListForMarketWindow(ctx context.Context, marketID int64, tr TimeRange) ([]*MarketSnapshot, error)

	// DeleteOlderThan prunes snapshots captured before the cutoff,
	// returning how many rows were removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProfilesRepo persists per-day market aggregates.
type ProfilesRepo interface {
	// Upsert inserts or replaces the profile for its market, day and
	// bucket, returning its id
	Upsert(ctx context.Context, profile *MarketProfile) (int64, error)

	// ListForDate retrieves all profiles computed for a UTC day
	ListForDate(ctx context.Context, day time.Time) ([]*MarketProfile, error)

	// ListForMarket retrieves a market's profiles, newest first
	ListForMarket(ctx context.Context, marketID int64, limit int) ([]*MarketProfile, error)
}

// MarketScoreView joins a market's latest score with its fixture context for
// decision making.
type MarketScoreView struct {
	MarketID        int64               `json:"market_id" db:"market_id"`
	ExternalID      string              `json:"external_id" db:"external_id"`
	MarketName      string              `json:"market_name" db:"market_name"`
	MarketType      string              `json:"market_type" db:"market_type"`
	TotalMatched    float64             `json:"total_matched" db:"total_matched"`
	ScheduledStart  time.Time           `json:"scheduled_start" db:"scheduled_start"`
	EventID         int64               `json:"event_id" db:"event_id"`
	EventName       string              `json:"event_name" db:"event_name"`
	CompetitionID   int64               `json:"competition_id" db:"competition_id"`
	CompetitionName string              `json:"competition_name" db:"competition_name"`
	Phase           domain.TradingPhase `json:"phase" db:"phase"`
	TotalScore      float64             `json:"total_score" db:"total_score"`
	ScoredAt        time.Time           `json:"scored_at" db:"scored_at"`
}

// CompetitionScore is one score attributed to a competition for daily
// aggregation.
type CompetitionScore struct {
	CompetitionID int64   `json:"competition_id" db:"competition_id"`
	TotalScore    float64 `json:"total_score" db:"total_score"`
}

// ScoresRepo persists scoring runs.
type ScoresRepo interface {
	// Insert inserts a score, returning its id
	Insert(ctx context.Context, score *MarketScore) (int64, error)

	// LatestForMarket retrieves a market's most recent score
	LatestForMarket(ctx context.Context, marketID int64) (*MarketScore, error)

	// CountHighScoreMarkets counts distinct markets that ever scored at
	// or above the threshold
	CountHighScoreMarkets(ctx context.Context, threshold float64) (int64, error)

	// ListForStatsDate returns competition attributions for scores
	// produced on a UTC day
	ListForStatsDate(ctx context.Context, day time.Time) ([]*CompetitionScore, error)

	// ListLatestForShadow retrieves latest scores for open pre-start
	// markets in shadow competitions starting inside the window
	ListLatestForShadow(ctx context.Context, tr TimeRange) ([]*MarketScoreView, error)

	// ListTradeable retrieves the top scored open markets that meet the
	// liquidity floor and carry no rule decision yet
	ListTradeable(ctx context.Context, minScore, minMatched float64, tr TimeRange, limit int) ([]*MarketScoreView, error)
}

// ConfigVersionsRepo pins scoring runs to config contents.
type ConfigVersionsRepo interface {
	// EnsureActive returns the id of the active version matching the
	// hash, registering and activating a new version when it changed
	EnsureActive(ctx context.Context, configType, hash string, data []byte, createdBy string) (int64, error)

	// GetActive retrieves the active version for a config type
	GetActive(ctx context.Context, configType string) (*ConfigVersion, error)
}

// ClosingRepo persists final pre-start observations.
type ClosingRepo interface {
	// Upsert stores closing data for a market, keeping whichever capture
	// is closer to the start, and returns its id
	Upsert(ctx context.Context, data *ClosingData) (int64, error)

	// GetByMarket retrieves a market's closing data
	GetByMarket(ctx context.Context, marketID int64) (*ClosingData, error)

	// Count returns the number of markets with closing data
	Count(ctx context.Context) (int64, error)

	// DateSpanDays returns the inclusive day span covered by closing
	// captures, zero when none exist
	DateSpanDays(ctx context.Context) (int, error)
}

// ScoreDerivable is a market whose result can be inferred from its event's
// scoreline.
type ScoreDerivable struct {
	MarketID   int64  `json:"market_id" db:"market_id"`
	MarketType string `json:"market_type" db:"market_type"`
	EventID    int64  `json:"event_id" db:"event_id"`
	HomeScore  int    `json:"home_score" db:"home_score"`
	AwayScore  int    `json:"away_score" db:"away_score"`
	TotalGoals int    `json:"total_goals" db:"total_goals"`
	BTTS       bool   `json:"btts" db:"btts"`
}

// ResultsRepo persists settled market outcomes.
type ResultsRepo interface {
	// Insert inserts a market result, returning its id
	Insert(ctx context.Context, result *MarketResult) (int64, error)

	// GetByMarket retrieves a market's result
	GetByMarket(ctx context.Context, marketID int64) (*MarketResult, error)

	// Count returns the number of settled markets
	Count(ctx context.Context) (int64, error)

	// ListScoreDerivable retrieves unsettled past markets whose event has
	// a known scoreline
	ListScoreDerivable(ctx context.Context, cutoff time.Time, limit int) ([]*ScoreDerivable, error)
}

// EventResultCandidate is a settled match-odds market whose event lacks a
// scoreline.
type EventResultCandidate struct {
	EventID            int64  `json:"event_id" db:"event_id"`
	MarketID           int64  `json:"market_id" db:"market_id"`
	IsVoid             bool   `json:"is_void" db:"is_void"`
	WinnerName         string `json:"winner_name" db:"winner_name"`
	WinnerSortPriority int    `json:"winner_sort_priority" db:"winner_sort_priority"`
}

// ScoreRefinement is a settled correct-score winner that can replace a
// heuristic scoreline.
type ScoreRefinement struct {
	EventID    int64  `json:"event_id" db:"event_id"`
	WinnerName string `json:"winner_name" db:"winner_name"`
}

// EventResultsRepo persists derived scorelines.
type EventResultsRepo interface {
	// Upsert inserts a scoreline or updates a heuristic one; refined
	// scorelines are never overwritten by heuristics
	Upsert(ctx context.Context, result *EventResult) (int64, error)

	// GetByEvent retrieves an event's scoreline
	GetByEvent(ctx context.Context, eventID int64) (*EventResult, error)

	// ListMatchOddsCandidates retrieves settled match-odds winners for
	// events without a scoreline
	ListMatchOddsCandidates(ctx context.Context, limit int) ([]*EventResultCandidate, error)

	// ListCorrectScoreCandidates retrieves settled correct-score winners
	// for events whose scoreline is absent or heuristic
	ListCorrectScoreCandidates(ctx context.Context, limit int) ([]*ScoreRefinement, error)
}

// CompetitionRanking is a competition's standing over a trailing window.
type CompetitionRanking struct {
	CompetitionID   int64               `json:"competition_id" db:"competition_id"`
	CompetitionName string              `json:"competition_name" db:"competition_name"`
	Region          string              `json:"region" db:"region"`
	Phase           domain.TradingPhase `json:"phase" db:"phase"`
	MarketsScored   int64               `json:"markets_scored" db:"markets_scored"`
	AvgScore        float64             `json:"avg_score" db:"avg_score"`
	MaxScore        float64             `json:"max_score" db:"max_score"`
	DaysActive      int64               `json:"days_active" db:"days_active"`
}

// StatsRepo persists daily competition aggregates.
type StatsRepo interface {
	// Upsert inserts or replaces the aggregate for its competition and
	// day, returning its id
	Upsert(ctx context.Context, stats *CompetitionStats) (int64, error)

	// GetLatestBefore retrieves a competition's most recent aggregate
	// strictly before the day
	GetLatestBefore(ctx context.Context, competitionID int64, day time.Time) (*CompetitionStats, error)

	// ListForDate retrieves all aggregates for a UTC day
	ListForDate(ctx context.Context, day time.Time) ([]*CompetitionStats, error)

	// ListRankings ranks competitions by mean score over the trailing
	// days, dropping ones below the market floor
	ListRankings(ctx context.Context, minMarkets int64, days int) ([]*CompetitionRanking, error)
}

// HypothesisAgg is the decision rollup for one hypothesis.
type HypothesisAgg struct {
	HypothesisID   int64           `json:"hypothesis_id" db:"hypothesis_id"`
	TotalDecisions int             `json:"total_decisions" db:"total_decisions"`
	Wins           int             `json:"wins" db:"wins"`
	Losses         int             `json:"losses" db:"losses"`
	Voids          int             `json:"voids" db:"voids"`
	NetPnl         decimal.Decimal `json:"net_pnl" db:"net_pnl"`
	AvgCLV         *float64        `json:"avg_clv,omitempty" db:"avg_clv"`
	LastDecisionAt *time.Time      `json:"last_decision_at,omitempty" db:"last_decision_at"`
}

// HypothesesRepo persists trading hypotheses.
type HypothesesRepo interface {
	// Seed inserts hypotheses that do not exist yet by name, returning
	// how many were inserted
	Seed(ctx context.Context, hypotheses []*Hypothesis) (int64, error)

	// List retrieves all hypotheses ordered by name
	List(ctx context.Context) ([]*Hypothesis, error)

	// ListEnabled retrieves enabled hypotheses ordered by name
	ListEnabled(ctx context.Context) ([]*Hypothesis, error)

	// GetByName retrieves a hypothesis by name
	GetByName(ctx context.Context, name string) (*Hypothesis, error)

	// ApplyStats writes a decision rollup onto its hypothesis
	ApplyStats(ctx context.Context, agg *HypothesisAgg) error
}

// SettleableDecision pairs a pending decision with its market's settled
// result.
type SettleableDecision struct {
	Decision          *ShadowDecision  `json:"decision"`
	WinnerSelectionID *int64           `json:"winner_selection_id,omitempty"`
	IsVoid            bool             `json:"is_void"`
	RunnerStatuses    map[int64]string `json:"runner_statuses"`
}

// DecisionClosing pairs a pending decision with its market's start time for
// closing price capture.
type DecisionClosing struct {
	Decision       *ShadowDecision `json:"decision"`
	ScheduledStart time.Time       `json:"scheduled_start"`
}

// NicheAgg is the decision rollup for one competition and market type niche.
type NicheAgg struct {
	Niche     string          `json:"niche" db:"niche"`
	Decisions int             `json:"decisions" db:"decisions"`
	Wins      int             `json:"wins" db:"wins"`
	Losses    int             `json:"losses" db:"losses"`
	Voids     int             `json:"voids" db:"voids"`
	NetPnl    decimal.Decimal `json:"net_pnl" db:"net_pnl"`
	AvgCLV    *float64        `json:"avg_clv,omitempty" db:"avg_clv"`
}

// Settlement carries the figures written onto a decision when it settles.
type Settlement struct {
	Outcome      domain.Outcome  `json:"outcome"`
	GrossPnl     decimal.Decimal `json:"gross_pnl"`
	Commission   decimal.Decimal `json:"commission"`
	NetPnl       decimal.Decimal `json:"net_pnl"`
	ReturnOnRisk float64         `json:"return_on_risk"`
	SettledAt    time.Time       `json:"settled_at"`
}

// DecisionsRepo persists shadow decisions. Decisions are theoretical
// positions only; nothing here touches an order endpoint.
type DecisionsRepo interface {
	// Insert inserts a decision, returning its id
	Insert(ctx context.Context, decision *ShadowDecision) (int64, error)

	// Exists reports whether a decision exists for the market and
	// hypothesis; a nil hypothesis matches rule-based decisions
	Exists(ctx context.Context, marketID int64, hypothesisID *int64) (bool, error)

	// ListNeedingClosingPrice retrieves pending decisions without a
	// closing price whose market start falls inside the capture window
	ListNeedingClosingPrice(ctx context.Context, tr TimeRange) ([]*DecisionClosing, error)

	// SetClosingPrice writes the closing mid and CLV onto a decision
	SetClosingPrice(ctx context.Context, id int64, mid decimal.Decimal, clvPercent float64) error

	// ListSettleable retrieves pending decisions whose market started
	// before the cutoff and has a settled result
	ListSettleable(ctx context.Context, cutoff time.Time, limit int) ([]*SettleableDecision, error)

	// Settle writes a settlement onto a pending decision
	Settle(ctx context.Context, id int64, s Settlement) error

	// ListRecent retrieves the newest decisions
	ListRecent(ctx context.Context, limit int) ([]*ShadowDecision, error)

	// CountByOutcome returns decision counts grouped by outcome
	CountByOutcome(ctx context.Context) (map[domain.Outcome]int64, error)

	// AggregateByHypothesis returns decision rollups per hypothesis
	AggregateByHypothesis(ctx context.Context) ([]*HypothesisAgg, error)

	// AggregateByNiche returns settled decision rollups per niche
	AggregateByNiche(ctx context.Context) ([]*NicheAgg, error)
}

// JobRunsRepo records scheduler executions.
type JobRunsRepo interface {
	// Start records a job starting, returning the run id
	Start(ctx context.Context, jobName string, at time.Time) (int64, error)

	// Complete finishes a run with its status, counters and error
	Complete(ctx context.Context, id int64, status string, records int, stats map[string]int, errMsg *string) error

	// IsRunning reports whether the job has an unfinished run
	IsRunning(ctx context.Context, jobName string) (bool, error)

	// FailOrphans fails running jobs started before the cutoff, returning
	// how many were failed
	FailOrphans(ctx context.Context, cutoff time.Time) (int64, error)

	// ListRecent retrieves recent runs, all jobs when jobName is empty
	ListRecent(ctx context.Context, jobName string, limit int) ([]*JobRun, error)

	// LastCompleted retrieves the most recent finished run of a job
	LastCompleted(ctx context.Context, jobName string) (*JobRun, error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Sports         SportsRepo
	Competitions   CompetitionsRepo
	Events         EventsRepo
	Markets        MarketsRepo
	Runners        RunnersRepo
	Snapshots      SnapshotsRepo
	Profiles       ProfilesRepo
	Scores         ScoresRepo
	ConfigVersions ConfigVersionsRepo
	Closing        ClosingRepo
	Results        ResultsRepo
	EventResults   EventResultsRepo
	Stats          StatsRepo
	Hypotheses     HypothesesRepo
	Decisions      DecisionsRepo
	JobRuns        JobRunsRepo
}

// HealthCheck represents repository health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to the database
	Ping(ctx context.Context) error

	// Stats returns connection pool statistics
	Stats(ctx context.Context) map[string]interface{}
}

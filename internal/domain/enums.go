package domain

// MarketStatus mirrors the exchange's market lifecycle states.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "OPEN"
	MarketSuspended MarketStatus = "SUSPENDED"
	MarketClosed    MarketStatus = "CLOSED"
	MarketInactive  MarketStatus = "INACTIVE"
)

// RunnerStatus mirrors the exchange's runner settlement states.
type RunnerStatus string

const (
	RunnerActive        RunnerStatus = "ACTIVE"
	RunnerWinner        RunnerStatus = "WINNER"
	RunnerLoser         RunnerStatus = "LOSER"
	RunnerRemoved       RunnerStatus = "REMOVED"
	RunnerRemovedVacant RunnerStatus = "REMOVED_VACANT"
)

// Side is the direction of a shadow decision.
type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

// Outcome is the settled result of a shadow decision.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWin     Outcome = "WIN"
	OutcomeLose    Outcome = "LOSE"
	OutcomeVoid    Outcome = "VOID"
)

// TradingPhase gates how far a competition has progressed. Phase 3 exists as
// a named state but no code path promotes into it; promotion stops at shadow.
type TradingPhase string

const (
	Phase1Collecting TradingPhase = "PHASE1_COLLECTING"
	Phase2Shadow     TradingPhase = "PHASE2_SHADOW"
	Phase3Live       TradingPhase = "PHASE3_LIVE"
)

// MomentumDirection labels recent price movement on a runner.
type MomentumDirection string

const (
	MomentumSteaming MomentumDirection = "steaming"
	MomentumDrifting MomentumDirection = "drifting"
	MomentumStable   MomentumDirection = "stable"
)

// SelectionLogic names how a hypothesis picks its runner.
type SelectionLogic string

const (
	SelectMomentum   SelectionLogic = "momentum"
	SelectContrarian SelectionLogic = "contrarian"
	SelectScoreBased SelectionLogic = "score_based"
)

package shadow

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// --- fakes ---

type closingWrite struct {
	mid decimal.Decimal
	clv float64
}

type fakeStore struct {
	closingCount   int64
	resultsCount   int64
	highScoreCount int64
	daySpan        int
	promoted       int64
	promoteCalls   int

	shadowViews    []*persistence.MarketScoreView
	tradeableViews []*persistence.MarketScoreView
	latest         map[int64]*persistence.MarketSnapshot
	history        map[int64][]*persistence.MarketSnapshot
	runners        map[int64][]*persistence.Runner

	hypotheses []*persistence.Hypothesis
	decisions  []*persistence.ShadowDecision
	insertErr  error

	aggs    []*persistence.HypothesisAgg
	applied []*persistence.HypothesisAgg

	closingQueue  []*persistence.DecisionClosing
	settleQueue   []*persistence.SettleableDecision
	closingWrites map[int64]closingWrite
	settlements   map[int64]persistence.Settlement
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		latest:        make(map[int64]*persistence.MarketSnapshot),
		history:       make(map[int64][]*persistence.MarketSnapshot),
		runners:       make(map[int64][]*persistence.Runner),
		closingWrites: make(map[int64]closingWrite),
		settlements:   make(map[int64]persistence.Settlement),
	}
}

func (f *fakeStore) repository() *persistence.Repository {
	return &persistence.Repository{
		Competitions: &fakeCompetitionsRepo{store: f},
		Runners:      &fakeRunnersRepo{store: f},
		Snapshots:    &fakeSnapshotsRepo{store: f},
		Scores:       &fakeScoresRepo{store: f},
		Closing:      &fakeClosingRepo{store: f},
		Results:      &fakeResultsRepo{store: f},
		Hypotheses:   &fakeHypothesesRepo{store: f},
		Decisions:    &fakeDecisionsRepo{store: f},
	}
}

type fakeCompetitionsRepo struct {
	persistence.CompetitionsRepo
	store *fakeStore
}

func (f *fakeCompetitionsRepo) PromoteToShadow(_ context.Context, _ time.Time) (int64, error) {
	f.store.promoteCalls++
	return f.store.promoted, nil
}

type fakeRunnersRepo struct {
	persistence.RunnersRepo
	store *fakeStore
}

func (f *fakeRunnersRepo) ListByMarket(_ context.Context, marketID int64) ([]*persistence.Runner, error) {
	return f.store.runners[marketID], nil
}

type fakeSnapshotsRepo struct {
	persistence.SnapshotsRepo
	store *fakeStore
}

func (f *fakeSnapshotsRepo) LatestForMarket(_ context.Context, marketID int64) (*persistence.MarketSnapshot, error) {
	return f.store.latest[marketID], nil
}

func (f *fakeSnapshotsRepo) ListForMarketWindow(_ context.Context, marketID int64, tr persistence.TimeRange) ([]*persistence.MarketSnapshot, error) {
	var out []*persistence.MarketSnapshot
	for _, snap := range f.store.history[marketID] {
		if !snap.CapturedAt.Before(tr.From) && snap.CapturedAt.Before(tr.To) {
			out = append(out, snap)
		}
	}
	return out, nil
}

type fakeScoresRepo struct {
	persistence.ScoresRepo
	store *fakeStore
}

func (f *fakeScoresRepo) CountHighScoreMarkets(_ context.Context, _ float64) (int64, error) {
	return f.store.highScoreCount, nil
}

func (f *fakeScoresRepo) ListLatestForShadow(_ context.Context, _ persistence.TimeRange) ([]*persistence.MarketScoreView, error) {
	return f.store.shadowViews, nil
}

func (f *fakeScoresRepo) ListTradeable(_ context.Context, _, _ float64, _ persistence.TimeRange, _ int) ([]*persistence.MarketScoreView, error) {
	return f.store.tradeableViews, nil
}

type fakeClosingRepo struct {
	persistence.ClosingRepo
	store *fakeStore
}

func (f *fakeClosingRepo) Count(_ context.Context) (int64, error) {
	return f.store.closingCount, nil
}

func (f *fakeClosingRepo) DateSpanDays(_ context.Context) (int, error) {
	return f.store.daySpan, nil
}

type fakeResultsRepo struct {
	persistence.ResultsRepo
	store *fakeStore
}

func (f *fakeResultsRepo) Count(_ context.Context) (int64, error) {
	return f.store.resultsCount, nil
}

type fakeHypothesesRepo struct {
	persistence.HypothesesRepo
	store *fakeStore
}

func (f *fakeHypothesesRepo) ListEnabled(_ context.Context) ([]*persistence.Hypothesis, error) {
	var out []*persistence.Hypothesis
	for _, h := range f.store.hypotheses {
		if h.Enabled {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHypothesesRepo) Seed(_ context.Context, hypotheses []*persistence.Hypothesis) (int64, error) {
	var inserted int64
	for _, h := range hypotheses {
		exists := false
		for _, have := range f.store.hypotheses {
			if have.Name == h.Name {
				exists = true
				break
			}
		}
		if !exists {
			copied := *h
			copied.ID = int64(len(f.store.hypotheses) + 1)
			f.store.hypotheses = append(f.store.hypotheses, &copied)
			inserted++
		}
	}
	return inserted, nil
}

func (f *fakeHypothesesRepo) ApplyStats(_ context.Context, agg *persistence.HypothesisAgg) error {
	f.store.applied = append(f.store.applied, agg)
	return nil
}

type fakeDecisionsRepo struct {
	persistence.DecisionsRepo
	store *fakeStore
}

func (f *fakeDecisionsRepo) Insert(_ context.Context, decision *persistence.ShadowDecision) (int64, error) {
	if f.store.insertErr != nil {
		return 0, f.store.insertErr
	}
	copied := *decision
	copied.ID = int64(len(f.store.decisions) + 1)
	f.store.decisions = append(f.store.decisions, &copied)
	return copied.ID, nil
}

func (f *fakeDecisionsRepo) Exists(_ context.Context, marketID int64, hypothesisID *int64) (bool, error) {
	for _, d := range f.store.decisions {
		if d.MarketID != marketID {
			continue
		}
		if hypothesisID == nil && d.HypothesisID == nil {
			return true, nil
		}
		if hypothesisID != nil && d.HypothesisID != nil && *hypothesisID == *d.HypothesisID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDecisionsRepo) AggregateByHypothesis(_ context.Context) ([]*persistence.HypothesisAgg, error) {
	return f.store.aggs, nil
}

func (f *fakeDecisionsRepo) ListNeedingClosingPrice(_ context.Context, _ persistence.TimeRange) ([]*persistence.DecisionClosing, error) {
	return f.store.closingQueue, nil
}

func (f *fakeDecisionsRepo) SetClosingPrice(_ context.Context, id int64, mid decimal.Decimal, clvPercent float64) error {
	f.store.closingWrites[id] = closingWrite{mid: mid, clv: clvPercent}
	return nil
}

func (f *fakeDecisionsRepo) ListSettleable(_ context.Context, _ time.Time, _ int) ([]*persistence.SettleableDecision, error) {
	return f.store.settleQueue, nil
}

func (f *fakeDecisionsRepo) Settle(_ context.Context, id int64, s persistence.Settlement) error {
	f.store.settlements[id] = s
	return nil
}

// --- fixture builders ---

func testView(marketID int64, marketType string, score float64, start time.Time) *persistence.MarketScoreView {
	return &persistence.MarketScoreView{
		MarketID:        marketID,
		ExternalID:      "1.23456",
		MarketName:      "Match Odds",
		MarketType:      marketType,
		TotalMatched:    8000,
		ScheduledStart:  start,
		EventName:       "Home v Away",
		CompetitionID:   1,
		CompetitionName: "Veikkausliiga",
		Phase:           domain.Phase2Shadow,
		TotalScore:      score,
	}
}

func testRunner(id, selectionID, marketID int64, name string) *persistence.Runner {
	return &persistence.Runner{
		ID:         id,
		ExternalID: selectionID,
		MarketID:   marketID,
		Name:       name,
		Status:     string(domain.RunnerActive),
	}
}

func ladderEntry(selectionID int64, back, lay float64) domain.RunnerLadder {
	rl := domain.RunnerLadder{RunnerID: selectionID}
	if back > 0 {
		rl.Back = []domain.PriceSize{{Price: back, Size: 250}}
	}
	if lay > 0 {
		rl.Lay = []domain.PriceSize{{Price: lay, Size: 180}}
	}
	return rl
}

func testSnapshot(marketID int64, capturedAt time.Time, entries ...domain.RunnerLadder) *persistence.MarketSnapshot {
	return &persistence.MarketSnapshot{
		MarketID:   marketID,
		CapturedAt: capturedAt,
		Status:     string(domain.MarketOpen),
		Ladder:     domain.Ladder{Runners: entries, Depth: 1},
	}
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

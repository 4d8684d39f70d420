package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// --- fakes ---

type fakeStore struct {
	scores   []*persistence.CompetitionScore
	rows     map[string]*persistence.CompetitionStats
	rankings []*persistence.CompetitionRanking
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*persistence.CompetitionStats)}
}

func (f *fakeStore) repository() *persistence.Repository {
	return &persistence.Repository{
		Scores: &fakeScoresRepo{store: f},
		Stats:  &fakeStatsRepo{store: f},
	}
}

func statsKey(competitionID int64, day time.Time) string {
	return fmt.Sprintf("%d|%s", competitionID, day.Format("2006-01-02"))
}

type fakeScoresRepo struct {
	persistence.ScoresRepo
	store *fakeStore
}

func (f *fakeScoresRepo) ListForStatsDate(_ context.Context, _ time.Time) ([]*persistence.CompetitionScore, error) {
	return f.store.scores, nil
}

type fakeStatsRepo struct {
	persistence.StatsRepo
	store *fakeStore
}

func (f *fakeStatsRepo) Upsert(_ context.Context, stats *persistence.CompetitionStats) (int64, error) {
	copied := *stats
	f.store.rows[statsKey(stats.CompetitionID, stats.StatDate)] = &copied
	return int64(len(f.store.rows)), nil
}

func (f *fakeStatsRepo) GetLatestBefore(_ context.Context, competitionID int64, day time.Time) (*persistence.CompetitionStats, error) {
	var latest *persistence.CompetitionStats
	for _, row := range f.store.rows {
		if row.CompetitionID != competitionID || !row.StatDate.Before(day) {
			continue
		}
		if latest == nil || row.StatDate.After(latest.StatDate) {
			latest = row
		}
	}
	return latest, nil
}

func (f *fakeStatsRepo) ListRankings(_ context.Context, _ int64, _ int) ([]*persistence.CompetitionRanking, error) {
	return f.store.rankings, nil
}

// --- helpers ---

func newTestAggregator(store *fakeStore, now time.Time) *Aggregator {
	agg := NewAggregator(store.repository(), zerolog.Nop())
	agg.now = func() time.Time { return now }
	return agg
}

func score(competitionID int64, total float64) *persistence.CompetitionScore {
	return &persistence.CompetitionScore{CompetitionID: competitionID, TotalScore: total}
}

// --- tests ---

func TestRunForDateAggregatesPerCompetition(t *testing.T) {
	day := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.scores = []*persistence.CompetitionScore{
		score(1, 30), score(1, 50), score(1, 70),
		score(2, 42), score(2, 58),
	}

	agg := newTestAggregator(store, day.Add(20*time.Hour))
	stats, err := agg.RunForDate(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.CompetitionsSeen)
	assert.Equal(t, 5, stats.MarketsScored)
	assert.Equal(t, 2, stats.Upserted)
	assert.Equal(t, stats.Upserted, stats.Records())

	row := store.rows[statsKey(1, day)]
	require.NotNil(t, row)
	assert.Equal(t, 3, row.MarketsScored)
	assert.Equal(t, 50.0, row.MeanScore)
	assert.Equal(t, 70.0, row.MaxScore)
	assert.Equal(t, 30.0, row.MinScore)
	assert.Equal(t, 20.0, row.StdDevScore)
	assert.Equal(t, 2, row.Above40)
	assert.Equal(t, 1, row.Above55)
	assert.Equal(t, 1, row.Above70)
	// First day seeds the rolling average with today's mean.
	assert.Equal(t, 50.0, row.Rolling30dAvg)

	row2 := store.rows[statsKey(2, day)]
	require.NotNil(t, row2)
	assert.Equal(t, 50.0, row2.MeanScore)
	assert.Equal(t, 2, row2.Above40)
	assert.Equal(t, 1, row2.Above55)
	assert.Equal(t, 0, row2.Above70)
}

func TestRollingAverageFoldsPriorValue(t *testing.T) {
	yesterday := time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC)
	today := yesterday.Add(24 * time.Hour)

	store := newFakeStore()
	store.rows[statsKey(1, yesterday)] = &persistence.CompetitionStats{
		CompetitionID: 1,
		StatDate:      yesterday,
		Rolling30dAvg: 40,
	}
	store.scores = []*persistence.CompetitionScore{score(1, 60), score(1, 60)}

	agg := newTestAggregator(store, today)
	_, err := agg.RunForDate(context.Background(), today)
	require.NoError(t, err)

	row := store.rows[statsKey(1, today)]
	require.NotNil(t, row)
	// (prior rolling 40 + today's mean 60) / 2.
	assert.Equal(t, 50.0, row.Rolling30dAvg)
}

func TestRunForDateCountsValueBands(t *testing.T) {
	day := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.scores = []*persistence.CompetitionScore{
		score(1, 65), score(1, 75), // mean 70: high value
		score(2, 20), score(2, 30), // mean 25: low value
		score(3, 45), score(3, 55), // mean 50: neither
	}

	agg := newTestAggregator(store, day)
	stats, err := agg.RunForDate(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.HighValue)
	assert.Equal(t, 1, stats.LowValue)
}

func TestRunForDateReRunReplacesRow(t *testing.T) {
	day := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.scores = []*persistence.CompetitionScore{score(1, 40)}

	agg := newTestAggregator(store, day)
	_, err := agg.RunForDate(context.Background(), day)
	require.NoError(t, err)

	store.scores = []*persistence.CompetitionScore{score(1, 40), score(1, 80)}
	_, err = agg.RunForDate(context.Background(), day)
	require.NoError(t, err)

	require.Len(t, store.rows, 1)
	row := store.rows[statsKey(1, day)]
	assert.Equal(t, 2, row.MarketsScored)
	assert.Equal(t, 60.0, row.MeanScore)
}

func TestRankingsPassThrough(t *testing.T) {
	store := newFakeStore()
	store.rankings = []*persistence.CompetitionRanking{
		{CompetitionID: 9, CompetitionName: "Ykkonen", MarketsScored: 31, AvgScore: 58.2},
	}

	agg := newTestAggregator(store, time.Now())
	rankings, err := agg.Rankings(context.Background(), 10, 30)
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, "Ykkonen", rankings[0].CompetitionName)
}

func TestStatsMap(t *testing.T) {
	stats := &Stats{CompetitionsSeen: 4, MarketsScored: 120, Upserted: 4, HighValue: 1, LowValue: 2}
	m := stats.Map()
	assert.Equal(t, 120, m["markets_scored"])
	assert.Equal(t, 4, m["upserted"])
	assert.Equal(t, 4, stats.Records())
}

package shadow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
)

func newTestGate(store *fakeStore, cfg *config.ShadowConfig) *Gate {
	gate := NewGate(store.repository(), cfg, nopLogger())
	gate.now = func() time.Time { return time.Date(2025, 11, 12, 9, 0, 0, 0, time.UTC) }
	return gate
}

func readyStore() *fakeStore {
	store := newFakeStore()
	store.closingCount = 500
	store.resultsCount = 200
	store.highScoreCount = 50
	store.daySpan = 2
	return store
}

func TestGateDisabledStaysCollecting(t *testing.T) {
	cfg := config.DefaultShadowConfig()
	cfg.Enabled = false

	gate := newTestGate(readyStore(), cfg)
	status, err := gate.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Phase1Collecting, status.Phase)
	assert.Equal(t, "shadow trading disabled", status.Reason)
}

func TestGateBelowThresholdStaysCollecting(t *testing.T) {
	store := readyStore()
	store.closingCount = 499

	gate := newTestGate(store, config.DefaultShadowConfig())
	status, err := gate.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Phase1Collecting, status.Phase)
	assert.False(t, status.Ready)

	signal := status.Signals["closing_data"]
	assert.Equal(t, 499, signal.Current)
	assert.Equal(t, 500, signal.Target)
	assert.False(t, signal.Met)
	assert.True(t, status.Signals["results"].Met)
}

func TestGatePromotesAtThresholds(t *testing.T) {
	gate := newTestGate(readyStore(), config.DefaultShadowConfig())
	status, err := gate.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Phase2Shadow, status.Phase)
	assert.True(t, status.Ready)
	for name, signal := range status.Signals {
		assert.True(t, signal.Met, "signal %s should be met", name)
	}
}

func TestGateReadyWithoutAutoActivationHolds(t *testing.T) {
	cfg := config.DefaultShadowConfig()
	cfg.AutoActivatePhase2 = false

	gate := newTestGate(readyStore(), cfg)
	status, err := gate.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Phase1Collecting, status.Phase)
	assert.True(t, status.Ready)
	assert.Equal(t, "auto activation disabled", status.Reason)
}

func TestGateNeverReturnsLivePhase(t *testing.T) {
	store := readyStore()
	store.closingCount = 1_000_000
	store.resultsCount = 1_000_000
	store.highScoreCount = 1_000_000
	store.daySpan = 365

	gate := newTestGate(store, config.DefaultShadowConfig())
	status, err := gate.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Phase2Shadow, status.Phase)
	assert.NotEqual(t, domain.Phase3Live, status.Phase)
}

func TestRunPromotesCompetitionsInShadow(t *testing.T) {
	store := readyStore()
	store.promoted = 3

	gate := newTestGate(store, config.DefaultShadowConfig())
	stats, err := gate.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, stats.InShadow)
	assert.Equal(t, 4, stats.SignalsMet)
	assert.Equal(t, 3, stats.Promoted)
	assert.Equal(t, 1, store.promoteCalls)
	assert.Equal(t, 3, stats.Records())
}

func TestRunSkipsPromotionWhileCollecting(t *testing.T) {
	store := readyStore()
	store.daySpan = 1

	gate := newTestGate(store, config.DefaultShadowConfig())
	stats, err := gate.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, stats.InShadow)
	assert.Equal(t, 3, stats.SignalsMet)
	assert.Zero(t, store.promoteCalls)

	m := stats.Map()
	assert.Equal(t, 0, m["in_shadow"])
	assert.Equal(t, 3, m["signals_met"])
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/sawpanic/ridgeradar/internal/cache"
	"github.com/sawpanic/ridgeradar/internal/closing"
	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/discovery"
	"github.com/sawpanic/ridgeradar/internal/exchange"
	"github.com/sawpanic/ridgeradar/internal/exchange/ratelimit"
	"github.com/sawpanic/ridgeradar/internal/infrastructure/db"
	"github.com/sawpanic/ridgeradar/internal/persistence"
	"github.com/sawpanic/ridgeradar/internal/profile"
	"github.com/sawpanic/ridgeradar/internal/scheduler"
	"github.com/sawpanic/ridgeradar/internal/scoring"
	"github.com/sawpanic/ridgeradar/internal/shadow"
	"github.com/sawpanic/ridgeradar/internal/snapshot"
	"github.com/sawpanic/ridgeradar/internal/stats"
)

// Exchange API budget shared by every job in the process: five requests a
// second with a burst of ten.
const (
	exchangeRatePerSec = 5.0
	exchangeBurst      = 10
)

// app holds the shared infrastructure commands run on.
type app struct {
	settings *config.Settings
	db       *db.Manager
	repos    *persistence.Repository
	cache    cache.Cache
	redis    *redis.Client
	logger   zerolog.Logger
}

// newApp loads settings and connects the database. Redis is optional: with
// no address configured the session cache degrades to in-process memory and
// the rate limiter to a local token bucket.
func newApp() (*app, error) {
	path := settingsPath
	if path == "" {
		path = config.GetSettingsPath()
	}
	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	if level, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	manager, err := db.NewManager(db.FromSettings(settings.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{
		settings: settings,
		db:       manager,
		repos:    manager.Repository(),
		logger:   log.Logger,
	}
	if settings.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: settings.Redis.Addr, DB: settings.Redis.DB})
		a.cache = cache.NewRedis(a.redis)
	} else {
		a.cache = cache.NewMemory()
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// gateway builds the authenticated exchange client. Commands that poll the
// live API refuse to start without credentials.
func (a *app) gateway() (exchange.Gateway, error) {
	if !a.settings.ExchangeConfigured() {
		return nil, fmt.Errorf("exchange credentials missing: set EXCHANGE_APP_KEY, EXCHANGE_USERNAME and EXCHANGE_PASSWORD")
	}
	var limiter ratelimit.Limiter
	if a.redis != nil {
		limiter = ratelimit.NewRedisLimiter(a.redis, exchangeRatePerSec, exchangeBurst, a.logger)
	} else {
		limiter = ratelimit.NewLocalLimiter(exchangeRatePerSec, exchangeBurst)
	}
	session := exchange.NewSessionManager(a.settings.Exchange, a.cache, a.logger)
	return exchange.NewClient(a.settings.Exchange, session, limiter, a.logger), nil
}

// pipeline bundles every wired service so commands can invoke them directly
// or hand them to the scheduler.
type pipeline struct {
	discovery *discovery.Service
	snapshot  *snapshot.Service
	profile   *profile.Service
	scoring   *scoring.Service
	stats     *stats.Aggregator
	capturer  *closing.Capturer
	sweeper   *closing.Sweeper
	resolver  *closing.Resolver
	gate      *shadow.Gate
	engine    *shadow.Engine
	trader    *shadow.Trader
	settler   *shadow.Settler
}

// buildPipeline wires every service over the shared repositories. The gateway
// may be nil; only discovery, the snapshot sweep and the settlement sweep
// call the exchange, and their jobs fail cleanly when invoked without one.
func (a *app) buildPipeline(gateway exchange.Gateway) (*pipeline, error) {
	discoveryCfg, err := config.LoadDiscoveryConfig("")
	if err != nil {
		return nil, err
	}
	scoringCfg, err := config.LoadScoringConfig("")
	if err != nil {
		return nil, err
	}
	shadowCfg, err := config.LoadShadowConfig("")
	if err != nil {
		return nil, err
	}

	finder := shadow.NewFinder(a.repos, a.logger)
	return &pipeline{
		discovery: discovery.NewService(gateway, a.repos, discoveryCfg, a.logger),
		snapshot:  snapshot.NewService(gateway, a.repos, snapshot.DefaultConfig(), a.logger),
		profile:   profile.NewService(a.repos, a.logger),
		scoring:   scoring.NewService(a.repos, scoringCfg, a.logger),
		stats:     stats.NewAggregator(a.repos, a.logger),
		capturer:  closing.NewCapturer(a.repos, a.logger),
		sweeper:   closing.NewSweeper(gateway, a.repos, a.logger),
		resolver:  closing.NewResolver(a.repos, a.logger),
		gate:      shadow.NewGate(a.repos, shadowCfg, a.logger),
		engine:    shadow.NewEngine(a.repos, finder, shadowCfg, a.logger),
		trader:    shadow.NewTrader(a.repos, shadowCfg, a.logger),
		settler:   shadow.NewSettler(a.repos, shadowCfg, a.logger),
	}, nil
}

// registerJobs binds every known job name to its service. Names not present
// in the scheduler config are rejected by Register.
func registerJobs(sched *scheduler.Scheduler, pipe *pipeline) error {
	handlers := map[string]scheduler.Handler{
		"discover_markets": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.discovery.Run(ctx)
		},
		"capture_snapshots": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.snapshot.Run(ctx)
		},
		"compute_daily_profiles": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.profile.Run(ctx)
		},
		"score_markets": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.scoring.Run(ctx)
		},
		"aggregate_competition_stats": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.stats.Run(ctx)
		},
		"capture_closing_data": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.capturer.Run(ctx)
		},
		"capture_results": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.sweeper.Run(ctx)
		},
		"capture_event_results": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.resolver.CaptureEventResults(ctx)
		},
		"update_results_from_scores": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.resolver.RefineFromScores(ctx)
		},
		"check_phase_status": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.gate.Run(ctx)
		},
		"make_shadow_decisions": func(ctx context.Context) (scheduler.Stats, error) {
			return makeDecisions(ctx, pipe)
		},
		"capture_closing_prices": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.settler.CaptureClosingPrices(ctx)
		},
		"settle_shadow_decisions": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.settler.Settle(ctx)
		},
		"update_hypothesis_stats": func(ctx context.Context) (scheduler.Stats, error) {
			return pipe.engine.UpdateStats(ctx)
		},
	}
	for name, handler := range handlers {
		if err := sched.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// makeDecisions runs the hypothesis engine and the rule trader as one pass.
func makeDecisions(ctx context.Context, pipe *pipeline) (scheduler.Stats, error) {
	engineStats, err := pipe.engine.Run(ctx)
	if err != nil {
		return engineStats, err
	}
	tradeStats, err := pipe.trader.Run(ctx)
	return decisionStats{hypothesis: engineStats, rules: tradeStats}, err
}

// decisionStats merges the hypothesis engine's and the rule trader's
// counters into one job result.
type decisionStats struct {
	hypothesis scheduler.Stats
	rules      scheduler.Stats
}

func (s decisionStats) Records() int {
	n := 0
	if s.hypothesis != nil {
		n += s.hypothesis.Records()
	}
	if s.rules != nil {
		n += s.rules.Records()
	}
	return n
}

func (s decisionStats) Map() map[string]int {
	merged := make(map[string]int)
	if s.hypothesis != nil {
		for k, v := range s.hypothesis.Map() {
			merged["hypothesis_"+k] = v
		}
	}
	if s.rules != nil {
		for k, v := range s.rules.Map() {
			merged["rule_"+k] = v
		}
	}
	return merged
}

// stdoutIsTTY decides between human tables and machine JSON.
func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func renderJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printStats reports a one-shot run's counters in a stable order.
func printStats(label string, s scheduler.Stats) {
	fmt.Printf("✅ %s complete: %d records\n", label, s.Records())
	m := s.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("   • %s: %d\n", k, m[k])
	}
}

// Package discovery ingests the tradeable universe: sports, competitions,
// events, markets and runners. Ingestion is deliberately broad; the only
// name-based filtering is the hard-exclusion list, and the scoring engine
// filters everything else on measured market data.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/exchange"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// Stats counts what one discovery sweep touched.
type Stats struct {
	Sports               int `json:"sports"`
	Competitions         int `json:"competitions"`
	CompetitionsExcluded int `json:"competitions_excluded"`
	Events               int `json:"events"`
	Markets              int `json:"markets"`
	Runners              int `json:"runners"`
	StaleEvents          int `json:"stale_events"`
	Errors               int `json:"errors"`
}

// Map flattens the stats for the JobRun metadata column.
func (s *Stats) Map() map[string]int {
	return map[string]int{
		"sports":                s.Sports,
		"competitions":          s.Competitions,
		"competitions_excluded": s.CompetitionsExcluded,
		"events":                s.Events,
		"markets":               s.Markets,
		"runners":               s.Runners,
		"stale_events":          s.StaleEvents,
		"errors":                s.Errors,
	}
}

// Records is the headline count for the JobRun row.
func (s *Stats) Records() int {
	return s.Markets
}

// Service runs the discovery sweep against the exchange.
type Service struct {
	gateway exchange.Gateway
	repos   *persistence.Repository
	config  *config.DiscoveryConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService builds a discovery service.
func NewService(gateway exchange.Gateway, repos *persistence.Repository, cfg *config.DiscoveryConfig, logger zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		repos:   repos,
		config:  cfg,
		logger:  logger.With().Str("component", "discovery").Logger(),
		now:     time.Now,
	}
}

// Run executes one full sweep: upsert enabled sports, list and upsert their
// competitions with hard exclusions applied, list events inside the lookahead
// window, ingest their market catalogues, and close stale events. Batch-level
// exchange errors are counted and skipped; storage errors abort the sweep.
func (s *Service) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	sports, err := s.upsertSports(ctx, stats)
	if err != nil {
		return stats, err
	}

	comps, err := s.discoverCompetitions(ctx, sports, stats)
	if err != nil {
		return stats, err
	}

	compIndex := make(map[string]*persistence.Competition, len(comps))
	enabled := make([]*persistence.Competition, 0, len(comps))
	for _, comp := range comps {
		compIndex[comp.ExternalID] = comp
		if comp.Enabled {
			enabled = append(enabled, comp)
		}
	}

	events, err := s.listEvents(ctx, enabled, stats)
	if err != nil {
		return stats, err
	}

	if err := s.ingestCatalogues(ctx, events, compIndex, stats); err != nil {
		return stats, err
	}

	s.markStaleEvents(ctx, stats)

	s.logger.Info().
		Int("sports", stats.Sports).
		Int("competitions", stats.Competitions).
		Int("competitions_excluded", stats.CompetitionsExcluded).
		Int("events", stats.Events).
		Int("markets", stats.Markets).
		Int("runners", stats.Runners).
		Int("errors", stats.Errors).
		Msg("discovery_complete")

	return stats, nil
}

// upsertSports writes the configured sports from the static exchange id map.
// No API call is needed; the mapping is fixed upstream.
func (s *Service) upsertSports(ctx context.Context, stats *Stats) ([]*persistence.Sport, error) {
	sports := make([]*persistence.Sport, 0, len(s.config.EnabledSports))
	for _, name := range s.config.EnabledSports {
		externalID := config.SportExternalID(name)
		if externalID == "" {
			s.logger.Warn().Str("sport", name).Msg("unknown_sport_skipped")
			continue
		}

		sport := &persistence.Sport{
			ExternalID: externalID,
			Name:       displayName(name),
			Slug:       strings.ToLower(name),
			Enabled:    true,
		}
		if _, err := s.repos.Sports.Upsert(ctx, sport); err != nil {
			return nil, fmt.Errorf("failed to upsert sport %s: %w", name, err)
		}
		sports = append(sports, sport)
	}

	stats.Sports = len(sports)
	return sports, nil
}

// discoverCompetitions lists and upserts competitions per sport. Matching a
// hard-exclusion pattern disables the competition; nothing else is filtered.
func (s *Service) discoverCompetitions(ctx context.Context, sports []*persistence.Sport, stats *Stats) ([]*persistence.Competition, error) {
	var comps []*persistence.Competition
	for _, sport := range sports {
		found, err := s.gateway.ListCompetitions(ctx, exchange.MarketFilter{
			EventTypeIDs: []string{sport.ExternalID},
		})
		if err != nil {
			if ctx.Err() != nil {
				return comps, ctx.Err()
			}
			stats.Errors++
			s.logger.Warn().Err(err).Str("sport", sport.Slug).Msg("list_competitions_failed")
			continue
		}

		for _, c := range found {
			excluded := s.config.ShouldExclude(c.Name)
			comp := &persistence.Competition{
				ExternalID: c.ID,
				SportID:    sport.ID,
				Name:       c.Name,
				Region:     c.Region,
				Enabled:    !excluded,
			}
			if _, err := s.repos.Competitions.Upsert(ctx, comp); err != nil {
				return comps, fmt.Errorf("failed to upsert competition %s: %w", c.ID, err)
			}
			comps = append(comps, comp)

			if excluded {
				stats.CompetitionsExcluded++
				s.logger.Debug().Str("competition", c.Name).Msg("competition_hard_excluded")
			} else {
				stats.Competitions++
			}
		}
	}
	return comps, nil
}

// listEvents fetches fixtures starting inside the lookahead window for the
// enabled competitions, batched to stay under the exchange's filter limits.
func (s *Service) listEvents(ctx context.Context, comps []*persistence.Competition, stats *Stats) (map[string]exchange.Event, error) {
	now := s.now().UTC()
	window := exchange.NewTimeRange(now, now.Add(time.Duration(s.config.LookaheadHours)*time.Hour))

	ids := make([]string, 0, len(comps))
	for _, comp := range comps {
		ids = append(ids, comp.ExternalID)
	}

	events := make(map[string]exchange.Event)
	batchSize := s.config.EventBatchSize
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		found, err := s.gateway.ListEvents(ctx, exchange.MarketFilter{
			CompetitionIDs:  ids[start:end],
			MarketStartTime: window,
		})
		if err != nil {
			if ctx.Err() != nil {
				return events, ctx.Err()
			}
			stats.Errors++
			s.logger.Warn().Err(err).Int("batch_start", start).Msg("list_events_failed")
			continue
		}
		for _, ev := range found {
			events[ev.ID] = ev
		}
	}
	return events, nil
}

// ingestCatalogues fetches market catalogues for the discovered events in
// batches and stores events, markets and runners. The catalogue response is
// what ties an event to its competition, so events are persisted here rather
// than straight off the event listing.
func (s *Service) ingestCatalogues(ctx context.Context, events map[string]exchange.Event, compIndex map[string]*persistence.Competition, stats *Stats) error {
	ids := make([]string, 0, len(events))
	for id := range events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	batchSize := s.config.MarketBatchSize
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		catalogues, err := s.gateway.ListMarketCatalogue(ctx, exchange.MarketFilter{
			EventIDs:        ids[start:end],
			MarketTypeCodes: s.config.EnabledMarketTypes,
		}, s.config.MaxCatalogueResults)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Errors++
			s.logger.Warn().Err(err).Int("batch_start", start).Msg("list_market_catalogue_failed")
			continue
		}

		if err := s.storeCatalogues(ctx, catalogues, events, compIndex, stats); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) storeCatalogues(ctx context.Context, catalogues []exchange.MarketCatalogue, events map[string]exchange.Event, compIndex map[string]*persistence.Competition, stats *Stats) error {
	upserted := make(map[string]int64)

	for _, cat := range catalogues {
		ev, ok := events[cat.EventID]
		if !ok {
			continue
		}
		comp, ok := compIndex[cat.CompetitionID]
		if !ok || !comp.Enabled {
			continue
		}

		eventID, seen := upserted[cat.EventID]
		if !seen {
			event := &persistence.Event{
				ExternalID:     ev.ID,
				CompetitionID:  comp.ID,
				Name:           ev.Name,
				CountryCode:    ev.CountryCode,
				Timezone:       ev.Timezone,
				ScheduledStart: ev.OpenDate,
			}
			if _, err := s.repos.Events.Upsert(ctx, event); err != nil {
				return fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
			}
			eventID = event.ID
			upserted[cat.EventID] = eventID
			stats.Events++
		}

		market := &persistence.Market{
			ExternalID:     cat.MarketID,
			EventID:        eventID,
			Name:           cat.MarketName,
			MarketType:     cat.MarketType,
			TotalMatched:   cat.TotalMatched,
			ScheduledStart: ev.OpenDate,
		}
		if _, err := s.repos.Markets.Upsert(ctx, market); err != nil {
			return fmt.Errorf("failed to upsert market %s: %w", cat.MarketID, err)
		}
		stats.Markets++

		if len(cat.Runners) == 0 {
			continue
		}
		runners := make([]*persistence.Runner, 0, len(cat.Runners))
		for _, r := range cat.Runners {
			runners = append(runners, &persistence.Runner{
				ExternalID:   r.SelectionID,
				MarketID:     market.ID,
				Name:         r.RunnerName,
				Handicap:     r.Handicap,
				SortPriority: r.SortPriority,
				Status:       string(domain.RunnerActive),
			})
		}
		inserted, err := s.repos.Runners.InsertBatch(ctx, runners)
		if err != nil {
			return fmt.Errorf("failed to insert runners for market %s: %w", cat.MarketID, err)
		}
		stats.Runners += int(inserted)
	}
	return nil
}

// markStaleEvents closes scheduled events whose start passed the stale
// cutoff. Failures are counted, not fatal; the next sweep retries.
func (s *Service) markStaleEvents(ctx context.Context, stats *Stats) {
	cutoff := s.now().UTC().Add(-time.Duration(s.config.StaleEventHours) * time.Hour)
	closed, err := s.repos.Events.MarkStale(ctx, cutoff)
	if err != nil {
		stats.Errors++
		s.logger.Warn().Err(err).Msg("mark_stale_events_failed")
		return
	}
	stats.StaleEvents = int(closed)
	if closed > 0 {
		s.logger.Info().Int64("count", closed).Msg("marked_stale_events")
	}
}

// displayName renders a config sport slug as a human name, e.g. rugby_union
// becomes Rugby Union.
func displayName(slug string) string {
	parts := strings.Split(strings.ToLower(slug), "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

package exchange

import (
	"time"

	"github.com/sawpanic/ridgeradar/internal/domain"
)

// MarketFilter narrows a catalogue query. Zero-value fields are omitted from
// the request body.
type MarketFilter struct {
	EventTypeIDs    []string   `json:"eventTypeIds,omitempty"`
	EventIDs        []string   `json:"eventIds,omitempty"`
	CompetitionIDs  []string   `json:"competitionIds,omitempty"`
	MarketTypeCodes []string   `json:"marketTypeCodes,omitempty"`
	MarketStartTime *TimeRange `json:"marketStartTime,omitempty"`
}

// TimeRange bounds marketStartTime in a filter. The exchange expects
// ISO 8601 strings.
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewTimeRange formats a window for a market filter.
func NewTimeRange(from, to time.Time) *TimeRange {
	return &TimeRange{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}
}

// EventType is a sport on the exchange.
type EventType struct {
	ID          string
	Name        string
	MarketCount int
}

// Competition is a league or tournament.
type Competition struct {
	ID          string
	Name        string
	Region      string
	MarketCount int
}

// Event is a fixture.
type Event struct {
	ID          string
	Name        string
	CountryCode string
	Timezone    string
	Venue       string
	OpenDate    time.Time
	MarketCount int
}

// MarketCatalogue is the static description of one market.
type MarketCatalogue struct {
	MarketID      string
	MarketName    string
	MarketType    string
	TotalMatched  float64
	EventID       string
	EventName     string
	CompetitionID string
	Runners       []CatalogueRunner
}

// CatalogueRunner is one selection in a market catalogue.
type CatalogueRunner struct {
	SelectionID  int64
	RunnerName   string
	Handicap     float64
	SortPriority int
}

// MarketBook is one market's live prices.
type MarketBook struct {
	MarketID            string
	IsMarketDataDelayed bool
	Status              string
	Inplay              bool
	TotalMatched        float64
	TotalAvailable      float64
	Runners             []RunnerBook
}

// RunnerBook is one selection's live prices. LastPriceTraded is nil when
// nothing has traded yet.
type RunnerBook struct {
	SelectionID     int64
	Status          string
	LastPriceTraded *float64
	TotalMatched    float64
	AvailableToBack []domain.PriceSize
	AvailableToLay  []domain.PriceSize
}

// defaultMarketProjection is what listMarketCatalogue asks for: enough to
// upsert events, competitions, markets and runners in one pass.
var defaultMarketProjection = []string{
	"EVENT",
	"COMPETITION",
	"RUNNER_DESCRIPTION",
	"MARKET_DESCRIPTION",
}

// --- wire shapes ---

type wireEventType struct {
	EventType struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"eventType"`
	MarketCount int `json:"marketCount"`
}

func (w wireEventType) toResult() EventType {
	return EventType{
		ID:          w.EventType.ID,
		Name:        w.EventType.Name,
		MarketCount: w.MarketCount,
	}
}

type wireCompetition struct {
	Competition struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"competition"`
	CompetitionRegion string `json:"competitionRegion"`
	MarketCount       int    `json:"marketCount"`
}

func (w wireCompetition) toResult() Competition {
	return Competition{
		ID:          w.Competition.ID,
		Name:        w.Competition.Name,
		Region:      w.CompetitionRegion,
		MarketCount: w.MarketCount,
	}
}

type wireEvent struct {
	Event struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		CountryCode string `json:"countryCode"`
		Timezone    string `json:"timezone"`
		Venue       string `json:"venue"`
		OpenDate    string `json:"openDate"`
	} `json:"event"`
	MarketCount int `json:"marketCount"`
}

func (w wireEvent) toResult() Event {
	openDate, _ := time.Parse(time.RFC3339, w.Event.OpenDate)
	return Event{
		ID:          w.Event.ID,
		Name:        w.Event.Name,
		CountryCode: w.Event.CountryCode,
		Timezone:    w.Event.Timezone,
		Venue:       w.Event.Venue,
		OpenDate:    openDate,
		MarketCount: w.MarketCount,
	}
}

type wireMarketCatalogue struct {
	MarketID     string  `json:"marketId"`
	MarketName   string  `json:"marketName"`
	TotalMatched float64 `json:"totalMatched"`
	Description  struct {
		MarketType string `json:"marketType"`
	} `json:"description"`
	Event struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"event"`
	Competition struct {
		ID string `json:"id"`
	} `json:"competition"`
	Runners []struct {
		SelectionID  int64   `json:"selectionId"`
		RunnerName   string  `json:"runnerName"`
		Handicap     float64 `json:"handicap"`
		SortPriority int     `json:"sortPriority"`
	} `json:"runners"`
}

func (w wireMarketCatalogue) toResult() MarketCatalogue {
	marketType := w.Description.MarketType
	if marketType == "" {
		marketType = "UNKNOWN"
	}
	runners := make([]CatalogueRunner, 0, len(w.Runners))
	for _, r := range w.Runners {
		name := r.RunnerName
		if name == "" {
			name = "Unknown"
		}
		runners = append(runners, CatalogueRunner{
			SelectionID:  r.SelectionID,
			RunnerName:   name,
			Handicap:     r.Handicap,
			SortPriority: r.SortPriority,
		})
	}
	return MarketCatalogue{
		MarketID:      w.MarketID,
		MarketName:    w.MarketName,
		MarketType:    marketType,
		TotalMatched:  w.TotalMatched,
		EventID:       w.Event.ID,
		EventName:     w.Event.Name,
		CompetitionID: w.Competition.ID,
		Runners:       runners,
	}
}

type wireMarketBook struct {
	MarketID            string  `json:"marketId"`
	IsMarketDataDelayed bool    `json:"isMarketDataDelayed"`
	Status              string  `json:"status"`
	Inplay              bool    `json:"inplay"`
	TotalMatched        float64 `json:"totalMatched"`
	TotalAvailable      float64 `json:"totalAvailable"`
	Runners             []struct {
		SelectionID     int64    `json:"selectionId"`
		Status          string   `json:"status"`
		LastPriceTraded *float64 `json:"lastPriceTraded"`
		TotalMatched    float64  `json:"totalMatched"`
		EX              struct {
			AvailableToBack []domain.PriceSize `json:"availableToBack"`
			AvailableToLay  []domain.PriceSize `json:"availableToLay"`
		} `json:"ex"`
	} `json:"runners"`
}

func (w wireMarketBook) toResult() MarketBook {
	status := w.Status
	if status == "" {
		status = string(domain.MarketOpen)
	}
	runners := make([]RunnerBook, 0, len(w.Runners))
	for _, r := range w.Runners {
		runnerStatus := r.Status
		if runnerStatus == "" {
			runnerStatus = string(domain.RunnerActive)
		}
		runners = append(runners, RunnerBook{
			SelectionID:     r.SelectionID,
			Status:          runnerStatus,
			LastPriceTraded: r.LastPriceTraded,
			TotalMatched:    r.TotalMatched,
			AvailableToBack: r.EX.AvailableToBack,
			AvailableToLay:  r.EX.AvailableToLay,
		})
	}
	return MarketBook{
		MarketID:            w.MarketID,
		IsMarketDataDelayed: w.IsMarketDataDelayed,
		Status:              status,
		Inplay:              w.Inplay,
		TotalMatched:        w.TotalMatched,
		TotalAvailable:      w.TotalAvailable,
		Runners:             runners,
	}
}

// Ladder converts a book runner to the domain ladder shape.
func (r RunnerBook) Ladder() domain.RunnerLadder {
	var lastTraded float64
	if r.LastPriceTraded != nil {
		lastTraded = *r.LastPriceTraded
	}
	return domain.RunnerLadder{
		RunnerID:     r.SelectionID,
		LastTraded:   lastTraded,
		TotalMatched: r.TotalMatched,
		Back:         r.AvailableToBack,
		Lay:          r.AvailableToLay,
	}
}

package exchange

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMarketCatalogue(t *testing.T) {
	body := `[{
		"marketId": "1.234567890",
		"marketName": "Match Odds",
		"totalMatched": 15432.10,
		"description": {"marketType": "MATCH_ODDS"},
		"event": {"id": "33445566", "name": "Arsenal v Chelsea"},
		"competition": {"id": "10932509"},
		"runners": [
			{"selectionId": 47972, "runnerName": "Arsenal", "handicap": 0.0, "sortPriority": 1},
			{"selectionId": 55190, "runnerName": "Chelsea", "handicap": 0.0, "sortPriority": 2},
			{"selectionId": 58805, "runnerName": "The Draw", "handicap": 0.0, "sortPriority": 3}
		]
	}]`

	var wire []wireMarketCatalogue
	require.NoError(t, json.Unmarshal([]byte(body), &wire))
	require.Len(t, wire, 1)

	catalogue := wire[0].toResult()
	assert.Equal(t, "1.234567890", catalogue.MarketID)
	assert.Equal(t, "MATCH_ODDS", catalogue.MarketType)
	assert.Equal(t, "33445566", catalogue.EventID)
	assert.Equal(t, "Arsenal v Chelsea", catalogue.EventName)
	assert.Equal(t, "10932509", catalogue.CompetitionID)
	require.Len(t, catalogue.Runners, 3)
	assert.Equal(t, int64(47972), catalogue.Runners[0].SelectionID)
	assert.Equal(t, "The Draw", catalogue.Runners[2].RunnerName)
	assert.Equal(t, 3, catalogue.Runners[2].SortPriority)
}

func TestDecodeMarketCatalogue_Defaults(t *testing.T) {
	body := `[{
		"marketId": "1.999",
		"marketName": "Mystery",
		"runners": [{"selectionId": 1}]
	}]`

	var wire []wireMarketCatalogue
	require.NoError(t, json.Unmarshal([]byte(body), &wire))

	catalogue := wire[0].toResult()
	assert.Equal(t, "UNKNOWN", catalogue.MarketType)
	assert.Equal(t, "Unknown", catalogue.Runners[0].RunnerName)
}

func TestDecodeMarketBook(t *testing.T) {
	body := `[{
		"marketId": "1.234567890",
		"isMarketDataDelayed": false,
		"status": "OPEN",
		"inplay": false,
		"totalMatched": 21000.55,
		"totalAvailable": 8400.20,
		"runners": [{
			"selectionId": 47972,
			"status": "ACTIVE",
			"lastPriceTraded": 2.02,
			"totalMatched": 9000.0,
			"ex": {
				"availableToBack": [{"price": 2.00, "size": 120.5}, {"price": 1.99, "size": 80.0}],
				"availableToLay": [{"price": 2.02, "size": 95.0}]
			}
		}]
	}]`

	var wire []wireMarketBook
	require.NoError(t, json.Unmarshal([]byte(body), &wire))

	book := wire[0].toResult()
	assert.Equal(t, "OPEN", book.Status)
	assert.False(t, book.Inplay)
	assert.InDelta(t, 21000.55, book.TotalMatched, 1e-9)
	require.Len(t, book.Runners, 1)

	runner := book.Runners[0]
	require.NotNil(t, runner.LastPriceTraded)
	assert.InDelta(t, 2.02, *runner.LastPriceTraded, 1e-9)
	require.Len(t, runner.AvailableToBack, 2)
	assert.InDelta(t, 2.00, runner.AvailableToBack[0].Price, 1e-9)
	assert.InDelta(t, 120.5, runner.AvailableToBack[0].Size, 1e-9)

	ladder := runner.Ladder()
	assert.Equal(t, int64(47972), ladder.RunnerID)
	assert.InDelta(t, 2.00, ladder.BestBack(), 1e-9)
	assert.InDelta(t, 2.02, ladder.BestLay(), 1e-9)
}

func TestDecodeMarketBook_Defaults(t *testing.T) {
	body := `[{
		"marketId": "1.5",
		"runners": [{"selectionId": 9, "lastPriceTraded": null}]
	}]`

	var wire []wireMarketBook
	require.NoError(t, json.Unmarshal([]byte(body), &wire))

	book := wire[0].toResult()
	assert.Equal(t, "OPEN", book.Status)
	require.Len(t, book.Runners, 1)
	assert.Equal(t, "ACTIVE", book.Runners[0].Status)
	assert.Nil(t, book.Runners[0].LastPriceTraded)
}

func TestDecodeEvent_OpenDate(t *testing.T) {
	body := `[{
		"event": {
			"id": "33445566",
			"name": "Arsenal v Chelsea",
			"countryCode": "GB",
			"timezone": "Europe/London",
			"openDate": "2026-08-27T19:45:00.000Z"
		},
		"marketCount": 24
	}]`

	var wire []wireEvent
	require.NoError(t, json.Unmarshal([]byte(body), &wire))

	event := wire[0].toResult()
	assert.Equal(t, "33445566", event.ID)
	assert.Equal(t, "GB", event.CountryCode)
	assert.Equal(t, 24, event.MarketCount)
	want := time.Date(2026, 8, 27, 19, 45, 0, 0, time.UTC)
	assert.True(t, event.OpenDate.Equal(want))
}

func TestNewTimeRange_UTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	from := time.Date(2026, 8, 27, 10, 0, 0, 0, loc)
	to := from.Add(72 * time.Hour)

	tr := NewTimeRange(from, to)
	assert.Equal(t, "2026-08-27T09:00:00Z", tr.From)
	assert.Equal(t, "2026-08-30T09:00:00Z", tr.To)
}

package http

import (
	"time"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/persistence"
)

// HealthResponse reports overall service health with per-component detail.
type HealthResponse struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is one dependency's health check result.
type ComponentHealth struct {
	Status         string   `json:"status"`
	ResponseTimeMS int64    `json:"response_time_ms,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// PhaseResponse reports the trading phase gate's latest evaluation.
type PhaseResponse struct {
	Phase      string                         `json:"phase"`
	Ready      bool                           `json:"ready"`
	Reason     string                         `json:"reason,omitempty"`
	Signals    map[string]config.SignalDetail `json:"signals,omitempty"`
	Disclaimer string                         `json:"disclaimer"`
	Timestamp  time.Time                      `json:"timestamp"`
}

// DecisionsResponse lists recent shadow decisions with an outcome summary.
type DecisionsResponse struct {
	Timestamp  time.Time                     `json:"timestamp"`
	Disclaimer string                        `json:"disclaimer"`
	Summary    DecisionsSummary              `json:"summary"`
	Decisions  []*persistence.ShadowDecision `json:"decisions"`
}

// DecisionsSummary aggregates all decisions ever made by outcome.
type DecisionsSummary struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Wins    int64 `json:"wins"`
	Losses  int64 `json:"losses"`
	Voids   int64 `json:"voids"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

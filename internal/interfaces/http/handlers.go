package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/domain"
	"github.com/sawpanic/ridgeradar/internal/exchange"
	"github.com/sawpanic/ridgeradar/internal/persistence"
	"github.com/sawpanic/ridgeradar/internal/shadow"
)

// exchangeCheckTTL caches the exchange probe between /health calls so an
// aggressive poller cannot burn API budget.
const exchangeCheckTTL = time.Minute

const (
	defaultDecisionLimit = 20
	maxDecisionLimit     = 100
)

// PhaseEvaluator reports the current trading phase. Satisfied by shadow.Gate.
type PhaseEvaluator interface {
	Evaluate(ctx context.Context) (*shadow.PhaseStatus, error)
}

// RedisPinger reports cache connectivity. Satisfied by *redis.Client; nil
// means no Redis is configured.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Handlers serves the monitor endpoints. Every route is a read over current
// observations; nothing here mutates state.
type Handlers struct {
	dbHealth  persistence.RepositoryHealth
	redis     RedisPinger
	gateway   exchange.Gateway
	gate      PhaseEvaluator
	decisions persistence.DecisionsRepo
	logger    zerolog.Logger
	now       func() time.Time

	mu              sync.Mutex
	exchangeOK      bool
	exchangeChecked time.Time
}

// NewHandlers wires the monitor's read-only dependencies. redis may be nil
// when no cache is configured, and gateway may be nil when no exchange
// credentials are configured.
func NewHandlers(dbHealth persistence.RepositoryHealth, redisPinger RedisPinger, gateway exchange.Gateway, gate PhaseEvaluator, decisions persistence.DecisionsRepo, logger zerolog.Logger) *Handlers {
	return &Handlers{
		dbHealth:  dbHealth,
		redis:     redisPinger,
		gateway:   gateway,
		gate:      gate,
		decisions: decisions,
		logger:    logger.With().Str("component", "monitor").Logger(),
		now:       time.Now,
	}
}

// Health handles GET /health. The database decides liveness: without it
// nothing runs, so a failed ping answers 503. A broken cache or exchange
// degrades the status but keeps 200, since the monitor itself still works.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	db := h.dbHealth.Health(ctx)
	database := ComponentHealth{Status: "healthy", ResponseTimeMS: db.ResponseTimeMS}
	if !db.Healthy {
		database.Status = "unhealthy"
		database.Errors = db.Errors
	}

	cacheHealth := ComponentHealth{Status: "disabled"}
	if h.redis != nil {
		cacheHealth.Status = "healthy"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			cacheHealth.Status = "unhealthy"
			cacheHealth.Errors = []string{err.Error()}
		}
	}

	exchangeHealth := ComponentHealth{Status: "disabled"}
	if h.gateway != nil {
		exchangeHealth.Status = "healthy"
		if !h.exchangeHealthy(ctx) {
			exchangeHealth.Status = "unhealthy"
		}
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Components: map[string]ComponentHealth{
			"database": database,
			"cache":    cacheHealth,
			"exchange": exchangeHealth,
		},
	}

	status := http.StatusOK
	switch {
	case !db.Healthy:
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case cacheHealth.Status == "unhealthy" || exchangeHealth.Status == "unhealthy":
		response.Status = "degraded"
	}

	h.writeJSON(w, status, response)
}

// exchangeHealthy probes the exchange at most once per TTL.
func (h *Handlers) exchangeHealthy(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.exchangeChecked.IsZero() && h.now().Sub(h.exchangeChecked) < exchangeCheckTTL {
		return h.exchangeOK
	}
	h.exchangeOK = h.gateway.HealthCheck(ctx)
	h.exchangeChecked = h.now()
	return h.exchangeOK
}

// Phase handles GET /phase.
func (h *Handlers) Phase(w http.ResponseWriter, r *http.Request) {
	status, err := h.gate.Evaluate(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("phase_endpoint_error")
		h.writeError(w, r, http.StatusInternalServerError, "phase_check_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, PhaseResponse{
		Phase:      string(status.Phase),
		Ready:      status.Ready,
		Reason:     status.Reason,
		Signals:    status.Signals,
		Disclaimer: shadow.Disclaimer,
		Timestamp:  h.now().UTC(),
	})
}

// Decisions handles GET /decisions with an optional ?limit=N.
func (h *Handlers) Decisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > maxDecisionLimit {
			limit = maxDecisionLimit
		}
	}

	ctx := r.Context()
	decisions, err := h.decisions.ListRecent(ctx, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("decisions_endpoint_error")
		h.writeError(w, r, http.StatusInternalServerError, "decisions_unavailable", err.Error())
		return
	}
	counts, err := h.decisions.CountByOutcome(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("decisions_endpoint_error")
		h.writeError(w, r, http.StatusInternalServerError, "decisions_unavailable", err.Error())
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	h.writeJSON(w, http.StatusOK, DecisionsResponse{
		Timestamp:  h.now().UTC(),
		Disclaimer: shadow.Disclaimer,
		Summary: DecisionsSummary{
			Total:   total,
			Pending: counts[domain.OutcomePending],
			Wins:    counts[domain.OutcomeWin],
			Losses:  counts[domain.OutcomeLose],
			Voids:   counts[domain.OutcomeVoid],
		},
		Decisions: decisions,
	})
}

// NotFound answers unknown routes with the standard error payload.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("response_encode_error")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: h.now().UTC(),
	})
}

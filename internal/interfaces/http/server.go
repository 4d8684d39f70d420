// Package http serves the read-only monitor: health, Prometheus metrics,
// trading phase, and recent shadow decisions. The analytics and UI query
// layer lives elsewhere; these endpoints exist so an operator can tell at a
// glance whether the collector is alive and what phase it is in.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/metrics"
)

// ServerConfig carries the listener address and timeouts.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns the monitor defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8090",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// FromSettings builds a ServerConfig from the loaded settings.
func FromSettings(settings config.HTTPSettings) ServerConfig {
	cfg := DefaultServerConfig()
	if settings.ListenAddr != "" {
		cfg.Addr = settings.ListenAddr
	}
	return cfg
}

// Server is the monitor HTTP server.
type Server struct {
	config ServerConfig
	router *mux.Router
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the router and wires the handlers.
func NewServer(cfg ServerConfig, handlers *Handlers, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "monitor_server").Logger(),
	}
	s.routes(handlers)
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes(handlers *Handlers) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	// promhttp negotiates its own content type, so /metrics stays off the
	// JSON subrouter.
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.NewRoute().Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	api.HandleFunc("/phase", handlers.Phase).Methods(http.MethodGet)
	api.HandleFunc("/decisions", handlers.Decisions).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.Addr).Msg("monitor_server_starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("monitor_server_stopping")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree so tests can drive it without a listener.
func (s *Server) Router() http.Handler {
	return s.router
}

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDFrom returns the request ID stamped by the middleware. Routes
// that bypass the middleware, like the not-found handler, fall back to
// "unknown".
func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(started)).
			Str("request_id", requestIDFrom(r.Context())).
			Msg("http_request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures the status code for request logging.
type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

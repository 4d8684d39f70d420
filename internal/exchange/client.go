package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/exchange/ratelimit"
	"github.com/sawpanic/ridgeradar/internal/metrics"
)

const maxAttempts = 3

// Gateway is the exchange surface the ingestion services consume.
type Gateway interface {
	ListEventTypes(ctx context.Context, filter MarketFilter) ([]EventType, error)
	ListCompetitions(ctx context.Context, filter MarketFilter) ([]Competition, error)
	ListEvents(ctx context.Context, filter MarketFilter) ([]Event, error)
	ListMarketCatalogue(ctx context.Context, filter MarketFilter, maxResults int) ([]MarketCatalogue, error)
	ListMarketBook(ctx context.Context, marketIDs []string, priceDepth int) ([]MarketBook, error)
	HealthCheck(ctx context.Context) bool
}

// Client calls the exchange betting API. Every request is rate limited, the
// transport sits behind a circuit breaker, and classified failures are
// retried with exponential backoff. Session expiry re-authenticates inline.
type Client struct {
	http    *resty.Client
	session *SessionManager
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	baseURL string
	appKey  string
}

// NewClient builds the betting API client.
func NewClient(settings config.ExchangeSettings, session *SessionManager, limiter ratelimit.Limiter, logger zerolog.Logger) *Client {
	clientLogger := logger.With().Str("component", "exchange_client").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			clientLogger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("exchange_breaker_state")
		},
	})

	return &Client{
		http:    resty.New().SetTimeout(settings.GetRequestTimeout()),
		session: session,
		limiter: limiter,
		breaker: breaker,
		logger:  clientLogger,
		baseURL: settings.APIURL,
		appKey:  settings.AppKey,
	}
}

// ListEventTypes lists sports matching the filter.
func (c *Client) ListEventTypes(ctx context.Context, filter MarketFilter) ([]EventType, error) {
	var wire []wireEventType
	if err := c.invoke(ctx, "listEventTypes", map[string]any{"filter": filter}, &wire); err != nil {
		return nil, err
	}
	out := make([]EventType, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toResult())
	}
	return out, nil
}

// ListCompetitions lists competitions matching the filter.
func (c *Client) ListCompetitions(ctx context.Context, filter MarketFilter) ([]Competition, error) {
	var wire []wireCompetition
	if err := c.invoke(ctx, "listCompetitions", map[string]any{"filter": filter}, &wire); err != nil {
		return nil, err
	}
	out := make([]Competition, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toResult())
	}
	return out, nil
}

// ListEvents lists fixtures matching the filter.
func (c *Client) ListEvents(ctx context.Context, filter MarketFilter) ([]Event, error) {
	var wire []wireEvent
	if err := c.invoke(ctx, "listEvents", map[string]any{"filter": filter}, &wire); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toResult())
	}
	return out, nil
}

// ListMarketCatalogue lists markets with event, competition and runner
// descriptions. The exchange expects maxResults as a string.
func (c *Client) ListMarketCatalogue(ctx context.Context, filter MarketFilter, maxResults int) ([]MarketCatalogue, error) {
	params := map[string]any{
		"filter":           filter,
		"maxResults":       strconv.Itoa(maxResults),
		"marketProjection": defaultMarketProjection,
	}
	var wire []wireMarketCatalogue
	if err := c.invoke(ctx, "listMarketCatalogue", params, &wire); err != nil {
		return nil, err
	}
	out := make([]MarketCatalogue, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toResult())
	}
	return out, nil
}

// ListMarketBook fetches live prices for up to a batch of markets at the
// requested ladder depth.
func (c *Client) ListMarketBook(ctx context.Context, marketIDs []string, priceDepth int) ([]MarketBook, error) {
	params := map[string]any{
		"marketIds": marketIDs,
		"priceProjection": map[string]any{
			"priceData": []string{"EX_BEST_OFFERS", "EX_TRADED"},
			"exBestOffersOverrides": map[string]any{
				"bestPricesDepth": priceDepth,
			},
		},
	}
	var wire []wireMarketBook
	if err := c.invoke(ctx, "listMarketBook", params, &wire); err != nil {
		return nil, err
	}
	out := make([]MarketBook, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toResult())
	}
	return out, nil
}

// HealthCheck reports whether the exchange API answers a trivial call.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if _, err := c.ListEventTypes(ctx, MarketFilter{}); err != nil {
		c.logger.Warn().Err(err).Msg("exchange_health_check_failed")
		return false
	}
	return true
}

// invoke posts one API call and decodes the response, applying the retry
// ladder: invalid sessions re-authenticate and go again, transient failures
// back off exponentially, permanent failures return immediately.
func (c *Client) invoke(ctx context.Context, endpoint string, params, out any) error {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		token, err := c.session.Token(ctx)
		if err != nil {
			return fmt.Errorf("exchange session: %w", err)
		}

		started := time.Now()
		resp, err := c.post(ctx, endpoint, token, params)
		elapsed := time.Since(started)
		apiErr := c.classify(endpoint, resp, err)
		if apiErr == nil {
			metrics.RecordExchangeRequest(endpoint, "ok", elapsed.Seconds())
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("exchange %s: decode response: %w", endpoint, err)
			}
			return nil
		}
		metrics.RecordExchangeRequest(endpoint, string(apiErr.Code), elapsed.Seconds())
		lastErr = apiErr

		if apiErr.Code == ErrCodeInvalidSession {
			c.logger.Warn().Str("endpoint", endpoint).Msg("session_expired_relogin")
			c.session.Invalidate(ctx)
			metrics.AddExchangeRetry()
			continue
		}
		if apiErr.Retryable() && attempt < maxAttempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			metrics.AddExchangeRetry()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("code", string(apiErr.Code)).
				Dur("backoff", backoff).
				Msg("api_error_retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if apiErr.Code == ErrCodeInvalidInput {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("message", apiErr.Message).
				Msg("bad_request")
		}
		return apiErr
	}
	return lastErr
}

// post performs the HTTP call through the circuit breaker. Only transport
// failures and 5xx responses count against the breaker; API-level errors
// come back as normal responses.
func (c *Client) post(ctx context.Context, endpoint, token string, params any) (*resty.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("X-Application", c.appKey).
			SetHeader("X-Authentication", token).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetBody(params).
			Post(c.baseURL + "/" + endpoint + "/")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return resp, fmt.Errorf("exchange returned status %d", resp.StatusCode())
		}
		return resp, nil
	})
	resp, _ := result.(*resty.Response)
	return resp, err
}

// classify turns a transport result into an APIError, or nil on success. The
// exchange's own error code wins when the body carries one; otherwise the
// HTTP status class decides.
func (c *Client) classify(endpoint string, resp *resty.Response, err error) *APIError {
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &APIError{Code: ErrCodeServiceUnavailable, Message: "circuit breaker open", Endpoint: endpoint}
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return &APIError{Code: ErrCodeTimeout, Message: err.Error(), Endpoint: endpoint}
		}
		apiErr := &APIError{Code: ErrCodeServiceUnavailable, Message: err.Error(), Endpoint: endpoint}
		if resp != nil {
			apiErr.HTTPStatus = resp.StatusCode()
		}
		return apiErr
	}

	status := resp.StatusCode()
	if status == 200 {
		return nil
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(resp.Body(), &envelope); jsonErr == nil && envelope.Error.Code != "" {
		return &APIError{
			Code:       classifyAPICode(envelope.Error.Code),
			APICode:    envelope.Error.Code,
			Message:    envelope.Error.Message,
			Endpoint:   endpoint,
			HTTPStatus: status,
		}
	}

	switch {
	case status == 429:
		return &APIError{Code: ErrCodeRateLimited, Message: "rate limited", Endpoint: endpoint, HTTPStatus: status}
	case status == 400:
		return &APIError{Code: ErrCodeInvalidInput, Message: string(resp.Body()), Endpoint: endpoint, HTTPStatus: status}
	case status == 401 || status == 403:
		return &APIError{Code: ErrCodeInvalidSession, Message: "authentication rejected", Endpoint: endpoint, HTTPStatus: status}
	default:
		return &APIError{Code: ErrCodeUnknown, Message: string(resp.Body()), Endpoint: endpoint, HTTPStatus: status}
	}
}

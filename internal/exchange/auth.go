package exchange

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/sawpanic/ridgeradar/internal/cache"
	"github.com/sawpanic/ridgeradar/internal/config"
)

const (
	sessionTokenKey = "exchange:session_token"
	tokenExpiryKey  = "exchange:token_expiry"
	// sessionTTL is how long the exchange honours a session. Expired sessions
	// also surface as INVALID_SESSION on API calls, which forces a re-login.
	sessionTTL = 4 * time.Hour
)

// SessionManager owns the exchange session token. Tokens are shared across
// processes through the cache so concurrent workers do not each burn a login.
type SessionManager struct {
	mu       sync.Mutex
	settings config.ExchangeSettings
	http     *resty.Client
	store    cache.Cache
	logger   zerolog.Logger

	token  string
	expiry time.Time
}

// NewSessionManager builds a session manager against the identity endpoints.
func NewSessionManager(settings config.ExchangeSettings, store cache.Cache, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		settings: settings,
		http:     resty.New().SetTimeout(settings.GetRequestTimeout()),
		store:    store,
		logger:   logger.With().Str("component", "exchange_session").Logger(),
	}
}

// Token returns a valid session token, logging in when necessary.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.expiry) {
		return m.token, nil
	}
	if token, expiry, ok := m.fromCache(ctx); ok {
		m.token = token
		m.expiry = expiry
		m.logger.Debug().Time("expiry", expiry).Msg("session_reused_from_cache")
		return token, nil
	}
	return m.loginLocked(ctx)
}

// Invalidate logs the session out and clears it everywhere. Logout failures
// are only warned: the token is discarded regardless.
func (m *SessionManager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		resp, err := m.http.R().
			SetContext(ctx).
			SetHeader("X-Application", m.settings.AppKey).
			SetHeader("X-Authentication", m.token).
			SetHeader("Accept", "application/json").
			Post(m.settings.IdentityURL + "/logout")
		if err != nil {
			m.logger.Warn().Err(err).Msg("exchange_logout_failed")
		} else if resp.StatusCode() != 200 {
			m.logger.Warn().Int("status", resp.StatusCode()).Msg("exchange_logout_failed")
		}
	}

	m.token = ""
	m.expiry = time.Time{}
	m.store.Delete(ctx, sessionTokenKey)
	m.store.Delete(ctx, tokenExpiryKey)
}

// KeepAlive extends the current session. Returns false when there is no
// session or the exchange refused the extension.
func (m *SessionManager) KeepAlive(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == "" {
		return false
	}

	var result struct {
		Status string `json:"status"`
	}
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("X-Application", m.settings.AppKey).
		SetHeader("X-Authentication", m.token).
		SetHeader("Accept", "application/json").
		SetResult(&result).
		Post(m.settings.IdentityURL + "/keepAlive")
	if err != nil || resp.StatusCode() != 200 || result.Status != "SUCCESS" {
		m.logger.Warn().Err(err).Str("status", result.Status).Msg("exchange_keepalive_failed")
		return false
	}

	m.expiry = time.Now().Add(sessionTTL)
	m.storeToken(ctx)
	return true
}

func (m *SessionManager) fromCache(ctx context.Context) (string, time.Time, bool) {
	tokenBytes, ok := m.store.Get(ctx, sessionTokenKey)
	if !ok {
		return "", time.Time{}, false
	}
	expiryBytes, ok := m.store.Get(ctx, tokenExpiryKey)
	if !ok {
		return "", time.Time{}, false
	}
	expiry, err := time.Parse(time.RFC3339, string(expiryBytes))
	if err != nil || !time.Now().Before(expiry) {
		return "", time.Time{}, false
	}
	return string(tokenBytes), expiry, true
}

func (m *SessionManager) storeToken(ctx context.Context) {
	ttl := time.Until(m.expiry)
	m.store.Set(ctx, sessionTokenKey, []byte(m.token), ttl)
	m.store.Set(ctx, tokenExpiryKey, []byte(m.expiry.UTC().Format(time.RFC3339)), ttl)
}

// loginLocked performs a fresh login. Certificate login is preferred when a
// cert path is configured; otherwise the interactive endpoint is used, which
// the exchange rate-limits more aggressively.
func (m *SessionManager) loginLocked(ctx context.Context) (string, error) {
	var (
		token  string
		err    error
		method = "interactive"
	)
	if m.settings.CertPath != "" {
		method = "certificate"
		token, err = m.certLogin(ctx)
	} else {
		token, err = m.interactiveLogin(ctx)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("method", method).Msg("exchange_login_failed")
		return "", err
	}

	m.token = token
	m.expiry = time.Now().Add(sessionTTL)
	m.storeToken(ctx)
	m.logger.Info().Str("method", method).Time("expiry", m.expiry).Msg("exchange_login")
	return token, nil
}

type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	LoginStatus  string `json:"loginStatus"`
	Token        string `json:"token"`
	Status       string `json:"status"`
	Error        string `json:"error"`
}

func (r loginResponse) status() string {
	if r.LoginStatus != "" {
		return r.LoginStatus
	}
	return r.Status
}

func (r loginResponse) sessionToken() string {
	if r.SessionToken != "" {
		return r.SessionToken
	}
	return r.Token
}

func (m *SessionManager) certLogin(ctx context.Context) (string, error) {
	keyPath := m.settings.CertKeyPath
	if keyPath == "" {
		keyPath = strings.ReplaceAll(m.settings.CertPath, ".crt", ".key")
	}
	cert, err := tls.LoadX509KeyPair(m.settings.CertPath, keyPath)
	if err != nil {
		return "", fmt.Errorf("failed to load client certificate: %w", err)
	}

	client := resty.New().
		SetTimeout(m.settings.GetRequestTimeout()).
		SetCertificates(cert)

	var result loginResponse
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-Application", m.settings.AppKey).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"username": m.settings.Username,
			"password": m.settings.Password,
		}).
		SetResult(&result).
		Post(m.settings.CertLoginURL)
	if err != nil {
		return "", fmt.Errorf("certificate login request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("certificate login returned status %d", resp.StatusCode())
	}
	if result.status() != "SUCCESS" {
		return "", fmt.Errorf("certificate login rejected: %s", result.status())
	}
	return result.sessionToken(), nil
}

func (m *SessionManager) interactiveLogin(ctx context.Context) (string, error) {
	var result loginResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("X-Application", m.settings.AppKey).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"username": m.settings.Username,
			"password": m.settings.Password,
		}).
		SetResult(&result).
		Post(m.settings.IdentityURL + "/login")
	if err != nil {
		return "", fmt.Errorf("interactive login request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("interactive login returned status %d", resp.StatusCode())
	}
	if result.status() != "SUCCESS" {
		return "", fmt.Errorf("interactive login rejected: %s", result.status())
	}
	return result.sessionToken(), nil
}

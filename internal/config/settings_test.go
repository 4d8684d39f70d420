package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_MissingFileUsesDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", settings.Environment)
	assert.Equal(t, ":8090", settings.HTTP.ListenAddr)
	assert.Equal(t, 10, settings.Database.MaxOpenConns)
	assert.Equal(t, "https://api.betfair.com/exchange/betting/rest/v1.0", settings.Exchange.APIURL)
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override:pw@dbhost:5432/radar")
	t.Setenv("REDIS_ADDR", "redishost:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("EXCHANGE_APP_KEY", "app-key-from-env")
	t.Setenv("LOG_LEVEL", "debug")

	settings, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://override:pw@dbhost:5432/radar", settings.Database.URL)
	assert.Equal(t, "redishost:6380", settings.Redis.Addr)
	assert.Equal(t, 3, settings.Redis.DB)
	assert.Equal(t, "app-key-from-env", settings.Exchange.AppKey)
	assert.Equal(t, "debug", settings.LogLevel)
}

func TestLoadSettings_FileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	body := `
environment: production
http:
  listen_addr: ":9000"
database:
  url: "postgres://file:pw@filedb:5432/radar"
  max_open_conns: 25
  max_idle_conns: 10
exchange:
  api_url: "https://api.betfair.com/exchange/betting/rest/v1.0"
  timeout_sec: 15
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "production", settings.Environment)
	assert.Equal(t, ":9000", settings.HTTP.ListenAddr)
	assert.Equal(t, 25, settings.Database.MaxOpenConns)
	assert.Equal(t, 15*time.Second, settings.Exchange.GetRequestTimeout())
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:    "empty database url",
			mutate:  func(s *Settings) { s.Database.URL = "" },
			wantErr: "database url",
		},
		{
			name:    "idle above open",
			mutate:  func(s *Settings) { s.Database.MaxIdleConns = s.Database.MaxOpenConns + 1 },
			wantErr: "max_idle_conns",
		},
		{
			name:    "zero query timeout",
			mutate:  func(s *Settings) { s.Database.QueryTimeoutSec = 0 },
			wantErr: "query_timeout_sec",
		},
		{
			name:    "empty exchange api url",
			mutate:  func(s *Settings) { s.Exchange.APIURL = "" },
			wantErr: "api_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			tt.mutate(settings)
			err := settings.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSettings_ExchangeConfigured(t *testing.T) {
	settings := DefaultSettings()
	assert.False(t, settings.ExchangeConfigured())

	settings.Exchange.AppKey = "k"
	settings.Exchange.Username = "u"
	settings.Exchange.Password = "p"
	assert.True(t, settings.ExchangeConfigured())
}

func TestSettings_GetConnMaxLifetime(t *testing.T) {
	settings := DefaultSettings()
	assert.Equal(t, 30*time.Minute, settings.Database.GetConnMaxLifetime())

	settings.Database.ConnMaxLifetime = "90s"
	assert.Equal(t, 90*time.Second, settings.Database.GetConnMaxLifetime())

	settings.Database.ConnMaxLifetime = "garbage"
	assert.Equal(t, 30*time.Minute, settings.Database.GetConnMaxLifetime())
}

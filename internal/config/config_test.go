package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8001", cfg.Backend.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Stream.ReconnectDelay)
	assert.True(t, cfg.Stream.AutoReconnect)
	assert.Equal(t, 10*time.Second, cfg.Account.PollInterval)
	assert.Equal(t, 25, cfg.Market.BookDepth)
	assert.Equal(t, "none", cfg.Auth.Type)
	assert.Equal(t, "liquidvex-api-key", cfg.GCP.SecretNames.APIKey)

	ws, err := cfg.WSBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8001/ws", ws)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "liquidvex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
backend:
  base_url: https://api.example.com
stream:
  reconnect_delay: 5s
market:
  initial_asset: ETH
`), 0o600))
	t.Setenv("LIQUIDVEX_MARKET_INITIAL_ASSET", "SOL")
	t.Setenv("LIQUIDVEX_ACCOUNT_ADDRESS", "0xabc")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Stream.ReconnectDelay)
	assert.Equal(t, "SOL", cfg.Market.InitialAsset)
	assert.Equal(t, "0xabc", cfg.Account.Address)

	ws, err := cfg.WSBaseURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", ws)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LIQUIDVEX_LOGGING_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LIQUIDVEX_LOGGING_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LIQUIDVEX_AUTH_TYPE", "jwt")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"base url", func(c *Config) { c.Backend.BaseURL = "localhost:8001" }, "backend.base_url"},
		{"ws url", func(c *Config) { c.Backend.WSURL = "http://x" }, "backend.ws_url"},
		{"reconnect", func(c *Config) { c.Stream.ReconnectDelay = 0 }, "stream.reconnect_delay"},
		{"interval", func(c *Config) { c.Market.CandleInterval = "7m" }, "market.candle_interval"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"api key", func(c *Config) { c.Auth.Type = "api_key" }, "auth.api_key"},
		{"auth type", func(c *Config) { c.Auth.Type = "oauth" }, "auth.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type mapSource map[string]string

func (m mapSource) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", os.ErrNotExist
}

func TestApplySecretsKeepsExplicitValues(t *testing.T) {
	cfg := validConfig(t)
	cfg.Auth.APIKey = "explicit"
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	applySecrets(context.Background(), cfg, mapSource{
		"liquidvex-api-key":    "from-secret",
		"liquidvex-jwt-secret": "shh",
	}, logger)
	assert.Equal(t, "explicit", cfg.Auth.APIKey)
	assert.Equal(t, "shh", cfg.Auth.JWTSecret)
}

func TestBackoffPolicy(t *testing.T) {
	cfg := &Config{Stream: StreamConfig{ReconnectDelay: 3 * time.Second}}
	assert.Equal(t, liquidvex.FixedBackoff(3*time.Second), cfg.Backoff())
	assert.Equal(t, 3*time.Second, cfg.Backoff().Next(7))

	cfg.Stream.MaxReconnectDelay = 30 * time.Second
	assert.Equal(t, liquidvex.ExponentialBackoff{Base: 3 * time.Second, Max: 30 * time.Second}, cfg.Backoff())
}

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/gregtusar/liquidvex/pkg/liquidvex"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/gregtusar/liquidvex/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Market  MarketConfig  `mapstructure:"market"`
	Account AccountConfig `mapstructure:"account"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	GCP     GCPConfig     `mapstructure:"gcp"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// WSURL overrides the push-channel base derived from BaseURL.
	WSURL          string        `mapstructure:"ws_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StreamConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	// MaxReconnectDelay switches reconnects to exponential backoff capped
	// at this value. Zero keeps the fixed ReconnectDelay.
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
}

type MarketConfig struct {
	InitialAsset   string `mapstructure:"initial_asset"`
	CandleInterval string `mapstructure:"candle_interval"`
	CandleCount    int    `mapstructure:"candle_count"`
	BookDepth      int    `mapstructure:"book_depth"`
	TradeLimit     int    `mapstructure:"trade_limit"`
	HistoryLimit   int    `mapstructure:"history_limit"`
}

type AccountConfig struct {
	Address      string        `mapstructure:"address"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	// InMemory keeps preferences for the lifetime of the process only.
	InMemory bool `mapstructure:"in_memory"`
}

type AuthConfig struct {
	Type      string        `mapstructure:"type"`
	APIKey    string        `mapstructure:"api_key"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// Load reads configuration from defaults, an optional YAML file, a .env
// file and LIQUIDVEX_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/liquidvex")
	}

	v.SetEnvPrefix("LIQUIDVEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("backend.base_url", "http://localhost:8001")
	v.SetDefault("backend.ws_url", "")
	v.SetDefault("backend.rate_limit", 10.0)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("backend.request_timeout", "0s")

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.auto_reconnect", true)
	v.SetDefault("stream.reconnect_delay", "3s")
	v.SetDefault("stream.max_reconnect_delay", "0s")
	v.SetDefault("stream.ping_interval", "30s")
	v.SetDefault("stream.read_timeout", "0s")

	v.SetDefault("market.initial_asset", "BTC")
	v.SetDefault("market.candle_interval", "1h")
	v.SetDefault("market.candle_count", 500)
	v.SetDefault("market.book_depth", 25)
	v.SetDefault("market.trade_limit", 50)
	v.SetDefault("market.history_limit", 200)

	v.SetDefault("account.address", "")
	v.SetDefault("account.poll_interval", "10s")

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", "./data/prefs")
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("auth.type", string(liquidvex.AuthTypeNone))
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_ttl", "2m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("backend.base_url %q must be an http(s) url", c.Backend.BaseURL)
	}
	if c.Backend.WSURL != "" {
		if u, err := url.Parse(c.Backend.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add("backend.ws_url %q must be a ws(s) url", c.Backend.WSURL)
		}
	}
	if c.Backend.RateLimit < 0 || c.Backend.Burst < 0 {
		add("backend rate limit and burst must not be negative")
	}
	if c.Backend.RequestTimeout < 0 {
		add("backend.request_timeout must not be negative")
	}
	if c.Stream.ReconnectDelay <= 0 {
		add("stream.reconnect_delay must be positive")
	}
	if c.Stream.MaxReconnectDelay != 0 && c.Stream.MaxReconnectDelay < c.Stream.ReconnectDelay {
		add("stream.max_reconnect_delay must be zero or at least stream.reconnect_delay")
	}
	if c.Stream.PingInterval < 0 || c.Stream.ReadTimeout < 0 {
		add("stream intervals must not be negative")
	}
	if _, ok := models.CandleIntervals[c.Market.CandleInterval]; !ok {
		add("market.candle_interval %q is not supported", c.Market.CandleInterval)
	}
	if c.Market.CandleCount <= 0 || c.Market.BookDepth <= 0 || c.Market.TradeLimit <= 0 || c.Market.HistoryLimit <= 0 {
		add("market limits must be positive")
	}
	if c.Account.PollInterval <= 0 {
		add("account.poll_interval must be positive")
	}
	if c.Storage.Enabled && !c.Storage.InMemory && c.Storage.Path == "" {
		add("storage.path is required when storage is enabled")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level %q is invalid", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		add("logging.format must be json or text")
	}
	switch liquidvex.AuthType(c.Auth.Type) {
	case liquidvex.AuthTypeNone:
	case liquidvex.AuthTypeAPIKey:
		if c.Auth.APIKey == "" {
			add("auth.api_key is required for api_key auth")
		}
	case liquidvex.AuthTypeJWT:
		if c.Auth.JWTSecret == "" {
			add("auth.jwt_secret is required for jwt auth")
		}
	default:
		add("auth.type %q is not supported", c.Auth.Type)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Backoff is the reconnect policy for push channels.
func (c *Config) Backoff() liquidvex.BackoffPolicy {
	if c.Stream.MaxReconnectDelay > 0 {
		return liquidvex.ExponentialBackoff{Base: c.Stream.ReconnectDelay, Max: c.Stream.MaxReconnectDelay}
	}
	return liquidvex.FixedBackoff(c.Stream.ReconnectDelay)
}

// WSBaseURL is the push-channel base: backend.ws_url when set, otherwise
// derived from backend.base_url.
func (c *Config) WSBaseURL() (string, error) {
	if c.Backend.WSURL != "" {
		return strings.TrimRight(c.Backend.WSURL, "/"), nil
	}
	return liquidvex.WSBaseFromHTTP(c.Backend.BaseURL)
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	applySecrets(ctx, config, secretManager, logger)
	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// applySecrets fills credentials that are not already set.
func applySecrets(ctx context.Context, config *Config, src secrets.Source, logger *logrus.Logger) {
	if config.Auth.APIKey == "" {
		config.Auth.APIKey = secrets.GetWithDefault(ctx, src, logger, config.GCP.SecretNames.APIKey, "")
	}
	if config.Auth.JWTSecret == "" {
		config.Auth.JWTSecret = secrets.GetWithDefault(ctx, src, logger, config.GCP.SecretNames.JWTSecret, "")
	}
}

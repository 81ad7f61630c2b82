package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/gregtusar/perptrader/pkg/secrets"
	"github.com/gregtusar/perptrader/pkg/strategy"
)

type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ExchangeConfig struct {
	Testnet bool   `mapstructure:"testnet"`
	RESTURL string `mapstructure:"rest_url"`
	WSURL   string `mapstructure:"ws_url"`

	// May reference the environment as ${NAME} or $NAME.
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	RequestLookahead time.Duration `mapstructure:"request_lookahead"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
}

type StreamConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	BookResyncInterval time.Duration `mapstructure:"book_resync_interval"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"` // zero means 2x heartbeat
}

type TradingConfig struct {
	Strategy              string        `mapstructure:"strategy"`
	Symbol                string        `mapstructure:"symbol"`
	Qty                   int64         `mapstructure:"qty"`
	OrderType             string        `mapstructure:"order_type"`
	Slippage              float64       `mapstructure:"slippage"`
	StopLossPercentage    float64       `mapstructure:"stop_loss_percentage"`
	PositionPollInterval  time.Duration `mapstructure:"position_poll_interval"`
	CancelOrphans         bool          `mapstructure:"cancel_orphans"`
	CandleRetentionFactor int           `mapstructure:"candle_retention_factor"`
}

type ServerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// Load reads configuration from defaults, an optional config file, an
// optional .env file and PERP_* environment variables, in increasing
// precedence. Credentials still missing afterwards are read from GCP Secret
// Manager when enabled.
func Load(configPath string, logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
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
		v.AddConfigPath("/etc/perptrader")
	}

	v.SetEnvPrefix("PERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Exchange.APIKey = ResolveEnv(config.Exchange.APIKey)
	config.Exchange.APISecret = ResolveEnv(config.Exchange.APISecret)
	config.Server.JWTSecret = ResolveEnv(config.Server.JWTSecret)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		if err := loadSecretsFromGCP(context.Background(), &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if config.Stream.ReadTimeout <= 0 {
		config.Stream.ReadTimeout = 2 * config.Stream.HeartbeatInterval
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Exchange defaults
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.rest_url", "")
	v.SetDefault("exchange.ws_url", "")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.request_lookahead", time.Second)
	v.SetDefault("exchange.rate_limit", 10.0)
	v.SetDefault("exchange.rate_burst", 5)
	v.SetDefault("exchange.http_timeout", 10*time.Second)

	// Stream defaults
	v.SetDefault("stream.heartbeat_interval", 45*time.Second)
	v.SetDefault("stream.book_resync_interval", time.Hour)
	v.SetDefault("stream.reconnect_delay", 5*time.Second)
	v.SetDefault("stream.read_timeout", 0)

	// Trading defaults; zero values keep the strategy's own parameters
	v.SetDefault("trading.strategy", "rsi")
	v.SetDefault("trading.symbol", "")
	v.SetDefault("trading.qty", 0)
	v.SetDefault("trading.order_type", "")
	v.SetDefault("trading.slippage", 0.0)
	v.SetDefault("trading.stop_loss_percentage", 0.0)
	v.SetDefault("trading.position_poll_interval", 5*time.Minute)
	v.SetDefault("trading.cancel_orphans", false)
	v.SetDefault("trading.candle_retention_factor", 4)

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
	v.SetDefault("gcp.secret_names.api_secret", secretNames.APISecret)
	v.SetDefault("gcp.secret_names.jwt_secret", secretNames.JWTSecret)
}

// ResolveEnv expands a value written as ${NAME} or $NAME from the
// environment. Other values are returned unchanged.
func ResolveEnv(value string) string {
	name := ""
	switch {
	case strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}"):
		name = value[2 : len(value)-1]
	case strings.HasPrefix(value, "$") && len(value) > 1:
		name = value[1:]
	default:
		return value
	}
	return os.Getenv(name)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		problems = append(problems, "exchange.api_key and exchange.api_secret are required")
	}
	if !knownStrategy(c.Trading.Strategy) {
		problems = append(problems, fmt.Sprintf("unknown trading.strategy %q (available: %v)", c.Trading.Strategy, strategy.Names()))
	}
	switch c.Trading.OrderType {
	case "", "Market", "Limit":
	default:
		problems = append(problems, fmt.Sprintf("trading.order_type must be Market or Limit, got %q", c.Trading.OrderType))
	}
	if c.Trading.Qty < 0 || c.Trading.Slippage < 0 || c.Trading.StopLossPercentage < 0 {
		problems = append(problems, "trading.qty, trading.slippage and trading.stop_loss_percentage must not be negative")
	}
	if c.Trading.StopLossPercentage >= 1 {
		problems = append(problems, "trading.stop_loss_percentage must be below 1")
	}

	durations := map[string]time.Duration{
		"stream.heartbeat_interval":      c.Stream.HeartbeatInterval,
		"stream.book_resync_interval":    c.Stream.BookResyncInterval,
		"stream.reconnect_delay":         c.Stream.ReconnectDelay,
		"trading.position_poll_interval": c.Trading.PositionPollInterval,
		"exchange.http_timeout":          c.Exchange.HTTPTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			problems = append(problems, key+" must be positive")
		}
	}
	if c.Exchange.RateLimit <= 0 || c.Exchange.RateBurst <= 0 {
		problems = append(problems, "exchange.rate_limit and exchange.rate_burst must be positive")
	}
	if c.Server.Enabled && c.Server.JWTSecret == "" {
		problems = append(problems, "server.jwt_secret is required when the server is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func knownStrategy(name string) bool {
	for _, n := range strategy.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets if they're not already set
	if config.Exchange.APIKey == "" {
		config.Exchange.APIKey = secretManager.GetSecretWithDefault(ctx, config.GCP.SecretNames.APIKey, "")
	}
	if config.Exchange.APISecret == "" {
		config.Exchange.APISecret = secretManager.GetSecretWithDefault(ctx, config.GCP.SecretNames.APISecret, "")
	}
	if config.Server.JWTSecret == "" && config.GCP.SecretNames.JWTSecret != "" {
		config.Server.JWTSecret = secretManager.GetSecretWithDefault(ctx, config.GCP.SecretNames.JWTSecret, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

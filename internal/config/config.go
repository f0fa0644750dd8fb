package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Market    MarketConfig    `mapstructure:"market"`
	Indicator IndicatorConfig `mapstructure:"indicator"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// MarketConfig holds the price data provider configuration
type MarketConfig struct {
	Symbol       string        `mapstructure:"symbol"`
	Interval     string        `mapstructure:"interval"`
	Limit        int           `mapstructure:"limit"`
	PrimaryURL   string        `mapstructure:"primary_url"`
	SecondaryURL string        `mapstructure:"secondary_url"` // empty disables fallback
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// IndicatorConfig holds the ALMA parameters
type IndicatorConfig struct {
	ShortWindow int     `mapstructure:"short_window"`
	LongWindow  int     `mapstructure:"long_window"`
	Offset      float64 `mapstructure:"offset"`
	Sigma       float64 `mapstructure:"sigma"`
}

// DetectorConfig holds crossover detection configuration
type DetectorConfig struct {
	// ClosedCandleLag is the number of newest candles treated as still forming.
	ClosedCandleLag int `mapstructure:"closed_candle_lag"`
}

// AlertConfig holds dispatch policy
type AlertConfig struct {
	// PersistOnFailure marks a candle as alerted even when delivery failed.
	PersistOnFailure bool `mapstructure:"persist_on_failure"`
}

// TelegramConfig holds Telegram notification configuration.
// Credentials are read from the environment, see LoadCredentials.
type TelegramConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	ParseMode    string        `mapstructure:"parse_mode"`
	NotifyErrors bool          `mapstructure:"notify_errors"`
}

// StorageConfig holds alert state persistence configuration
type StorageConfig struct {
	Backend       string        `mapstructure:"backend"`
	DBPath        string        `mapstructure:"db_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisKey      string        `mapstructure:"redis_key"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// MetricsConfig holds Prometheus Pushgateway configuration
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ScheduleConfig holds daemon mode configuration
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

const lagKey = "detector.closed_candle_lag"

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// ALMACROSS_MARKET_SYMBOL overrides market.symbol
	v.SetEnvPrefix("ALMACROSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The lag changes which candles count as closed, so it is never defaulted.
	if !v.IsSet(lagKey) {
		return nil, fmt.Errorf("%s must be set explicitly", lagKey)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Market defaults
	v.SetDefault("market.symbol", "BTCUSDT")
	v.SetDefault("market.interval", "1m")
	v.SetDefault("market.limit", 300)
	v.SetDefault("market.primary_url", "https://api.binance.com")
	v.SetDefault("market.secondary_url", "https://data-api.binance.vision")
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.retry_delay", "2s")

	// Indicator defaults
	v.SetDefault("indicator.short_window", 50)
	v.SetDefault("indicator.long_window", 200)
	v.SetDefault("indicator.offset", 0.85)
	v.SetDefault("indicator.sigma", 6.0)

	// Alert defaults
	v.SetDefault("alert.persist_on_failure", false)

	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "2s")
	v.SetDefault("telegram.parse_mode", "MarkdownV2")
	v.SetDefault("telegram.notify_errors", false)

	// Storage defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/almacross.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key", "almacross")
	v.SetDefault("storage.lock_ttl", "2m")

	// Metrics defaults
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "almacross")

	// Schedule defaults
	v.SetDefault("schedule.cron", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Market config
	if c.Market.Symbol == "" {
		return errors.New("market.symbol is required")
	}
	if c.Market.Interval == "" {
		return errors.New("market.interval is required")
	}
	if c.Market.PrimaryURL == "" {
		return errors.New("market.primary_url is required")
	}
	if c.Market.Limit < 2 || c.Market.Limit > 1000 {
		return errors.New("market.limit must be between 2 and 1000")
	}
	if c.Market.MaxRetries < 1 {
		return errors.New("market.max_retries must be at least 1")
	}
	if c.Market.RetryDelay < 0 {
		return errors.New("market.retry_delay must not be negative")
	}
	if c.Market.Timeout <= 0 {
		return errors.New("market.timeout must be positive")
	}

	// Validate Indicator config
	if c.Indicator.ShortWindow < 1 {
		return errors.New("indicator.short_window must be at least 1")
	}
	if c.Indicator.LongWindow <= c.Indicator.ShortWindow {
		return errors.New("indicator.long_window must be greater than indicator.short_window")
	}
	if c.Indicator.Offset <= 0 || c.Indicator.Offset >= 1 {
		return errors.New("indicator.offset must be between 0 and 1 (exclusive)")
	}
	if c.Indicator.Sigma <= 0 {
		return errors.New("indicator.sigma must be positive")
	}

	// Validate Detector config
	if c.Detector.ClosedCandleLag < 0 {
		return errors.New("detector.closed_candle_lag must not be negative")
	}
	if c.Market.Limit < c.Indicator.LongWindow+c.Detector.ClosedCandleLag+1 {
		return fmt.Errorf("market.limit must be at least %d to evaluate indicator.long_window with the configured lag",
			c.Indicator.LongWindow+c.Detector.ClosedCandleLag+1)
	}

	// Validate Telegram config
	if c.Telegram.MaxRetries < 1 {
		return errors.New("telegram.max_retries must be at least 1")
	}
	if c.Telegram.RetryDelay < 0 {
		return errors.New("telegram.retry_delay must not be negative")
	}
	validParseModes := map[string]bool{"MarkdownV2": true, "HTML": true}
	if !validParseModes[c.Telegram.ParseMode] {
		return errors.New("telegram.parse_mode must be one of: MarkdownV2, HTML")
	}

	// Validate Storage config
	switch c.Storage.Backend {
	case "sqlite":
		// empty db_path falls back to a temp directory
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis backend")
		}
		if c.Storage.RedisKey == "" {
			return errors.New("storage.redis_key is required for the redis backend")
		}
	default:
		return errors.New("storage.backend must be one of: sqlite, redis")
	}
	if c.Storage.LockTTL < 0 {
		return errors.New("storage.lock_ttl must not be negative")
	}

	// Validate Metrics config
	if c.Metrics.PushgatewayURL != "" && c.Metrics.Job == "" {
		return errors.New("metrics.job is required when metrics.pushgateway_url is set")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return errors.New("logging.format must be one of: json, text")
	}

	return nil
}

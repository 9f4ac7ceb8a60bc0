// Package config defines the top-level configuration for the pairs trader
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAIRST_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Trading   TradingConfig   `toml:"trading"`
	History   HistoryConfig   `toml:"history"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds venue REST/WS endpoints and API credentials.
type ExchangeConfig struct {
	BaseURL   string `toml:"base_url"`
	WsURL     string `toml:"ws_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
}

// RiskConfig holds portfolio risk limits.
type RiskConfig struct {
	MaxPositionSize   float64 `toml:"max_position_size"`
	MaxLeverage       float64 `toml:"max_leverage"`
	MinLiquidityRatio float64 `toml:"min_liquidity_ratio"`
	VarConfidence     float64 `toml:"var_confidence"`
	MaxCorrelation    float64 `toml:"max_correlation"`
}

// ExecutionConfig holds order routing and polling parameters.
type ExecutionConfig struct {
	MaxSlippage   float64  `toml:"max_slippage"`
	OrderTimeout  duration `toml:"order_timeout"`
	PollInterval  duration `toml:"poll_interval"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryBackoff  duration `toml:"retry_backoff"`
}

// TradingConfig lists the pairs the engine trades. Each pair is written as
// ASSET1_ASSET2, where both sides are venue instrument symbols.
type TradingConfig struct {
	Pairs          []string `toml:"pairs"`
	SignalChannel  string   `toml:"signal_channel"`
	MirrorBooks    bool     `toml:"mirror_books"`
	MonitorEvery   duration `toml:"monitor_every"`
}

// HistoryConfig controls the OHLC window fed to the risk model.
type HistoryConfig struct {
	Interval string   `toml:"interval"`
	Window   int      `toml:"window"`
	Refresh  duration `toml:"refresh"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Instruments returns the deduplicated set of instrument symbols referenced
// by Trading.Pairs, in first-seen order.
func (c *Config) Instruments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pair := range c.Trading.Pairs {
		for _, inst := range strings.Split(pair, "_") {
			if inst != "" && !seen[inst] {
				seen[inst] = true
				out = append(out, inst)
			}
		}
	}
	return out
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL: "https://api.binance.com",
			WsURL:   "wss://stream.binance.com:9443/stream",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pairstrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pairstrader-reports",
			ForcePathStyle: true,
			ReportPrefix:   "reports",
		},
		Risk: RiskConfig{
			MaxPositionSize:   10_000,
			MaxLeverage:       2.0,
			MinLiquidityRatio: 3.0,
			VarConfidence:     0.99,
			MaxCorrelation:    0.8,
		},
		Execution: ExecutionConfig{
			MaxSlippage:   0.001,
			OrderTimeout:  duration{30 * time.Second},
			PollInterval:  duration{100 * time.Millisecond},
			RetryAttempts: 3,
			RetryBackoff:  duration{time.Second},
		},
		Trading: TradingConfig{
			Pairs:         []string{},
			SignalChannel: "signals",
			MirrorBooks:   true,
			MonitorEvery:  duration{30 * time.Second},
		},
		History: HistoryConfig{
			Interval: "1h",
			Window:   168,
			Refresh:  duration{15 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_rejected", "execution_failed", "position_closed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Mode == "trade" || c.Mode == "full" {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, "exchange: api_key and api_secret are required for mode "+c.Mode)
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Risk
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxLeverage <= 0 {
		errs = append(errs, "risk: max_leverage must be > 0")
	}
	if c.Risk.VarConfidence <= 0 || c.Risk.VarConfidence >= 1 {
		errs = append(errs, fmt.Sprintf("risk: var_confidence must be in (0, 1), got %g", c.Risk.VarConfidence))
	}

	// Execution
	if c.Execution.MaxSlippage <= 0 {
		errs = append(errs, "execution: max_slippage must be > 0")
	}
	if c.Execution.RetryAttempts < 1 {
		errs = append(errs, "execution: retry_attempts must be >= 1")
	}

	// Trading
	if len(c.Trading.Pairs) == 0 && (c.Mode == "trade" || c.Mode == "full") {
		errs = append(errs, "trading: at least one pair is required for mode "+c.Mode)
	}
	for _, pair := range c.Trading.Pairs {
		parts := strings.Split(pair, "_")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Sprintf("trading: pair %q must be ASSET1_ASSET2", pair))
		}
	}

	// History
	if c.History.Window < 2 {
		errs = append(errs, "history: window must be >= 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

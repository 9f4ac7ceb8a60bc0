package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAIRST_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAIRST_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "PAIRST_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "PAIRST_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "PAIRST_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "PAIRST_EXCHANGE_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAIRST_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAIRST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAIRST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAIRST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAIRST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAIRST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAIRST_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAIRST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAIRST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAIRST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAIRST_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAIRST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAIRST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAIRST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAIRST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAIRST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAIRST_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAIRST_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAIRST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAIRST_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAIRST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAIRST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAIRST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAIRST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAIRST_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ReportPrefix, "PAIRST_S3_REPORT_PREFIX")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "PAIRST_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxLeverage, "PAIRST_RISK_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.MinLiquidityRatio, "PAIRST_RISK_MIN_LIQUIDITY_RATIO")
	setFloat64(&cfg.Risk.VarConfidence, "PAIRST_RISK_VAR_CONFIDENCE")
	setFloat64(&cfg.Risk.MaxCorrelation, "PAIRST_RISK_MAX_CORRELATION")

	// ── Execution ──
	setFloat64(&cfg.Execution.MaxSlippage, "PAIRST_EXECUTION_MAX_SLIPPAGE")
	setDuration(&cfg.Execution.OrderTimeout, "PAIRST_EXECUTION_ORDER_TIMEOUT")
	setDuration(&cfg.Execution.PollInterval, "PAIRST_EXECUTION_POLL_INTERVAL")
	setInt(&cfg.Execution.RetryAttempts, "PAIRST_EXECUTION_RETRY_ATTEMPTS")
	setDuration(&cfg.Execution.RetryBackoff, "PAIRST_EXECUTION_RETRY_BACKOFF")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Pairs, "PAIRST_TRADING_PAIRS")
	setStr(&cfg.Trading.SignalChannel, "PAIRST_TRADING_SIGNAL_CHANNEL")
	setBool(&cfg.Trading.MirrorBooks, "PAIRST_TRADING_MIRROR_BOOKS")
	setDuration(&cfg.Trading.MonitorEvery, "PAIRST_TRADING_MONITOR_EVERY")

	// ── History ──
	setStr(&cfg.History.Interval, "PAIRST_HISTORY_INTERVAL")
	setInt(&cfg.History.Window, "PAIRST_HISTORY_WINDOW")
	setDuration(&cfg.History.Refresh, "PAIRST_HISTORY_REFRESH")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAIRST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAIRST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAIRST_MODE")
	setStr(&cfg.LogLevel, "PAIRST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

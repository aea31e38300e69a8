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
// built-in defaults, applies TRADEGATE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when a variable is set (i.e. not empty).
func applyEnvOverrides(cfg *Config) {
	// Legacy agent variables; the TRADEGATE_* forms below take precedence.
	setStringSlice(&cfg.Engine.Assets, "TRADING_PAIRS")
	setPercent(&cfg.Engine.RiskPerTrade, "RISK_PERCENTAGE")
	setFloat64(&cfg.Engine.Leverage, "LEVERAGE")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Assets, "TRADEGATE_ENGINE_ASSETS")
	setStr(&cfg.Engine.Venue, "TRADEGATE_ENGINE_VENUE")
	setDuration(&cfg.Engine.TickInterval, "TRADEGATE_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.CallTimeout, "TRADEGATE_ENGINE_CALL_TIMEOUT")
	setInt(&cfg.Engine.MaxConcurrency, "TRADEGATE_ENGINE_MAX_CONCURRENCY")
	setDuration(&cfg.Engine.MaxSignalAge, "TRADEGATE_ENGINE_MAX_SIGNAL_AGE")
	setFloat64(&cfg.Engine.ExecuteThreshold, "TRADEGATE_ENGINE_EXECUTE_THRESHOLD")
	setFloat64(&cfg.Engine.MonitorThreshold, "TRADEGATE_ENGINE_MONITOR_THRESHOLD")
	setDuration(&cfg.Engine.CooldownDuration, "TRADEGATE_ENGINE_COOLDOWN_DURATION")
	setFloat64(&cfg.Engine.HysteresisMargin, "TRADEGATE_ENGINE_HYSTERESIS_MARGIN")
	setFloat64(&cfg.Engine.StopLossPct, "TRADEGATE_ENGINE_STOP_LOSS_PCT")
	setFloat64(&cfg.Engine.TakeProfitPct, "TRADEGATE_ENGINE_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Engine.RiskPerTrade, "TRADEGATE_ENGINE_RISK_PER_TRADE")
	setFloat64(&cfg.Engine.Leverage, "TRADEGATE_ENGINE_LEVERAGE")
	setInt(&cfg.Engine.MaxConsecutiveFailures, "TRADEGATE_ENGINE_MAX_CONSECUTIVE_FAILURES")
	setInt(&cfg.Engine.AuditCapacity, "TRADEGATE_ENGINE_AUDIT_CAPACITY")
	setBool(&cfg.Engine.DistributedLock, "TRADEGATE_ENGINE_DISTRIBUTED_LOCK")
	setBool(&cfg.Engine.Narrate, "TRADEGATE_ENGINE_NARRATE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "TRADEGATE_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxLeverage, "TRADEGATE_RISK_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.MaxDailyVolume, "TRADEGATE_RISK_MAX_DAILY_VOLUME")
	setFloat64(&cfg.Risk.MaxDrawdown, "TRADEGATE_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.MaxVenueConcentration, "TRADEGATE_RISK_MAX_VENUE_CONCENTRATION")
	setFloat64(&cfg.Risk.MaxCorrelation, "TRADEGATE_RISK_MAX_CORRELATION")
	setFloat64(&cfg.Risk.MaxGrossExposure, "TRADEGATE_RISK_MAX_GROSS_EXPOSURE")

	// ── Executor ──
	setStr(&cfg.Executor.Kind, "TRADEGATE_EXECUTOR_KIND")
	setStr(&cfg.Executor.BaseURL, "TRADEGATE_EXECUTOR_BASE_URL")
	setStr(&cfg.Executor.APIKey, "TRADEGATE_EXECUTOR_API_KEY")
	setStr(&cfg.Executor.APISecret, "TRADEGATE_EXECUTOR_API_SECRET")
	setDuration(&cfg.Executor.Timeout, "TRADEGATE_EXECUTOR_TIMEOUT")
	setFloat64(&cfg.Executor.StartingBalance, "TRADEGATE_EXECUTOR_STARTING_BALANCE")
	setFloat64(&cfg.Executor.FeeBps, "TRADEGATE_EXECUTOR_FEE_BPS")

	// ── Signals ──
	setFloat64(&cfg.Signals.ResearchCost, "TRADEGATE_SIGNALS_RESEARCH_COST")
	setInt(&cfg.Signals.CorrelationWindow, "TRADEGATE_SIGNALS_CORRELATION_WINDOW")
	setStr(&cfg.Signals.FeedURL, "TRADEGATE_SIGNALS_FEED_URL")

	// ── Payment ──
	setBool(&cfg.Payment.Enabled, "TRADEGATE_PAYMENT_ENABLED")
	setFloat64(&cfg.Payment.Budget, "TRADEGATE_PAYMENT_BUDGET")
	setFloat64(&cfg.Payment.TickCost, "TRADEGATE_PAYMENT_TICK_COST")
	setStr(&cfg.Payment.PayTo, "TRADEGATE_PAYMENT_PAY_TO")
	setInt64(&cfg.Payment.ChainID, "TRADEGATE_PAYMENT_CHAIN_ID")
	setStr(&cfg.Payment.Asset, "TRADEGATE_PAYMENT_ASSET")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TRADEGATE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "TRADEGATE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TRADEGATE_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADEGATE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADEGATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADEGATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEGATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEGATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEGATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEGATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEGATE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEGATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEGATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEGATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEGATE_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "TRADEGATE_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.SignalTTL, "TRADEGATE_REDIS_SIGNAL_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEGATE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEGATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEGATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEGATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEGATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEGATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEGATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEGATE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADEGATE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADEGATE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "TRADEGATE_ARCHIVE_CRON")
	setInt(&cfg.Archive.BatchSize, "TRADEGATE_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEGATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEGATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEGATE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEGATE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADEGATE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "TRADEGATE_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEGATE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEGATE_MODE")
	setStr(&cfg.LogLevel, "TRADEGATE_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

// setPercent reads a value expressed in percent (1.5 means 1.5%).
func setPercent(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f / 100
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

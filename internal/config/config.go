// Package config defines the top-level configuration for tradegate and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/tradegate/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEGATE_* environment variables.
type Config struct {
	Engine   EngineConfig      `toml:"engine"`
	Risk     domain.RiskLimits `toml:"risk"`
	Executor ExecutorConfig    `toml:"executor"`
	Signals  SignalsConfig     `toml:"signals"`
	Payment  PaymentConfig     `toml:"payment"`
	Wallet   WalletConfig      `toml:"wallet"`
	Postgres PostgresConfig    `toml:"postgres"`
	Redis    RedisConfig       `toml:"redis"`
	S3       S3Config          `toml:"s3"`
	Archive  ArchiveConfig     `toml:"archive"`
	Server   ServerConfig      `toml:"server"`
	Notify   NotifyConfig      `toml:"notify"`
	Mode     string            `toml:"mode"`
	LogLevel string            `toml:"log_level"`
}

// EngineConfig holds the decision loop parameters.
type EngineConfig struct {
	Assets           []string `toml:"assets"`
	Venue            string   `toml:"venue"`
	TickInterval     duration `toml:"tick_interval"`
	CallTimeout      duration `toml:"call_timeout"`
	MaxConcurrency   int      `toml:"max_concurrency"`
	MaxSignalAge     duration `toml:"max_signal_age"`
	ExecuteThreshold float64  `toml:"execute_threshold"`
	MonitorThreshold float64  `toml:"monitor_threshold"`
	// CooldownDuration defaults to three tick intervals when zero.
	CooldownDuration       duration `toml:"cooldown_duration"`
	HysteresisMargin       float64  `toml:"hysteresis_margin"`
	StopLossPct            float64  `toml:"stop_loss_pct"`
	TakeProfitPct          float64  `toml:"take_profit_pct"`
	RiskPerTrade           float64  `toml:"risk_per_trade"`
	Leverage               float64  `toml:"leverage"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	AuditCapacity          int      `toml:"audit_capacity"`
	DistributedLock        bool     `toml:"distributed_lock"`
	Narrate                bool     `toml:"narrate"`
}

// Cooldown returns the effective cooldown duration.
func (e EngineConfig) Cooldown() time.Duration {
	if e.CooldownDuration.Duration > 0 {
		return e.CooldownDuration.Duration
	}
	return 3 * e.TickInterval.Duration
}

// Timeout returns the effective per-call timeout.
func (e EngineConfig) Timeout() time.Duration {
	if e.CallTimeout.Duration > 0 {
		return e.CallTimeout.Duration
	}
	return e.TickInterval.Duration
}

// ExecutorConfig selects and configures the order execution backend.
type ExecutorConfig struct {
	// Kind is "paper" or "http".
	Kind            string   `toml:"kind"`
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	APISecret       string   `toml:"api_secret"`
	Timeout         duration `toml:"timeout"`
	StartingBalance float64  `toml:"starting_balance"`
	FeeBps          float64  `toml:"fee_bps"`
}

// SignalsConfig controls how signal bundles are read from the cache.
type SignalsConfig struct {
	ResearchCost float64 `toml:"research_cost"`
	// CorrelationWindow is the number of cached marks used to estimate
	// pairwise correlations.
	CorrelationWindow int `toml:"correlation_window"`
	// FeedURL is an optional websocket producer of marks and signal scores.
	// When empty the caches are expected to be filled by another process.
	FeedURL string `toml:"feed_url"`
}

// PaymentConfig holds the metered compute budget.
type PaymentConfig struct {
	Enabled  bool    `toml:"enabled"`
	Budget   float64 `toml:"budget"`
	TickCost float64 `toml:"tick_cost"`
	PayTo    string  `toml:"pay_to"`
	ChainID  int64   `toml:"chain_id"`
	Asset    string  `toml:"asset"`
}

// WalletConfig holds the key that signs payment receipts.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	SignalTTL    duration `toml:"signal_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old decisions to cold storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchSize     int    `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Assets:                 []string{"BTC", "ETH"},
			Venue:                  "paper",
			TickInterval:           duration{60 * time.Second},
			CallTimeout:            duration{10 * time.Second},
			MaxConcurrency:         4,
			MaxSignalAge:           duration{5 * time.Minute},
			ExecuteThreshold:       0.7,
			MonitorThreshold:       0.5,
			HysteresisMargin:       0.15,
			StopLossPct:            0.02,
			TakeProfitPct:          0.03,
			RiskPerTrade:           0.01,
			Leverage:               3,
			MaxConsecutiveFailures: 3,
			AuditCapacity:          5000,
			Narrate:                true,
		},
		Risk: domain.RiskLimits{
			MaxPositionSize:       1000,
			MaxLeverage:           10,
			MaxDailyVolume:        25000,
			MaxDrawdown:           0.2,
			MaxVenueConcentration: 0.8,
			MaxCorrelation:        0.85,
			MaxGrossExposure:      10000,
		},
		Executor: ExecutorConfig{
			Kind:            "paper",
			Timeout:         duration{10 * time.Second},
			StartingBalance: 10000,
			FeeBps:          5,
		},
		Signals: SignalsConfig{
			ResearchCost:      0.01,
			CorrelationWindow: 60,
		},
		Payment: PaymentConfig{
			Enabled:  false,
			Budget:   5,
			TickCost: 0.001,
			ChainID:  8453,
			Asset:    "USDC",
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
			SignalTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradegate-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "asset_halted", "limits_updated"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"engine":  true,
	"server":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, engine, server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	e := c.Engine
	if len(e.Assets) == 0 {
		errs = append(errs, "engine: assets must not be empty")
	}
	seen := make(map[string]bool, len(e.Assets))
	for _, a := range e.Assets {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, "engine: assets must not contain blank entries")
		} else if seen[a] {
			errs = append(errs, fmt.Sprintf("engine: asset %q listed twice", a))
		}
		seen[a] = true
	}
	if e.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if e.CallTimeout.Duration < 0 || e.CallTimeout.Duration > e.TickInterval.Duration {
		errs = append(errs, "engine: call_timeout must be between 0 and tick_interval")
	}
	if e.MaxConcurrency < 0 {
		errs = append(errs, "engine: max_concurrency must be >= 0")
	}
	if e.ExecuteThreshold < 0 || e.ExecuteThreshold > 1 {
		errs = append(errs, fmt.Sprintf("engine: execute_threshold must be in [0,1], got %v", e.ExecuteThreshold))
	}
	if e.MonitorThreshold < 0 || e.MonitorThreshold > 1 {
		errs = append(errs, fmt.Sprintf("engine: monitor_threshold must be in [0,1], got %v", e.MonitorThreshold))
	}
	if e.MonitorThreshold > e.ExecuteThreshold {
		errs = append(errs, "engine: monitor_threshold must not exceed execute_threshold")
	}
	if e.CooldownDuration.Duration < 0 {
		errs = append(errs, "engine: cooldown_duration must be >= 0")
	}
	if e.HysteresisMargin < 0 || e.HysteresisMargin > 1 {
		errs = append(errs, "engine: hysteresis_margin must be in [0,1]")
	}
	if e.StopLossPct <= 0 || e.StopLossPct >= 1 {
		errs = append(errs, "engine: stop_loss_pct must be in (0,1)")
	}
	if e.TakeProfitPct <= 0 {
		errs = append(errs, "engine: take_profit_pct must be > 0")
	}
	if e.RiskPerTrade <= 0 || e.RiskPerTrade > 1 {
		errs = append(errs, "engine: risk_per_trade must be in (0,1]")
	}
	if e.Leverage <= 0 {
		errs = append(errs, "engine: leverage must be > 0")
	}
	if e.MaxConsecutiveFailures < 1 {
		errs = append(errs, "engine: max_consecutive_failures must be >= 1")
	}

	// Risk limits
	var riskErr *domain.ConfigError
	if err := c.Risk.Validate(); errors.As(err, &riskErr) {
		for _, p := range riskErr.Problems {
			errs = append(errs, "risk: "+p)
		}
	}
	if c.Engine.Leverage > c.Risk.MaxLeverage && c.Risk.MaxLeverage > 0 {
		errs = append(errs, "engine: leverage exceeds risk.max_leverage; every entry would be vetoed")
	}

	// Executor
	switch c.Executor.Kind {
	case "paper":
		if c.Executor.StartingBalance <= 0 {
			errs = append(errs, "executor: starting_balance must be > 0 for the paper executor")
		}
	case "http":
		if c.Executor.BaseURL == "" {
			errs = append(errs, "executor: base_url is required for the http executor")
		}
	default:
		errs = append(errs, fmt.Sprintf("executor: unknown kind %q (valid: paper, http)", c.Executor.Kind))
	}

	if u := c.Signals.FeedURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, fmt.Sprintf("signals: feed_url %q must be a ws:// or wss:// URL", u))
	}

	// Payment
	if c.Payment.Enabled {
		if c.Payment.Budget <= 0 {
			errs = append(errs, "payment: budget must be > 0 when enabled")
		}
		if c.Payment.TickCost < 0 || c.Signals.ResearchCost < 0 {
			errs = append(errs, "payment: costs must be >= 0")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when payment is enabled")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 and archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled || c.Mode == "archive" {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires both s3.enabled and postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

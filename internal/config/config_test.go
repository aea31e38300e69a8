package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Minute, cfg.Engine.Cooldown())
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "engine"

[engine]
assets = ["SOL"]
tick_interval = "30s"
cooldown_duration = "2m"

[risk]
max_leverage = 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, []string{"SOL"}, cfg.Engine.Assets)
	assert.Equal(t, 30*time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Cooldown())
	assert.Equal(t, 5.0, cfg.Risk.MaxLeverage)
	// untouched sections keep their defaults
	assert.Equal(t, 0.85, cfg.Risk.MaxCorrelation)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADEGATE_ENGINE_ASSETS", "BTC, ETH ,SOL")
	t.Setenv("TRADEGATE_ENGINE_TICK_INTERVAL", "15s")
	t.Setenv("TRADEGATE_RISK_MAX_DRAWDOWN", "0.1")
	t.Setenv("TRADEGATE_SERVER_PORT", "9090")
	t.Setenv("TRADEGATE_PAYMENT_ENABLED", "true")
	t.Setenv("TRADEGATE_LOG_LEVEL", "debug")
	t.Setenv("TRADEGATE_SERVER_RATE_LIMIT", "not-a-number")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Engine.Assets)
	assert.Equal(t, 15*time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, 0.1, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Payment.Enabled)
	assert.Equal(t, "debug", cfg.LogLevel)
	// unparsable values leave the default in place
	assert.Equal(t, 120, cfg.Server.RateLimit)
}

func TestLegacyAgentVariables(t *testing.T) {
	t.Setenv("TRADING_PAIRS", "BTC/USDT,ETH/USDT")
	t.Setenv("RISK_PERCENTAGE", "2.5")
	t.Setenv("LEVERAGE", "5")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Engine.Assets)
	assert.InDelta(t, 0.025, cfg.Engine.RiskPerTrade, 1e-12)
	assert.Equal(t, 5.0, cfg.Engine.Leverage)
}

func TestPrefixedVariablesWinOverLegacy(t *testing.T) {
	t.Setenv("TRADING_PAIRS", "BTC/USDT")
	t.Setenv("TRADEGATE_ENGINE_ASSETS", "ETH")

	cfg := Defaults()
	applyEnvOverrides(&cfg)
	assert.Equal(t, []string{"ETH"}, cfg.Engine.Assets)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Engine.Assets = []string{"BTC", "BTC"}
	cfg.Engine.MonitorThreshold = 0.9
	cfg.Risk.MaxDrawdown = 1.5
	cfg.Executor.Kind = "http"
	cfg.Signals.FeedURL = "http://producer:9000"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, `unknown mode "bogus"`)
	assert.Contains(t, msg, `asset "BTC" listed twice`)
	assert.Contains(t, msg, "monitor_threshold must not exceed execute_threshold")
	assert.Contains(t, msg, "risk: ")
	assert.Contains(t, msg, "base_url is required")
	assert.Contains(t, msg, "must be a ws:// or wss:// URL")
}

func TestValidateLeverageAboveRiskCap(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Leverage = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leverage exceeds risk.max_leverage")
}

func TestValidateArchiveNeedsStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires both")

	cfg.S3.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Empty(t, red.Redis.Password)
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	red.Engine.Assets[0] = "XRP"
	assert.Equal(t, "BTC", cfg.Engine.Assets[0])
}

func TestValidateArchiveCron(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Enabled = true

	cfg.Archive.Cron = "@daily"
	assert.NoError(t, cfg.Validate())

	cfg.Archive.Cron = "0 25 * * *"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `archive: invalid cron "0 25 * * *"`)
}

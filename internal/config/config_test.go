package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	cfg.Trading.Pairs = []string{"BTCUSDT_ETHUSDT"}
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "backtest"
	cfg.Trading.Pairs = []string{"NOPAIR"}
	cfg.Risk.VarConfidence = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), `pair "NOPAIR"`)
	assert.Contains(t, err.Error(), "var_confidence")
}

func TestValidateMonitorModeNeedsNoCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Trading.Pairs = []string{"BTCUSDT_ETHUSDT"}
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[trading]
pairs = ["BTCUSDT_ETHUSDT"]

[execution]
order_timeout = "45s"
`), 0o600))

	t.Setenv("PAIRST_EXCHANGE_API_KEY", "env-key")
	t.Setenv("PAIRST_RISK_MAX_POSITION_SIZE", "2500")
	t.Setenv("PAIRST_TRADING_PAIRS", "AAAUSDT_BBBUSDT, CCCUSDT_DDDUSDT")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, 2500.0, cfg.Risk.MaxPositionSize)
	assert.Equal(t, 45*time.Second, cfg.Execution.OrderTimeout.Duration)
	assert.Equal(t, []string{"AAAUSDT_BBBUSDT", "CCCUSDT_DDDUSDT"}, cfg.Trading.Pairs)
}

func TestInstrumentsDeduplicates(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.Pairs = []string{"BTCUSDT_ETHUSDT", "ETHUSDT_SOLUSDT"}
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Instruments())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Exchange.APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)

	// Original untouched.
	assert.Equal(t, "secret", cfg.Exchange.APISecret)
}

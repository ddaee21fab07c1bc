package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 10000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 0.0004, cfg.Trading.FeeRate)
	assert.Equal(t, int64(3000), cfg.Trading.CooldownMs)
	assert.Equal(t, 15*time.Second, cfg.Binance.WatchdogTimeout)
	assert.Equal(t, 0.60, cfg.ML.ProbBuy)
	assert.Equal(t, 0.40, cfg.ML.ProbSell)
	assert.Equal(t, 5000, cfg.Pipeline.TickQueueSize)
	assert.Equal(t, 1000, cfg.Pipeline.CandleQueueSize)
	assert.Equal(t, 300, cfg.Pipeline.ExecutionQueueSize)
	assert.Equal(t, 10, cfg.Pipeline.TickerSampleRate)
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trading:
  symbols: ["SOLUSDT"]
  initialBalance: 2500
strategy:
  adxThreshold: 30
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SOLUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 2500.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 30.0, cfg.Strategy.ADXThreshold)
	// Unspecified fields still get defaults
	assert.Equal(t, 0.0004, cfg.Trading.FeeRate)
	assert.Equal(t, 300, cfg.Strategy.Lookback)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "btc/usdt, ethusdt")
	t.Setenv("QUESTDB_HOST", "questdb.internal")
	t.Setenv("ML_MIN_CONFIDENCE", "0.7")
	t.Setenv("WATCHDOG_TIMEOUT", "20")
	t.Setenv("API_PORT", "9100")

	cfg := DefaultConfig()

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, "questdb.internal", cfg.QuestDB.Host)
	assert.InDelta(t, 0.7, cfg.ML.ProbBuy, 1e-9)
	assert.InDelta(t, 0.3, cfg.ML.ProbSell, 1e-9)
	assert.Equal(t, 20*time.Second, cfg.Binance.WatchdogTimeout)
	assert.Equal(t, ":9100", cfg.API.Port)
}

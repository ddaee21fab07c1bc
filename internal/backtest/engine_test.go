package backtest

import (
	"testing"

	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/risk"
	"github.com/pulse-trading/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trendReversalCandles produces one golden cross late in the series
func trendReversalCandles(symbol string) []models.Candle {
	var closes []float64
	for i := 0; i < 220; i++ {
		closes = append(closes, 100+float64(i))
	}
	dipBase := closes[len(closes)-1]
	for k := 1; k <= 10; k++ {
		closes = append(closes, dipBase-3*float64(k))
	}
	rallyBase := closes[len(closes)-1]
	for k := 1; k <= 20; k++ {
		closes = append(closes, rallyBase+5*float64(k))
	}

	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Symbol:    symbol,
			Timestamp: 1_700_000_000_000 + int64(i)*1000,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
		}
	}
	return candles
}

func TestRun_ReplaySummary(t *testing.T) {
	engine := New(Config{
		Strategy:       strategy.DefaultConfig(),
		Sizer:          risk.DefaultSizerConfig(),
		InitialBalance: 10000,
		FeeRate:        0.0004,
		CooldownMs:     3000,
	})

	candles := trendReversalCandles("BTCUSDT")
	result := engine.Run("BTCUSDT", candles)

	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.Equal(t, len(candles), result.Candles)
	require.Equal(t, 1, result.Signals)
	assert.Equal(t, 1, result.Trades) // one fill: the opening BUY

	// The long is still open: cash went into the position, nothing realized
	assert.Less(t, result.FinalBalance, 10000.0)
	assert.Equal(t, 0.0, result.RealizedPnL)

	// Equity = cash + (mark - entry) * qty. Entry was the cross close
	// (319); the final close is 389. Reconstruct qty from the cash the
	// open consumed (cost plus 4bp fee).
	entry, mark := 319.0, candles[len(candles)-1].Close
	cost := (10000.0 - result.FinalBalance) / 1.0004
	qty := cost / entry
	assert.InDelta(t, result.FinalBalance+(mark-entry)*qty, result.FinalEquity, 1e-6)
}

func TestRun_EmptySeries(t *testing.T) {
	engine := New(Config{Strategy: strategy.DefaultConfig(), Sizer: risk.DefaultSizerConfig()})

	result := engine.Run("BTCUSDT", nil)
	assert.Equal(t, 0, result.Candles)
	assert.Equal(t, 0, result.Signals)
	assert.InDelta(t, 10000.0, result.FinalBalance, 1e-9)
}

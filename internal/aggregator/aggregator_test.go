package aggregator

import (
	"testing"

	"github.com/pulse-trading/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(symbol string, price, qty float64, ts int64) models.Tick {
	return models.Tick{Symbol: symbol, Price: price, Qty: qty, Side: models.TickSideBuy, Timestamp: ts}
}

func TestProcessTick_BuildsOHLCV(t *testing.T) {
	agg := New(1000)

	_, closed := agg.ProcessTick(tick("BTCUSDT", 50000, 10, 1_700_000_000_100))
	assert.False(t, closed)
	_, closed = agg.ProcessTick(tick("BTCUSDT", 50500, 20, 1_700_000_000_400))
	assert.False(t, closed)
	_, closed = agg.ProcessTick(tick("BTCUSDT", 49800, 5, 1_700_000_000_900))
	assert.False(t, closed)

	// Next second closes the first bar
	candle, closed := agg.ProcessTick(tick("BTCUSDT", 50100, 15, 1_700_000_001_200))
	require.True(t, closed)

	assert.Equal(t, int64(1_700_000_000_000), candle.Timestamp)
	assert.Equal(t, 50000.0, candle.Open)
	assert.Equal(t, 50500.0, candle.High)
	assert.Equal(t, 49800.0, candle.Low)
	assert.Equal(t, 49800.0, candle.Close)
	assert.Equal(t, 35.0, candle.Volume)
	assert.True(t, candle.Valid())
}

func TestProcessTick_BoundaryTickOpensNewBucket(t *testing.T) {
	agg := New(1000)

	agg.ProcessTick(tick("ETHUSDT", 3000, 1, 1_700_000_000_500))

	// Exactly on the boundary: belongs to the next bucket
	candle, closed := agg.ProcessTick(tick("ETHUSDT", 3001, 1, 1_700_000_001_000))
	require.True(t, closed)
	assert.Equal(t, int64(1_700_000_000_000), candle.Timestamp)
	assert.Equal(t, 3000.0, candle.Close)
}

func TestProcessTick_OutOfOrderDiscarded(t *testing.T) {
	agg := New(1000)

	agg.ProcessTick(tick("BTCUSDT", 50000, 1, 1_700_000_005_000))

	// Tick from an earlier bucket must not disturb the open bar
	_, closed := agg.ProcessTick(tick("BTCUSDT", 1, 99, 1_700_000_004_000))
	assert.False(t, closed)

	candle, closed := agg.ProcessTick(tick("BTCUSDT", 50100, 1, 1_700_000_006_000))
	require.True(t, closed)
	assert.Equal(t, 50000.0, candle.Low)
	assert.Equal(t, 1.0, candle.Volume)
}

func TestProcessTick_SymbolsIsolated(t *testing.T) {
	agg := New(1000)

	agg.ProcessTick(tick("BTCUSDT", 50000, 1, 1_700_000_000_000))
	agg.ProcessTick(tick("ETHUSDT", 3000, 2, 1_700_000_000_000))

	candle, closed := agg.ProcessTick(tick("BTCUSDT", 50100, 1, 1_700_000_001_000))
	require.True(t, closed)
	assert.Equal(t, "BTCUSDT", candle.Symbol)
	assert.Equal(t, 50000.0, candle.Open)

	candle, closed = agg.ProcessTick(tick("ETHUSDT", 3010, 2, 1_700_000_001_000))
	require.True(t, closed)
	assert.Equal(t, "ETHUSDT", candle.Symbol)
	assert.Equal(t, 3000.0, candle.Open)
}

func TestProcessTick_NonPositivePriceDropped(t *testing.T) {
	agg := New(1000)

	_, closed := agg.ProcessTick(tick("BTCUSDT", 0, 1, 1_700_000_000_000))
	assert.False(t, closed)
	assert.Empty(t, agg.open)
}

func TestFlushOpen_EmitsOpenCandles(t *testing.T) {
	agg := New(1000)
	out := make(chan models.Candle, 4)

	agg.ProcessTick(tick("BTCUSDT", 50000, 1, 1_700_000_000_000))
	agg.ProcessTick(tick("ETHUSDT", 3000, 2, 1_700_000_000_000))

	agg.FlushOpen(out)
	close(out)

	symbols := map[string]bool{}
	for candle := range out {
		symbols[candle.Symbol] = true
	}
	assert.True(t, symbols["BTCUSDT"])
	assert.True(t, symbols["ETHUSDT"])
	assert.Empty(t, agg.open)
}

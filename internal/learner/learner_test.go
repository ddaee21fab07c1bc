package learner

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/pulse-trading/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingCandles(symbol string, n int) []models.Candle {
	candles := make([]models.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= 1.002
		candles[i] = models.Candle{
			Symbol:    symbol,
			Timestamp: 1_700_000_000_000 + int64(i)*1000,
			Open:      price * 0.999,
			High:      price * 1.001,
			Low:       price * 0.998,
			Close:     price,
			Volume:    5 + float64(i%3),
		}
	}
	return candles
}

func TestOnCandle_NotReadyBeforeMinSamples(t *testing.T) {
	l := New(Config{Lookback: 10, MinSamples: 20})

	candles := risingCandles("BTCUSDT", 25)
	var lastReady bool
	for _, c := range candles {
		_, lastReady = l.OnCandle(c)
	}

	// 25 candles = 13 training steps, below the 20 threshold
	assert.False(t, lastReady)
	assert.False(t, l.Ready("BTCUSDT"))
	assert.Equal(t, 13, l.TrainCount("BTCUSDT"))
}

func TestOnCandle_LearnsRisingMarket(t *testing.T) {
	l := New(Config{Lookback: 10, MinSamples: 20})

	var pUp float64
	var ready bool
	for _, c := range risingCandles("BTCUSDT", 80) {
		pUp, ready = l.OnCandle(c)
	}

	require.True(t, ready)
	// Every label was 1; the classifier should lean up
	assert.Greater(t, pUp, 0.5)
	assert.True(t, l.Ready("BTCUSDT"))
}

func TestOnCandle_SymbolsIndependent(t *testing.T) {
	l := New(Config{Lookback: 10, MinSamples: 20})

	for _, c := range risingCandles("BTCUSDT", 40) {
		l.OnCandle(c)
	}

	assert.Greater(t, l.TrainCount("BTCUSDT"), 0)
	assert.Equal(t, 0, l.TrainCount("ETHUSDT"))
	assert.False(t, l.Ready("ETHUSDT"))
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learner.json")

	l := New(Config{Lookback: 10, MinSamples: 20, CheckpointPath: path})
	for _, c := range risingCandles("BTCUSDT", 40) {
		l.OnCandle(c)
	}
	trained := l.TrainCount("BTCUSDT")
	require.NoError(t, l.Save())

	// A fresh learner on the same path resumes the model
	restored := New(Config{Lookback: 10, MinSamples: 20, CheckpointPath: path})
	assert.Equal(t, trained, restored.TrainCount("BTCUSDT"))
}

func TestComputeFeatures_FiniteVector(t *testing.T) {
	candles := risingCandles("BTCUSDT", 30)
	features := computeFeatures(candles)

	require.NotNil(t, features)
	require.Len(t, features, featureDim)
	for _, v := range features {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
}

func TestComputeFeatures_RejectsNonPositiveCloses(t *testing.T) {
	candles := risingCandles("BTCUSDT", 30)
	candles[10].Close = 0

	assert.Nil(t, computeFeatures(candles))
}

func TestScaler_RunningStats(t *testing.T) {
	s := NewScaler(1)

	for _, v := range []float64{2, 4, 6, 8} {
		s.PartialFit([]float64{v})
	}

	assert.InDelta(t, 5.0, s.Mean[0], 1e-9)
	// Population variance of {2,4,6,8} is 5
	assert.InDelta(t, 5.0, s.M2[0]/s.Count, 1e-9)

	x := s.Transform([]float64{5})
	assert.InDelta(t, 0.0, x[0], 1e-9)
}

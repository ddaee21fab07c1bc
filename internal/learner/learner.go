// Package learner implements per-symbol online binary classification of
// next-candle direction: logistic regression trained by stochastic
// gradient descent on one sample per candle, over stationary
// scale-normalized features.
package learner

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	featureDim     = 10
	l2Alpha        = 0.0001
	learningRate   = 0.01
	checkpointStep = 100
)

// Config holds learner configuration
type Config struct {
	Lookback       int
	MinSamples     int
	CheckpointPath string
}

// symbolState is the per-symbol model: candle buffer, weights, scaler
type symbolState struct {
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Scaler       *Scaler   `json:"scaler"`
	TrainCount   int       `json:"train_count"`
	lastFeatures []float64
	buffer       []models.Candle
}

// Learner trains and queries one classifier per symbol. It is owned by
// the strategy task and is not safe for concurrent use.
type Learner struct {
	cfg    Config
	states map[string]*symbolState
}

// New creates a learner and loads any previous checkpoint
func New(cfg Config) *Learner {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 50
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1000
	}

	l := &Learner{
		cfg:    cfg,
		states: make(map[string]*symbolState),
	}
	if cfg.CheckpointPath != "" {
		if err := l.load(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to load learner checkpoint")
		}
	}
	return l
}

// OnCandle ingests a candle, trains on the now-labeled previous sample,
// and returns the probability that the next close exceeds the current
// one plus whether the per-symbol training threshold has been reached.
func (l *Learner) OnCandle(candle models.Candle) (pUp float64, ready bool) {
	state, exists := l.states[candle.Symbol]
	if !exists {
		state = &symbolState{
			Weights: make([]float64, featureDim),
			Scaler:  NewScaler(featureDim),
		}
		l.states[candle.Symbol] = state
	}

	state.buffer = append(state.buffer, candle)
	if max := l.cfg.Lookback + 2; len(state.buffer) > max {
		state.buffer = state.buffer[len(state.buffer)-max:]
	}

	if len(state.buffer) < l.cfg.Lookback+2 {
		return 0.5, false
	}

	features := computeFeatures(state.buffer)
	if features == nil {
		return 0.5, false
	}

	// Train on the features computed at t-1, whose label is now known
	// from the t vs t-1 close comparison. The fresh vector is cached
	// for the next step.
	prev := state.buffer[len(state.buffer)-2]
	label := 0.0
	if candle.Close > prev.Close {
		label = 1.0
	}

	if state.lastFeatures != nil {
		x := append([]float64(nil), state.lastFeatures...)
		state.Scaler.PartialFit(x)
		state.Scaler.Transform(x)
		state.sgdStep(x, label)
		state.TrainCount++

		if l.cfg.CheckpointPath != "" && state.TrainCount%checkpointStep == 0 {
			if err := l.Save(); err != nil {
				log.Warn().Err(err).Msg("Failed to save learner checkpoint")
			}
		}
	}
	state.lastFeatures = features

	if state.TrainCount < l.cfg.MinSamples {
		return 0.5, false
	}

	x := append([]float64(nil), features...)
	state.Scaler.Transform(x)
	return state.predict(x), true
}

// Ready reports whether the symbol's model has trained past the threshold
func (l *Learner) Ready(symbol string) bool {
	state, ok := l.states[symbol]
	return ok && state.TrainCount >= l.cfg.MinSamples
}

// TrainCount returns the number of SGD updates applied for a symbol
func (l *Learner) TrainCount(symbol string) int {
	if state, ok := l.states[symbol]; ok {
		return state.TrainCount
	}
	return 0
}

// sgdStep applies one log-loss gradient step with L2 regularization
func (s *symbolState) sgdStep(x []float64, label float64) {
	p := s.predict(x)
	grad := p - label
	for i, v := range x {
		s.Weights[i] -= learningRate * (grad*v + 2*l2Alpha*s.Weights[i])
	}
	s.Bias -= learningRate * grad
}

// predict returns sigmoid(w.x + b)
func (s *symbolState) predict(x []float64) float64 {
	z := s.Bias
	for i, v := range x {
		z += s.Weights[i] * v
	}
	return 1 / (1 + math.Exp(-z))
}

// computeFeatures builds the stationary feature vector from the buffer.
// Returns nil when any value is not finite.
func computeFeatures(candles []models.Candle) []float64 {
	n := len(candles)
	last := candles[n-1]

	logReturns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if candles[i-1].Close <= 0 || candles[i].Close <= 0 {
			return nil
		}
		logReturns = append(logReturns, math.Log(candles[i].Close/candles[i-1].Close))
	}

	var volSum float64
	for _, c := range candles {
		volSum += c.Volume
	}
	avgVol := volSum / float64(n)

	// Short-window momentum: mean of the last 5 log returns
	momentum := mean(tail(logReturns, 5))

	// RSI-like ratio of gains to losses over the last 14 returns
	var gains, losses float64
	for _, r := range tail(logReturns, 14) {
		if r > 0 {
			gains += r
		} else {
			losses -= r
		}
	}
	rsiRatio := gains / (losses + 1e-9)

	// Returns over short and medium horizons
	shortRet := horizonReturn(candles, 5)
	medRet := horizonReturn(candles, 20)

	// Distance of the close from its short SMA
	var smaShort float64
	shortWindow := lastCandles(candles, 5)
	for _, c := range shortWindow {
		smaShort += c.Close
	}
	smaShort /= float64(len(shortWindow))
	smaDist := last.Close/smaShort - 1

	// ATR-like volatility: mean relative range over the last 14 bars
	var rangeSum float64
	volWindow := lastCandles(candles, 14)
	for _, c := range volWindow {
		rangeSum += (c.High - c.Low) / c.Close
	}
	atrLike := rangeSum / float64(len(volWindow))

	features := []float64{
		logReturns[len(logReturns)-1],
		(last.High - last.Low) / last.Close,
		last.Volume / (avgVol + 1e-9),
		momentum,
		rsiRatio,
		shortRet,
		medRet,
		smaDist,
		atrLike,
		last.Volume,
	}

	for _, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
	}
	return features
}

func horizonReturn(candles []models.Candle, bars int) float64 {
	n := len(candles)
	if n <= bars {
		return 0
	}
	base := candles[n-1-bars].Close
	if base <= 0 {
		return 0
	}
	return candles[n-1].Close/base - 1
}

func lastCandles(candles []models.Candle, n int) []models.Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// checkpoint is the serialized form of all per-symbol models
type checkpoint struct {
	Symbols map[string]*symbolState `json:"symbols"`
}

// Save writes all model and scaler state to the checkpoint path using
// a temp-file-then-rename discipline.
func (l *Learner) Save() error {
	data, err := json.Marshal(checkpoint{Symbols: l.states})
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.cfg.CheckpointPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := l.cfg.CheckpointPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.cfg.CheckpointPath)
}

// load restores model and scaler state from the checkpoint path.
// Candle buffers are rebuilt from warmup, not persisted.
func (l *Learner) load() error {
	data, err := os.ReadFile(l.cfg.CheckpointPath)
	if err != nil {
		return err
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return err
	}
	if cp.Symbols != nil {
		l.states = cp.Symbols
	}
	log.Info().Int("symbols", len(l.states)).Msg("Learner checkpoint loaded")
	return nil
}

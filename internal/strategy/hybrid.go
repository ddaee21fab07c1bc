// Package strategy implements the hybrid trend/volatility strategy:
// SMA 5/20 momentum crosses filtered by the SMA 200 regime, an ADX
// trend-strength gate, ATR-derived stops, and an optional online
// classifier veto.
package strategy

import (
	"fmt"

	"github.com/pulse-trading/internal/indicators"
	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// Classifier is the online learner surface the strategy consults on
// every candle: the estimated probability that the next close exceeds
// the current one, and whether the model has trained enough to vote.
type Classifier interface {
	OnCandle(candle models.Candle) (pUp float64, ready bool)
}

// Config holds hybrid strategy parameters
type Config struct {
	Lookback     int
	SMAFast      int
	SMASlow      int
	SMATrend     int
	ADXPeriod    int
	ADXThreshold float64
	ATRPeriod    int
	ProbBuy      float64 // ML veto: min p(up) for a BUY
	ProbSell     float64 // ML veto: max p(up) for a SELL
}

// DefaultConfig returns the default hybrid parameters
func DefaultConfig() Config {
	return Config{
		Lookback:     300,
		SMAFast:      5,
		SMASlow:      20,
		SMATrend:     200,
		ADXPeriod:    14,
		ADXThreshold: 25,
		ATRPeriod:    14,
		ProbBuy:      0.60,
		ProbSell:     0.40,
	}
}

// symbolState holds the rolling indicator state for one symbol
type symbolState struct {
	closes   []float64
	count    int // total candles observed, not capped by the window
	atr      *indicators.ATR
	adx      *indicators.ADX
	prevFast float64
	prevSlow float64
	hasPrev  bool
}

// Hybrid evaluates closed candles and emits at most one signal per
// candle per symbol. State is owned by the strategy task.
type Hybrid struct {
	cfg     Config
	learner Classifier
	mets    *metrics.Metrics
	states  map[string]*symbolState
}

// New creates a hybrid strategy. The classifier and metrics are optional.
func New(cfg Config, l Classifier, mets *metrics.Metrics) *Hybrid {
	if cfg.Lookback <= 0 {
		cfg = DefaultConfig()
	}
	return &Hybrid{
		cfg:     cfg,
		learner: l,
		mets:    mets,
		states:  make(map[string]*symbolState),
	}
}

// OnCandle updates indicators (and the learner, when attached) with a
// closed candle and returns a signal when entry conditions hold.
// With isBacktest set, state is updated but nothing is emitted or
// logged; this is the warmup replay path.
func (h *Hybrid) OnCandle(candle models.Candle, isBacktest bool) *models.Signal {
	if !candle.Valid() {
		log.Error().Str("symbol", candle.Symbol).Msg("Dropping malformed candle")
		return nil
	}

	state, exists := h.states[candle.Symbol]
	if !exists {
		state = &symbolState{
			closes: make([]float64, 0, h.cfg.Lookback),
			atr:    indicators.NewATR(h.cfg.ATRPeriod),
			adx:    indicators.NewADX(h.cfg.ADXPeriod, h.cfg.ADXThreshold),
		}
		h.states[candle.Symbol] = state
	}

	// The classifier sees every candle regardless of the gates below
	pUp, learnerReady := 0.5, false
	if h.learner != nil {
		pUp, learnerReady = h.learner.OnCandle(candle)
	}

	state.closes = append(state.closes, candle.Close)
	if len(state.closes) > h.cfg.Lookback {
		state.closes = state.closes[len(state.closes)-h.cfg.Lookback:]
	}
	state.count++

	atr := state.atr.Update(candle.High, candle.Low, candle.Close)
	adx := state.adx.Update(candle.High, candle.Low, candle.Close)

	currFast := indicators.SMALast(state.closes, h.cfg.SMAFast)
	currSlow := indicators.SMALast(state.closes, h.cfg.SMASlow)
	currTrend := indicators.SMALast(state.closes, h.cfg.SMATrend)

	prevFast, prevSlow, hadPrev := state.prevFast, state.prevSlow, state.hasPrev
	state.prevFast = currFast
	state.prevSlow = currSlow
	state.hasPrev = true

	// The trend SMA needs a full window plus the prior candle for crosses
	if state.count < h.cfg.SMATrend+1 || !hadPrev {
		if !isBacktest && (state.count <= 5 || state.count%20 == 0) {
			log.Info().
				Str("symbol", candle.Symbol).
				Int("have", state.count).
				Int("need", h.cfg.SMATrend+1).
				Msg("Priming indicators")
		}
		return nil
	}

	// Regime filter: skip flat markets
	if adx.ADX < h.cfg.ADXThreshold {
		return nil
	}

	var side models.SignalSide
	switch {
	case prevFast <= prevSlow && currFast > currSlow:
		if candle.Close > currTrend {
			side = models.SignalSideBuy
		} else if !isBacktest {
			log.Info().Str("symbol", candle.Symbol).Msg("LONG cross ignored: counter-trend (price below trend SMA)")
		}
	case prevFast >= prevSlow && currFast < currSlow:
		if candle.Close < currTrend {
			side = models.SignalSideSell
		} else if !isBacktest {
			log.Info().Str("symbol", candle.Symbol).Msg("SHORT cross ignored: counter-trend (price above trend SMA)")
		}
	}

	if side == "" || isBacktest {
		return nil
	}

	if atr <= 0 {
		return nil
	}

	// ML veto: only a trained classifier can override the cross
	if h.learner != nil && learnerReady {
		if side == models.SignalSideBuy && pUp < h.cfg.ProbBuy {
			log.Warn().
				Str("symbol", candle.Symbol).
				Float64("pUp", pUp).
				Float64("threshold", h.cfg.ProbBuy).
				Msg("ML VETO: BUY rejected")
			if h.mets != nil {
				h.mets.SignalsVetoed.Inc()
			}
			return nil
		}
		if side == models.SignalSideSell && pUp > h.cfg.ProbSell {
			log.Warn().
				Str("symbol", candle.Symbol).
				Float64("pUp", pUp).
				Float64("threshold", h.cfg.ProbSell).
				Msg("ML VETO: SELL rejected")
			if h.mets != nil {
				h.mets.SignalsVetoed.Inc()
			}
			return nil
		}
	}

	reason := fmt.Sprintf("Trend Following LONG (ADX=%.1f)", adx.ADX)
	stopLoss := candle.Close - 2*atr
	takeProfit := candle.Close + 3*atr
	if side == models.SignalSideSell {
		reason = fmt.Sprintf("Trend Following SHORT (ADX=%.1f)", adx.ADX)
		stopLoss = candle.Close + 2*atr
		takeProfit = candle.Close - 3*atr
	}

	signal := models.NewSignal(candle.Symbol, side, candle.Close, candle.Timestamp, reason)
	signal.StopLoss = stopLoss
	signal.TakeProfit = takeProfit

	log.Info().
		Str("symbol", signal.Symbol).
		Str("side", string(signal.Side)).
		Float64("price", signal.Price).
		Float64("stopLoss", signal.StopLoss).
		Float64("takeProfit", signal.TakeProfit).
		Str("reason", signal.Reason).
		Msg("Signal emitted")
	if h.mets != nil {
		h.mets.SignalsTotal.WithLabelValues(string(side)).Inc()
	}

	return &signal
}

// HistoryLen returns the number of candles observed for a symbol
func (h *Hybrid) HistoryLen(symbol string) int {
	if state, ok := h.states[symbol]; ok {
		return state.count
	}
	return 0
}

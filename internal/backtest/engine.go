// Package backtest replays historical candles through the strategy and
// a fresh paper execution engine, with no network side effects.
package backtest

import (
	"github.com/pulse-trading/internal/execution"
	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/risk"
	"github.com/pulse-trading/internal/strategy"
	"github.com/rs/zerolog/log"
)

// Result summarizes one backtest run
type Result struct {
	Symbol       string  `json:"symbol"`
	Candles      int     `json:"candles"`
	Signals      int     `json:"signals"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	FinalBalance float64 `json:"final_balance"`
	FinalEquity  float64 `json:"final_equity"`
	RealizedPnL  float64 `json:"realized_pnl"`
}

// tradeCollector records closed-trade outcomes from engine events
type tradeCollector struct {
	trades int
	wins   int
	losses int
}

func (t *tradeCollector) Publish(event interface{}) {
	trade, ok := event.(models.TradeEvent)
	if !ok {
		return
	}
	t.trades++
	if trade.PnL > 0 {
		t.wins++
	} else if trade.PnL < 0 {
		t.losses++
	}
}

// Config holds backtest parameters
type Config struct {
	Strategy       strategy.Config
	Sizer          risk.SizerConfig
	InitialBalance float64
	FeeRate        float64
	CooldownMs     int64
}

// Engine runs candle replays
type Engine struct {
	config Config
}

// New creates a backtest engine
func New(config Config) *Engine {
	if config.InitialBalance == 0 {
		config.InitialBalance = 10000
	}
	if config.FeeRate == 0 {
		config.FeeRate = 0.0004
	}
	return &Engine{config: config}
}

// Run replays the candle series (chronological order expected) and
// returns the summary. The learner is intentionally absent: backtests
// evaluate the symbolic strategy alone.
func (e *Engine) Run(symbol string, candles []models.Candle) Result {
	collector := &tradeCollector{}

	strat := strategy.New(e.config.Strategy, nil, nil)
	exec := execution.New(execution.Config{
		InitialBalance: e.config.InitialBalance,
		FeeRate:        e.config.FeeRate,
		CooldownMs:     e.config.CooldownMs,
	}, risk.NewPositionSizer(e.config.Sizer), nil, nil, collector, nil)

	result := Result{Symbol: symbol, Candles: len(candles)}

	for _, candle := range candles {
		signal := strat.OnCandle(candle, false)
		if signal == nil {
			continue
		}
		result.Signals++
		exec.OnSignal(*signal)
	}

	snapshot := exec.Snapshot()
	marks := map[string]float64{}
	if len(candles) > 0 {
		marks[symbol] = candles[len(candles)-1].Close
	}

	result.Trades = collector.trades
	result.Wins = collector.wins
	result.Losses = collector.losses
	if closed := collector.wins + collector.losses; closed > 0 {
		result.WinRate = float64(collector.wins) / float64(closed)
	}
	result.FinalBalance = snapshot.Balance
	result.FinalEquity = exec.Equity(marks)
	result.RealizedPnL = snapshot.RealizedPnL

	log.Info().
		Str("symbol", symbol).
		Int("candles", result.Candles).
		Int("signals", result.Signals).
		Int("trades", result.Trades).
		Float64("finalEquity", result.FinalEquity).
		Float64("realizedPnL", result.RealizedPnL).
		Msg("Backtest complete")

	return result
}

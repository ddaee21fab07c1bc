// Package execution owns the paper portfolio: it applies safety gates
// to incoming signals, opens and closes positions against cash, and
// persists the portfolio after every mutation.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/risk"
	"github.com/pulse-trading/internal/storage"
	"github.com/rs/zerolog/log"
)

// EventSink receives trade, pnl and log events for fan-out to
// dashboards. Publish is best-effort and must not block.
type EventSink interface {
	Publish(event interface{})
}

// Config holds execution engine configuration
type Config struct {
	InitialBalance float64
	FeeRate        float64 // taker fee applied on both legs
	CooldownMs     int64   // min gap between trades on one symbol
	MaxSignals     int     // idempotence set capacity
}

// DefaultConfig returns default engine parameters
func DefaultConfig() Config {
	return Config{
		InitialBalance: 10000,
		FeeRate:        0.0004,
		CooldownMs:     3000,
		MaxSignals:     1000,
	}
}

// Engine is the paper execution engine. Signal handling runs on the
// single execution task; marks and portfolio reads are guarded so the
// PnL broadcaster and control plane can observe state concurrently.
type Engine struct {
	config Config
	sizer  *risk.PositionSizer
	guard  *risk.Guard
	store  *storage.PortfolioStore
	sink   EventSink
	mets   *metrics.Metrics

	mu        sync.RWMutex
	portfolio *models.Portfolio
	marks     map[string]float64

	// Owned by the execution task only
	processed     map[string]struct{}
	processedFIFO []string
	lastTrade     map[string]int64 // symbol -> ms of last open/close
}

// New creates an engine. A previously persisted portfolio, when
// present, takes precedence over the configured initial balance.
func New(config Config, sizer *risk.PositionSizer, guard *risk.Guard, store *storage.PortfolioStore, sink EventSink, mets *metrics.Metrics) *Engine {
	e := &Engine{
		config:    config,
		sizer:     sizer,
		guard:     guard,
		store:     store,
		sink:      sink,
		mets:      mets,
		portfolio: models.NewPortfolio(config.InitialBalance),
		marks:     make(map[string]float64),
		processed: make(map[string]struct{}),
		lastTrade: make(map[string]int64),
	}
	if e.config.MaxSignals <= 0 {
		e.config.MaxSignals = 1000
	}

	if store != nil {
		if p, err := store.Load(); err != nil {
			log.Warn().Err(err).Msg("Failed to load portfolio snapshot, starting fresh")
		} else if p != nil {
			e.portfolio = p
		}
	}

	log.Info().
		Float64("balance", e.portfolio.Balance).
		Int("positions", len(e.portfolio.Positions)).
		Float64("feeRate", config.FeeRate).
		Msg("Execution engine initialized")
	return e
}

// Run consumes signals until the context is cancelled. The portfolio
// is persisted one final time before returning.
func (e *Engine) Run(ctx context.Context, signals <-chan models.Signal) {
	log.Info().Msg("Execution engine started")
	for {
		select {
		case <-ctx.Done():
			e.persist()
			log.Info().Msg("Execution engine stopped")
			return
		case signal, ok := <-signals:
			if !ok {
				e.persist()
				return
			}
			e.OnSignal(signal)
		}
	}
}

// OnSignal applies the safety gates and executes the signal against
// the portfolio. Must be called from the execution task only.
func (e *Engine) OnSignal(signal models.Signal) {
	if e.guard != nil && e.guard.Locked() {
		e.reject("lockout", signal, "Signal dropped: lockout active")
		return
	}

	// Idempotence gate: each signal id acts at most once
	if _, seen := e.processed[signal.ID]; seen {
		return
	}
	e.remember(signal.ID)

	// Cooldown gate: whipsaw protection per symbol
	if last, ok := e.lastTrade[signal.Symbol]; ok {
		if signal.Timestamp-last < e.config.CooldownMs {
			e.reject("cooldown", signal, "Signal dropped: cooldown active")
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.portfolio.Positions[signal.Symbol]

	wantSide := models.PositionSideLong
	if signal.Side == models.SignalSideSell {
		wantSide = models.PositionSideShort
	}

	if current != nil {
		if current.Side == wantSide {
			e.reject("duplicate_side", signal, "Signal dropped: position already open on this side")
			return
		}
		// Reversal: close the opposite position at the signal price first
		e.closeLocked(current, signal.Price, signal.Timestamp)
	}

	e.openLocked(signal, wantSide)
}

// remember registers a signal id, evicting the oldest past capacity
func (e *Engine) remember(id string) {
	e.processed[id] = struct{}{}
	e.processedFIFO = append(e.processedFIFO, id)
	if len(e.processedFIFO) > e.config.MaxSignals {
		oldest := e.processedFIFO[0]
		e.processedFIFO = e.processedFIFO[1:]
		delete(e.processed, oldest)
	}
}

// openLocked opens a position after sizing and exchange-filter checks.
// Caller holds e.mu.
func (e *Engine) openLocked(signal models.Signal, side models.PositionSide) {
	stop := signal.StopLoss
	if stop == 0 {
		// Fallback stop 2% away so risk sizing stays defined
		if side == models.PositionSideLong {
			stop = signal.Price * 0.98
		} else {
			stop = signal.Price * 1.02
		}
	}

	qty := e.sizer.CalculateSize(e.portfolio.Balance, signal.Price, stop)
	if qty <= 0 {
		e.reject("zero_qty", signal, "Signal dropped: sized quantity is zero")
		return
	}

	qty = e.sizer.RoundToStep(qty)
	if !e.sizer.CheckMinNotional(signal.Price, qty) {
		e.reject("min_notional", signal, "Signal dropped: below minimum notional")
		return
	}

	cost := qty * signal.Price
	fee := cost * e.config.FeeRate
	if cost+fee > e.portfolio.Balance {
		e.reject("insufficient_funds", signal, "Signal dropped: insufficient balance")
		return
	}

	e.portfolio.Balance -= cost + fee
	e.portfolio.Positions[signal.Symbol] = &models.Position{
		Symbol:     signal.Symbol,
		Side:       side,
		EntryPrice: signal.Price,
		Qty:        qty,
		Timestamp:  signal.Timestamp,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
	}
	e.lastTrade[signal.Symbol] = signal.Timestamp

	e.persistLocked()

	log.Info().
		Str("symbol", signal.Symbol).
		Str("side", string(side)).
		Float64("price", signal.Price).
		Float64("qty", qty).
		Float64("cost", cost).
		Float64("fee", fee).
		Float64("balance", e.portfolio.Balance).
		Msg("Position opened")

	if e.mets != nil {
		e.mets.TradesTotal.WithLabelValues("open").Inc()
	}
	e.publish(models.TradeEvent{
		Type:   models.EventTypeTrade,
		Symbol: signal.Symbol,
		Side:   string(signal.Side),
		Price:  signal.Price,
		Qty:    qty,
	})
	e.publishPnLLocked(nil)
}

// closeLocked closes a position at the given exit price and credits the
// proceeds. Caller holds e.mu.
func (e *Engine) closeLocked(pos *models.Position, exitPrice float64, ts int64) {
	exitValue := pos.Qty * exitPrice
	fee := exitValue * e.config.FeeRate

	var grossPnL float64
	if pos.Side == models.PositionSideLong {
		grossPnL = (exitPrice - pos.EntryPrice) * pos.Qty
	} else {
		grossPnL = (pos.EntryPrice - exitPrice) * pos.Qty
	}

	initialCost := pos.Qty * pos.EntryPrice
	e.portfolio.Balance += initialCost + grossPnL - fee
	e.portfolio.RealizedPnL += grossPnL - fee
	delete(e.portfolio.Positions, pos.Symbol)
	e.lastTrade[pos.Symbol] = ts

	e.persistLocked()

	equity := e.equityLocked(nil)
	perfPct := 0.0
	if e.config.InitialBalance > 0 {
		perfPct = (equity - e.config.InitialBalance) / e.config.InitialBalance * 100
	}
	log.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("exit", exitPrice).
		Float64("pnl", grossPnL-fee).
		Float64("fee", fee).
		Float64("equity", equity).
		Float64("perfPct", perfPct).
		Msg("Position closed")

	if e.mets != nil {
		e.mets.TradesTotal.WithLabelValues("close").Inc()
	}

	side := models.SignalSideSell
	if pos.Side == models.PositionSideShort {
		side = models.SignalSideBuy
	}
	e.publish(models.TradeEvent{
		Type:   models.EventTypeTrade,
		Symbol: pos.Symbol,
		Side:   string(side),
		Price:  exitPrice,
		Qty:    pos.Qty,
		PnL:    grossPnL - fee,
	})
}

// UpdateMark caches the latest observed price for a symbol. Safe for
// concurrent use; called by the candle path and the PnL broadcaster.
func (e *Engine) UpdateMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	e.mu.Lock()
	e.marks[symbol] = price
	e.mu.Unlock()
}

// LastMark returns the cached mark for a symbol, if any. Used by the
// control plane to price manual market orders.
func (e *Engine) LastMark(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.marks[symbol]
	return m, ok
}

// Equity returns balance plus unrealized PnL of open positions, using
// the provided price hints, else cached marks, else entry prices.
func (e *Engine) Equity(priceHints map[string]float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equityLocked(priceHints)
}

func (e *Engine) equityLocked(priceHints map[string]float64) float64 {
	equity := e.portfolio.Balance
	for _, pos := range e.portfolio.Positions {
		equity += unrealized(pos, e.markLocked(pos, priceHints))
	}
	return equity
}

func (e *Engine) markLocked(pos *models.Position, priceHints map[string]float64) float64 {
	if priceHints != nil {
		if m, ok := priceHints[pos.Symbol]; ok && m > 0 {
			return m
		}
	}
	if m, ok := e.marks[pos.Symbol]; ok && m > 0 {
		return m
	}
	return pos.EntryPrice
}

func unrealized(pos *models.Position, mark float64) float64 {
	if pos.Side == models.PositionSideLong {
		return (mark - pos.EntryPrice) * pos.Qty
	}
	return (pos.EntryPrice - mark) * pos.Qty
}

// BroadcastPortfolio publishes a pnl snapshot marked against the given
// hints (falling back to cached marks, then entries).
func (e *Engine) BroadcastPortfolio(priceHints map[string]float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.publishPnLLocked(priceHints)
}

func (e *Engine) publishPnLLocked(priceHints map[string]float64) {
	event := models.PnLEvent{
		Type:      models.EventTypePnL,
		Balance:   e.portfolio.Balance,
		Timestamp: time.Now().UnixMilli(),
	}

	var totalUnrealized float64
	for _, pos := range e.portfolio.Positions {
		mark := e.markLocked(pos, priceHints)
		pnl := unrealized(pos, mark)
		totalUnrealized += pnl
		event.Positions = append(event.Positions, models.PositionMark{
			Symbol: pos.Symbol,
			Side:   string(pos.Side),
			Entry:  pos.EntryPrice,
			Mark:   mark,
			Qty:    pos.Qty,
			PnL:    pnl,
		})
	}
	event.PnLUnrealized = totalUnrealized
	event.Equity = event.Balance + totalUnrealized

	if e.mets != nil {
		e.mets.EquityGauge.Set(event.Equity)
		e.mets.OpenPositions.Set(float64(len(e.portfolio.Positions)))
	}
	e.publish(event)
}

// Snapshot returns a deep copy of the current portfolio
func (e *Engine) Snapshot() models.Portfolio {
	e.mu.RLock()
	defer e.mu.RUnlock()

	copied := models.Portfolio{
		Balance:     e.portfolio.Balance,
		RealizedPnL: e.portfolio.RealizedPnL,
		Positions:   make(map[string]*models.Position, len(e.portfolio.Positions)),
	}
	for symbol, pos := range e.portfolio.Positions {
		p := *pos
		copied.Positions[symbol] = &p
	}
	return copied
}

// persist writes the portfolio snapshot, holding the read lock
func (e *Engine) persist() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.persistLocked()
}

// persistLocked writes the snapshot; failure is logged and retried on
// the next mutation, never blocking the pipeline.
func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.portfolio); err != nil {
		log.Warn().Err(err).Msg("Failed to persist portfolio, will retry on next trade")
	}
}

func (e *Engine) publish(event interface{}) {
	if e.sink != nil {
		e.sink.Publish(event)
	}
}

// reject records a gated-out signal without touching the portfolio
func (e *Engine) reject(reason string, signal models.Signal, msg string) {
	log.Warn().
		Str("symbol", signal.Symbol).
		Str("side", string(signal.Side)).
		Str("signalID", signal.ID).
		Str("reason", reason).
		Msg(msg)
	if e.mets != nil {
		e.mets.Rejections.WithLabelValues(reason).Inc()
	}
}

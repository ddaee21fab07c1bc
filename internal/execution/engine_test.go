package execution

import (
	"path/filepath"
	"testing"

	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/risk"
	"github.com/pulse-trading/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedEvents struct {
	trades []models.TradeEvent
	pnls   []models.PnLEvent
}

func (c *capturedEvents) Publish(event interface{}) {
	switch e := event.(type) {
	case models.TradeEvent:
		c.trades = append(c.trades, e)
	case models.PnLEvent:
		c.pnls = append(c.pnls, e)
	}
}

func newTestEngine(t *testing.T, guard *risk.Guard) (*Engine, *capturedEvents) {
	t.Helper()
	events := &capturedEvents{}
	sizer := risk.NewPositionSizer(risk.SizerConfig{
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.20,
		StepSize:       0.001,
		MinNotional:    5.0,
	})
	engine := New(Config{
		InitialBalance: 10000,
		FeeRate:        0.0004,
		CooldownMs:     3000,
		MaxSignals:     1000,
	}, sizer, guard, nil, events, nil)
	return engine, events
}

func buySignal(id string, price float64, ts int64) models.Signal {
	return models.Signal{
		ID:        id,
		Symbol:    "BTCUSDT",
		Side:      models.SignalSideBuy,
		Price:     price,
		Timestamp: ts,
		Reason:    "test",
	}
}

func sellSignal(id string, price float64, ts int64) models.Signal {
	s := buySignal(id, price, ts)
	s.Side = models.SignalSideSell
	return s
}

func TestOnSignal_OpensLongWithRiskSizing(t *testing.T) {
	engine, events := newTestEngine(t, nil)

	// No stop on the signal: the 2% fallback puts the stop at 117.6,
	// so the 20% exposure cap (2000/120) binds, floored to the step.
	engine.OnSignal(buySignal("sig-1", 120, 1_000_000))

	snapshot := engine.Snapshot()
	require.Len(t, snapshot.Positions, 1)

	pos := snapshot.Positions["BTCUSDT"]
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionSideLong, pos.Side)
	assert.InDelta(t, 16.666, pos.Qty, 1e-9)
	assert.Equal(t, 120.0, pos.EntryPrice)

	cost := 16.666 * 120
	fee := cost * 0.0004
	assert.InDelta(t, 10000-cost-fee, snapshot.Balance, 1e-9)

	require.Len(t, events.trades, 1)
	assert.Equal(t, "BUY", events.trades[0].Side)
	assert.InDelta(t, 16.666, events.trades[0].Qty, 1e-9)
}

func TestOnSignal_DuplicateIDActsOnce(t *testing.T) {
	engine, events := newTestEngine(t, nil)

	signal := buySignal("dup", 120, 1_000_000)
	engine.OnSignal(signal)
	engine.OnSignal(signal)

	assert.Len(t, engine.Snapshot().Positions, 1)
	assert.Len(t, events.trades, 1)
}

func TestOnSignal_CooldownBoundary(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.OnSignal(buySignal("first", 120, 1_000_000))
	before := engine.Snapshot()

	// One ms early: rejected
	engine.OnSignal(sellSignal("early", 125, 1_000_000+2999))
	assert.Equal(t, before.Balance, engine.Snapshot().Balance)
	assert.Equal(t, models.PositionSideLong, engine.Snapshot().Positions["BTCUSDT"].Side)

	// Exactly at cooldown expiry: allowed (reverses to SHORT)
	engine.OnSignal(sellSignal("on-time", 125, 1_000_000+3000))
	pos := engine.Snapshot().Positions["BTCUSDT"]
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionSideShort, pos.Side)
}

func TestOnSignal_SameSideDropped(t *testing.T) {
	engine, events := newTestEngine(t, nil)

	engine.OnSignal(buySignal("a", 120, 1_000_000))
	engine.OnSignal(buySignal("b", 121, 1_010_000))

	snapshot := engine.Snapshot()
	assert.Len(t, snapshot.Positions, 1)
	assert.Equal(t, 120.0, snapshot.Positions["BTCUSDT"].EntryPrice)
	assert.Len(t, events.trades, 1)
}

func TestOnSignal_ReversalClosesThenOpens(t *testing.T) {
	engine, events := newTestEngine(t, nil)

	engine.OnSignal(buySignal("open", 120, 1_000_000))
	qty := engine.Snapshot().Positions["BTCUSDT"].Qty

	engine.OnSignal(sellSignal("reverse", 125, 1_010_000))

	snapshot := engine.Snapshot()
	pos := snapshot.Positions["BTCUSDT"]
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionSideShort, pos.Side)
	assert.Equal(t, 125.0, pos.EntryPrice)

	// Close leg: initial cost + gross pnl - exit fee back to cash
	grossPnL := (125.0 - 120.0) * qty
	exitFee := qty * 125.0 * 0.0004
	assert.InDelta(t, grossPnL-exitFee, snapshot.RealizedPnL, 1e-9)

	// Events: open BUY, close SELL (with pnl), open SELL
	require.Len(t, events.trades, 3)
	assert.InDelta(t, grossPnL-exitFee, events.trades[1].PnL, 1e-9)
}

func TestOnSignal_ShortPnLStrictForm(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.OnSignal(sellSignal("short", 100, 1_000_000))
	qty := engine.Snapshot().Positions["BTCUSDT"].Qty

	// Price falls; buy back via reversal
	engine.OnSignal(buySignal("cover", 90, 1_010_000))

	grossPnL := (100.0 - 90.0) * qty
	exitFee := qty * 90.0 * 0.0004
	assert.InDelta(t, grossPnL-exitFee, engine.Snapshot().RealizedPnL, 1e-9)
}

func TestOnSignal_RealizedPnLExactAccounting(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.OnSignal(buySignal("o1", 100, 1_000_000))
	qty := engine.Snapshot().Positions["BTCUSDT"].Qty
	engine.OnSignal(sellSignal("c1", 110, 1_010_000))

	// The SELL reversed into a short; flatten it at the same price
	shortQty := engine.Snapshot().Positions["BTCUSDT"].Qty
	engine.OnSignal(buySignal("c2", 110, 1_020_000))

	// Realized pnl is exactly gross minus exit fees; opens never touch it
	longPnL := (110.0-100.0)*qty - 110.0*qty*0.0004
	shortPnL := (110.0-110.0)*shortQty - 110.0*shortQty*0.0004
	assert.InDelta(t, longPnL+shortPnL, engine.Snapshot().RealizedPnL, 1e-9)
}

func TestOnSignal_MinNotionalRejected(t *testing.T) {
	engine, events := newTestEngine(t, nil)

	// 10 balance -> cap qty = 2/100 = 0.02, step-rounded 0.02, value 2 < 5
	sizer := risk.NewPositionSizer(risk.SizerConfig{
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.20,
		StepSize:       0.001,
		MinNotional:    5.0,
	})
	engine = New(Config{InitialBalance: 10, FeeRate: 0.0004, CooldownMs: 3000}, sizer, nil, nil, events, nil)

	engine.OnSignal(buySignal("tiny", 100, 1_000_000))
	assert.Empty(t, engine.Snapshot().Positions)
	assert.Empty(t, events.trades)
}

func TestOnSignal_LockoutDropsEverything(t *testing.T) {
	guard := risk.NewGuard()
	engine, events := newTestEngine(t, guard)

	guard.Lock("test")
	engine.OnSignal(buySignal("blocked", 120, 1_000_000))

	assert.Empty(t, engine.Snapshot().Positions)
	assert.Empty(t, events.trades)

	// Clearing the lockout restores trading
	guard.Unlock()
	engine.OnSignal(buySignal("allowed", 120, 1_000_000))
	assert.Len(t, engine.Snapshot().Positions, 1)
}

func TestEquity_MarkFallbacks(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.OnSignal(buySignal("open", 100, 1_000_000))
	qty := engine.Snapshot().Positions["BTCUSDT"].Qty
	balance := engine.Snapshot().Balance

	// No mark known: entry price -> zero unrealized
	assert.InDelta(t, balance, engine.Equity(nil), 1e-9)

	// Cached mark
	engine.UpdateMark("BTCUSDT", 110)
	assert.InDelta(t, balance+10*qty, engine.Equity(nil), 1e-9)

	// Hint overrides the cache
	assert.InDelta(t, balance+20*qty, engine.Equity(map[string]float64{"BTCUSDT": 120}), 1e-9)
}

func TestPortfolio_PersistReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewPortfolioStore(filepath.Join(dir, "portfolio.json"))

	sizer := risk.NewPositionSizer(risk.DefaultSizerConfig())
	engine := New(Config{InitialBalance: 10000, FeeRate: 0.0004, CooldownMs: 3000}, sizer, nil, store, nil, nil)

	engine.OnSignal(buySignal("persisted", 120, 1_000_000))
	want := engine.Snapshot()

	// A fresh engine on the same store resumes the snapshot
	reloaded := New(Config{InitialBalance: 999, FeeRate: 0.0004, CooldownMs: 3000}, sizer, nil, store, nil, nil)
	got := reloaded.Snapshot()

	assert.InDelta(t, want.Balance, got.Balance, 1e-12)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, want.Positions["BTCUSDT"].Qty, got.Positions["BTCUSDT"].Qty)
	assert.Equal(t, want.Positions["BTCUSDT"].Side, got.Positions["BTCUSDT"].Side)
}

func TestRemember_EvictsFIFO(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	engine.config.MaxSignals = 3

	for _, id := range []string{"a", "b", "c", "d"} {
		engine.remember(id)
	}

	_, hasOldest := engine.processed["a"]
	assert.False(t, hasOldest)
	_, hasNewest := engine.processed["d"]
	assert.True(t, hasNewest)
	assert.Len(t, engine.processed, 3)
}

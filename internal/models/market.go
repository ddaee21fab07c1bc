// Package models holds the core market and account types shared by
// every pipeline stage.
package models

import (
	"github.com/google/uuid"
)

// TickSide represents the aggressor side of a trade tick
type TickSide string

const (
	TickSideBuy  TickSide = "buy"
	TickSideSell TickSide = "sell"
)

// Tick is one normalized aggregated trade from the exchange stream
type Tick struct {
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Qty       float64  `json:"qty"`
	Side      TickSide `json:"side"`
	Timestamp int64    `json:"timestamp"` // event time, ms epoch
}

// Candle is a fixed-interval OHLCV bar
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"` // bar start, ms epoch, aligned to the interval
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Valid reports whether the candle satisfies the OHLC ordering invariants
func (c Candle) Valid() bool {
	return c.Low <= c.Open && c.Open <= c.High &&
		c.Low <= c.Close && c.Close <= c.High &&
		c.Volume >= 0
}

// SignalSide represents the direction of a trading signal
type SignalSide string

const (
	SignalSideBuy  SignalSide = "BUY"
	SignalSideSell SignalSide = "SELL"
)

// Signal is the strategy's intent to enter or reverse a position
type Signal struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       SignalSide `json:"side"`
	Price      float64    `json:"price"`
	Timestamp  int64      `json:"timestamp"` // ms epoch
	Reason     string     `json:"reason"`
	StopLoss   float64    `json:"stopLoss"`
	TakeProfit float64    `json:"takeProfit"`
}

// NewSignal creates a signal with a fresh unique id
func NewSignal(symbol string, side SignalSide, price float64, ts int64, reason string) Signal {
	return Signal{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Timestamp: ts,
		Reason:    reason,
	}
}

// PositionSide represents the side of an open position
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position is an open paper position. Created on open, removed on close.
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	Qty        float64      `json:"qty"`
	Timestamp  int64        `json:"timestamp"` // open time, ms epoch
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
}

// Portfolio is the cash account plus all open positions
type Portfolio struct {
	Balance     float64              `json:"balance"`
	Positions   map[string]*Position `json:"positions"`
	RealizedPnL float64              `json:"realized_pnl"`
}

// NewPortfolio creates a portfolio with the given starting balance
func NewPortfolio(balance float64) *Portfolio {
	return &Portfolio{
		Balance:   balance,
		Positions: make(map[string]*Position),
	}
}

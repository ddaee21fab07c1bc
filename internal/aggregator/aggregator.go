// Package aggregator folds the raw trade stream into fixed-interval
// OHLCV candles, one open candle per symbol.
package aggregator

import (
	"context"

	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// openCandle is the in-progress bar for one symbol
type openCandle struct {
	start  int64
	open   float64
	high   float64
	low    float64
	close  float64
	volume float64
}

// Aggregator builds time bars from ticks. All state is owned by the
// goroutine running Run; the struct is not safe for concurrent use.
type Aggregator struct {
	intervalMs int64
	open       map[string]*openCandle
}

// New creates an aggregator with the given bar interval in milliseconds
func New(intervalMs int64) *Aggregator {
	if intervalMs <= 0 {
		intervalMs = 1000
	}
	return &Aggregator{
		intervalMs: intervalMs,
		open:       make(map[string]*openCandle),
	}
}

// Run consumes ticks until the context is cancelled, emitting a closed
// candle whenever a tick crosses the interval boundary. Open candles
// are flushed best-effort on shutdown.
func (a *Aggregator) Run(ctx context.Context, in <-chan models.Tick, out chan<- models.Candle) {
	log.Info().Int64("intervalMs", a.intervalMs).Msg("Aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.flushOpen(out)
			log.Info().Msg("Aggregator stopped")
			return
		case tick, ok := <-in:
			if !ok {
				a.flushOpen(out)
				return
			}
			if candle, closed := a.ProcessTick(tick); closed {
				select {
				case out <- candle:
				case <-ctx.Done():
					a.flushOpen(out)
					return
				}
			}
		}
	}
}

// ProcessTick updates the open candle for the tick's symbol. When the
// tick belongs to a later bucket the finished candle is returned with
// closed=true and a new bar is started. Out-of-order ticks (an earlier
// bucket than the open bar) are discarded.
func (a *Aggregator) ProcessTick(tick models.Tick) (models.Candle, bool) {
	if tick.Price <= 0 {
		log.Error().Str("symbol", tick.Symbol).Float64("price", tick.Price).Msg("Dropping tick with non-positive price")
		return models.Candle{}, false
	}

	bucket := (tick.Timestamp / a.intervalMs) * a.intervalMs

	current, exists := a.open[tick.Symbol]
	if !exists {
		a.open[tick.Symbol] = newOpenCandle(bucket, tick)
		return models.Candle{}, false
	}

	switch {
	case bucket == current.start:
		if tick.Price > current.high {
			current.high = tick.Price
		}
		if tick.Price < current.low {
			current.low = tick.Price
		}
		current.close = tick.Price
		current.volume += tick.Qty
		return models.Candle{}, false

	case bucket > current.start:
		finished := current.toCandle(tick.Symbol)
		a.open[tick.Symbol] = newOpenCandle(bucket, tick)
		return finished, true

	default:
		// tick behind the open bar; per-symbol ordering is assumed upstream
		log.Warn().
			Str("symbol", tick.Symbol).
			Int64("bucket", bucket).
			Int64("open", current.start).
			Msg("Discarding out-of-order tick")
		return models.Candle{}, false
	}
}

// FlushOpen emits every still-open candle and clears the map.
// Intended for shutdown; emission is best-effort and non-blocking.
func (a *Aggregator) FlushOpen(out chan<- models.Candle) {
	a.flushOpen(out)
}

func (a *Aggregator) flushOpen(out chan<- models.Candle) {
	for symbol, current := range a.open {
		candle := current.toCandle(symbol)
		select {
		case out <- candle:
		default:
			log.Warn().Str("symbol", symbol).Msg("Dropped open candle on flush, queue full")
		}
		delete(a.open, symbol)
	}
}

func newOpenCandle(start int64, tick models.Tick) *openCandle {
	return &openCandle{
		start:  start,
		open:   tick.Price,
		high:   tick.Price,
		low:    tick.Price,
		close:  tick.Price,
		volume: tick.Qty,
	}
}

func (c *openCandle) toCandle(symbol string) models.Candle {
	return models.Candle{
		Symbol:    symbol,
		Timestamp: c.start,
		Open:      c.open,
		High:      c.high,
		Low:       c.low,
		Close:     c.close,
		Volume:    c.volume,
	}
}

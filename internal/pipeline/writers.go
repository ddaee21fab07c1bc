package pipeline

import (
	"context"
	"time"

	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/storage"
	"github.com/rs/zerolog/log"
)

const sinkBackoffMax = 30 * time.Second

// TradeWriter drains the trade queue into the time-series sink,
// reconnecting with capped exponential backoff.
type TradeWriter struct {
	db   *storage.QuestDB
	mets *metrics.Metrics
}

// NewTradeWriter creates a trade writer
func NewTradeWriter(db *storage.QuestDB, mets *metrics.Metrics) *TradeWriter {
	return &TradeWriter{db: db, mets: mets}
}

// Run consumes ticks until the context is cancelled
func (w *TradeWriter) Run(ctx context.Context, in <-chan models.Tick) {
	log.Info().Msg("Trade writer started")

	backoff := time.Second
	for {
		if !w.db.Connected() {
			if err := w.db.Connect(ctx); err != nil {
				log.Warn().Err(err).Dur("retryIn", backoff).Msg("Sink unavailable (trades)")
				if !sleepCtx(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff)
				continue
			}
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Trade writer stopped")
			return
		case tick, ok := <-in:
			if !ok {
				return
			}
			if err := w.db.WriteTrade(tick); err != nil {
				log.Error().Err(err).Msg("Trade write failed")
				if w.mets != nil {
					w.mets.SinkWriteFails.Inc()
				}
			}
		}
	}
}

// CandleWriter persists closed candles to the time-series sink and
// mirrors them into the local sqlite cache for warmup and backtests.
type CandleWriter struct {
	db    *storage.QuestDB
	cache *storage.SQLiteDB
	mets  *metrics.Metrics
}

// NewCandleWriter creates a candle writer; cache is optional
func NewCandleWriter(db *storage.QuestDB, cache *storage.SQLiteDB, mets *metrics.Metrics) *CandleWriter {
	return &CandleWriter{db: db, cache: cache, mets: mets}
}

// Run consumes candles until the context is cancelled
func (w *CandleWriter) Run(ctx context.Context, in <-chan models.Candle) {
	log.Info().Msg("Candle writer started")

	backoff := time.Second
	for {
		if !w.db.Connected() {
			if err := w.db.Connect(ctx); err != nil {
				log.Warn().Err(err).Dur("retryIn", backoff).Msg("Sink unavailable (candles)")
				if !sleepCtx(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff)
				continue
			}
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Candle writer stopped")
			return
		case candle, ok := <-in:
			if !ok {
				return
			}
			if err := w.db.WriteCandle(candle); err != nil {
				log.Error().Err(err).Msg("Candle write failed")
				if w.mets != nil {
					w.mets.SinkWriteFails.Inc()
				}
			}
			if w.cache != nil {
				if err := w.cache.SaveCandle(candle); err != nil {
					log.Error().Err(err).Msg("Candle cache write failed")
				}
			}
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > sinkBackoffMax {
		next = sinkBackoffMax
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

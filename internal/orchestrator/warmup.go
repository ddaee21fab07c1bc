package orchestrator

import (
	"context"
	"time"

	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// warmup primes the indicators and the learner by replaying recent
// candles through the strategy with emission suppressed. History comes
// from the time-series sink, falling back to the local cache when the
// sink is unreachable.
func (o *Orchestrator) warmup(ctx context.Context) {
	if o.config.WarmupCandles <= 0 {
		return
	}

	total := 0
	for _, symbol := range o.config.Symbols {
		candles := o.loadHistory(ctx, symbol)
		if len(candles) == 0 {
			log.Info().Str("symbol", symbol).Msg("No warmup history available")
			continue
		}

		for _, candle := range candles {
			o.strat.OnCandle(candle, true)
		}
		total += len(candles)

		log.Info().
			Str("symbol", symbol).
			Int("candles", len(candles)).
			Msg("Warmup replay complete")
	}

	log.Info().Int("candles", total).Msg("Warmup finished")
}

// loadHistory returns recent candles for a symbol, oldest first
func (o *Orchestrator) loadHistory(ctx context.Context, symbol string) []models.Candle {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	candles, err := o.sink.RecentCandles(queryCtx, symbol, o.config.WarmupCandles)
	if err == nil && len(candles) > 0 {
		return candles
	}
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Sink warmup query failed, trying local cache")
	}

	if o.cache == nil {
		return nil
	}
	cached, err := o.cache.RecentCandles(symbol, o.config.WarmupCandles)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Cache warmup query failed")
		return nil
	}
	return cached
}

// Package pipeline contains the fan-out stages between the ingestor,
// the persistence sink, the aggregator and the strategy.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// MarkUpdater caches the latest close per symbol for mark-to-market
type MarkUpdater interface {
	UpdateMark(symbol string, price float64)
}

// TickDispatcher copies each tick to the persistence queue and the
// aggregator queue (in that order, blocking — backpressure propagates
// upstream to the ingestor's newest-drop edge). Every Nth tick is also
// broadcast to the control plane as a fire-and-forget ticker.
type TickDispatcher struct {
	sampleRate   int
	broadcastURL string
	client       *http.Client
	counter      int
}

// NewTickDispatcher creates a dispatcher posting sampled tickers to
// broadcastURL. A sampleRate of 0 disables the ticker broadcast.
func NewTickDispatcher(sampleRate int, broadcastURL string) *TickDispatcher {
	return &TickDispatcher{
		sampleRate:   sampleRate,
		broadcastURL: broadcastURL,
		client:       &http.Client{Timeout: 500 * time.Millisecond},
	}
}

// Run pumps ticks until the context is cancelled
func (d *TickDispatcher) Run(ctx context.Context, in <-chan models.Tick, dbQueue, aggQueue chan<- models.Tick) {
	log.Info().Int("sampleRate", d.sampleRate).Msg("Tick dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Tick dispatcher stopped")
			return
		case tick, ok := <-in:
			if !ok {
				return
			}

			d.counter++
			if d.sampleRate > 0 && d.counter%d.sampleRate == 0 {
				go d.postTicker(tick)
			}

			select {
			case dbQueue <- tick:
			case <-ctx.Done():
				return
			}
			select {
			case aggQueue <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

// postTicker sends a sampled price to the control plane. Failures are
// ignored: the broadcast is not critical to the pipeline.
func (d *TickDispatcher) postTicker(tick models.Tick) {
	payload, err := json.Marshal(models.TickerEvent{
		Type:   models.EventTypeTicker,
		Symbol: tick.Symbol,
		Price:  tick.Price,
	})
	if err != nil {
		return
	}

	resp, err := d.client.Post(d.broadcastURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// CandleDispatcher copies each closed candle to the strategy queue and
// the persistence queue, and refreshes the execution engine's marks.
type CandleDispatcher struct {
	marks MarkUpdater
	mets  *metrics.Metrics
}

// NewCandleDispatcher creates a candle dispatcher. marks and mets are
// optional.
func NewCandleDispatcher(marks MarkUpdater, mets *metrics.Metrics) *CandleDispatcher {
	return &CandleDispatcher{marks: marks, mets: mets}
}

// Run pumps candles until the context is cancelled
func (d *CandleDispatcher) Run(ctx context.Context, in <-chan models.Candle, strategyQueue, persistQueue chan<- models.Candle) {
	log.Info().Msg("Candle dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Candle dispatcher stopped")
			return
		case candle, ok := <-in:
			if !ok {
				return
			}

			if d.mets != nil {
				d.mets.CandlesTotal.Inc()
			}
			if d.marks != nil {
				d.marks.UpdateMark(candle.Symbol, candle.Close)
			}

			select {
			case strategyQueue <- candle:
			case <-ctx.Done():
				return
			}
			select {
			case persistQueue <- candle:
			case <-ctx.Done():
				return
			}
		}
	}
}

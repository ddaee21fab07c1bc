// Package binance maintains the exchange WebSocket subscription and
// turns aggregated-trade records into normalized ticks.
package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// Ingestor reads the aggTrade combined stream for a set of symbols and
// emits ticks. It survives network faults: the read deadline acts as a
// silence watchdog, and reconnection backs off exponentially from 1s
// to the configured cap, resetting after a successful receive.
type Ingestor struct {
	baseURL         string
	symbols         []string
	watchdogTimeout time.Duration
	reconnectMax    time.Duration
	mets            *metrics.Metrics

	// set while the output queue is full, so a drop episode logs once
	dropping bool
}

// Option configures the ingestor
type Option func(*Ingestor)

// WithBaseURL overrides the stream endpoint (used by tests)
func WithBaseURL(url string) Option {
	return func(i *Ingestor) { i.baseURL = url }
}

// WithWatchdogTimeout sets the silence window before the socket is
// closed and the reconnect loop takes over
func WithWatchdogTimeout(d time.Duration) Option {
	return func(i *Ingestor) { i.watchdogTimeout = d }
}

// WithReconnectMax caps the reconnection backoff
func WithReconnectMax(d time.Duration) Option {
	return func(i *Ingestor) { i.reconnectMax = d }
}

// WithMetrics attaches Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) { i.mets = m }
}

// NewIngestor creates an ingestor for the given symbols
func NewIngestor(symbols []string, opts ...Option) *Ingestor {
	i := &Ingestor{
		baseURL:         WSBaseURLFutures,
		symbols:         symbols,
		watchdogTimeout: 15 * time.Second,
		reconnectMax:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// streamURL builds the combined-streams URL, e.g.
// .../stream?streams=btcusdt@aggTrade/ethusdt@aggTrade
func (i *Ingestor) streamURL() string {
	streams := make([]string, 0, len(i.symbols))
	for _, s := range i.symbols {
		s = strings.ToLower(strings.ReplaceAll(s, "/", ""))
		streams = append(streams, s+"@aggTrade")
	}
	return i.baseURL + strings.Join(streams, "/")
}

// Run connects and pumps ticks into out until the context is
// cancelled. Connection errors are never fatal.
func (i *Ingestor) Run(ctx context.Context, out chan<- models.Tick) {
	url := i.streamURL()
	log.Info().Int("symbols", len(i.symbols)).Str("url", url).Msg("Ingestor starting")

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			log.Info().Msg("Ingestor stopped")
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				log.Error().Int("status", resp.StatusCode).Msg("WebSocket handshake failed")
			}
			if !i.sleep(ctx, backoff) {
				return
			}
			backoff = i.nextBackoff(backoff)
			continue
		}

		log.Info().Msg("WebSocket connected")
		if i.mets != nil {
			i.mets.WSReconnects.Inc()
		}

		if i.readLoop(ctx, conn, out, &backoff) {
			return // cancelled
		}

		_ = conn.Close()
		log.Warn().Dur("retryIn", backoff).Msg("WebSocket disconnected, reconnecting")
		if !i.sleep(ctx, backoff) {
			return
		}
		backoff = i.nextBackoff(backoff)
	}
}

// readLoop reads until an error or cancellation. Returns true when the
// context ended. The read deadline is the silence watchdog: a stalled
// feed trips it and forces a reconnect.
func (i *Ingestor) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- models.Tick, backoff *time.Duration) bool {
	done := make(chan struct{})
	defer close(done)
	go func() {
		// Unblock the read when the context ends
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(i.watchdogTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			log.Warn().Err(err).Msg("WebSocket read failed (watchdog or network)")
			return false
		}

		// A live feed resets the reconnect schedule
		*backoff = time.Second

		i.handleMessage(message, out)
	}
}

// handleMessage parses one combined-stream record and emits a tick.
// Malformed payloads are logged and skipped.
func (i *Ingestor) handleMessage(data []byte, out chan<- models.Tick) {
	var wrapper streamMessage
	if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Data == nil {
		log.Warn().Msg("Skipping unparseable stream message")
		return
	}

	var event AggTradeEvent
	if err := json.Unmarshal(wrapper.Data, &event); err != nil {
		log.Warn().Err(err).Msg("Skipping malformed aggTrade record")
		return
	}
	if event.Symbol == "" || event.Price == "" || event.Quantity == "" {
		log.Warn().Msg("Skipping aggTrade record with missing fields")
		return
	}

	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || price <= 0 {
		log.Warn().Str("price", event.Price).Msg("Skipping aggTrade with bad price")
		return
	}
	qty, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil || qty < 0 {
		log.Warn().Str("qty", event.Quantity).Msg("Skipping aggTrade with bad quantity")
		return
	}

	side := models.TickSideBuy
	if event.IsBuyerMaker {
		side = models.TickSideSell
	}

	tick := models.Tick{
		Symbol:    event.Symbol,
		Price:     price,
		Qty:       qty,
		Side:      side,
		Timestamp: event.TradeTime,
	}

	if i.mets != nil {
		i.mets.TicksTotal.Inc()
	}

	// Newest-drop backpressure: never stall the read loop on a full
	// queue, and log once per full-queue episode.
	select {
	case out <- tick:
		i.dropping = false
	default:
		if !i.dropping {
			log.Warn().Str("symbol", tick.Symbol).Msg("Tick queue full, dropping newest ticks")
			i.dropping = true
		}
		if i.mets != nil {
			i.mets.TicksDropped.Inc()
		}
	}
}

func (i *Ingestor) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > i.reconnectMax {
		next = i.reconnectMax
	}
	return next
}

func (i *Ingestor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

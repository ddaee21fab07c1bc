// Package orchestrator wires the pipeline stages together: queues,
// long-running tasks, warmup replay and graceful shutdown.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/pulse-trading/internal/aggregator"
	"github.com/pulse-trading/internal/binance"
	"github.com/pulse-trading/internal/execution"
	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/pipeline"
	"github.com/pulse-trading/internal/storage"
	"github.com/pulse-trading/internal/strategy"
	"github.com/rs/zerolog/log"
)

// Config holds orchestrator configuration
type Config struct {
	Symbols            []string
	IntervalMs         int64
	TickQueueSize      int
	CandleQueueSize    int
	ExecutionQueueSize int
	TickerSampleRate   int
	BroadcastURL       string
	WarmupCandles      int
	PnLInterval        time.Duration
}

// Orchestrator owns the queue topology and the lifecycle of all
// pipeline tasks.
type Orchestrator struct {
	config   Config
	ingestor *binance.Ingestor
	agg      *aggregator.Aggregator
	strat    *strategy.Hybrid
	engine   *execution.Engine
	sink     *storage.QuestDB
	cache    *storage.SQLiteDB
	mets     *metrics.Metrics

	execQueue chan models.Signal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. The cache is optional; everything else
// is required.
func New(config Config, ingestor *binance.Ingestor, agg *aggregator.Aggregator, strat *strategy.Hybrid, engine *execution.Engine, sink *storage.QuestDB, cache *storage.SQLiteDB, mets *metrics.Metrics) *Orchestrator {
	if config.PnLInterval == 0 {
		config.PnLInterval = time.Second
	}
	return &Orchestrator{
		config:    config,
		ingestor:  ingestor,
		agg:       agg,
		strat:     strat,
		engine:    engine,
		sink:      sink,
		cache:     cache,
		mets:      mets,
		execQueue: make(chan models.Signal, config.ExecutionQueueSize),
	}
}

// ExecQueue exposes the execution queue so the control plane can
// inject manual orders.
func (o *Orchestrator) ExecQueue() chan<- models.Signal {
	return o.execQueue
}

// Start replays warmup history, then launches every pipeline task.
func (o *Orchestrator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel

	o.warmup(ctx)

	tickQueue := make(chan models.Tick, o.config.TickQueueSize)
	dbQueue := make(chan models.Tick, o.config.TickQueueSize)
	aggQueue := make(chan models.Tick, o.config.TickQueueSize)
	candleQueue := make(chan models.Candle, o.config.CandleQueueSize)
	strategyQueue := make(chan models.Candle, o.config.CandleQueueSize)
	persistQueue := make(chan models.Candle, o.config.CandleQueueSize)

	tickDispatcher := pipeline.NewTickDispatcher(o.config.TickerSampleRate, o.config.BroadcastURL)
	candleDispatcher := pipeline.NewCandleDispatcher(o.engine, o.mets)
	tradeWriter := pipeline.NewTradeWriter(o.sink, o.mets)
	candleWriter := pipeline.NewCandleWriter(o.sink, o.cache, o.mets)

	o.run(func() { o.ingestor.Run(ctx, tickQueue) })
	o.run(func() { tickDispatcher.Run(ctx, tickQueue, dbQueue, aggQueue) })
	o.run(func() { tradeWriter.Run(ctx, dbQueue) })
	o.run(func() { o.agg.Run(ctx, aggQueue, candleQueue) })
	o.run(func() { candleDispatcher.Run(ctx, candleQueue, strategyQueue, persistQueue) })
	o.run(func() { candleWriter.Run(ctx, persistQueue) })
	o.run(func() { o.strategyLoop(ctx, strategyQueue) })
	o.run(func() { o.engine.Run(ctx, o.execQueue) })
	o.run(func() { o.pnlLoop(ctx) })

	log.Info().
		Strs("symbols", o.config.Symbols).
		Int64("intervalMs", o.config.IntervalMs).
		Msg("Pipeline started")
}

// Stop cancels every task and waits for them to drain. The aggregator
// flushes open candles and the engine persists the portfolio on the
// way out.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.sink.Close()
	log.Info().Msg("Pipeline stopped")
}

func (o *Orchestrator) run(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// strategyLoop feeds closed candles to the strategy and forwards its
// signals to the execution queue.
func (o *Orchestrator) strategyLoop(ctx context.Context, candles <-chan models.Candle) {
	log.Info().Msg("Strategy loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Strategy loop stopped")
			return
		case candle, ok := <-candles:
			if !ok {
				return
			}
			signal := o.strat.OnCandle(candle, false)
			if signal == nil {
				continue
			}
			select {
			case o.execQueue <- *signal:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pnlLoop periodically marks open positions and publishes a portfolio
// snapshot.
func (o *Orchestrator) pnlLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.PnLInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", o.config.PnLInterval).Msg("PnL broadcaster started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("PnL broadcaster stopped")
			return
		case <-ticker.C:
			o.engine.BroadcastPortfolio(nil)
		}
	}
}

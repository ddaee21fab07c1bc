package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulse-trading/internal/aggregator"
	"github.com/pulse-trading/internal/api"
	"github.com/pulse-trading/internal/api/websocket"
	"github.com/pulse-trading/internal/binance"
	"github.com/pulse-trading/internal/config"
	"github.com/pulse-trading/internal/execution"
	"github.com/pulse-trading/internal/learner"
	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/orchestrator"
	"github.com/pulse-trading/internal/risk"
	"github.com/pulse-trading/internal/storage"
	"github.com/pulse-trading/internal/strategy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("Starting trading engine...")

	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}

	mets := metrics.New()

	// Broadcast hub; engine log lines are mirrored to dashboards
	hub := websocket.NewHub()
	log.Logger = log.Logger.Hook(api.NewLogHook(hub))

	// Local candle cache (warmup fallback and backtest source)
	cache, err := storage.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		log.Warn().Err(err).Msg("Local candle cache unavailable")
		cache = nil
	} else {
		defer cache.Close()
	}

	// Time-series sink
	sink := storage.NewQuestDB(storage.QuestDBConfig{
		Host:     cfg.QuestDB.Host,
		ILPPort:  cfg.QuestDB.ILPPort,
		HTTPPort: cfg.QuestDB.HTTPPort,
	})

	// Online learner, attached to the strategy when enabled
	var learn *learner.Learner
	var classifier strategy.Classifier
	warmupDepth := cfg.Pipeline.WarmupCandles
	if cfg.ML.Enabled {
		learn = learner.New(learner.Config{
			Lookback:       cfg.ML.Lookback,
			MinSamples:     cfg.ML.MinSamples,
			CheckpointPath: cfg.ML.CheckpointPath,
		})
		classifier = learn
		warmupDepth = cfg.Pipeline.WarmupCandlesML
		log.Info().Int("minSamples", cfg.ML.MinSamples).Msg("Online learner enabled")
	}

	strat := strategy.New(strategy.Config{
		Lookback:     cfg.Strategy.Lookback,
		SMAFast:      cfg.Strategy.SMAFast,
		SMASlow:      cfg.Strategy.SMASlow,
		SMATrend:     cfg.Strategy.SMATrend,
		ADXPeriod:    cfg.Strategy.ADXPeriod,
		ADXThreshold: cfg.Strategy.ADXThreshold,
		ATRPeriod:    cfg.Strategy.ATRPeriod,
		ProbBuy:      cfg.ML.ProbBuy,
		ProbSell:     cfg.ML.ProbSell,
	}, classifier, mets)

	guard := risk.NewGuard()
	sizer := risk.NewPositionSizer(risk.SizerConfig{
		RiskPerTrade:   cfg.Risk.RiskPerTrade,
		MaxPositionPct: cfg.Risk.MaxPositionPct,
		StepSize:       cfg.Trading.StepSize,
		MinNotional:    cfg.Trading.MinNotional,
	})

	engine := execution.New(execution.Config{
		InitialBalance: cfg.Trading.InitialBalance,
		FeeRate:        cfg.Trading.FeeRate,
		CooldownMs:     cfg.Trading.CooldownMs,
	}, sizer, guard, storage.NewPortfolioStore(cfg.Trading.PortfolioPath), hub, mets)

	ingestor := binance.NewIngestor(cfg.Trading.Symbols,
		binance.WithWatchdogTimeout(cfg.Binance.WatchdogTimeout),
		binance.WithReconnectMax(cfg.Binance.ReconnectMax),
		binance.WithMetrics(mets),
	)

	orch := orchestrator.New(orchestrator.Config{
		Symbols:            cfg.Trading.Symbols,
		IntervalMs:         1000,
		TickQueueSize:      cfg.Pipeline.TickQueueSize,
		CandleQueueSize:    cfg.Pipeline.CandleQueueSize,
		ExecutionQueueSize: cfg.Pipeline.ExecutionQueueSize,
		TickerSampleRate:   cfg.Pipeline.TickerSampleRate,
		BroadcastURL:       cfg.API.BroadcastURL,
		WarmupCandles:      warmupDepth,
	}, ingestor, aggregator.New(1000), strat, engine, sink, cache, mets)

	server := api.NewServer(&api.ServerConfig{
		Port:            cfg.API.Port,
		ShutdownTimeout: 10 * time.Second,
	}, hub, engine, guard, mets, orch.ExecQueue())

	// Start control plane
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Control plane error")
		}
	}()

	// Start pipeline (runs warmup first)
	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)

	log.Info().
		Strs("symbols", cfg.Trading.Symbols).
		Str("apiPort", cfg.API.Port).
		Bool("ml", cfg.ML.Enabled).
		Msg("Trading engine started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	cancel()
	orch.Stop()

	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Control plane shutdown error")
	}

	if learn != nil {
		if err := learn.Save(); err != nil {
			log.Warn().Err(err).Msg("Failed to checkpoint learner")
		}
	}

	log.Info().Msg("Trading engine stopped")
}

package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/pulse-trading/internal/backtest"
	"github.com/pulse-trading/internal/config"
	"github.com/pulse-trading/internal/risk"
	"github.com/pulse-trading/internal/storage"
	"github.com/pulse-trading/internal/strategy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		symbol = flag.String("symbol", "BTCUSDT", "symbol to replay")
		limit  = flag.Int("limit", 10000, "max candles to replay (most recent)")
		dbPath = flag.String("db", "", "sqlite cache path (defaults to config)")
	)
	flag.Parse()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if *dbPath == "" {
		*dbPath = cfg.Database.Path
	}

	cache, err := storage.NewSQLiteDB(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open candle cache")
	}
	defer cache.Close()

	candles, err := cache.RecentCandles(*symbol, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load candles")
	}
	if len(candles) == 0 {
		log.Fatal().Str("symbol", *symbol).Msg("No candles in cache for symbol")
	}

	engine := backtest.New(backtest.Config{
		Strategy: strategy.Config{
			Lookback:     cfg.Strategy.Lookback,
			SMAFast:      cfg.Strategy.SMAFast,
			SMASlow:      cfg.Strategy.SMASlow,
			SMATrend:     cfg.Strategy.SMATrend,
			ADXPeriod:    cfg.Strategy.ADXPeriod,
			ADXThreshold: cfg.Strategy.ADXThreshold,
			ATRPeriod:    cfg.Strategy.ATRPeriod,
		},
		Sizer: risk.SizerConfig{
			RiskPerTrade:   cfg.Risk.RiskPerTrade,
			MaxPositionPct: cfg.Risk.MaxPositionPct,
			StepSize:       cfg.Trading.StepSize,
			MinNotional:    cfg.Trading.MinNotional,
		},
		InitialBalance: cfg.Trading.InitialBalance,
		FeeRate:        cfg.Trading.FeeRate,
		CooldownMs:     cfg.Trading.CooldownMs,
	})

	result := engine.Run(*symbol, candles)

	out, _ := json.MarshalIndent(result, "", "  ")
	os.Stdout.Write(append(out, '\n'))
}

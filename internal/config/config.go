package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Trading  TradingConfig  `yaml:"trading"`
	Binance  BinanceConfig  `yaml:"binance"`
	Risk     RiskConfig     `yaml:"risk"`
	Strategy StrategyConfig `yaml:"strategy"`
	ML       MLConfig       `yaml:"ml"`
	QuestDB  QuestDBConfig  `yaml:"questdb"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// TradingConfig represents trading configuration
type TradingConfig struct {
	Symbols        []string `yaml:"symbols"`        // e.g., ["BTCUSDT", "ETHUSDT"]
	InitialBalance float64  `yaml:"initialBalance"` // paper trading starting cash
	FeeRate        float64  `yaml:"feeRate"`        // taker fee (0.0004 = 4 bp)
	CooldownMs     int64    `yaml:"cooldownMs"`     // min gap between trades per symbol
	StepSize       float64  `yaml:"stepSize"`       // quantity step for rounding
	MinNotional    float64  `yaml:"minNotional"`    // min price*qty per order
	PortfolioPath  string   `yaml:"portfolioPath"`  // durable portfolio snapshot
}

// BinanceConfig represents the exchange stream configuration
type BinanceConfig struct {
	WatchdogTimeout time.Duration `yaml:"watchdogTimeout"` // close socket after silence
	ReconnectMax    time.Duration `yaml:"reconnectMax"`    // backoff cap
}

// RiskConfig represents position sizing configuration
type RiskConfig struct {
	RiskPerTrade   float64 `yaml:"riskPerTrade"`   // fraction of balance risked per trade
	MaxPositionPct float64 `yaml:"maxPositionPct"` // max notional as fraction of balance
}

// StrategyConfig represents hybrid strategy configuration
type StrategyConfig struct {
	Lookback     int     `yaml:"lookback"`
	SMAFast      int     `yaml:"smaFast"`
	SMASlow      int     `yaml:"smaSlow"`
	SMATrend     int     `yaml:"smaTrend"`
	ADXPeriod    int     `yaml:"adxPeriod"`
	ADXThreshold float64 `yaml:"adxThreshold"`
	ATRPeriod    int     `yaml:"atrPeriod"`
}

// MLConfig represents the online learner configuration
type MLConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Lookback       int     `yaml:"lookback"`
	MinSamples     int     `yaml:"minSamples"`
	ProbBuy        float64 `yaml:"probBuy"`  // min p(up) to allow a BUY
	ProbSell       float64 `yaml:"probSell"` // max p(up) to allow a SELL
	CheckpointPath string  `yaml:"checkpointPath"`
}

// QuestDBConfig represents the persistence sink configuration
type QuestDBConfig struct {
	Host     string `yaml:"host"`
	ILPPort  int    `yaml:"ilpPort"`  // line protocol over TCP
	HTTPPort int    `yaml:"httpPort"` // /exec query endpoint for warmup
}

// DatabaseConfig represents the local sqlite cache configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig represents control-plane server configuration
type APIConfig struct {
	Port         string `yaml:"port"`
	BroadcastURL string `yaml:"broadcastUrl"` // where the pipeline posts sampled tickers
}

// PipelineConfig represents queue sizes and fan-out behavior
type PipelineConfig struct {
	TickQueueSize      int `yaml:"tickQueueSize"`
	CandleQueueSize    int `yaml:"candleQueueSize"`
	ExecutionQueueSize int `yaml:"executionQueueSize"`
	TickerSampleRate   int `yaml:"tickerSampleRate"` // broadcast every Nth tick
	WarmupCandles      int `yaml:"warmupCandles"`    // indicator warmup depth
	WarmupCandlesML    int `yaml:"warmupCandlesML"`  // deeper warmup when the learner is on
}

// Load loads configuration from a YAML file, then applies environment
// overrides (a .env file is honored when present).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration with env overrides applied
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// applyDefaults applies default values to missing config fields
func applyDefaults(cfg *Config) {
	// Trading defaults
	if len(cfg.Trading.Symbols) == 0 {
		cfg.Trading.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if cfg.Trading.InitialBalance == 0 {
		cfg.Trading.InitialBalance = 10000
	}
	if cfg.Trading.FeeRate == 0 {
		cfg.Trading.FeeRate = 0.0004
	}
	if cfg.Trading.CooldownMs == 0 {
		cfg.Trading.CooldownMs = 3000
	}
	if cfg.Trading.StepSize == 0 {
		cfg.Trading.StepSize = 0.001
	}
	if cfg.Trading.MinNotional == 0 {
		cfg.Trading.MinNotional = 5.0
	}
	if cfg.Trading.PortfolioPath == "" {
		cfg.Trading.PortfolioPath = "data/portfolio.json"
	}

	// Binance defaults
	if cfg.Binance.WatchdogTimeout == 0 {
		cfg.Binance.WatchdogTimeout = 15 * time.Second
	}
	if cfg.Binance.ReconnectMax == 0 {
		cfg.Binance.ReconnectMax = 30 * time.Second
	}

	// Risk defaults
	if cfg.Risk.RiskPerTrade == 0 {
		cfg.Risk.RiskPerTrade = 0.01
	}
	if cfg.Risk.MaxPositionPct == 0 {
		cfg.Risk.MaxPositionPct = 0.20
	}

	// Strategy defaults
	if cfg.Strategy.Lookback == 0 {
		cfg.Strategy.Lookback = 300
	}
	if cfg.Strategy.SMAFast == 0 {
		cfg.Strategy.SMAFast = 5
	}
	if cfg.Strategy.SMASlow == 0 {
		cfg.Strategy.SMASlow = 20
	}
	if cfg.Strategy.SMATrend == 0 {
		cfg.Strategy.SMATrend = 200
	}
	if cfg.Strategy.ADXPeriod == 0 {
		cfg.Strategy.ADXPeriod = 14
	}
	if cfg.Strategy.ADXThreshold == 0 {
		cfg.Strategy.ADXThreshold = 25
	}
	if cfg.Strategy.ATRPeriod == 0 {
		cfg.Strategy.ATRPeriod = 14
	}

	// ML defaults
	if cfg.ML.Lookback == 0 {
		cfg.ML.Lookback = 50
	}
	if cfg.ML.MinSamples == 0 {
		cfg.ML.MinSamples = 1000
	}
	if cfg.ML.ProbBuy == 0 {
		cfg.ML.ProbBuy = 0.60
	}
	if cfg.ML.ProbSell == 0 {
		cfg.ML.ProbSell = 1 - cfg.ML.ProbBuy
	}
	if cfg.ML.CheckpointPath == "" {
		cfg.ML.CheckpointPath = "data/models/learner.json"
	}

	// QuestDB defaults
	if cfg.QuestDB.Host == "" {
		cfg.QuestDB.Host = "localhost"
	}
	if cfg.QuestDB.ILPPort == 0 {
		cfg.QuestDB.ILPPort = 9009
	}
	if cfg.QuestDB.HTTPPort == 0 {
		cfg.QuestDB.HTTPPort = 9000
	}

	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/market.db"
	}

	// API defaults
	if cfg.API.Port == "" {
		cfg.API.Port = ":8000"
	}
	if cfg.API.BroadcastURL == "" {
		cfg.API.BroadcastURL = "http://localhost:8000/internal/broadcast"
	}

	// Pipeline defaults
	if cfg.Pipeline.TickQueueSize == 0 {
		cfg.Pipeline.TickQueueSize = 5000
	}
	if cfg.Pipeline.CandleQueueSize == 0 {
		cfg.Pipeline.CandleQueueSize = 1000
	}
	if cfg.Pipeline.ExecutionQueueSize == 0 {
		cfg.Pipeline.ExecutionQueueSize = 300
	}
	if cfg.Pipeline.TickerSampleRate == 0 {
		cfg.Pipeline.TickerSampleRate = 10
	}
	if cfg.Pipeline.WarmupCandles == 0 {
		cfg.Pipeline.WarmupCandles = 300
	}
	if cfg.Pipeline.WarmupCandlesML == 0 {
		cfg.Pipeline.WarmupCandlesML = 2000
	}
}

// applyEnv overrides config fields from the environment. A .env file in
// the working directory is loaded first when present.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(strings.ReplaceAll(s, "/", "")))
			}
		}
		if len(symbols) > 0 {
			cfg.Trading.Symbols = symbols
		}
	}
	if v := os.Getenv("QUESTDB_HOST"); v != "" {
		cfg.QuestDB.Host = v
	}
	if v, ok := envInt("QUESTDB_PORT"); ok {
		cfg.QuestDB.ILPPort = v
	}
	if v, ok := envInt("QUESTDB_HTTP_PORT"); ok {
		cfg.QuestDB.HTTPPort = v
	}
	if v, ok := envFloat("INITIAL_BALANCE"); ok {
		cfg.Trading.InitialBalance = v
	}
	if v, ok := envFloat("RISK_PER_TRADE"); ok {
		cfg.Risk.RiskPerTrade = v
	}
	if v, ok := envFloat("MAX_POSITION_PCT"); ok {
		cfg.Risk.MaxPositionPct = v
	}
	if v := os.Getenv("ML_ENABLED"); v != "" {
		cfg.ML.Enabled = strings.EqualFold(v, "true")
	}
	if v, ok := envFloat("ML_MIN_CONFIDENCE"); ok {
		cfg.ML.ProbBuy = v
		cfg.ML.ProbSell = 1 - v
	}
	if v, ok := envInt("ML_MIN_SAMPLES"); ok {
		cfg.ML.MinSamples = v
	}
	if v, ok := envInt("WATCHDOG_TIMEOUT"); ok {
		cfg.Binance.WatchdogTimeout = time.Duration(v) * time.Second
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.API.Port = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Save saves configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

// SQLiteDB is the local market-data cache: a mirror of recent candles
// and trades used by the backtester and as the warmup source when the
// time-series sink is unreachable.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// NewSQLiteDB opens (and migrates) the local cache
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteDB{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("SQLite cache initialized")
	return s, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// migrate runs database migrations
func (s *SQLiteDB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY(symbol, timestamp)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_candles_symbol_time
		 ON candles(symbol, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			qty REAL NOT NULL,
			timestamp INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_time
		 ON trades(symbol, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// SaveCandle upserts one closed candle
func (s *SQLiteDB) SaveCandle(c models.Candle) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO candles (symbol, timestamp, open, high, low, close, volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	return err
}

// SaveTrade appends one trade row
func (s *SQLiteDB) SaveTrade(t models.Tick) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (symbol, side, price, qty, timestamp) VALUES (?, ?, ?, ?, ?)`,
		t.Symbol, t.Side, t.Price, t.Qty, t.Timestamp)
	return err
}

// RecentCandles returns up to limit most recent candles, oldest first
func (s *SQLiteDB) RecentCandles(symbol string, limit int) ([]models.Candle, error) {
	rows, err := s.db.Query(
		`SELECT symbol, timestamp, open, high, low, close, volume
		 FROM candles WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Symbol, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// CandlesBetween returns the chronological candle range for a symbol,
// inclusive of both bounds. Used by the backtester.
func (s *SQLiteDB) CandlesBetween(symbol string, fromMs, toMs int64) ([]models.Candle, error) {
	rows, err := s.db.Query(
		`SELECT symbol, timestamp, open, high, low, close, volume
		 FROM candles WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp ASC`,
		symbol, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Symbol, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

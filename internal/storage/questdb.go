// Package storage provides the persistence surfaces of the engine:
// the QuestDB time-series sink (ILP over TCP, HTTP for warmup reads),
// a local sqlite candle cache, and the durable portfolio snapshot.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	tableTrades  = "trades"
	tableCandles = "candles_1s"
)

// QuestDBConfig holds connection endpoints for the sink
type QuestDBConfig struct {
	Host     string
	ILPPort  int
	HTTPPort int
}

// QuestDB writes market rows over the InfluxDB line protocol on a
// single persistent TCP connection shared by the trade and candle
// writer tasks, and answers warmup queries through the HTTP /exec
// endpoint. Connection state is mutex-guarded.
type QuestDB struct {
	config     QuestDBConfig
	mu         sync.Mutex
	conn       net.Conn
	httpClient *http.Client
}

// NewQuestDB creates a client; the TCP connection is opened lazily
func NewQuestDB(config QuestDBConfig) *QuestDB {
	return &QuestDB{
		config:     config,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Connect opens the ILP TCP connection. A second caller finding the
// connection already open is a no-op.
func (q *QuestDB) Connect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(q.config.Host, strconv.Itoa(q.config.ILPPort))

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("questdb connect %s: %w", addr, err)
	}

	q.conn = conn
	log.Info().Str("addr", addr).Msg("Connected to QuestDB (TCP/ILP)")
	return nil
}

// Connected reports whether the ILP connection is open
func (q *QuestDB) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.conn != nil
}

// Close closes the ILP connection
func (q *QuestDB) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *QuestDB) closeLocked() {
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
}

// WriteTrade appends one trade row.
// Line format: trades,symbol=X,side=Y price=P,qty=Q TS_NS
func (q *QuestDB) WriteTrade(tick models.Tick) error {
	line := fmt.Sprintf("%s,symbol=%s,side=%s price=%s,qty=%s %d\n",
		tableTrades, tick.Symbol, tick.Side,
		formatFloat(tick.Price), formatFloat(tick.Qty),
		tick.Timestamp*1_000_000)
	return q.writeLine(line)
}

// WriteCandle appends one OHLCV row to the 1-second candle table
func (q *QuestDB) WriteCandle(candle models.Candle) error {
	line := fmt.Sprintf("%s,symbol=%s open=%s,high=%s,low=%s,close=%s,volume=%s %d\n",
		tableCandles, candle.Symbol,
		formatFloat(candle.Open), formatFloat(candle.High),
		formatFloat(candle.Low), formatFloat(candle.Close),
		formatFloat(candle.Volume),
		candle.Timestamp*1_000_000)
	return q.writeLine(line)
}

func (q *QuestDB) writeLine(line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn == nil {
		return fmt.Errorf("questdb: not connected")
	}
	_ = q.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := q.conn.Write([]byte(line)); err != nil {
		// Force a reconnect on the next write
		q.closeLocked()
		return fmt.Errorf("questdb write: %w", err)
	}
	return nil
}

// RecentCandles returns up to limit most recent 1-second candles for a
// symbol, oldest first. When the candle table is empty the series is
// reconstructed from raw trades with a 1-second downsampling.
func (q *QuestDB) RecentCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	query := fmt.Sprintf(
		"SELECT timestamp, open, high, low, close, volume FROM %s WHERE symbol = '%s' ORDER BY timestamp DESC LIMIT %d",
		tableCandles, symbol, limit)

	candles, err := q.queryCandles(ctx, symbol, query)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		return candles, nil
	}

	// Candle table empty: downsample the raw trade tape
	query = fmt.Sprintf(
		"SELECT timestamp, first(price) open, max(price) high, min(price) low, last(price) close, sum(qty) volume "+
			"FROM %s WHERE symbol = '%s' SAMPLE BY 1s ORDER BY timestamp DESC LIMIT %d",
		tableTrades, symbol, limit)

	return q.queryCandles(ctx, symbol, query)
}

// execResponse is the QuestDB /exec JSON payload
type execResponse struct {
	Columns []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"columns"`
	Dataset [][]interface{} `json:"dataset"`
	Error   string          `json:"error"`
}

func (q *QuestDB) queryCandles(ctx context.Context, symbol, query string) ([]models.Candle, error) {
	endpoint := fmt.Sprintf("http://%s/exec?query=%s",
		net.JoinHostPort(q.config.Host, strconv.Itoa(q.config.HTTPPort)),
		url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("questdb query: %w", err)
	}
	defer resp.Body.Close()

	var result execResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("questdb decode: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("questdb: %s", result.Error)
	}

	candles := make([]models.Candle, 0, len(result.Dataset))
	for _, row := range result.Dataset {
		if len(row) < 6 {
			continue
		}
		ts, ok := parseTimestamp(row[0])
		if !ok {
			continue
		}
		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
		})
	}

	// Rows arrive newest-first; replay wants chronological order
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func parseTimestamp(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

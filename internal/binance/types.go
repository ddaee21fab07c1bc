package binance

import "encoding/json"

// Endpoints
const (
	WSBaseURLFutures = "wss://fstream.binance.com/stream?streams="
)

// AggTradeEvent represents one aggregated trade from the WS stream
type AggTradeEvent struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// streamMessage wraps records on the combined-streams endpoint
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

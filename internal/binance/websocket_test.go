package binance

import (
	"testing"

	"github.com/pulse-trading/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL_CombinedStreams(t *testing.T) {
	ingestor := NewIngestor([]string{"BTCUSDT", "eth/usdt"})

	url := ingestor.streamURL()
	assert.Equal(t, WSBaseURLFutures+"btcusdt@aggTrade/ethusdt@aggTrade", url)
}

func TestHandleMessage_EmitsNormalizedTick(t *testing.T) {
	ingestor := NewIngestor([]string{"BTCUSDT"})
	out := make(chan models.Tick, 1)

	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1700000000200,"s":"BTCUSDT","a":1,"p":"50000.50","q":"0.250","f":1,"l":1,"T":1700000000123,"m":true}}`)
	ingestor.handleMessage(raw, out)

	require.Len(t, out, 1)
	tick := <-out
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 50000.5, tick.Price)
	assert.Equal(t, 0.25, tick.Qty)
	// Buyer-is-maker means an aggressive sell
	assert.Equal(t, models.TickSideSell, tick.Side)
	assert.Equal(t, int64(1700000000123), tick.Timestamp)
}

func TestHandleMessage_BuyerTakerIsBuy(t *testing.T) {
	ingestor := NewIngestor([]string{"BTCUSDT"})
	out := make(chan models.Tick, 1)

	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","p":"100","q":"1","T":1700000000123,"m":false}}`)
	ingestor.handleMessage(raw, out)

	require.Len(t, out, 1)
	assert.Equal(t, models.TickSideBuy, (<-out).Side)
}

func TestHandleMessage_MalformedSkipped(t *testing.T) {
	ingestor := NewIngestor([]string{"BTCUSDT"})
	out := make(chan models.Tick, 4)

	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"stream":"x"}`),                                                // no data
		[]byte(`{"stream":"x","data":{"s":"BTCUSDT","q":"1","T":1}}`),           // missing price
		[]byte(`{"stream":"x","data":{"s":"BTCUSDT","p":"oops","q":"1","T":1}}`), // bad price
		[]byte(`{"stream":"x","data":{"s":"BTCUSDT","p":"-5","q":"1","T":1}}`),  // non-positive price
	}
	for _, raw := range cases {
		ingestor.handleMessage(raw, out)
	}

	assert.Empty(t, out)
}

func TestHandleMessage_NewestDropOnFullQueue(t *testing.T) {
	ingestor := NewIngestor([]string{"BTCUSDT"})
	out := make(chan models.Tick, 1)

	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","p":"100","q":"1","T":1700000000123,"m":false}}`)
	ingestor.handleMessage(raw, out)
	ingestor.handleMessage(raw, out) // queue full: dropped, never blocks

	require.Len(t, out, 1)
	assert.True(t, ingestor.dropping)

	// Draining the queue ends the episode on the next successful send
	<-out
	ingestor.handleMessage(raw, out)
	assert.False(t, ingestor.dropping)
	assert.Len(t, out, 1)
}

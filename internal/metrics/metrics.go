// Package metrics holds the Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	TicksDropped   prometheus.Counter
	CandlesTotal   prometheus.Counter
	WSReconnects   prometheus.Counter
	SignalsTotal   *prometheus.CounterVec // labels: side
	SignalsVetoed  prometheus.Counter
	TradesTotal    *prometheus.CounterVec // labels: action (open|close)
	Rejections     *prometheus.CounterVec // labels: reason
	EquityGauge    prometheus.Gauge
	OpenPositions  prometheus.Gauge
	SinkWriteFails prometheus.Counter

	registry *prometheus.Registry
}

// New registers and returns all engine metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total ticks received from the exchange stream",
		}),
		TicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_dropped_total",
			Help: "Ticks dropped at the ingest edge because the queue was full",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_candles_total",
			Help: "Total closed candles emitted by the aggregator",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ws_reconnects_total",
			Help: "Total exchange WebSocket connections established, the first one included",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Strategy signals emitted",
		}, []string{"side"}),
		SignalsVetoed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_signals_vetoed_total",
			Help: "Candidate signals rejected by the ML classifier",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Paper trades executed",
		}, []string{"action"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_rejections_total",
			Help: "Signals rejected by execution safety gates",
		}, []string{"reason"}),
		EquityGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Current marked portfolio equity",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Number of currently open positions",
		}),
		SinkWriteFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_sink_write_failures_total",
			Help: "Failed writes to the persistence sink",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TicksTotal, m.TicksDropped, m.CandlesTotal, m.WSReconnects,
		m.SignalsTotal, m.SignalsVetoed, m.TradesTotal, m.Rejections,
		m.EquityGauge, m.OpenPositions, m.SinkWriteFails,
	)

	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

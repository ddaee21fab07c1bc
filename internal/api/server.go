// Package api is the control plane: a small HTTP surface for manual
// orders, the panic switch and internal broadcasts, plus the /ws/logs
// event stream consumed by dashboards.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulse-trading/internal/api/middleware"
	"github.com/pulse-trading/internal/api/websocket"
	"github.com/pulse-trading/internal/execution"
	"github.com/pulse-trading/internal/metrics"
	"github.com/pulse-trading/internal/models"
	"github.com/pulse-trading/internal/risk"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            ":8000",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the control-plane server
type Server struct {
	config *ServerConfig
	echo   *echo.Echo
	hub    *websocket.Hub
	engine *execution.Engine
	guard  *risk.Guard
	mets   *metrics.Metrics

	// manual orders are injected into the execution queue
	execQueue chan<- models.Signal
}

// NewServer creates a control-plane server
func NewServer(config *ServerConfig, hub *websocket.Hub, engine *execution.Engine, guard *risk.Guard, mets *metrics.Metrics, execQueue chan<- models.Signal) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		config:    config,
		echo:      e,
		hub:       hub,
		engine:    engine,
		guard:     guard,
		mets:      mets,
		execQueue: execQueue,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(middleware.Logger())
	s.echo.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/orders/execute", s.handleExecuteOrder)
	s.echo.POST("/panic", s.handlePanic)
	s.echo.POST("/panic/reset", s.handlePanicReset)
	s.echo.POST("/internal/broadcast", s.handleBroadcast)

	if s.mets != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.mets.Registry(), promhttp.HandlerOpts{})))
	}

	s.echo.GET("/ws/logs", s.handleWebSocket)
}

// OrderRequest is the manual-order payload
type OrderRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price,omitempty"`
	Type   string  `json:"type,omitempty"`
}

// handleHealth reports liveness, the adapter set and the lockout state
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":       true,
		"adapters": []string{"binance-paper"},
		"lockout":  s.guard != nil && s.guard.Locked(),
	})
}

// handleExecuteOrder turns a manual order into a signal on the
// execution queue. Returns 409 while the lockout is active and 400 for
// malformed payloads.
func (s *Server) handleExecuteOrder(c echo.Context) error {
	var req OrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	side := models.SignalSide(req.Side)
	if req.Symbol == "" || (side != models.SignalSideBuy && side != models.SignalSideSell) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "symbol and side (BUY|SELL) are required"})
	}

	if s.guard != nil && s.guard.Locked() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "lockout active"})
	}

	price := req.Price
	if price <= 0 {
		mark, ok := s.engine.LastMark(req.Symbol)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "no market price known for symbol"})
		}
		price = mark
	}

	signal := models.NewSignal(req.Symbol, side, price, time.Now().UnixMilli(), "MANUAL_UI")

	select {
	case s.execQueue <- signal:
	default:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "execution queue full"})
	}

	log.Info().
		Str("symbol", signal.Symbol).
		Str("side", string(signal.Side)).
		Float64("price", signal.Price).
		Msg("Manual order accepted")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "received",
		"order":  signal,
	})
}

// handlePanic engages the global lockout and broadcasts the event
func (s *Server) handlePanic(c echo.Context) error {
	if s.guard != nil {
		s.guard.Lock("manual panic")
	}
	s.hub.Publish(models.NewLogEvent("PANIC MODE ACTIVATED"))
	return c.JSON(http.StatusOK, map[string]string{"status": "panic_activated"})
}

// handlePanicReset clears the lockout
func (s *Server) handlePanicReset(c echo.Context) error {
	if s.guard != nil {
		s.guard.Unlock()
	}
	s.hub.Publish(models.NewLogEvent("Lockout cleared"))
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleBroadcast forwards an arbitrary JSON event to every WS client
func (s *Server) handleBroadcast(c echo.Context) error {
	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	s.hub.PublishRaw(data)

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	return websocket.HandleConnection(c, s.hub)
}

// Hub returns the broadcast hub
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start starts the hub and the HTTP listener (blocking)
func (s *Server) Start() error {
	go s.hub.Run()
	log.Info().Str("port", s.config.Port).Msg("Control plane listening")
	return s.echo.Start(s.config.Port)
}

// Shutdown gracefully stops the server and closes all WS clients
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Close()
	log.Info().Msg("Shutting down control plane")
	return s.echo.Shutdown(ctx)
}

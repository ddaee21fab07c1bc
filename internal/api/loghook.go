package api

import (
	"encoding/json"

	"github.com/pulse-trading/internal/api/websocket"
	"github.com/pulse-trading/internal/models"
	"github.com/rs/zerolog"
)

// LogHook mirrors engine log lines onto the broadcast WebSocket so
// rejections and trade activity are visible to dashboards.
type LogHook struct {
	hub *websocket.Hub
}

// NewLogHook creates a hook forwarding to the given hub
func NewLogHook(hub *websocket.Hub) LogHook {
	return LogHook{hub: hub}
}

// Run implements zerolog.Hook. Delivery is best-effort and never logs
// itself, so a saturated hub cannot recurse into the hook.
func (h LogHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if h.hub == nil || message == "" || level < zerolog.InfoLevel {
		return
	}
	data, err := json.Marshal(models.NewLogEvent(message))
	if err != nil {
		return
	}
	h.hub.TryPublish(data)
}

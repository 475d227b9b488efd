package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridedispatch/internal/notify"
)

// SessionHandler upgrades passenger connections for outcome push.
type SessionHandler struct {
	registry *notify.SessionRegistry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *notify.SessionRegistry, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Connect handles GET /v1/ws/passengers/:id
func (h *SessionHandler) Connect(c *gin.Context) {
	passengerID := c.Param("id")
	if passengerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "passenger id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("ws_upgrade_failed", "passenger_id", passengerID, "error", err)
		return
	}

	h.registry.Add(passengerID, conn)
	h.logger.Debug("ws_connected", "passenger_id", passengerID)

	// The connection is push only; reading detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.registry.Remove(passengerID, conn)
	_ = conn.Close()
	h.logger.Debug("ws_disconnected", "passenger_id", passengerID)
}

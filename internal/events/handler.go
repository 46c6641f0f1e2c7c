package events

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/apnisec/backend/internal/auth"
	apperrors "github.com/apnisec/backend/internal/errors"
	"github.com/apnisec/backend/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cookie auth already gates the upgrade; cross-origin pages
		// cannot read the connection.
		return true
	},
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles websocket requests. It must run behind auth.Middleware so
// the subject is already in the context.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.Auth("Not authenticated"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(context.Background(), "websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := NewClient(h.hub, conn, userCtx.UserID)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// Hub returns the hub instance for broadcasting.
func (h *Handler) Hub() *Hub {
	return h.hub
}

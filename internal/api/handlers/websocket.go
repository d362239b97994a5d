package handlers

import (
	"streamguard/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	registry websocket.StreamRegistry
	verifier websocket.TokenVerifier
	sender   websocket.MessageSender
}

func NewWSHandler(registry websocket.StreamRegistry, verifier websocket.TokenVerifier, sender websocket.MessageSender) *WSHandler {
	return &WSHandler{
		registry: registry,
		verifier: verifier,
		sender:   sender,
	}
}

// HandleWebSocket upgrades the request and hands the connection to the chat
// gateway. The caller authenticates afterwards, inside the join_stream frame,
// so the upgrade itself is unauthenticated.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	websocket.ServeWS(c.Writer, c.Request, h.registry, h.verifier, h.sender)
}

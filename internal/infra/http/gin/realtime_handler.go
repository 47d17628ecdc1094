package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
)

// SocketServer upgrades an authenticated request to a realtime connection.
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

type RealtimeHandler struct {
	Sockets  SocketServer
	Verifier TokenVerifier
	Logger   *slog.Logger
}

// Connect authenticates during the handshake; failures are plain 401s before any upgrade.
func (h RealtimeHandler) Connect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = extractBearerToken(c.GetHeader("Authorization"))
	}
	if token == "" || h.Verifier == nil {
		respondUnauthorized(c)
		return
	}
	userID, err := h.Verifier.Verify(token)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("socket token rejected", "error", err)
		}
		respondUnauthorized(c)
		return
	}
	setPrincipal(c, principal{ID: userID, Token: token})
	if err := h.Sockets.Serve(c.Writer, c.Request, userID); err != nil && h.Logger != nil {
		// the upgrader already wrote the HTTP error
		h.Logger.Warn("websocket upgrade failed", "error", err, "user_id", userID)
	}
}

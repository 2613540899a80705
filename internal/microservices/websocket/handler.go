package websocket

import (
	"log/slog"
	"net/http"
	"net/url"

	"echohub/internal/microservices/session"
	"echohub/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ConnectionLister exposes the open connections for the stats endpoint.
type ConnectionLister interface {
	Len() int
	IDs() []string
}

// ReadinessChecker reports whether the listener accepts connections.
type ReadinessChecker interface {
	Ready() bool
}

// WSHandler upgrades the request and runs the connection as a session
// until it closes. The query string carries the handshake parameters.
func WSHandler(hub *session.Hub, upgrader *websocket.Upgrader, opts ConnOptions, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := paramsFromQuery(c.Request.URL.Query())

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader already answered with an HTTP error
			logger.Warn("ws_upgrade_failed",
				"remote_addr", c.ClientIP(),
				"error", err.Error(),
			)
			return
		}

		conn := NewConn(ws, opts)
		logger.Debug("ws_accepted", "remote_addr", conn.RemoteAddr())
		if err := hub.Serve(c.Request.Context(), conn, params, "websocket"); err != nil {
			logger.Warn("ws_session_ended", "remote_addr", conn.RemoteAddr(), "error", err.Error())
		}
	}
}

// paramsFromQuery keeps the first value of every key.
func paramsFromQuery(values url.Values) protocol.Params {
	params := make(protocol.Params, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	return params
}

// ConnectionsHandler: GET /api/connections
func ConnectionsHandler(list ConnectionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"count": list.Len(),
			"ids":   list.IDs(),
		})
	}
}

// HealthHandler: GET /healthz, always ok while the process serves HTTP.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ReadyHandler: GET /readyz, 503 once shutdown started.
func ReadyHandler(check ReadinessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !check.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campuscard/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay is deliberately open: any client may attach and any client
	// may issue request-write. Known risk, kept to match the deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades HTTP connections and pumps frames between the
// websocket and a hub session. The bridge attaches with ?role=bridge.
func WSHandler(hub *Hub, log logging.Logger) gin.HandlerFunc {
	log = log.With("module", "relay_ws")
	return func(c *gin.Context) {
		role := RoleClient
		if c.Query("role") == string(RoleBridge) {
			role = RoleBridge
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn(c.Request.Context(), "websocket upgrade failed", "error", err)
			return
		}

		ctx := c.Request.Context()
		session := hub.Attach(ctx, role)
		log.Info(ctx, "session attached", "role", string(role), "remote", conn.RemoteAddr().String())

		// Write pump: drain the session outbox onto the socket.
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			defer conn.Close()
			for {
				select {
				case env, ok := <-session.Outbox:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if !ok {
						_ = conn.WriteMessage(websocket.CloseMessage, nil)
						return
					}
					if err := conn.WriteJSON(env); err != nil {
						return
					}
				case <-ticker.C:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		// Read pump: feed inbound envelopes to the hub until the peer goes.
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				break
			}
			hub.Inbound(ctx, session, env)
		}

		hub.Detach(session)
		log.Info(ctx, "session detached", "role", string(role))
	}
}

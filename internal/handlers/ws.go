package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tariel-x/callrelay/internal/hub"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/protocol"
	"github.com/tariel-x/callrelay/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second

	defaultReadLimit = 64 << 10
)

// HandleWebSocket binds one authenticated participant to a socket. Losing the
// socket is reported to the supervisor only if no newer socket replaced it.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	pid, err := h.auth.Resolve(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("participant_id", string(pid)).Msg("ws upgrade failed")
		return
	}

	client := hub.NewClient(conn, pid, h.config.HTTP.SendBuffer)
	if !h.hub.Add(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}
	h.logger.Debug().Str("participant_id", string(pid)).Str("ip", c.ClientIP()).Msg("ws connected")

	go h.writePump(conn, client)
	h.core.Supervisor().Connected(pid)
	h.readPump(conn, client)
}

func (h *Handlers) readPump(conn *websocket.Conn, client *hub.Client) {
	pid := client.ID()
	defer func() {
		_ = conn.Close()
		if h.hub.Remove(client) {
			h.logger.Debug().Str("participant_id", string(pid)).Msg("ws disconnected")
			h.core.Supervisor().Disconnected(pid)
		}
	}()

	limit := h.config.HTTP.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		h.core.Supervisor().Heartbeat(pid)
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("participant_id", string(pid)).Msg("ws read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		env, err := protocol.Decode(payload)
		if err != nil {
			h.rejectFrame(pid, err)
			continue
		}
		// Payloads may carry SDP with addresses, log sizes only.
		h.logger.Debug().
			Str("participant_id", string(pid)).
			Str("type", env.Type).
			Str("session_id", string(env.SessionID)).
			Int("data_bytes", len(env.Data)).
			Msg("ws recv")
		_ = h.core.Handle(pid, env)
	}
}

func (h *Handlers) rejectFrame(pid models.ParticipantID, err error) {
	h.hub.Deliver(pid, protocol.Event{
		Type: protocol.EventError,
		Data: protocol.Error{Code: string(session.CodeBadRequest), Message: err.Error()},
	})
}

func (h *Handlers) writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Outgoing():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tribeat/internal/channel"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already ran; browser clients connect cross-origin in dev.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// attachWS upgrades the request and streams the session channel to the
// client. Control events still arrive over the HTTP event endpoint; the
// socket is receive-only apart from pings.
func (h *Handler) attachWS(c *gin.Context) {
	identity, ok := h.authorizedIdentity(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	if _, err := h.router.Access(c.Request.Context(), identity, sessionID); err != nil {
		c.JSON(statusFromLiveErr(err), gin.H{"error": err.Error()})
		return
	}
	if h.transport == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live channel unavailable"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	member := channel.Member{ConnID: uuid.NewString(), Identity: identity}
	sub, err := h.transport.Subscribe(c.Request.Context(), channel.Name(sessionID), member)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}

	go h.wsWritePump(conn, sub)
	h.wsReadPump(conn, sub)
}

// wsWritePump forwards channel events to the socket until the subscription
// closes.
func (h *Handler) wsWritePump(conn *websocket.Conn, sub *channel.Subscription) {
	ping := time.NewTicker(wsPingEvery)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			payload, err := channel.Encode(evt)
			if err != nil {
				log.Printf("ws encode %s failed: %v", evt.Kind, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsReadPump drains the socket to notice disconnects and closes the
// subscription when the peer goes away.
func (h *Handler) wsReadPump(conn *websocket.Conn, sub *channel.Subscription) {
	defer func() {
		sub.Close()
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

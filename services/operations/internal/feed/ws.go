package feed

import (
	"net/http"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WSHandler serves the signal feed over a websocket. The feed is one-way:
// client frames are read only to notice pongs and closes.
type WSHandler struct {
	hub      *Hub
	logger   aqm.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, logger aqm.Logger) *WSHandler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &WSHandler{
		hub:    hub,
		logger: logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, signals := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)
	h.logger.Info("new websocket connection", "subscriber_id", id)

	gone := make(chan struct{})
	go h.readPump(conn, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			h.logger.Info("websocket client disconnected", "subscriber_id", id)
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case sig, ok := <-signals:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(sig); err != nil {
				h.logger.Info("websocket write failed", "subscriber_id", id, "error", err)
				return
			}
		}
	}
}

func (h *WSHandler) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

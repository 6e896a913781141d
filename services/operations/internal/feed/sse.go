package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aquamarinepk/aqm"
)

const keepalive = 30 * time.Second

// SSEHandler streams session signals as server-sent events, one event per
// signal named after its type.
type SSEHandler struct {
	hub       *Hub
	logger    aqm.Logger
	keepalive time.Duration
}

func NewSSEHandler(hub *Hub, logger aqm.Logger) *SSEHandler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &SSEHandler{hub: hub, logger: logger.With("component", "sse"), keepalive: keepalive}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		aqm.RespondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, signals := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)
	h.logger.Info("new SSE connection", "subscriber_id", id)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", id)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()

		case sig, ok := <-signals:
			if !ok {
				return
			}
			data, err := json.Marshal(sig)
			if err != nil {
				h.logger.Error("cannot encode signal", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\n", sig.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

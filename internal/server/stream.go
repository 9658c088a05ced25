package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/metrics"
)

// wsWriteTimeout bounds a single websocket frame write. A client that stops
// reading gets disconnected instead of pinning the stream goroutine.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamReading feeds a subscriber the job's full backlog and then live
// events until the job reaches a terminal state. Plain GET gets SSE; a
// websocket upgrade gets the same feed as JSON frames.
func (h *Handler) streamReading(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, err := h.jobs.Subscribe(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such reading")
			return
		}
		h.logger.Error("subscribe failed", "job_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "could not attach to the stream, retry shortly")
		return
	}
	defer sub.Close()

	metrics.StreamSubscriberAttached()
	defer metrics.StreamSubscriberDetached()

	if websocket.IsWebSocketUpgrade(r) {
		h.streamWebsocket(w, r, id, sub)
		return
	}
	h.streamSSE(w, r, sub)
}

func (h *Handler) streamSSE(w http.ResponseWriter, r *http.Request, sub *job.Subscription) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			flusher.Flush()
		}
	}
}

func (h *Handler) streamWebsocket(w http.ResponseWriter, r *http.Request, jobID string, sub *job.Subscription) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	// Read pump: the client never sends data frames, but reading is how
	// we notice it hung up.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, open := <-sub.C:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete")
				_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "job_id", jobID, "error", err)
				return
			}
		}
	}
}

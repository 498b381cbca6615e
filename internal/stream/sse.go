package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/event"
	"github.com/stormfeed/stormfeed/internal/store"
)

// Idle heartbeat period. Keeps intermediary proxies from timing the
// connection out.
const defaultHeartbeat = 30 * time.Second

type connectedMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type historyMessage struct {
	Type   string        `json:"type"`
	Events []event.Event `json:"events"`
}

// SSEHandler serves one subscriber session per request: a connected
// acknowledgement, one history snapshot from the store, then live events
// from the broadcaster until the client disconnects.
type SSEHandler struct {
	feed      string
	store     *store.Store
	bc        *Broadcaster
	historyN  int
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewSSEHandler creates a session handler that snapshots the last historyN
// events on attach.
func NewSSEHandler(feed string, st *store.Store, bc *Broadcaster, historyN int, logger *zap.Logger) *SSEHandler {
	return &SSEHandler{
		feed:      feed,
		store:     st,
		bc:        bc,
		historyN:  historyN,
		heartbeat: defaultHeartbeat,
		logger:    logger,
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientID := uuid.NewString()

	h.logger.Info("stream client connected",
		zap.String("feed", h.feed),
		zap.String("client", clientID),
		zap.String("remoteAddr", r.RemoteAddr),
	)

	if err := writeData(w, flusher, connectedMessage{Type: "connected", ClientID: clientID}); err != nil {
		return
	}

	history := h.store.RecentN(h.historyN)
	if history == nil {
		history = []event.Event{}
	}
	if err := writeData(w, flusher, historyMessage{Type: "history", Events: history}); err != nil {
		return
	}

	// Attach after the snapshot is written: events published from here on
	// arrive on the channel, so nothing from the snapshot repeats in the
	// live stream.
	ch := h.bc.Attach(clientID)
	defer h.bc.Detach(clientID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("stream client disconnected",
				zap.String("feed", h.feed),
				zap.String("client", clientID),
			)
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": hb\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case payload, ok := <-ch:
			if !ok {
				// Detached by the broadcaster (slow consumer).
				return
			}
			if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
				h.logger.Debug("stream write failed",
					zap.String("feed", h.feed),
					zap.String("client", clientID),
					zap.Error(err),
				)
				return
			}
			flusher.Flush()
		}
	}
}

func writeData(w http.ResponseWriter, flusher http.Flusher, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

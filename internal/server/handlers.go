package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/event"
	"github.com/stormfeed/stormfeed/internal/position"
)

type recentResponse struct {
	Available  bool          `json:"available"`
	Events     []event.Event `json:"events"`
	Total      uint64        `json:"total"`
	LastMinute int           `json:"lastMinute"`
}

type statusResponse struct {
	Feed     string `json:"feed"`
	State    string `json:"state"`
	Endpoint string `json:"endpoint,omitempty"`
}

type proximityResponse struct {
	Available  bool               `json:"available"`
	Position   *position.Position `json:"position,omitempty"`
	Nearest    *event.Event       `json:"nearest,omitempty"`
	DistanceKm float64            `json:"distanceKm,omitempty"`
}

// handleRecent serves the read-only snapshot: recent events, lifetime
// count, and the trailing-minute count. A disabled feed reports
// available:false rather than erroring.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelines[chi.URLParam(r, "feed")]
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	if p.Connector == nil {
		writeJSON(w, recentResponse{Available: false, Events: []event.Event{}})
		return
	}

	n := p.History
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			n = parsed
		}
	}

	snap := p.Store.Snapshot(n)
	writeJSON(w, recentResponse{
		Available:  true,
		Events:     snap.Events,
		Total:      snap.Lifetime,
		LastMinute: snap.LastMinute,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "feed")
	p, ok := s.pipelines[name]
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	if p.Connector == nil {
		writeJSON(w, statusResponse{Feed: name, State: "disabled"})
		return
	}

	st := p.Connector.Status()
	writeJSON(w, statusResponse{Feed: name, State: string(st.State), Endpoint: st.Endpoint})
}

// handleExport streams the whole lightning buffer as zstd-compressed JSONL.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelines["lightning"]
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	events := p.Store.RecentN(math.MaxInt32)

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="lightning.jsonl.zst"`)

	enc, err := zstd.NewWriter(w)
	if err != nil {
		http.Error(w, "compression init failed", http.StatusInternalServerError)
		return
	}
	defer enc.Close()

	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if _, err := enc.Write(append(line, '\n')); err != nil {
			s.logger.Debug("export write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := s.poller.Current()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]any{"available": false})
		return
	}
	writeJSON(w, map[string]any{"available": true, "position": pos})
}

// handleProximity reports the buffered lightning strike nearest to the
// tracked position.
func (s *Server) handleProximity(w http.ResponseWriter, r *http.Request) {
	pos, ok := s.poller.Current()
	if !ok {
		writeJSON(w, proximityResponse{Available: false})
		return
	}

	p, found := s.pipelines["lightning"]
	if !found {
		writeJSON(w, proximityResponse{Available: false})
		return
	}

	nearest, dist, ok := position.Nearest(p.Store.RecentN(math.MaxInt32), pos)
	if !ok {
		writeJSON(w, proximityResponse{Available: false, Position: &pos})
		return
	}

	writeJSON(w, proximityResponse{
		Available:  true,
		Position:   &pos,
		Nearest:    &nearest,
		DistanceKm: dist,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	feeds := make(map[string]string, len(s.pipelines))
	for name, p := range s.pipelines {
		if p.Connector == nil {
			feeds[name] = "disabled"
			continue
		}
		feeds[name] = string(p.Connector.Status().State)
	}
	writeJSON(w, map[string]any{"status": "ok", "feeds": feeds})
}

func writeJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	_ = json.NewEncoder(w).Encode(v)
}

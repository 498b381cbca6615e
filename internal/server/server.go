// Package server exposes the query API and the SSE stream endpoints.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/feed"
	"github.com/stormfeed/stormfeed/internal/position"
	"github.com/stormfeed/stormfeed/internal/store"
	"github.com/stormfeed/stormfeed/internal/stream"
)

// Pipeline bundles one feed's components for the API layer. Connector is
// nil when the feed is disabled by missing credentials.
type Pipeline struct {
	Name        string
	Store       *store.Store
	Broadcaster *stream.Broadcaster
	Connector   *feed.Connector
	History     int
}

type Server struct {
	pipelines map[string]*Pipeline
	poller    *position.Poller
	logger    *zap.Logger
}

func NewServer(pipelines []*Pipeline, poller *position.Poller, logger *zap.Logger) *Server {
	byName := make(map[string]*Pipeline, len(pipelines))
	for _, p := range pipelines {
		byName[p.Name] = p
	}
	return &Server{
		pipelines: byName,
		poller:    poller,
		logger:    logger,
	}
}

func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/{feed}/recent", s.handleRecent)
		api.Get("/{feed}/status", s.handleStatus)
		api.Get("/lightning/export", s.handleExport)
		api.Get("/position", s.handlePosition)
		api.Get("/proximity", s.handleProximity)
	})

	for name, p := range s.pipelines {
		sse := stream.NewSSEHandler(name, p.Store, p.Broadcaster, p.History, s.logger)
		r.Method(http.MethodGet, "/stream/"+name, sse)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}

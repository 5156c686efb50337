// Package api exposes registered models over REST: list, create, read,
// update and delete per model, text search, and nested creation of
// dependent records under an existing parent.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/jacentio/lattice/internal/metrics"
	"github.com/jacentio/lattice/search"
	"github.com/jacentio/lattice/store"
)

// Server serves the REST surface for a Store.
type Server struct {
	store  *store.Store
	search *search.Syncer
	logger *slog.Logger
}

// NewServer creates a Server. A nil syncer serves search by scanning tables.
func NewServer(st *store.Store, syncer *search.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if syncer == nil {
		syncer = search.NewSyncer(nil, "", logger)
	}
	return &Server{store: st, search: syncer, logger: logger}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/{model}", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Get("/search", s.searchRecords)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.get)
			r.Put("/", s.update)
			r.Patch("/", s.update)
			r.Delete("/", s.delete)
			r.Post("/{child}", s.createChild)
		})
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"requestID", middleware.GetReqID(r.Context()),
			)
		})
	}
}

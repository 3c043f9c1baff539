// Package api serves the control surface of the sync daemon: person
// changes, command control, quota and sync triggers, plus the event stream.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/addressbook-sync/internal/command"
	"github.com/listenupapp/addressbook-sync/internal/ratelimit"
	"github.com/listenupapp/addressbook-sync/internal/service"
	"github.com/listenupapp/addressbook-sync/internal/sse"
)

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// Mutating requests per second per client IP. Zero disables limiting.
	WriteRPS   float64
	WriteBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	persons    *service.PersonService
	commands   *command.Manager
	sync       *service.SyncService
	sseManager *sse.Manager
	sseHandler *sse.Handler
	limiter    *ratelimit.KeyedRateLimiter
	router     *chi.Mux
	logger     *slog.Logger
	started    time.Time
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(opts Options, persons *service.PersonService, commands *command.Manager, syncService *service.SyncService, sseManager *sse.Manager, logger *slog.Logger) *Server {
	s := &Server{
		persons:    persons,
		commands:   commands,
		sync:       syncService,
		sseManager: sseManager,
		sseHandler: sse.NewHandler(sseManager, logger),
		router:     chi.NewRouter(),
		logger:     logger,
		started:    time.Now(),
	}
	if opts.WriteRPS > 0 {
		s.limiter = ratelimit.New(opts.WriteRPS, max(opts.WriteBurst, 1))
	}

	s.setupMiddleware(opts)
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the request limiter.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupMiddleware(opts Options) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// The stream stays uncompressed so events flush immediately.
		r.Get("/events", s.sseHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))

			r.Get("/quota", s.handleGetQuota)
			r.Get("/persons", s.handleListPersons)
			r.Get("/persons/{id}", s.handleGetPerson)
			r.Get("/persons/{id}/command", s.handleGetCommand)

			r.Group(func(r chi.Router) {
				if s.limiter != nil {
					r.Use(RateLimitMiddleware(s.limiter, s.logger))
				}
				r.Post("/persons", s.handleCreatePerson)
				r.Put("/persons/{id}", s.handleEditPerson)
				r.Delete("/persons/{id}", s.handleDeletePerson)
				r.Post("/persons/{id}/cancel", s.handleCancelCommand)
				r.Post("/persons/{id}/retry", s.handleRetryCommand)
				r.Post("/sync", s.handleTriggerSync)
			})
		})
	})
}

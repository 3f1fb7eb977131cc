// Package server exposes the orchestrator to presentation layers over a
// small REST surface. It owns no session semantics of its own: every
// mutation is delegated to a session.Manager.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/acroflow/acroflow/internal/session"
)

// Agent turns stream for as long as the backend agent works; the request
// timeout has to cover a whole turn, not a single round trip.
const requestTimeout = 15 * time.Minute

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	httpSrv *http.Server

	backend   session.Backend
	snapshots session.Snapshots

	mu       sync.Mutex
	sessions map[string]*session.Manager
}

func New(port int, logger *slog.Logger, backend session.Backend, snapshots session.Snapshots) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "acroflow")
	})

	s := &Server{
		Router:    r,
		Port:      port,
		logger:    logger,
		backend:   backend,
		snapshots: snapshots,
		sessions:  make(map[string]*session.Manager),
	}
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleResetSession)
			r.Post("/analyze", s.handleAnalyze)
			r.Post("/messages", s.handleSubmitTurn)
			r.Post("/context-files", s.handleUploadContextFiles)
			r.Get("/pdf", s.handleFilledPDF)
			r.Get("/original-pdf", s.handleOriginalPDF)
		})
	})

	return s
}

// Start serves until Shutdown is called or the listener fails. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx. Agent turns already streaming run to completion.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// manager returns the live Manager for sessionID, restoring it from the
// snapshot store on first access. A store miss yields a fresh session under
// the requested id, matching a shared link with an expired local cache.
func (s *Server) manager(r *http.Request, sessionID string) *session.Manager {
	s.mu.Lock()
	if m, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return m
	}
	s.mu.Unlock()

	// Restore outside the registry lock; it may hit the backend.
	m := session.Restore(r.Context(), s.backend, s.snapshots, sessionID,
		session.WithLogger(s.logger))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing
	}
	s.sessions[sessionID] = m
	return m
}

func (s *Server) replaceSession(oldID string, m *session.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, oldID)
	s.sessions[m.SessionID()] = m
}

// Package server provides the HTTP API of the parenting Q&A service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wenhaiyang6/parenting/internal/ask"
	"github.com/wenhaiyang6/parenting/internal/config"
)

// Server is the HTTP server for the ask API.
type Server struct {
	ask       *ask.Service
	config    *config.ServerConfig
	logger    *zap.Logger
	diskPaths []string
	server    *http.Server
}

// NewServer creates a server. diskPaths are the local files reported by /health.
func NewServer(svc *ask.Service, cfg *config.ServerConfig, logger *zap.Logger, diskPaths ...string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ask:       svc,
		config:    cfg,
		logger:    logger,
		diskPaths: diskPaths,
	}
}

// Router builds the route tree. Every route is mounted under /ask and, for older clients,
// under /api/ask.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	askRoutes := func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/stream", s.handleAskStream)
		r.Group(func(r chi.Router) {
			if s.config.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.config.RequestTimeout))
			}
			r.Use(middleware.Compress(5))
			r.Get("/conversations", s.handleListConversations)
			r.Get("/conversations/search", s.handleSearchConversations)
			r.Get("/conversations/{id}", s.handleGetConversation)
			r.Delete("/conversations/{id}", s.handleDeleteConversation)
		})
	}
	r.Route("/ask", askRoutes)
	r.Route("/api/ask", askRoutes)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("frontend_url", s.config.FrontendURL))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

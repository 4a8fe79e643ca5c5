// Package server provides the HTTP API over the knowledge base.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/knowledge"
)

// Server is the HTTP server for the chishiki API.
type Server struct {
	base   *knowledge.Base
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server over the knowledge base.
func NewServer(base *knowledge.Base, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		base:   base,
		config: cfg,
		logger: logger,
	}
}

// Router builds the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/learnings", s.handleSaveLearning)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/garden", s.handleGarden)
	r.Post("/api/v1/codebase/index", s.handleIndexCodebase)
	r.Post("/api/v1/codebase/search", s.handleSearchCodebase)
	r.Get("/api/v1/learnings/{id}", s.handleGetLearning)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

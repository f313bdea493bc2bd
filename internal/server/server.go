package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcogenualdo/sso-session/internal/agent"
	"github.com/marcogenualdo/sso-session/internal/auth"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
)

// Server exposes one session controller over HTTP: the callback routes the
// identity provider redirects to, login and logout entry points, and a
// reverse proxy that authenticates backend calls.
type Server struct {
	cfg        config.Config
	cache      cache.Cache
	session    *auth.Controller
	nav        *agent.Navigator
	transport  http.RoundTripper
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg config.Config, cache cache.Cache, session *auth.Controller, nav *agent.Navigator, transport http.RoundTripper, logger *slog.Logger) (*Server, error) {
	if session == nil || nav == nil {
		return nil, errors.New("session and navigator are required")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Server{
		cfg:       cfg,
		cache:     cache,
		session:   session,
		nav:       nav,
		transport: transport,
		logger:    logger,
	}, nil
}

// Handler builds the routed handler without starting a listener.
func (s *Server) Handler() (http.Handler, error) {
	return s.setupRoutes()
}

func (s *Server) Start() error {
	router, err := s.setupRoutes()
	if err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"base_url", s.cfg.Server.BaseURL,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.session.Close()

	if err := s.cache.Close(); err != nil {
		s.logger.Error("error closing cache", "error", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Package server exposes builds over HTTP: an HTML form, a JSON API and
// downloads of the generated artifacts.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/entrhq/cadforge/pkg/logging"
)

// Server wraps an http.Server speaking HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger
}

// New creates a server listening on addr.
func New(addr string, handler http.Handler, logger *logging.Logger) *Server {
	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infof("starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

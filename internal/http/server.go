// Package http serves the audex API: huma operations for JSON endpoints and
// plain chi routes for uploads, downloads and event streams.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/internal/http/middleware"
)

const (
	defaultReadTimeout     = 30 * time.Second
	defaultIdleTimeout     = 2 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
	compressionLevel       = 5
)

// Server is the audex HTTP server.
type Server struct {
	router          *chi.Mux
	api             huma.API
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer builds the router and middleware stack for cfg. version is
// published in the OpenAPI document.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins...))
	router.Use(middleware.CompressUnlessStreaming(chimiddleware.Compress(compressionLevel)))

	humaConfig := huma.DefaultConfig("audex API", version)
	humaConfig.Info.Description = "Audio extraction from uploaded media files"

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		router: router,
		api:    humachi.New(router, humaConfig),
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           router,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			// Zero keeps long uploads, downloads and event streams open.
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// API returns the huma API for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for routes huma cannot describe.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting HTTP server", slog.String("address", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() {
		errc <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server", slog.Duration("timeout", s.shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

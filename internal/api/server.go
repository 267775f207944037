// Package api implements the HTTP Surface (C9): binding the four
// external operations of spec.md §6 to the Dispatch Engine and Function
// Catalog. Adapted from the teacher's internal/api package (server
// construction, middleware chain, Start/Shutdown lifecycle), re-routed
// from the sandbox's execution endpoints onto this controller's
// initialize/execute/sessions/functions/health set.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"functionctl/internal/catalog"
	"functionctl/internal/config"
	"functionctl/internal/dispatch"
	"functionctl/internal/monitor"
)

// Server is the controller's HTTP server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer wires the middleware chain and route table. Auth is not
// enforced at this boundary: spec.md's "trusted gateway" Non-goal places
// authentication/authorization out of scope for the controller (see
// DESIGN.md's C9 entry).
func NewServer(cfg *config.Config, engine *dispatch.Engine, cat *catalog.Catalog, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(engine, cat)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/initialize", handlers.HandleInitialize)
	apiMux.HandleFunc("POST /api/v1/execute/{request_id}", handlers.HandleExecute)
	apiMux.HandleFunc("GET /api/v1/sessions/{request_id}", handlers.HandleGetSession)
	apiMux.HandleFunc("GET /api/v1/functions", handlers.HandleListFunctions)
	apiMux.HandleFunc("GET /api/v1/functions/{language_title}", handlers.HandleGetFunction)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", apiMux)

	// Middleware chain, outermost first: recovery -> request-id -> logging
	// -> security headers -> body-size cap -> rate limit -> metrics -> mux
	// (SPEC_FULL.md §4.9).
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled — running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

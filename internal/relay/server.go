// Copyright (c) 2025 PassChain Authors
//
// This file is part of go-passchain.
//
// go-passchain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@passchain.dev for commercial licensing options.

// Package relay implements the relay daemon's HTTP surface: the commutative
// key-wrap routes consumed by clients, key-info for rotation discovery, and
// Kubernetes-style health probes.
package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/passchain/go-passchain/pkg/health"
	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/ratelimit"
	"github.com/passchain/go-passchain/pkg/shamir"
)

// Config holds the relay server configuration.
type Config struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string

	// Port is the HTTP port to listen on.
	Port int

	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config

	// RateLimit configures the per-client limiter on wrap/unwrap routes.
	RateLimit ratelimit.Config

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8750
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server is the relay HTTP server.
type Server struct {
	server  *http.Server
	manager *shamir.KeyManager
	checker *health.Checker
	limiter *ratelimit.Limiter
	cfg     Config
	logger  *logging.Logger
}

// NewServer creates the relay server over a key manager.
func NewServer(manager *shamir.KeyManager, cfg Config, logger *logging.Logger) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("key manager is required")
	}
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	checker := health.NewChecker()
	checker.RegisterCheck("shamir-keys", health.KeyCheck(manager.CurrentKeyID))

	s := &Server{
		manager: manager,
		checker: checker,
		limiter: ratelimit.New(&cfg.RateLimit),
		cfg:     cfg,
		logger:  logger.WithComponent("relay"),
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}
	return s, nil
}

// Router builds the chi router with all routes and middleware. Exposed so
// tests can drive the server through httptest.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(correlationMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health/live", s.livenessHandler)
	r.Get("/health/ready", s.readinessHandler)
	r.Get("/health/startup", s.startupHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.limiter))
		r.Post("/vrf/apply-server-lock", s.applyServerLockHandler)
		r.Post("/vrf/remove-server-lock", s.removeServerLockHandler)
		r.Get("/shamir/key-info", s.keyInfoHandler)
	})

	return r
}

// Checker exposes the health checker so the daemon can mark startup.
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// Start serves until the listener closes. Blocking.
func (s *Server) Start() error {
	s.checker.MarkStarted()

	if s.cfg.TLSConfig != nil {
		s.logger.Info("starting HTTPS relay", "addr", s.server.Addr)
		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("relay https server: %w", err)
		}
		return nil
	}

	s.logger.Info("starting HTTP relay", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down relay")
	s.checker.MarkNotStarted()
	s.limiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

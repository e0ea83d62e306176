// Package server provides the HTTP surface of tuyametrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sbaerlocher/tuyametrics/internal/config"
	"github.com/sbaerlocher/tuyametrics/internal/health"
	"github.com/sbaerlocher/tuyametrics/internal/security"
)

const (
	shutdownTimeout    = 10 * time.Second
	requestTimeout     = 30 * time.Second
	maxRequestBytes    = 1 << 20
	limiterCleanupTick = time.Minute
)

// Server owns the route tree and the background workers that back it.
type Server struct {
	cfg     config.Config
	limiter *security.RateLimiter
	handler http.Handler
}

// New builds the server for cfg. healthChecker may be nil.
func New(cfg config.Config, cloud CloudAPI, collector MetricsCollector, healthChecker *health.HealthChecker) *Server {
	limiter := security.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	h := NewHandlers(cloud, collector, healthChecker, Settings{
		Region:          cfg.Region,
		DefaultDeviceID: cfg.DefaultDeviceID,
		DeviceListTTL:   cfg.DeviceListTTL,
	})

	return &Server{
		cfg:     cfg,
		limiter: limiter,
		handler: SetupRoutes(h, limiter, cfg.ServiceAPIKey),
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// createHTTPServer creates a configured HTTP server with standard timeouts.
func createHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// SetupRoutes configures the router. Probes and self metrics bypass the
// client rate limiter; the device proxy routes require serviceAPIKey when set.
func SetupRoutes(h *Handlers, limiter *security.RateLimiter, serviceAPIKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger)
	r.Use(security.SecurityHeadersMiddleware)
	r.Use(security.RequestSizeLimitMiddleware(maxRequestBytes))

	r.Get("/livez", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Get("/healthz", h.DetailedHealth)
	r.Handle("/metrics/"+config.SelfMetricsID, promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(security.RateLimitMiddleware(limiter))
		r.Use(security.TimeoutMiddleware(requestTimeout))

		r.Get("/", h.Index)
		r.Get("/health", h.Health)
		r.Get("/metrics", h.DefaultMetrics)
		r.Get("/metrics/{deviceID}", h.Metrics)

		r.Group(func(r chi.Router) {
			r.Use(security.APIKeyMiddleware(serviceAPIKey))
			r.Get("/devices", h.ListDevices)
			r.Get("/devices/{deviceID}/status", h.DeviceStatus)
			r.Get("/devices/{deviceID}/functions", h.DeviceFunctions)
		})
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) localBindAddr() string {
	host := "127.0.0.1" // DevSkim: ignore DS162092 - Localhost binding is intentional for development
	if s.cfg.IsProduction() {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%s", host, s.cfg.Port)
}

// startWorkers registers the background workers and shutdown hooks with sm.
func (s *Server) startWorkers(sm *ShutdownManager) {
	NewGracefulWorker("rate-limiter-cleanup", func(ctx context.Context) error {
		s.limiter.RunCleanup(ctx, limiterCleanupTick)
		return nil
	}, sm).Start()

	sm.RegisterHook(ShutdownHook{
		Name:     "report-clients",
		Priority: 1,
		Timeout:  time.Second,
		Handler: func(context.Context) error {
			slog.Info("rate limiter state at shutdown", "tracked_clients", s.limiter.Len())
			return nil
		},
	})
}

// RunStandalone serves on the local bind address until ctx is cancelled.
func (s *Server) RunStandalone(ctx context.Context) error {
	addr := s.localBindAddr()
	srv := createHTTPServer(addr, s.handler)
	return s.serve(ctx, listener{name: "local", addr: addr, srv: srv, run: srv.ListenAndServe})
}

// listener is one HTTP server plus the call that blocks serving it.
type listener struct {
	name string
	addr string
	srv  *http.Server
	run  func() error
}

// serve runs every listener under one ShutdownManager. The first serve error
// or the end of ctx stops them all.
func (s *Server) serve(ctx context.Context, listeners ...listener) error {
	sm := NewShutdownManager(shutdownTimeout)
	for _, l := range listeners {
		sm.AddHTTPServer(l.srv)
	}
	s.startWorkers(sm)

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l listener) {
			slog.Info("Server ready", "listener", l.name, "bind", l.addr)
			if err := l.run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s http serve failed: %w", l.name, err)
			}
		}(l)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	sm.Shutdown()
	return err
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tuyametrics_shutdown_duration_seconds",
		Help:    "Time taken to gracefully shut down the exporter",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 9),
	})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuyametrics_shutdown_errors_total",
		Help: "Shutdown steps that failed or timed out, by component",
	}, []string{"component"})

	shuttingDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuyametrics_shutting_down",
		Help: "1 while a graceful shutdown is in progress",
	})
)

// ShutdownHook runs once during shutdown. Lower priorities run first.
type ShutdownHook struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Handler  func(ctx context.Context) error
}

// ShutdownManager stops HTTP servers, runs hooks in priority order and waits
// for registered workers, all within one overall timeout.
type ShutdownManager struct {
	timeout time.Duration

	mu      sync.Mutex
	hooks   []ShutdownHook
	servers []*http.Server

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	once    sync.Once
}

func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{timeout: timeout, ctx: ctx, cancel: cancel}
}

func (sm *ShutdownManager) AddHTTPServer(srv *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, srv)
}

func (sm *ShutdownManager) RegisterHook(hook ShutdownHook) {
	if hook.Timeout == 0 {
		hook.Timeout = 5 * time.Second
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, hook)
	sort.SliceStable(sm.hooks, func(i, j int) bool {
		return sm.hooks[i].Priority < sm.hooks[j].Priority
	})
}

// Context is cancelled when shutdown starts.
func (sm *ShutdownManager) Context() context.Context {
	return sm.ctx
}

func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.ctx.Err() != nil
}

// Shutdown is safe to call more than once; only the first call does work.
func (sm *ShutdownManager) Shutdown() {
	sm.once.Do(sm.shutdown)
}

func (sm *ShutdownManager) shutdown() {
	start := time.Now()
	shuttingDown.Set(1)
	defer func() {
		shuttingDown.Set(0)
		shutdownDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	hooks := append([]ShutdownHook(nil), sm.hooks...)
	sm.mu.Unlock()

	slog.Info("Shutting down", "timeout", sm.timeout, "servers", len(servers), "hooks", len(hooks))
	sm.stopServers(ctx, servers)
	for _, hook := range hooks {
		if ctx.Err() != nil {
			slog.Warn("Shutdown deadline reached, remaining hooks skipped", "next", hook.Name)
			break
		}
		runHook(ctx, hook)
	}

	done := make(chan struct{})
	go func() {
		sm.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("workers did not stop before shutdown timeout")
		shutdownErrors.WithLabelValues("workers").Inc()
	}

	slog.Info("Shutdown finished", "took", time.Since(start).Round(time.Millisecond))
}

func (sm *ShutdownManager) stopServers(ctx context.Context, servers []*http.Server) {
	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Error("HTTP server shutdown error", "addr", srv.Addr, "error", err)
				shutdownErrors.WithLabelValues("http_server").Inc()
				_ = srv.Close()
			}
		}(srv)
	}
	wg.Wait()
}

func runHook(ctx context.Context, hook ShutdownHook) {
	hookCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- hook.Handler(hookCtx) }()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown hook failed", "hook", hook.Name, "error", err)
			shutdownErrors.WithLabelValues(hook.Name).Inc()
		}
	case <-hookCtx.Done():
		slog.Warn("Shutdown hook timed out", "hook", hook.Name, "after", hook.Timeout)
		shutdownErrors.WithLabelValues(hook.Name).Inc()
	}
}

// GracefulWorker runs a handler until the owning ShutdownManager shuts down
// or Stop is called.
type GracefulWorker struct {
	name    string
	handler func(ctx context.Context) error
	sm      *ShutdownManager
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewGracefulWorker(name string, handler func(ctx context.Context) error, sm *ShutdownManager) *GracefulWorker {
	ctx, cancel := context.WithCancel(sm.Context())
	return &GracefulWorker{name: name, handler: handler, sm: sm, ctx: ctx, cancel: cancel}
}

func (gw *GracefulWorker) Start() {
	gw.sm.workers.Add(1)
	go func() {
		defer gw.sm.workers.Done()
		defer gw.cancel()

		slog.Debug("worker started", "name", gw.name)
		if err := gw.handler(gw.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker failed", "name", gw.name, "error", err)
			return
		}
		slog.Debug("worker stopped", "name", gw.name)
	}()
}

func (gw *GracefulWorker) Stop() {
	gw.cancel()
}

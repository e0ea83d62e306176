// Command tuyametrics serves the decoded telemetry of Tuya cloud devices as
// Prometheus metrics. Every scrape fetches a fresh status snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	tsversion "tailscale.com/version"

	"github.com/sbaerlocher/tuyametrics/internal/api"
	"github.com/sbaerlocher/tuyametrics/internal/config"
	"github.com/sbaerlocher/tuyametrics/internal/health"
	"github.com/sbaerlocher/tuyametrics/internal/metrics"
	"github.com/sbaerlocher/tuyametrics/internal/security"
	"github.com/sbaerlocher/tuyametrics/internal/server"
)

// set through -ldflags, overridable by VERSION and BUILD_TIME
var (
	version   = "dev"
	buildTime = "unknown"
)

const envHelp = `
Environment:
  TUYA_API_KEY        cloud project access id (required)
  TUYA_API_SECRET     cloud project access secret (required)
  TUYA_REGION         data center, one of %v (default eu)
  TUYA_BASE_URL       override the regional API host
  TUYA_TIMEOUT        per request timeout (default 10s)
  TUYA_API_RPS        outbound request rate (default 5)
  DEVICE_SCHEMAS      deviceID=schema pairs, comma separated; schema is ats or fuse
  DEFAULT_DEVICE_ID   device served on /metrics
  DEVICE_LIST_TTL     how long /devices reuses the inventory (default 1m)
  SERVICE_API_KEY     X-API-KEY required on /devices routes (empty leaves them open)
  PORT                listen port (default 8080)
  LOG_LEVEL           debug, info, warn or error (default info)
  LOG_FORMAT          text or json (default text)
  USE_TSNET           also serve on the tailnet (default false)
  TSNET_HOSTNAME      tailnet hostname (default tuyametrics)
`

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// probeLiveness asks a running instance on this host for /livez.
func probeLiveness(port string) error {
	host := os.Getenv("HEALTH_CHECK_HOST")
	if host == "" {
		host = "127.0.0.1"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%s/livez", host, port))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func printVersion() {
	fmt.Printf("tuyametrics %s (built: %s)\n", version, buildTime)
	fmt.Printf("tailscale library: %s\n", tsversion.Long())
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Printf("go version: %s\n", info.GoVersion)
	}
}

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	healthCheck := flag.Bool("health-check", false, "probe a running instance and exit")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "tuyametrics - Tuya cloud device metrics exporter\n\nUsage: tuyametrics [options]\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(out, envHelp, api.Regions())
	}
	flag.Parse()

	switch {
	case *showVersion:
		printVersion()
		return
	case *healthCheck:
		if err := probeLiveness(config.Load().Port); err != nil {
			slog.Error("Health check failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if v := os.Getenv("VERSION"); v != "" {
		version = v
	}
	if bt := os.Getenv("BUILD_TIME"); bt != "" {
		buildTime = bt
	}

	cfg := config.Load()
	slog.SetDefault(newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("tuyametrics stopped", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	client, err := api.NewClient(cfg.APIKey, cfg.APISecret, api.Options{
		Region:  cfg.Region,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.APITimeout,
		RPS:     cfg.APIRPS,
		Burst:   cfg.APIBurst,
	})
	if err != nil {
		return fmt.Errorf("cloud client: %w", err)
	}

	switch err := security.NewInputValidator().ValidateToken(cfg.ServiceAPIKey); {
	case cfg.ServiceAPIKey == "":
		slog.Warn("SERVICE_API_KEY not set, device routes are unauthenticated")
	case err != nil:
		slog.Warn("SERVICE_API_KEY is weak", "reason", err)
	}

	server.SetVersion(version, buildTime)

	hc := health.NewHealthChecker()
	hc.RegisterComponent(health.NewAPIHealthChecker(client))
	hc.RegisterComponent(health.NewRegistryHealthChecker(registry))

	collector := metrics.NewCollector(registry, client)
	hc.RegisterComponent(health.NewCollectorHealthChecker(collector))

	srv := server.New(cfg, client, collector, hc)

	slog.Info("Starting tuyametrics",
		"version", version,
		"region", cfg.Region,
		"api_host", client.BaseURL(),
		"devices", registry.Len(),
		"default_device", cfg.DefaultDeviceID,
		"use_tsnet", cfg.UseTsnet)

	if cfg.UseTsnet {
		return srv.RunWithTsnet(ctx)
	}
	return srv.RunStandalone(ctx)
}

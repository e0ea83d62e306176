package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sbaerlocher/tuyametrics/internal/cache"
	"github.com/sbaerlocher/tuyametrics/internal/errors"
	"github.com/sbaerlocher/tuyametrics/internal/health"
	"github.com/sbaerlocher/tuyametrics/internal/metrics"
	"github.com/sbaerlocher/tuyametrics/internal/security"
	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

const serviceName = "tuyametrics"

var (
	version   = "dev"
	buildTime = "unknown"
)

// SetVersion sets the global version and build time for handlers.
func SetVersion(v string, bt string) {
	version = v
	buildTime = bt
}

// CloudAPI is the subset of the cloud client the JSON routes proxy to.
type CloudAPI interface {
	GetDevices(ctx context.Context) ([]device.Device, error)
	GetStatus(ctx context.Context, deviceID string) (*device.Status, error)
	GetFunctions(ctx context.Context, deviceID string) (*device.Functions, error)
}

// MetricsCollector produces exposition text for one device.
type MetricsCollector interface {
	CollectForDevice(ctx context.Context, deviceID string) ([]byte, error)
}

// Settings carries the configuration the handlers read.
type Settings struct {
	Region          string
	DefaultDeviceID string
	// DeviceListTTL bounds how long /devices serves a cached inventory.
	DeviceListTTL time.Duration
}

// Handlers serves the HTTP routes.
type Handlers struct {
	cloud         CloudAPI
	inventory     *cache.Inventory
	collector     MetricsCollector
	healthChecker *health.HealthChecker
	validator     *security.InputValidator
	settings      Settings
}

// NewHandlers creates the route handlers. healthChecker may be nil.
func NewHandlers(cloud CloudAPI, collector MetricsCollector, healthChecker *health.HealthChecker, settings Settings) *Handlers {
	inventory := cache.NewInventory(cloud, settings.DeviceListTTL)
	if healthChecker != nil {
		healthChecker.RegisterComponent(health.NewInventoryHealthChecker(inventory))
	}
	return &Handlers{
		cloud:         cloud,
		inventory:     inventory,
		collector:     collector,
		healthChecker: healthChecker,
		validator:     security.NewInputValidator(),
		settings:      settings,
	}
}

func (h *Handlers) Index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    serviceName,
		"version":    version,
		"build_time": buildTime,
	})
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "region": h.settings.Region})
}

// ListDevices serves the device inventory. refresh=true bypasses the cache.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("refresh") == "true"
	devices, err := h.inventory.Devices(r.Context(), forceRefresh)
	if err != nil {
		slog.Error("failed to list devices", "error", err)
		writeError(w, cloudErrorStatus(err), err)
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "devices": devices})
}

func (h *Handlers) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.deviceParam(w, r)
	if !ok {
		return
	}

	status, err := h.cloud.GetStatus(r.Context(), deviceID)
	if err != nil {
		slog.Error("failed to get status", "device_id", deviceID, "error", err)
		writeError(w, cloudErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

func (h *Handlers) DeviceFunctions(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.deviceParam(w, r)
	if !ok {
		return
	}

	funcs, err := h.cloud.GetFunctions(r.Context(), deviceID)
	if err != nil {
		slog.Error("failed to get functions", "device_id", deviceID, "error", err)
		writeError(w, cloudErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "functions": funcs})
}

// Metrics serves the exposition of the device named in the path.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	h.serveMetrics(w, r, chi.URLParam(r, "deviceID"))
}

// DefaultMetrics serves the exposition of the configured default device.
func (h *Handlers) DefaultMetrics(w http.ResponseWriter, r *http.Request) {
	if h.settings.DefaultDeviceID == "" {
		http.Error(w, "no default device configured, use /metrics/{deviceID}", http.StatusNotFound)
		return
	}
	h.serveMetrics(w, r, h.settings.DefaultDeviceID)
}

func (h *Handlers) serveMetrics(w http.ResponseWriter, r *http.Request, deviceID string) {
	body, err := h.collector.CollectForDevice(r.Context(), deviceID)
	if err != nil {
		status := errors.HTTPStatus(err)
		if status == http.StatusNotFound {
			slog.Warn("metrics requested for unregistered device", "device_id", deviceID)
		} else {
			slog.Error("collection failed", "device_id", deviceID, "error", err)
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", string(metrics.ExpositionFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write metrics response", "device_id", deviceID, "error", err)
	}
}

// Liveness provides the liveness probe endpoint.
func (h *Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	if h.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.healthChecker.LivenessCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness provides the readiness probe endpoint.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.healthChecker.ReadinessCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// DetailedHealth reports every registered component.
func (h *Handlers) DetailedHealth(w http.ResponseWriter, r *http.Request) {
	if h.healthChecker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	status := h.healthChecker.GetHealthStatus(ctx)
	health.WriteHealthResponse(w, status, health.DetermineHTTPStatus(status.Overall))
}

func (h *Handlers) deviceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := h.validator.ValidateDeviceID(deviceID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return deviceID, true
}

// cloudErrorStatus maps a cloud API failure onto a response status.
func cloudErrorStatus(err error) int {
	var apiErr *errors.APIError
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderrors.As(err, &apiErr), stderrors.Is(err, errors.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

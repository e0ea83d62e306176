package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// WriteHealthResponse encodes a health status as JSON.
func WriteHealthResponse(w http.ResponseWriter, status HealthStatus, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(httpStatus)

	body := struct {
		HealthStatus
		Timestamp string `json:"timestamp"`
	}{status, time.Now().UTC().Format(time.RFC3339)}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

// DetermineHTTPStatus maps an overall status to a probe response code.
// Degraded is served with 200.
func DetermineHTTPStatus(status Status) int {
	switch status {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

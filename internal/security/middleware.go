package security

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIKeyHeader carries the shared service key on protected routes.
const APIKeyHeader = "X-API-KEY"

var rejectedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tuyametrics_http_rejected_requests_total",
	Help: "Requests rejected before reaching a handler",
}, []string{"reason"})

func writeRejection(w http.ResponseWriter, status int, reason, msg string) {
	rejectedRequests.WithLabelValues(reason).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// SecurityHeadersMiddleware sets hardening headers. Device and metrics
// responses are live data and are never cacheable.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'")

		if strings.HasPrefix(r.URL.Path, "/devices") || strings.HasPrefix(r.URL.Path, "/metrics") {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware answers 429 once a client exhausts its bucket.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r)
			if !limiter.Allow(client) {
				slog.Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeRejection(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP or the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// SecureCompare reports whether two secrets are equal in constant time.
func SecureCompare(given, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}

// APIKeyMiddleware rejects requests whose X-API-KEY header does not match key.
// An empty key disables the check.
func APIKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SecureCompare(r.Header.Get(APIKeyHeader), key) {
				slog.Warn("rejected request with invalid api key", "client", ClientIP(r), "path", r.URL.Path)
				writeRejection(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware bounds the request context. Cloud calls made by the
// handler observe the deadline.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestSizeLimitMiddleware caps request bodies at maxBytes.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeRejection(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

package errors

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// APIError is a failed cloud API call. StatusCode is zero when no response
// arrived. Code and Msg hold the vendor envelope of an HTTP 200 answer with
// success=false.
type APIError struct {
	Endpoint   string
	StatusCode int
	Code       int
	Msg        string
	Retryable  bool
	Underlying error
	Timestamp  time.Time
}

func (e APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("API error on %s (status %d, code %d): %s", e.Endpoint, e.StatusCode, e.Code, e.Msg)
	}
	return fmt.Sprintf("API error on %s (status %d): %v", e.Endpoint, e.StatusCode, e.Underlying)
}

func (e APIError) Unwrap() error { return e.Underlying }

func (e APIError) IsRetryable() bool { return e.Retryable }

// NewAPIError classifies an HTTP outcome. Transport failures, server errors,
// throttling and request timeouts are retried.
func NewAPIError(endpoint string, statusCode int, err error) *APIError {
	return &APIError{
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Retryable:  retryableStatus(statusCode),
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= http.StatusInternalServerError
}

// IsRetryable reports whether err wraps a retryable *APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}

// RetryConfig bounds the attempts of one cloud call.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// CalculateDelay returns the wait before retry number attempt+1, growing
// geometrically from BaseDelay and capped at MaxDelay.
func (rc RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(rc.BaseDelay) * math.Pow(rc.Multiplier, float64(attempt))
	if d > float64(rc.MaxDelay) {
		return rc.MaxDelay
	}
	return time.Duration(d)
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestLookupError(t *testing.T) {
	err := LookupError{DeviceID: "abc123"}

	if err.Error() != "device abc123: no schema registered" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrUnregisteredDevice) {
		t.Error("Expected LookupError to match ErrUnregisteredDevice")
	}

	var target LookupError
	if !errors.As(fmt.Errorf("collect: %w", err), &target) || target.DeviceID != "abc123" {
		t.Error("Expected errors.As to recover LookupError through wrapping")
	}
}

func TestDecodeError(t *testing.T) {
	cause := errors.New("illegal base64 data at input byte 4")
	tests := []struct {
		name string
		err  DecodeError
		msg  string
	}{
		{
			"with cause",
			DecodeError{Code: "Voltage", Rule: "binary_le", Value: "!!!", Underlying: cause},
			`decode Voltage (binary_le) from "!!!": illegal base64 data at input byte 4`,
		},
		{
			"without cause",
			DecodeError{Code: "voltage_display", Rule: "packed_triple", Value: "12"},
			`decode voltage_display (packed_triple) from "12" failed`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.msg)
			}
			if !errors.Is(tt.err, ErrDecode) {
				t.Error("Expected DecodeError to match ErrDecode")
			}
		})
	}

	if !errors.Is(tests[0].err, cause) {
		t.Error("Expected DecodeError to unwrap to its cause")
	}
}

func TestFetchError(t *testing.T) {
	cause := NewAPIError("/v1.0/iot-03/devices/abc/status", 503, errors.New("unavailable"))
	err := FetchError{DeviceID: "abc", Underlying: cause}

	if !errors.Is(err, ErrFetch) {
		t.Error("Expected FetchError to match ErrFetch")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Error("Expected FetchError to expose the underlying APIError")
	}
}

func TestConfigurationError(t *testing.T) {
	withValue := ConfigurationError{Field: "PORT", Value: "abc", Reason: "must be a number"}
	if got := withValue.Error(); got != `config PORT="abc": must be a number` {
		t.Errorf("Unexpected message %q", got)
	}

	noValue := ConfigurationError{Field: "TUYA_API_KEY", Reason: "required"}
	if got := noValue.Error(); got != "config TUYA_API_KEY: required" {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"lookup", LookupError{DeviceID: "x"}, http.StatusNotFound},
		{"wrapped lookup", fmt.Errorf("resolve: %w", LookupError{DeviceID: "x"}), http.StatusNotFound},
		{"fetch", FetchError{DeviceID: "x", Underlying: errors.New("boom")}, http.StatusBadGateway},
		{"decode", DecodeError{Code: "fault"}, http.StatusInternalServerError},
		{"other", errors.New("encode failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

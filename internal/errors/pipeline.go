// Package errors defines the failures of the collection pipeline and how the
// HTTP boundary reports them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnregisteredDevice = errors.New("unregistered device")
	ErrUnknownSchema      = errors.New("unknown schema")
	ErrDecode             = errors.New("decode failure")
	ErrFetch              = errors.New("fetch failure")
	ErrMalformedResponse  = errors.New("malformed response")
)

// LookupError means the registry has no schema for DeviceID. No fetch is
// attempted for such a device.
type LookupError struct {
	DeviceID string
}

func (e LookupError) Error() string {
	return fmt.Sprintf("device %s: no schema registered", e.DeviceID)
}

func (e LookupError) Unwrap() error { return ErrUnregisteredDevice }

// DecodeError is one datapoint whose raw value did not parse under its rule.
// It is reported per field and never aborts a collection cycle.
type DecodeError struct {
	Code       string
	Rule       string
	Value      any
	Underlying error
}

func (e DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s (%s) from %#v", e.Code, e.Rule, e.Value)
	if e.Underlying == nil {
		return msg + " failed"
	}
	return msg + ": " + e.Underlying.Error()
}

func (e DecodeError) Unwrap() error { return e.Underlying }

func (e DecodeError) Is(target error) bool { return target == ErrDecode }

// FetchError wraps whatever the status source returned for DeviceID.
type FetchError struct {
	DeviceID   string
	Underlying error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch status for device %s: %v", e.DeviceID, e.Underlying)
}

func (e FetchError) Unwrap() error { return e.Underlying }

func (e FetchError) Is(target error) bool { return target == ErrFetch }

// ConfigurationError names the setting that failed validation.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Field, e.Value, e.Reason)
}

// HTTPStatus maps a collection error onto the response code of a metrics request.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrUnregisteredDevice) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrFetch) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

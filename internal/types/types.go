// Package types holds the identifiers shared by the collection pipeline.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxDeviceIDLength bounds identifiers accepted from configuration and URLs.
const MaxDeviceIDLength = 64

var (
	ErrInvalidDeviceID   = errors.New("invalid device ID")
	ErrInvalidMetricName = errors.New("invalid metric name")

	// cloud device ids are plain alphanumerics; anything else is rejected
	// before it reaches a signed request path
	deviceIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	metricNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// DeviceID identifies one device in the cloud account.
type DeviceID string

// NewDeviceID trims and validates a raw identifier.
func NewDeviceID(raw string) (DeviceID, error) {
	id := DeviceID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate reports why the identifier is unusable, or nil.
func (d DeviceID) Validate() error {
	switch {
	case d == "":
		return fmt.Errorf("%w: cannot be empty", ErrInvalidDeviceID)
	case len(d) > MaxDeviceIDLength:
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidDeviceID, len(d), MaxDeviceIDLength)
	case !deviceIDPattern.MatchString(string(d)):
		return fmt.Errorf("%w: %q contains characters outside [a-zA-Z0-9]", ErrInvalidDeviceID, string(d))
	}
	return nil
}

func (d DeviceID) IsValid() bool { return d.Validate() == nil }

func (d DeviceID) String() string { return string(d) }

// MetricName is the name of an exposed gauge.
type MetricName string

// NewMetricName validates name against the exposition naming rules.
func NewMetricName(name string) (MetricName, error) {
	m := MetricName(name)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMetricName, name)
	}
	return m, nil
}

func (m MetricName) IsValid() bool {
	return metricNamePattern.MatchString(string(m))
}

func (m MetricName) String() string { return string(m) }

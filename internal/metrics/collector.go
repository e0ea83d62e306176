package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sbaerlocher/tuyametrics/internal/errors"
	"github.com/sbaerlocher/tuyametrics/internal/schema"
)

// DefaultStaleAfter is the window within which a device counts as active.
const DefaultStaleAfter = 5 * time.Minute

// Collector runs one collection cycle per request: resolve the device schema,
// fetch its status, decode it and render the exposition.
type Collector struct {
	registry   *schema.Registry
	fetcher    StatusFetcher
	tracker    *DeviceTracker
	staleAfter time.Duration
}

// NewCollector creates a collector over the given schema registry and status source.
func NewCollector(registry *schema.Registry, fetcher StatusFetcher) *Collector {
	RegisteredDevices.Set(float64(registry.Len()))
	return &Collector{
		registry:   registry,
		fetcher:    fetcher,
		tracker:    NewDeviceTracker(),
		staleAfter: DefaultStaleAfter,
	}
}

// DeviceState is one registered device and its last successful collection.
type DeviceState struct {
	DeviceID      string     `json:"device_id"`
	Schema        string     `json:"schema"`
	LastCollected *time.Time `json:"last_collected,omitempty"`
}

// DeviceStates lists every registered device in id order.
func (c *Collector) DeviceStates() []DeviceState {
	ids := c.registry.Devices()
	out := make([]DeviceState, 0, len(ids))
	for _, id := range ids {
		kind, _ := c.registry.Kind(id.String())
		st := DeviceState{DeviceID: id.String(), Schema: kind.String()}
		if ts, ok := c.tracker.LastCollected(id.String()); ok {
			st.LastCollected = &ts
		}
		out = append(out, st)
	}
	return out
}

// CollectForDevice produces exposition text for one device. An unregistered
// device fails with a LookupError before any fetch is attempted. A failed fetch
// is wrapped in a FetchError. Per-field decode failures never fail the cycle.
func (c *Collector) CollectForDevice(ctx context.Context, deviceID string) ([]byte, error) {
	factory, err := c.registry.Resolve(deviceID)
	if err != nil {
		CollectionErrors.WithLabelValues("unregistered").Inc()
		return nil, err
	}

	s := factory()
	kind := s.Kind().String()

	start := time.Now()
	defer func() {
		CollectionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	status, err := c.fetcher.GetStatus(ctx, deviceID)
	if err == nil && status == nil {
		err = errors.ErrMalformedResponse
	}
	if err != nil {
		CollectionErrors.WithLabelValues("fetch_failed").Inc()
		slog.Error("status fetch failed", "device_id", deviceID, "schema", kind, "error", err)
		return nil, errors.FetchError{DeviceID: deviceID, Underlying: err}
	}

	samples, failures := s.Collect(status.Result)
	for _, f := range failures {
		code := "unknown"
		if de, ok := f.(errors.DecodeError); ok {
			code = de.Code
		}
		DecodeFailures.WithLabelValues(kind, code).Inc()
		slog.Debug("datapoint decode failed", "device_id", deviceID, "schema", kind, "error", f)
	}

	out, err := Expose(s, samples)
	if err != nil {
		CollectionErrors.WithLabelValues("exposition").Inc()
		return nil, fmt.Errorf("expose device %s: %w", deviceID, err)
	}

	c.tracker.MarkCollected(deviceID)
	c.tracker.CleanupStale(c.staleAfter)
	LastCollectionTime.SetToCurrentTime()
	ActiveDevices.Set(float64(c.tracker.Active(c.staleAfter)))

	slog.Debug("device collected",
		"device_id", deviceID,
		"schema", kind,
		"datapoints", len(status.Result),
		"samples", len(samples),
		"decode_failures", len(failures),
		"duration", time.Since(start))

	return out, nil
}

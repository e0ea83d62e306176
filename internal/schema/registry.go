package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sbaerlocher/tuyametrics/internal/errors"
	"github.com/sbaerlocher/tuyametrics/internal/types"
)

// Registry maps device identifiers to the schema that decodes their datapoints.
// There is no fallback: an unregistered identifier never gets a schema.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.DeviceID]Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[types.DeviceID]Kind)}
}

// Register binds a device to a schema kind. Re-registering a device under a
// different kind is rejected.
func (r *Registry) Register(id types.DeviceID, kind Kind) error {
	if !id.IsValid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidDeviceID, id)
	}
	if _, ok := factories[kind]; !ok {
		return fmt.Errorf("%w: %q", errors.ErrUnknownSchema, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[id]; ok && existing != kind {
		return fmt.Errorf("device %s already registered as %s", id, existing)
	}
	r.entries[id] = kind
	return nil
}

// Resolve returns the schema factory for a device, or a LookupError.
func (r *Registry) Resolve(deviceID string) (Factory, error) {
	r.mu.RLock()
	kind, ok := r.entries[types.DeviceID(deviceID)]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.LookupError{DeviceID: deviceID}
	}
	return factories[kind], nil
}

// Kind returns the schema kind registered for a device.
func (r *Registry) Kind(deviceID string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.entries[types.DeviceID(deviceID)]
	return kind, ok
}

// Devices returns the registered device identifiers in sorted order.
func (r *Registry) Devices() []types.DeviceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.DeviceID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ParseRegistry builds a registry from "deviceID=kind" pairs separated by commas.
func ParseRegistry(pairs string) (*Registry, error) {
	r := NewRegistry()
	for _, part := range strings.Split(pairs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idStr, kindStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid registry entry %q: expected deviceID=kind", part)
		}

		id, err := types.NewDeviceID(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid registry entry %q: %w", part, err)
		}
		kind, err := ParseKind(kindStr)
		if err != nil {
			return nil, fmt.Errorf("invalid registry entry %q: %w", part, err)
		}
		if err := r.Register(id, kind); err != nil {
			return nil, err
		}
	}
	return r, nil
}

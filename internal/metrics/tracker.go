package metrics

import (
	"sync"
	"time"
)

// DeviceTracker records when each device was last collected successfully.
type DeviceTracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewDeviceTracker creates a new instance of DeviceTracker.
func NewDeviceTracker() *DeviceTracker {
	return &DeviceTracker{
		lastSeen: make(map[string]time.Time),
	}
}

// MarkCollected updates the last successful collection time of a device.
func (d *DeviceTracker) MarkCollected(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen[deviceID] = time.Now()
}

// LastCollected returns the last successful collection time of a device.
func (d *DeviceTracker) LastCollected(deviceID string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ts, ok := d.lastSeen[deviceID]
	return ts, ok
}

// Active returns how many devices were collected within window.
func (d *DeviceTracker) Active(window time.Duration) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, ts := range d.lastSeen {
		if now.Sub(ts) <= window {
			n++
		}
	}
	return n
}

// CleanupStale forgets devices not collected for longer than staleDuration and returns their IDs.
func (d *DeviceTracker) CleanupStale(staleDuration time.Duration) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stale []string
	now := time.Now()
	for deviceID, ts := range d.lastSeen {
		if now.Sub(ts) > staleDuration {
			stale = append(stale, deviceID)
			delete(d.lastSeen, deviceID)
		}
	}
	return stale
}

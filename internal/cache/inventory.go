// Package cache keeps the cloud device inventory between listing requests.
// Only the inventory is cached; status snapshots are always fetched live.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

var (
	inventoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuyametrics_inventory_cache_requests_total",
		Help: "Device inventory lookups by cache result",
	}, []string{"result"})

	inventorySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuyametrics_inventory_cache_devices",
		Help: "Number of devices in the cached inventory",
	})

	inventoryRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tuyametrics_inventory_refresh_duration_seconds",
		Help:    "Duration of device inventory refreshes",
		Buckets: prometheus.DefBuckets,
	})
)

// ErrNoSource is returned when the inventory has nothing to refresh from.
var ErrNoSource = errors.New("no inventory source provided")

// Source lists the devices linked to the cloud project.
type Source interface {
	GetDevices(ctx context.Context) ([]device.Device, error)
}

// Inventory is a thread-safe device list with a time-to-live.
type Inventory struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	refreshMu sync.Mutex
	devices   []device.Device
	lastFetch time.Time
	lastErr   error

	hits   uint64
	misses uint64
}

// Stats describes cache usage. It is published on the detailed health endpoint.
type Stats struct {
	HitCount    uint64        `json:"hit_count"`
	MissCount   uint64        `json:"miss_count"`
	HitRatio    float64       `json:"hit_ratio"`
	DeviceCount int           `json:"device_count"`
	LastFetch   time.Time     `json:"last_fetch"`
	TTL         string        `json:"ttl"`
	LastError   string        `json:"last_error,omitempty"`
}

// NewInventory creates an inventory backed by source. A ttl of zero or less
// makes every lookup go to the source.
func NewInventory(source Source, ttl time.Duration) *Inventory {
	return &Inventory{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Devices returns the inventory. forceRefresh bypasses the cached copy.
func (inv *Inventory) Devices(ctx context.Context, forceRefresh bool) ([]device.Device, error) {
	if !forceRefresh {
		if devices, ok := inv.fresh(); ok {
			atomic.AddUint64(&inv.hits, 1)
			inventoryRequests.WithLabelValues("hit").Inc()
			return devices, nil
		}
	}

	atomic.AddUint64(&inv.misses, 1)
	inventoryRequests.WithLabelValues("miss").Inc()
	return inv.refresh(ctx, forceRefresh)
}

func (inv *Inventory) fresh() ([]device.Device, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if inv.ttl <= 0 || inv.lastFetch.IsZero() || inv.now().Sub(inv.lastFetch) >= inv.ttl {
		return nil, false
	}
	out := make([]device.Device, len(inv.devices))
	copy(out, inv.devices)
	return out, true
}

func (inv *Inventory) refresh(ctx context.Context, forceRefresh bool) ([]device.Device, error) {
	if inv.source == nil {
		return nil, ErrNoSource
	}

	// one refresh at a time; waiters reuse the result unless forced
	inv.refreshMu.Lock()
	defer inv.refreshMu.Unlock()

	if !forceRefresh {
		if devices, ok := inv.fresh(); ok {
			return devices, nil
		}
	}

	start := time.Now()
	devices, err := inv.source.GetDevices(ctx)
	inventoryRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		inv.mu.Lock()
		inv.lastErr = err
		inv.mu.Unlock()
		return nil, err
	}

	inv.mu.Lock()
	inv.devices = devices
	inv.lastFetch = inv.now()
	inv.lastErr = nil
	inv.mu.Unlock()

	inventorySize.Set(float64(len(devices)))

	out := make([]device.Device, len(devices))
	copy(out, devices)
	return out, nil
}

// Stats returns cache usage counters.
func (inv *Inventory) Stats() Stats {
	hits := atomic.LoadUint64(&inv.hits)
	misses := atomic.LoadUint64(&inv.misses)

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	st := Stats{
		HitCount:    hits,
		MissCount:   misses,
		HitRatio:    ratio,
		DeviceCount: len(inv.devices),
		LastFetch:   inv.lastFetch,
		TTL:         inv.ttl.String(),
	}
	if inv.lastErr != nil {
		st.LastError = inv.lastErr.Error()
	}
	return st
}

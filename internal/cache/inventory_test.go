package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sbaerlocher/tuyametrics/internal/types"
	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

type countingSource struct {
	mu      sync.Mutex
	calls   int
	devices []device.Device
	err     error
}

func (s *countingSource) GetDevices(context.Context) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.devices, s.err
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func createTestDevice(id, name string) device.Device {
	return device.Device{ID: types.DeviceID(id), Name: name, Online: true}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestInventory(source Source, ttl time.Duration) (*Inventory, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	inv := NewInventory(source, ttl)
	inv.now = clock.Now
	return inv, clock
}

func TestInventoryCacheHit(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, _ := newTestInventory(source, time.Minute)

	for i := 0; i < 3; i++ {
		devices, err := inv.Devices(context.Background(), false)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(devices) != 1 {
			t.Errorf("Expected 1 device, got %d", len(devices))
		}
	}

	if source.Calls() != 1 {
		t.Errorf("Expected 1 source call, got %d", source.Calls())
	}

	stats := inv.Stats()
	if stats.HitCount != 2 || stats.MissCount != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %+v", stats)
	}
	if stats.DeviceCount != 1 {
		t.Errorf("Expected device count 1, got %d", stats.DeviceCount)
	}
}

func TestInventoryExpires(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, clock := newTestInventory(source, time.Minute)

	if _, err := inv.Devices(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := inv.Devices(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if source.Calls() != 2 {
		t.Errorf("Expected refresh after TTL, got %d calls", source.Calls())
	}
}

func TestInventoryForceRefresh(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, _ := newTestInventory(source, time.Hour)

	_, _ = inv.Devices(context.Background(), false)
	_, _ = inv.Devices(context.Background(), true)

	if source.Calls() != 2 {
		t.Errorf("Expected forced refresh to call source, got %d calls", source.Calls())
	}
}

func TestInventoryZeroTTLDisablesCache(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, _ := newTestInventory(source, 0)

	_, _ = inv.Devices(context.Background(), false)
	_, _ = inv.Devices(context.Background(), false)

	if source.Calls() != 2 {
		t.Errorf("Expected every lookup to hit the source, got %d calls", source.Calls())
	}
}

func TestInventoryStatsTrackRefreshErrors(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, clock := newTestInventory(source, time.Minute)

	if _, err := inv.Devices(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	source.err = errors.New("cloud down")
	clock.Advance(2 * time.Minute)

	if _, err := inv.Devices(context.Background(), false); err == nil {
		t.Error("Expected refresh error to be returned")
	}
	stats := inv.Stats()
	if stats.DeviceCount != 1 {
		t.Errorf("Expected previous inventory to be kept, got %d devices", stats.DeviceCount)
	}
	if stats.LastError != "cloud down" {
		t.Errorf("Expected last error to be reported, got %q", stats.LastError)
	}
	if stats.TTL != "1m0s" {
		t.Errorf("Expected ttl 1m0s, got %q", stats.TTL)
	}

	source.err = nil
	if _, err := inv.Devices(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats := inv.Stats(); stats.LastError != "" {
		t.Errorf("Expected successful refresh to clear last error, got %q", stats.LastError)
	}
}

func TestInventoryNoSource(t *testing.T) {
	inv := NewInventory(nil, time.Minute)

	if _, err := inv.Devices(context.Background(), false); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
}

func TestInventoryReturnsCopies(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, _ := newTestInventory(source, time.Hour)

	devices, _ := inv.Devices(context.Background(), false)
	devices[0].Name = "mutated"

	again, _ := inv.Devices(context.Background(), false)
	if again[0].Name != "ATS" {
		t.Errorf("Expected cached inventory to be unaffected, got %q", again[0].Name)
	}
}

func TestInventoryConcurrentAccess(t *testing.T) {
	source := &countingSource{devices: []device.Device{createTestDevice("device1", "ATS")}}
	inv, _ := newTestInventory(source, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inv.Devices(context.Background(), false); err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if source.Calls() != 1 {
		t.Errorf("Expected concurrent misses to share one refresh, got %d calls", source.Calls())
	}
}

package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/sbaerlocher/tuyametrics/internal/cache"
	"github.com/sbaerlocher/tuyametrics/internal/metrics"
	"github.com/sbaerlocher/tuyametrics/internal/schema"
)

// ConnectivityTester is implemented by the cloud API client.
type ConnectivityTester interface {
	TestConnectivity(ctx context.Context) (bool, error)
}

// APIHealthChecker checks that the cloud API accepts the configured credentials.
type APIHealthChecker struct {
	client ConnectivityTester
}

func NewAPIHealthChecker(client ConnectivityTester) *APIHealthChecker {
	return &APIHealthChecker{client: client}
}

func (ac *APIHealthChecker) ComponentName() string {
	return "cloud_api"
}

func (ac *APIHealthChecker) CheckHealth(ctx context.Context) error {
	if ac.client == nil {
		return errors.New("cloud client not configured")
	}
	ok, err := ac.client.TestConnectivity(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("token request failed: %w", err)
	case !ok:
		return errors.New("cloud API unreachable")
	}
	return nil
}

// RegistryHealthChecker fails when no device has a schema bound, since every
// metrics request would then be answered with 404.
type RegistryHealthChecker struct {
	registry *schema.Registry
}

func NewRegistryHealthChecker(registry *schema.Registry) *RegistryHealthChecker {
	return &RegistryHealthChecker{registry: registry}
}

func (rc *RegistryHealthChecker) ComponentName() string {
	return "schema_registry"
}

func (rc *RegistryHealthChecker) CheckHealth(context.Context) error {
	if rc.registry == nil || rc.registry.Len() == 0 {
		return errors.New("no devices registered, set DEVICE_SCHEMAS")
	}
	return nil
}

// InventoryHealthChecker publishes the device listing cache counters. A failed
// listing refresh is surfaced in the details but does not make the service
// unready, since metrics requests never consult the inventory.
type InventoryHealthChecker struct {
	inventory *cache.Inventory
}

func NewInventoryHealthChecker(inventory *cache.Inventory) *InventoryHealthChecker {
	return &InventoryHealthChecker{inventory: inventory}
}

func (ic *InventoryHealthChecker) ComponentName() string {
	return "device_inventory"
}

func (ic *InventoryHealthChecker) CheckHealth(context.Context) error {
	if ic.inventory == nil {
		return errors.New("device inventory not initialized")
	}
	return nil
}

func (ic *InventoryHealthChecker) HealthDetails() any {
	if ic.inventory == nil {
		return nil
	}
	return ic.inventory.Stats()
}

// CollectorHealthChecker lists the registered devices with their schema and
// last successful collection.
type CollectorHealthChecker struct {
	collector *metrics.Collector
}

func NewCollectorHealthChecker(collector *metrics.Collector) *CollectorHealthChecker {
	return &CollectorHealthChecker{collector: collector}
}

func (cc *CollectorHealthChecker) ComponentName() string {
	return "collector"
}

func (cc *CollectorHealthChecker) CheckHealth(context.Context) error {
	if cc.collector == nil {
		return errors.New("collector not initialized")
	}
	return nil
}

func (cc *CollectorHealthChecker) HealthDetails() any {
	if cc.collector == nil {
		return nil
	}
	return cc.collector.DeviceStates()
}

package metrics

import (
	"context"

	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

// StatusFetcher returns the current datapoint snapshot of one device.
type StatusFetcher interface {
	GetStatus(ctx context.Context, deviceID string) (*device.Status, error)
}

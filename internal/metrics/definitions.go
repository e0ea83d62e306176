// Package metrics provides Prometheus metrics definitions and the per-device
// collection pipeline that turns a status snapshot into exposition text.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Self-metrics describe the exporter itself. They live on the default registry
// and are served separately from device exposition.
var (
	// CollectionDuration tracks the time spent on one collection cycle.
	CollectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tuyametrics_collection_duration_seconds",
			Help:    "Time spent collecting one device",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"schema"},
	)

	// CollectionErrors counts collection cycles that produced no exposition.
	CollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tuyametrics_collection_errors_total",
			Help: "Collection errors by type",
		},
		[]string{"error_type"},
	)

	// DecodeFailures counts datapoints that were reported but could not be decoded.
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tuyametrics_decode_failures_total",
			Help: "Datapoint decode failures by schema and code",
		},
		[]string{"schema", "code"},
	)

	// APICallDuration tracks the duration of cloud API calls by endpoint and status.
	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tuyametrics_api_call_duration_seconds",
			Help:    "Cloud API call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tuyametrics_retry_attempts_total",
			Help: "Number of cloud API retry attempts",
		},
		[]string{"endpoint"},
	)

	LastCollectionTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tuyametrics_last_collection_timestamp_seconds",
			Help: "Unix timestamp of last successful collection",
		},
	)

	// RegisteredDevices reports how many devices have a schema bound.
	RegisteredDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tuyametrics_registered_devices",
			Help: "Number of devices with a registered schema",
		},
	)

	// ActiveDevices reports how many registered devices were collected recently.
	ActiveDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tuyametrics_active_devices",
			Help: "Number of devices collected within the staleness window",
		},
	)
)

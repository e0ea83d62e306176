package schema

import (
	"github.com/sbaerlocher/tuyametrics/internal/decode"
	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

// Fuse decodes fused circuit breaker telemetry. Electrical readings arrive as
// base64 little-endian blobs scaled by field name, or as plain numbers.
type Fuse struct {
	fields fieldSet
}

func binaryLE(code, key, name, help string) field {
	return field{
		code:    code,
		rule:    decode.RuleBinaryLE,
		divisor: decode.ScaleForName(code),
		outputs: []Metric{metric(key, name, help)},
	}
}

// NewFuse returns the fused circuit breaker schema.
func NewFuse() *Fuse {
	return &Fuse{fields: fieldSet{
		binaryLE("Voltage", "voltage", "voltage_volts", "Line voltage (V)"),
		binaryLE("Current", "current", "current_amps", "Line current (A)"),
		binaryLE("ActivePower", "active_power", "active_power_watts", "Active power (W)"),
		binaryLE("LeakageCurrent", "leakage_current", "leakage_current_milliamps", "Leakage current (mA)"),
		{
			code:    "Temperature",
			rule:    decode.RuleNumeric,
			outputs: []Metric{metric("temperature", "temperature_celsius", "Breaker temperature (C)")},
		},
		{
			code:    "TotalEnergy",
			rule:    decode.RuleNumeric,
			outputs: []Metric{metric("total_energy", "total_energy_kwh", "Total forward energy (kWh)")},
		},
		{
			code:    "Fault",
			rule:    decode.RuleNumeric,
			outputs: []Metric{metric("fault", "fault", "Device fault code")},
		},
		{
			code:    "Switch",
			rule:    decode.RuleBool,
			outputs: []Metric{metric("switch", "switch_on", "Breaker closed (1=on, 0=off)")},
		},
	}}
}

func (s *Fuse) Kind() Kind {
	return KindFuse
}

func (s *Fuse) Metrics() []Metric {
	return s.fields.metrics()
}

func (s *Fuse) Collect(datapoints []device.Datapoint) (Samples, []error) {
	return s.fields.collect(datapoints)
}

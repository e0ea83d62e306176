package schema

import (
	"github.com/sbaerlocher/tuyametrics/internal/decode"
	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

// ATS decodes automatic transfer switch telemetry: load, thresholds, energy
// counters, the packed line/battery voltage string and the active power source.
type ATS struct {
	fields fieldSet
}

// NewATS returns the automatic transfer switch schema.
func NewATS() *ATS {
	return &ATS{fields: fieldSet{
		numeric("fault", "fault", "Device fault code"),
		numeric("power_fault", "power_fault", "Power fault flag"),
		numeric("load_power", "load_power_watts", "Load power (W)"),
		numeric("load_current", "load_current_amps", "Load current (A)"),
		numeric("overpower_value", "overpower_value", "Overpower threshold"),
		numeric("lowpower_switch", "lowpower_switch", "Low power threshold"),
		numeric("lowpower_reset", "lowpower_reset", "Low power reset threshold"),
		numeric("totalele_add", "totalele_add", "Total accumulated energy (Wh) from inverter"),
		numeric("dwele_add", "dwele_add", "Total accumulated energy (Wh) from grid"),
		{
			code: "voltage_display",
			rule: decode.RulePackedTriple,
			outputs: []Metric{
				metric("voltage_l1", "voltage_l1_volts", "L1 voltage (V)"),
				metric("voltage_l2", "voltage_l2_volts", "L2 voltage (V)"),
				metric("voltage_batt", "voltage_battery_volts", "Battery voltage (V)"),
			},
		},
		{
			code:    "power_mode",
			rule:    decode.RuleEnum,
			keyword: "invert",
			outputs: []Metric{metric("power_mode", "power_mode", "Power source (0=grid,1=inverter)")},
		},
	}}
}

func (s *ATS) Kind() Kind {
	return KindATS
}

func (s *ATS) Metrics() []Metric {
	return s.fields.metrics()
}

func (s *ATS) Collect(datapoints []device.Datapoint) (Samples, []error) {
	return s.fields.collect(datapoints)
}

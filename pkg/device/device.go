// Package device provides types for cloud-managed devices and their reported status.
package device

import (
	"github.com/sbaerlocher/tuyametrics/internal/types"
)

// Device represents a device as listed by the cloud API.
type Device struct {
	ID          types.DeviceID `json:"id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	ProductID   string         `json:"product_id"`
	ProductName string         `json:"product_name"`
	Model       string         `json:"model,omitempty"`
	Online      bool           `json:"online"`
	IP          string         `json:"ip,omitempty"`
	TimeZone    string         `json:"time_zone,omitempty"`
	ActiveTime  int64          `json:"active_time,omitempty"`
	UpdateTime  int64          `json:"update_time,omitempty"`
}

// Validate checks if the device has valid required fields.
func (d Device) Validate() error {
	if !d.ID.IsValid() {
		return types.ErrInvalidDeviceID
	}
	return nil
}

// Datapoint is one code/value pair of a device's last reported status.
// Value holds what the JSON decoder produced: float64, bool, string or nil.
type Datapoint struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// Status is the status snapshot returned for one device.
type Status struct {
	Result  []Datapoint `json:"result"`
	Success bool        `json:"success"`
	T       int64       `json:"t,omitempty"`
}

// Function describes one instruction a device accepts.
type Function struct {
	Code   string `json:"code"`
	Type   string `json:"type"`
	Values string `json:"values"`
	Name   string `json:"name,omitempty"`
	Desc   string `json:"desc,omitempty"`
}

// Functions is the instruction set reported for one device.
type Functions struct {
	Category  string     `json:"category"`
	Functions []Function `json:"functions"`
}

// Index converts a datapoint list into a code to value mapping.
// Entries without a code are dropped and the last value wins for repeated codes.
func Index(datapoints []Datapoint) map[string]any {
	out := make(map[string]any, len(datapoints))
	for _, dp := range datapoints {
		if dp.Code == "" {
			continue
		}
		out[dp.Code] = dp.Value
	}
	return out
}

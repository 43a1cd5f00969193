package models

import (
	"fmt"
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
)

// Device identifies a monitored fleet device. Devices are loaded once at startup.
type Device struct {
	Serial string `yaml:"serial" json:"serial"`
	Name   string `yaml:"name" json:"name"`
}

// String returns "name (serial)".
func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Serial)
}

// GpsSample is the last known fix reported by the management API for one poll.
// Timestamp is kept raw; parsing happens during evaluation.
type GpsSample struct {
	Timestamp string `json:"timestamp"`
}

// DeviceRuntimeRecord is the mutable per-device watchdog state.
type DeviceRuntimeRecord struct {
	Health       constants.HealthState `json:"health"`
	LastRebootAt *time.Time            `json:"last_reboot_at,omitempty"`
}

// Decision is the outcome of one poll of one device.
// StaleTransition is set only on the poll where the device enters the stale state.
type Decision struct {
	Kind            constants.DecisionKind
	StaleTransition bool
}

// Reboot reports whether the decision requires a reboot command.
func (d Decision) Reboot() bool {
	return d.Kind == constants.DecisionNotifyStaleAndReboot
}

package watchdog

import (
	"time"

	"github.com/benmeehan/gps-watchdog/internal/models"
)

// IsRebootAllowed reports whether the cooldown since the device's last reboot has elapsed.
// The gate is inclusive: exactly cooldown after the last reboot is allowed.
func IsRebootAllowed(record models.DeviceRuntimeRecord, cooldown time.Duration, now time.Time) bool {
	if record.LastRebootAt == nil {
		return true
	}
	return now.Sub(*record.LastRebootAt) >= cooldown
}

// CooldownRemaining returns how long until a reboot is allowed again, or zero.
func CooldownRemaining(record models.DeviceRuntimeRecord, cooldown time.Duration, now time.Time) time.Duration {
	if record.LastRebootAt == nil {
		return 0
	}
	remaining := cooldown - now.Sub(*record.LastRebootAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

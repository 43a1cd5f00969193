package state_managers

import (
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/models"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// DeviceStateManager holds one DeviceRuntimeRecord per device serial, in memory only.
// Records are created lazily on first access. Updates of a single record are serialized
// by the map's shard lock, so devices may be polled in parallel.
type DeviceStateManager struct {
	records cmap.ConcurrentMap[string, models.DeviceRuntimeRecord]
	logger  zerolog.Logger
}

// NewDeviceStateManager initializes an empty DeviceStateManager.
func NewDeviceStateManager(logger zerolog.Logger) *DeviceStateManager {
	return &DeviceStateManager{
		records: cmap.New[models.DeviceRuntimeRecord](),
		logger:  logger,
	}
}

// Get returns a copy of the record for serial, creating a default one if missing.
func (sm *DeviceStateManager) Get(serial string) models.DeviceRuntimeRecord {
	record := sm.records.Upsert(serial, models.DeviceRuntimeRecord{},
		func(exist bool, valueInMap, newValue models.DeviceRuntimeRecord) models.DeviceRuntimeRecord {
			if exist {
				return valueInMap
			}
			sm.logger.Debug().Str("serial", serial).Msg("Created device state record")
			return newValue
		})
	return copyRecord(record)
}

// SetHealth updates the health of serial.
func (sm *DeviceStateManager) SetHealth(serial string, health constants.HealthState) {
	sm.records.Upsert(serial, models.DeviceRuntimeRecord{Health: health},
		func(exist bool, valueInMap, newValue models.DeviceRuntimeRecord) models.DeviceRuntimeRecord {
			if exist {
				valueInMap.Health = health
				return valueInMap
			}
			return newValue
		})
}

// SetLastReboot records the time a reboot command was accepted for serial.
func (sm *DeviceStateManager) SetLastReboot(serial string, at time.Time) {
	at = at.UTC()
	sm.records.Upsert(serial, models.DeviceRuntimeRecord{LastRebootAt: &at},
		func(exist bool, valueInMap, newValue models.DeviceRuntimeRecord) models.DeviceRuntimeRecord {
			if exist {
				valueInMap.LastRebootAt = &at
				return valueInMap
			}
			return newValue
		})
}

// Snapshot returns a copy of every known record keyed by serial.
func (sm *DeviceStateManager) Snapshot() map[string]models.DeviceRuntimeRecord {
	out := make(map[string]models.DeviceRuntimeRecord, sm.records.Count())
	for item := range sm.records.IterBuffered() {
		out[item.Key] = copyRecord(item.Val)
	}
	return out
}

// Count returns the number of known devices.
func (sm *DeviceStateManager) Count() int {
	return sm.records.Count()
}

func copyRecord(r models.DeviceRuntimeRecord) models.DeviceRuntimeRecord {
	if r.LastRebootAt != nil {
		at := *r.LastRebootAt
		r.LastRebootAt = &at
	}
	return r
}

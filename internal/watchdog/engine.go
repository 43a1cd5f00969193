package watchdog

import (
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/models"
)

// Decide computes the action for one poll of a device and updates record.Health.
// It never recommends a reboot while the device is fresh. Transition flags fire once per
// edge; a first observation that is stale counts as an edge, a first fresh one does not.
func Decide(current constants.HealthState, record *models.DeviceRuntimeRecord, cooldown time.Duration, now time.Time) models.Decision {
	previous := record.Health

	if current == constants.HealthFresh {
		record.Health = constants.HealthFresh
		if previous == constants.HealthStale {
			return models.Decision{Kind: constants.DecisionNotifyRecovered}
		}
		return models.Decision{Kind: constants.DecisionNoAction}
	}

	record.Health = constants.HealthStale
	transition := previous != constants.HealthStale

	if IsRebootAllowed(*record, cooldown, now) {
		return models.Decision{Kind: constants.DecisionNotifyStaleAndReboot, StaleTransition: transition}
	}
	return models.Decision{Kind: constants.DecisionNotifyStaleSkipCooldown, StaleTransition: transition}
}

// StateStore is the subset of the device state store used by the Engine.
type StateStore interface {
	Get(serial string) models.DeviceRuntimeRecord
	SetHealth(serial string, health constants.HealthState)
	SetLastReboot(serial string, at time.Time)
}

// Engine ties Decide to a state store.
type Engine struct {
	store    StateStore
	cooldown time.Duration
}

// NewEngine creates an Engine backed by store.
func NewEngine(store StateStore, cooldown time.Duration) *Engine {
	return &Engine{store: store, cooldown: cooldown}
}

// Decide evaluates one poll of serial against the stored record and persists the new health.
func (e *Engine) Decide(serial string, current constants.HealthState, now time.Time) (models.Decision, models.DeviceRuntimeRecord) {
	record := e.store.Get(serial)
	decision := Decide(current, &record, e.cooldown, now)
	e.store.SetHealth(serial, record.Health)
	return decision, record
}

// RecordReboot stores the time of a successfully issued reboot.
func (e *Engine) RecordReboot(serial string, at time.Time) {
	e.store.SetLastReboot(serial, at)
}

// Cooldown returns the configured reboot cooldown.
func (e *Engine) Cooldown() time.Duration {
	return e.cooldown
}

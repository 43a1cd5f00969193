package constants

// HealthState is the result of evaluating a device's GPS freshness.
type HealthState string

const (
	// HealthUnknown is the state of a device that has not been evaluated yet.
	HealthUnknown HealthState = ""
	HealthFresh   HealthState = "fresh"
	HealthStale   HealthState = "stale"
)

// DecisionKind is the action produced for one device on one poll.
type DecisionKind string

const (
	DecisionNoAction                DecisionKind = "no_action"
	DecisionNotifyRecovered         DecisionKind = "notify_recovered"
	DecisionNotifyStaleAndReboot    DecisionKind = "notify_stale_and_reboot"
	DecisionNotifyStaleSkipCooldown DecisionKind = "notify_stale_skip_cooldown"
)

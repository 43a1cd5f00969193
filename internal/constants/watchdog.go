package constants

import "time"

const (
	// DefaultGPSStaleThreshold is how old a GPS fix may get before the device counts as stale.
	DefaultGPSStaleThreshold = 15 * time.Minute

	// DefaultRebootCooldown is the minimum interval between two reboots of the same device.
	DefaultRebootCooldown = 30 * time.Minute

	// DefaultPollInterval is the sleep between the end of one cycle and the start of the next.
	DefaultPollInterval = 300 * time.Second

	// DefaultRequestTimeout bounds every outbound HTTP call.
	DefaultRequestTimeout = 30 * time.Second

	// MaxEnvDevices is the upper bound (exclusive) of IC_DEVICE{i}_* indices read from the environment.
	MaxEnvDevices = 20
)

const (
	DefaultAPIBaseURL  = "https://api.ic.peplink.com"
	DefaultTokenPath   = "/oauth2/token"
	DefaultConfigPath  = "configs/config.yaml"
	DefaultMetricsAddr = ":9102"
)

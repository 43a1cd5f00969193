package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/models"
	"github.com/benmeehan/gps-watchdog/pkg/file"
	"github.com/joho/godotenv"
)

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Human readable console output instead of JSON
	} `yaml:"log"`

	API struct {
		BaseURL        string        `yaml:"base_url"`        // Management API base URL
		TokenURL       string        `yaml:"token_url"`       // OAuth2 token endpoint, defaults to base_url + /oauth2/token
		OrgID          string        `yaml:"org_id"`          // Organisation ID used in device paths
		ClientID       string        `yaml:"client_id"`       // OAuth2 client ID
		ClientSecret   string        `yaml:"client_secret"`   // OAuth2 client secret
		CacheToken     bool          `yaml:"cache_token"`     // Reuse the access token until it expires
		RequestTimeout time.Duration `yaml:"request_timeout"` // Timeout for each HTTP request
		MappingVersion string        `yaml:"mapping_version"` // GPS response/endpoint mapping version
		GPSPath        string        `yaml:"gps_path"`        // Overrides the mapping's GPS path template
		RebootPath     string        `yaml:"reboot_path"`     // Overrides the mapping's reboot path template
		TimestampField string        `yaml:"timestamp_field"` // Overrides the mapping's dotted timestamp field
	} `yaml:"api"`

	Watchdog struct {
		GPSStaleThresholdMinutes int `yaml:"gps_stale_threshold_minutes"` // Max GPS fix age before a device is stale
		RebootCooldownMinutes    int `yaml:"reboot_cooldown_minutes"`     // Minimum time between reboots of one device
		PollIntervalSeconds      int `yaml:"poll_interval_seconds"`       // Sleep between poll cycles
		MaxConcurrency           int `yaml:"max_concurrency"`             // Devices polled in parallel, 1 = sequential
	} `yaml:"watchdog"`

	Devices []models.Device `yaml:"devices"`

	Notifier struct {
		WebhookURL string `yaml:"webhook_url"` // Optional webhook; empty disables it

		MQTT struct {
			Enabled        bool          `yaml:"enabled"`
			Broker         string        `yaml:"broker"`
			ClientID       string        `yaml:"client_id"`
			Username       string        `yaml:"username"`
			Password       string        `yaml:"password"`
			CACertificate  string        `yaml:"ca_certificate"`
			Topic          string        `yaml:"topic"`
			QOS            int           `yaml:"qos"`
			PublishTimeout time.Duration `yaml:"publish_timeout"`
		} `yaml:"mqtt"`
	} `yaml:"notifier"`

	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"metrics"`
}

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads a .env file into the process environment when it exists.
// Variables already set in the environment are not overwritten.
func LoadDotEnv(path string, fileClient file.FileOperations) error {
	exists, err := fileClient.IsFileExists(path)
	if err != nil || !exists {
		return err
	}
	return godotenv.Load(path)
}

// LoadConfig loads the YAML configuration from filename, applies environment overrides
// and defaults, and validates the result. A missing file is not an error.
func LoadConfig(filename string, fileClient file.FileOperations, lookup LookupFunc) (*Config, error) {
	config := newConfig()

	exists, err := fileClient.IsFileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := fileClient.ReadYamlFile(filename, &config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := config.applyEnv(lookup); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("IC_ORG_ID", &c.API.OrgID)
	setString("IC_CLIENT_ID", &c.API.ClientID)
	setString("IC_CLIENT_SECRET", &c.API.ClientSecret)
	setString("IC_API_BASE_URL", &c.API.BaseURL)
	setString("NOTIFY_WEBHOOK_URL", &c.Notifier.WebhookURL)

	if err := setInt("GPS_STALE_THRESHOLD_MINUTES", &c.Watchdog.GPSStaleThresholdMinutes); err != nil {
		return err
	}
	if err := setInt("REBOOT_COOLDOWN_MINUTES", &c.Watchdog.RebootCooldownMinutes); err != nil {
		return err
	}
	if err := setInt("POLL_INTERVAL_SECONDS", &c.Watchdog.PollIntervalSeconds); err != nil {
		return err
	}

	// Devices from the environment replace the file list when at least one pair is set.
	var envDevices []models.Device
	for i := 1; i < constants.MaxEnvDevices; i++ {
		serial, _ := lookup(fmt.Sprintf("IC_DEVICE%d_SERIAL", i))
		name, _ := lookup(fmt.Sprintf("IC_DEVICE%d_NAME", i))
		if serial != "" && name != "" {
			envDevices = append(envDevices, models.Device{Serial: serial, Name: name})
		}
	}
	if len(envDevices) > 0 {
		c.Devices = envDevices
	}
	return nil
}

// newConfig returns a Config holding the watchdog defaults. The file and environment are
// applied on top of it, so an explicit 0 is kept.
func newConfig() Config {
	var c Config
	c.Watchdog.GPSStaleThresholdMinutes = int(constants.DefaultGPSStaleThreshold / time.Minute)
	c.Watchdog.RebootCooldownMinutes = int(constants.DefaultRebootCooldown / time.Minute)
	c.Watchdog.PollIntervalSeconds = int(constants.DefaultPollInterval / time.Second)
	c.Watchdog.MaxConcurrency = 1
	return c
}

// applyDefaults fills derived values and settings where empty has no meaning.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = constants.DefaultAPIBaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TokenURL == "" {
		c.API.TokenURL = c.API.BaseURL + constants.DefaultTokenPath
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = constants.DefaultRequestTimeout
	}
	if c.API.MappingVersion == "" {
		c.API.MappingVersion = "1.0.0"
	}
	if c.Notifier.MQTT.ClientID == "" {
		c.Notifier.MQTT.ClientID = "gps-watchdog"
	}
	if c.Notifier.MQTT.PublishTimeout == 0 {
		c.Notifier.MQTT.PublishTimeout = 10 * time.Second
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = constants.DefaultMetricsAddr
	}
}

// Validate checks the configuration for values the watchdog cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.API.OrgID == "" {
		errs = append(errs, errors.New("api.org_id (IC_ORG_ID) is required"))
	}
	if c.API.ClientID == "" || c.API.ClientSecret == "" {
		errs = append(errs, errors.New("api.client_id and api.client_secret (IC_CLIENT_ID, IC_CLIENT_SECRET) are required"))
	}
	if c.Watchdog.GPSStaleThresholdMinutes < 0 {
		errs = append(errs, errors.New("watchdog.gps_stale_threshold_minutes (GPS_STALE_THRESHOLD_MINUTES) must not be negative"))
	}
	if c.Watchdog.RebootCooldownMinutes < 0 {
		errs = append(errs, errors.New("watchdog.reboot_cooldown_minutes (REBOOT_COOLDOWN_MINUTES) must not be negative"))
	}
	if c.Watchdog.PollIntervalSeconds < 1 {
		errs = append(errs, errors.New("watchdog.poll_interval_seconds (POLL_INTERVAL_SECONDS) must be at least 1"))
	}
	if c.Watchdog.MaxConcurrency < 1 {
		errs = append(errs, errors.New("watchdog.max_concurrency must be at least 1"))
	}

	if len(c.Devices) == 0 {
		errs = append(errs, errors.New("at least one device is required"))
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Serial) == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: serial is required", i))
			continue
		}
		if _, dup := seen[d.Serial]; dup {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate serial %s", i, d.Serial))
		}
		seen[d.Serial] = struct{}{}
	}

	if c.Notifier.MQTT.Enabled {
		if c.Notifier.MQTT.Broker == "" || c.Notifier.MQTT.Topic == "" {
			errs = append(errs, errors.New("notifier.mqtt.broker and notifier.mqtt.topic are required when mqtt is enabled"))
		}
		if c.Notifier.MQTT.QOS < 0 || c.Notifier.MQTT.QOS > 2 {
			errs = append(errs, errors.New("notifier.mqtt.qos must be 0, 1 or 2"))
		}
	}

	return errors.Join(errs...)
}

// GPSStaleThreshold returns the staleness threshold as a duration.
func (c *Config) GPSStaleThreshold() time.Duration {
	return time.Duration(c.Watchdog.GPSStaleThresholdMinutes) * time.Minute
}

// RebootCooldown returns the reboot cooldown as a duration.
func (c *Config) RebootCooldown() time.Duration {
	return time.Duration(c.Watchdog.RebootCooldownMinutes) * time.Minute
}

// PollInterval returns the inter-cycle sleep as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watchdog.PollIntervalSeconds) * time.Second
}

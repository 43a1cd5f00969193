package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/gps-watchdog/internal/services"
	"github.com/benmeehan/gps-watchdog/internal/state_managers"
	"github.com/benmeehan/gps-watchdog/internal/utils"
	"github.com/benmeehan/gps-watchdog/internal/watchdog"
	"github.com/benmeehan/gps-watchdog/pkg/clock"
	"github.com/benmeehan/gps-watchdog/pkg/incontrol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new, empty service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]Service),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Services returns the registered service names in start order.
func (sr *ServiceRegistry) Services() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// Dependencies are the shared collaborators handed to service constructors.
type Dependencies struct {
	Credentials incontrol.CredentialProvider
	DeviceAPI   interface {
		incontrol.GPSQuerier
		incontrol.Rebooter
	}
	Alerts   services.AlertSink
	Metrics  services.MetricsRecorder
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
}

// RegisterServices initializes and registers enabled services based on configuration.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) error {
	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "metrics",
			enabled: config.Metrics.Enabled,
			constructor: func() (Service, error) {
				if deps.Gatherer == nil {
					return nil, errors.New("metrics enabled without a gatherer")
				}
				return services.NewMetricsService(
					config.Metrics.ListenAddress,
					deps.Gatherer,
					sr.Logger.With().Str("service", "metrics").Logger(),
				), nil
			},
		},
		{
			name:    "watchdog",
			enabled: true,
			constructor: func() (Service, error) {
				store := state_managers.NewDeviceStateManager(sr.Logger)
				engine := watchdog.NewEngine(store, config.RebootCooldown())
				return services.NewWatchdogService(
					services.WatchdogOptions{
						Devices:           config.Devices,
						GPSStaleThreshold: config.GPSStaleThreshold(),
						PollInterval:      config.PollInterval(),
						MaxConcurrency:    config.Watchdog.MaxConcurrency,
					},
					deps.Credentials,
					deps.DeviceAPI,
					deps.DeviceAPI,
					engine,
					deps.Alerts,
					deps.Metrics,
					deps.Clock,
					sr.Logger.With().Str("service", "watchdog").Logger(),
				), nil
			},
		},
	}

	for _, svc := range servicesInOrder {
		if !svc.enabled {
			sr.Logger.Debug().Str("service", svc.name).Msg("Service is disabled, skipping")
			continue
		}
		instance, err := svc.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to initialize %s service", svc.name)
			return fmt.Errorf("failed to initialize %s service: %w", svc.name, err)
		}
		sr.RegisterService(svc.name, instance)
	}

	return nil
}

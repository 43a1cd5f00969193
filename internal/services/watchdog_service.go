package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/metrics"
	"github.com/benmeehan/gps-watchdog/internal/models"
	"github.com/benmeehan/gps-watchdog/internal/utils"
	"github.com/benmeehan/gps-watchdog/internal/watchdog"
	"github.com/benmeehan/gps-watchdog/pkg/clock"
	"github.com/benmeehan/gps-watchdog/pkg/incontrol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertSink receives best-effort alert messages.
type AlertSink interface {
	Notify(ctx context.Context, message string)
}

// MetricsRecorder receives watchdog measurements.
type MetricsRecorder interface {
	ObserveCycle(result string, d time.Duration)
	ObservePoll(serial, outcome string)
	ObserveReboot(serial, result string)
	SetHealth(serial, name string, health constants.HealthState)
}

// WatchdogOptions are the fixed policy values read at startup.
type WatchdogOptions struct {
	Devices           []models.Device
	GPSStaleThreshold time.Duration
	PollInterval      time.Duration
	MaxConcurrency    int
}

// WatchdogService polls every device once per cycle, reboots devices whose GPS stays
// stale and reports state transitions. A cycle starts only after the previous one has
// finished and the poll interval has elapsed.
type WatchdogService struct {
	options     WatchdogOptions
	credentials incontrol.CredentialProvider
	gps         incontrol.GPSQuerier
	rebooter    incontrol.Rebooter
	engine      *watchdog.Engine
	alerts      AlertSink
	metrics     MetricsRecorder
	clock       clock.Clock
	logger      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewWatchdogService creates a WatchdogService. alerts and recorder may be nil.
func NewWatchdogService(options WatchdogOptions, credentials incontrol.CredentialProvider, gps incontrol.GPSQuerier,
	rebooter incontrol.Rebooter, engine *watchdog.Engine, alerts AlertSink, recorder MetricsRecorder,
	clk clock.Clock, logger zerolog.Logger) *WatchdogService {
	if alerts == nil {
		alerts = nopAlerts{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &WatchdogService{
		options:     options,
		credentials: credentials,
		gps:         gps,
		rebooter:    rebooter,
		engine:      engine,
		alerts:      alerts,
		metrics:     recorder,
		clock:       clk,
		logger:      logger,
	}
}

// Start launches the poll loop in a separate goroutine.
func (s *WatchdogService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("WatchdogService is already running")
		return errors.New("watchdog service is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()

	s.logger.Info().
		Int("devices", len(s.options.Devices)).
		Dur("gps_stale_threshold", s.options.GPSStaleThreshold).
		Dur("reboot_cooldown", s.engine.Cooldown()).
		Dur("poll_interval", s.options.PollInterval).
		Msg("WatchdogService started")
	return nil
}

// Stop cancels the poll loop, interrupting the inter-cycle sleep and any in-flight request,
// and waits for it to exit.
func (s *WatchdogService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("WatchdogService is not running")
		return errors.New("watchdog service is not running")
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("WatchdogService stopped")
	return nil
}

// Run executes poll cycles until ctx is done. Cycle failures are logged and retried on
// the next cycle.
func (s *WatchdogService) Run(ctx context.Context) {
	for {
		if err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Dur("retry_in", s.options.PollInterval).Msg("Poll cycle failed")
		}

		timer := time.NewTimer(s.options.PollInterval)
		s.logger.Debug().Dur("interval", s.options.PollInterval).Msg("Sleeping until next cycle")
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("WatchdogService stopping gracefully")
			return
		case <-timer.C:
		}
	}
}

// RunCycle performs one pass over all devices. It returns the cycle-level error, if any;
// per-device failures are logged and do not stop the remaining devices.
func (s *WatchdogService) RunCycle(ctx context.Context) error {
	started := time.Now()
	logger := s.logger.With().Str("cycle_id", uuid.New().String()).Logger()
	logger.Info().Int("devices", len(s.options.Devices)).Msg("Starting poll cycle")

	token, err := s.credentials.Token(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to obtain access token, skipping cycle")
		s.metrics.ObserveCycle("auth_error", time.Since(started))
		return fmt.Errorf("poll cycle aborted: %w", err)
	}

	if s.options.MaxConcurrency > 1 {
		pool := utils.NewWorkerPool(s.options.MaxConcurrency)
		for _, device := range s.options.Devices {
			device := device
			if !pool.Submit(ctx, func() { s.checkDevice(ctx, logger, token, device) }) {
				break
			}
		}
		pool.Shutdown()
	} else {
		for _, device := range s.options.Devices {
			if ctx.Err() != nil {
				break
			}
			s.checkDevice(ctx, logger, token, device)
		}
	}

	if ctx.Err() != nil {
		logger.Info().Msg("Poll cycle interrupted")
		s.metrics.ObserveCycle("canceled", time.Since(started))
		return ctx.Err()
	}

	logger.Info().Dur("duration", time.Since(started)).Msg("Poll cycle completed")
	s.metrics.ObserveCycle("success", time.Since(started))
	return nil
}

// checkDevice isolates one device's failure from the rest of the cycle.
func (s *WatchdogService) checkDevice(ctx context.Context, logger zerolog.Logger, token string, device models.Device) {
	deviceLogger := logger.With().Str("serial", device.Serial).Str("device", device.Name).Logger()

	if err := s.processDevice(ctx, deviceLogger, token, device); err != nil {
		event := deviceLogger.Error().Err(err)
		var apiErr *incontrol.APIError
		if errors.As(err, &apiErr) {
			event = event.Str("op", apiErr.Op).Int("status", apiErr.StatusCode)
		}
		event.Msg("Device check failed")
	}
}

func (s *WatchdogService) processDevice(ctx context.Context, logger zerolog.Logger, token string, device models.Device) error {
	logger.Debug().Msg("Checking device")

	record, err := s.gps.GetGPS(ctx, token, device.Serial)
	if err != nil {
		s.metrics.ObservePoll(device.Serial, metrics.PollAPIError)
		return err
	}

	var sample *models.GpsSample
	if record != nil {
		sample = &models.GpsSample{Timestamp: record.Timestamp}
	}

	now := s.clock.Now()
	evaluation := watchdog.EvaluateDetailed(sample, s.options.GPSStaleThreshold, now)
	decision, state := s.engine.Decide(device.Serial, evaluation.State, now)

	s.metrics.SetHealth(device.Serial, device.Name, evaluation.State)
	if evaluation.State == constants.HealthFresh {
		s.metrics.ObservePoll(device.Serial, metrics.PollFresh)
	} else {
		s.metrics.ObservePoll(device.Serial, metrics.PollStale)
	}

	reason := staleReason(sample, evaluation)

	switch decision.Kind {
	case constants.DecisionNoAction:
		logger.Info().Int64("gps_age_seconds", int64(evaluation.Age.Seconds())).Msg("GPS OK")

	case constants.DecisionNotifyRecovered:
		logger.Info().Int64("gps_age_seconds", int64(evaluation.Age.Seconds())).Msg("GPS recovered")
		s.alerts.Notify(ctx, fmt.Sprintf("%s: GPS recovered.", device))

	case constants.DecisionNotifyStaleSkipCooldown:
		remaining := watchdog.CooldownRemaining(state, s.engine.Cooldown(), now)
		logger.Warn().Str("reason", reason).Dur("cooldown_remaining", remaining).Msg("GPS stale, reboot skipped: cooldown active")
		s.metrics.ObserveReboot(device.Serial, metrics.ResultCooldown)
		if decision.StaleTransition {
			s.alerts.Notify(ctx, fmt.Sprintf("%s: GPS stale (%s). Reboot skipped, cooldown active for %s.",
				device, reason, remaining.Round(time.Second)))
		}

	case constants.DecisionNotifyStaleAndReboot:
		logger.Warn().Str("reason", reason).Msg("GPS stale, sending reboot command")
		prefix := fmt.Sprintf("%s: GPS still stale (%s).", device, reason)
		if decision.StaleTransition {
			prefix = fmt.Sprintf("%s: GPS stale (%s).", device, reason)
		}

		if err := s.rebooter.Reboot(ctx, token, device.Serial); err != nil {
			s.metrics.ObserveReboot(device.Serial, metrics.ResultFailure)
			s.alerts.Notify(ctx, fmt.Sprintf("%s Reboot command failed: %v", prefix, err))
			return err
		}

		s.engine.RecordReboot(device.Serial, now)
		s.metrics.ObserveReboot(device.Serial, metrics.ResultSuccess)
		logger.Info().Msg("Reboot command sent successfully")
		s.alerts.Notify(ctx, fmt.Sprintf("%s Reboot command sent.", prefix))
	}

	return nil
}

func staleReason(sample *models.GpsSample, evaluation watchdog.Evaluation) string {
	switch {
	case sample == nil:
		return "no GPS data"
	case evaluation.Err != nil:
		return evaluation.Err.Error()
	default:
		return fmt.Sprintf("last fix %s ago", evaluation.Age.Round(time.Second))
	}
}

type nopAlerts struct{}

func (nopAlerts) Notify(context.Context, string) {}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(string, time.Duration) {}
func (nopRecorder) ObservePoll(string, string) {}
func (nopRecorder) ObserveReboot(string, string) {}
func (nopRecorder) SetHealth(string, string, constants.HealthState) {}

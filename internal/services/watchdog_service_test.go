package services_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/metrics"
	"github.com/benmeehan/gps-watchdog/internal/models"
	"github.com/benmeehan/gps-watchdog/internal/services"
	"github.com/benmeehan/gps-watchdog/internal/state_managers"
	"github.com/benmeehan/gps-watchdog/internal/watchdog"
	"github.com/benmeehan/gps-watchdog/pkg/clock"
	"github.com/benmeehan/gps-watchdog/pkg/incontrol"
	"github.com/benmeehan/gps-watchdog/pkg/notify"
	"github.com/benmeehan/gps-watchdog/tests/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	start    = time.Date(2025, 2, 1, 3, 30, 0, 0, time.UTC)
	device1  = models.Device{Serial: "SN-1", Name: "Ambulance 1"}
	device2  = models.Device{Serial: "SN-2", Name: "Ambulance 2"}
	cooldown = 30 * time.Minute
)

type harness struct {
	credentials *mocks.MockCredentialProvider
	api         *mocks.MockDeviceAPI
	notifier    *mocks.MockNotifier
	store       *state_managers.DeviceStateManager
	clock       *clock.Fake
	service     *services.WatchdogService
}

func newHarness(devices []models.Device, concurrency int) *harness {
	return newHarnessWithLogger(devices, concurrency, zerolog.Nop())
}

func newHarnessWithLogger(devices []models.Device, concurrency int, logger zerolog.Logger) *harness {
	h := &harness{
		credentials: new(mocks.MockCredentialProvider),
		api:         new(mocks.MockDeviceAPI),
		notifier:    new(mocks.MockNotifier),
		store:       state_managers.NewDeviceStateManager(zerolog.Nop()),
		clock:       clock.NewFake(start),
	}
	h.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	h.service = services.NewWatchdogService(
		services.WatchdogOptions{
			Devices:           devices,
			GPSStaleThreshold: 15 * time.Minute,
			PollInterval:      time.Hour,
			MaxConcurrency:    concurrency,
		},
		h.credentials,
		h.api,
		h.api,
		watchdog.NewEngine(h.store, cooldown),
		notify.NewDispatcher(zerolog.Nop(), h.notifier),
		metrics.New(prometheus.NewRegistry()),
		h.clock,
		logger,
	)
	return h
}

func fix(age time.Duration, now time.Time) *incontrol.GPSRecord {
	return &incontrol.GPSRecord{Timestamp: now.Add(-age).Format(time.RFC3339)}
}

func TestWatchdogService_AuthErrorAbortsCycle(t *testing.T) {
	h := newHarness([]models.Device{device1, device2}, 1)
	h.credentials.On("Token", mock.Anything).Return("", &incontrol.AuthError{StatusCode: 401, Err: errors.New("invalid_client")})

	err := h.service.RunCycle(context.Background())

	var authErr *incontrol.AuthError
	require.True(t, errors.As(err, &authErr))
	h.api.AssertNotCalled(t, "GetGPS", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.notifier.Messages())
}

func TestWatchdogService_DeviceErrorDoesNotStopOthers(t *testing.T) {
	h := newHarness([]models.Device{device1, device2}, 1)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(nil, &incontrol.APIError{Op: "gps query", Serial: "SN-1", StatusCode: 500})
	h.api.On("GetGPS", mock.Anything, "tok", "SN-2").Return(fix(time.Minute, start), nil)

	err := h.service.RunCycle(context.Background())

	assert.NoError(t, err)
	h.api.AssertExpectations(t)
	h.api.AssertNotCalled(t, "Reboot", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, constants.HealthUnknown, h.store.Get("SN-1").Health, "hard API errors leave health untouched")
	assert.Equal(t, constants.HealthFresh, h.store.Get("SN-2").Health)
}

func TestWatchdogService_StaleRebootCooldownRecovery(t *testing.T) {
	h := newHarness([]models.Device{device1}, 1)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)

	// Cycle 1: fresh, nothing happens
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(fix(time.Minute, start), nil).Once()
	require.NoError(t, h.service.RunCycle(context.Background()))
	assert.Empty(t, h.notifier.Messages())

	// Cycle 2: stale, reboot issued and stale transition notified
	h.clock.Advance(5 * time.Minute)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(fix(20*time.Minute, h.clock.Now()), nil).Once()
	h.api.On("Reboot", mock.Anything, "tok", "SN-1").Return(nil).Once()
	require.NoError(t, h.service.RunCycle(context.Background()))

	record := h.store.Get("SN-1")
	require.NotNil(t, record.LastRebootAt)
	assert.True(t, h.clock.Now().Equal(*record.LastRebootAt))
	messages := h.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Ambulance 1 (SN-1): GPS stale")
	assert.Contains(t, messages[0], "Reboot command sent")

	// Cycle 3: still stale within cooldown, no reboot and no new notification
	h.clock.Advance(5 * time.Minute)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(fix(25*time.Minute, h.clock.Now()), nil).Once()
	require.NoError(t, h.service.RunCycle(context.Background()))
	h.api.AssertNumberOfCalls(t, "Reboot", 1)
	assert.Len(t, h.notifier.Messages(), 1)

	// Cycle 4: fresh again, recovery notified once
	h.clock.Advance(5 * time.Minute)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(fix(time.Minute, h.clock.Now()), nil).Twice()
	require.NoError(t, h.service.RunCycle(context.Background()))
	require.NoError(t, h.service.RunCycle(context.Background()))

	messages = h.notifier.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "Ambulance 1 (SN-1): GPS recovered.", messages[1])
	assert.Equal(t, constants.HealthFresh, h.store.Get("SN-1").Health)
	h.api.AssertExpectations(t)
}

func TestWatchdogService_AbsentGPSIsStale(t *testing.T) {
	h := newHarness([]models.Device{device1}, 1)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(nil, nil)
	h.api.On("Reboot", mock.Anything, "tok", "SN-1").Return(nil)

	require.NoError(t, h.service.RunCycle(context.Background()))

	h.api.AssertCalled(t, "Reboot", mock.Anything, "tok", "SN-1")
	messages := h.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "no GPS data")
}

func TestWatchdogService_InvalidTimestampIsStale(t *testing.T) {
	h := newHarness([]models.Device{device1}, 1)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(&incontrol.GPSRecord{Timestamp: "0000-00-00 00:00:00"}, nil)
	h.api.On("Reboot", mock.Anything, "tok", "SN-1").Return(nil)

	require.NoError(t, h.service.RunCycle(context.Background()))

	assert.Equal(t, constants.HealthStale, h.store.Get("SN-1").Health)
	h.api.AssertCalled(t, "Reboot", mock.Anything, "tok", "SN-1")
}

func TestWatchdogService_RebootFailureIsRetriedNextCycle(t *testing.T) {
	h := newHarness([]models.Device{device1}, 1)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(nil, nil)
	h.api.On("Reboot", mock.Anything, "tok", "SN-1").Return(&incontrol.APIError{Op: "reboot", Serial: "SN-1", StatusCode: 503}).Once()
	h.api.On("Reboot", mock.Anything, "tok", "SN-1").Return(nil).Once()

	require.NoError(t, h.service.RunCycle(context.Background()))
	assert.Nil(t, h.store.Get("SN-1").LastRebootAt)

	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.service.RunCycle(context.Background()))
	assert.NotNil(t, h.store.Get("SN-1").LastRebootAt)

	h.api.AssertNumberOfCalls(t, "Reboot", 2)
	messages := h.notifier.Messages()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], "Reboot command failed")
	assert.Contains(t, messages[1], "GPS still stale")
}

func TestWatchdogService_CooldownOnTransitionIsNotified(t *testing.T) {
	h := newHarness([]models.Device{device1}, 1)
	h.store.SetHealth("SN-1", constants.HealthFresh)
	h.store.SetLastReboot("SN-1", start.Add(-10*time.Minute))
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Return(fix(time.Hour, start), nil)

	require.NoError(t, h.service.RunCycle(context.Background()))

	h.api.AssertNotCalled(t, "Reboot", mock.Anything, mock.Anything, mock.Anything)
	messages := h.notifier.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "cooldown active for 20m0s")
}

func TestWatchdogService_ParallelPolling(t *testing.T) {
	devices := []models.Device{device1, device2, {Serial: "SN-3", Name: "Ambulance 3"}}
	h := newHarness(devices, 3)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", mock.Anything).Return(nil, nil)
	h.api.On("Reboot", mock.Anything, "tok", mock.Anything).Return(nil)

	require.NoError(t, h.service.RunCycle(context.Background()))

	h.api.AssertNumberOfCalls(t, "GetGPS", 3)
	h.api.AssertNumberOfCalls(t, "Reboot", 3)
	for _, d := range devices {
		assert.NotNil(t, h.store.Get(d.Serial).LastRebootAt, d.Serial)
	}
}

func TestWatchdogService_CanceledCycle(t *testing.T) {
	h := newHarness([]models.Device{device1, device2}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Run(func(mock.Arguments) { cancel() }).Return(fix(time.Minute, start), nil)

	err := h.service.RunCycle(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	h.api.AssertNotCalled(t, "GetGPS", mock.Anything, "tok", "SN-2")
}

func TestWatchdogService_StartStop(t *testing.T) {
	h := newHarness([]models.Device{device1}, 1)
	polled := make(chan struct{}, 1)
	h.credentials.On("Token", mock.Anything).Return("tok", nil)
	h.api.On("GetGPS", mock.Anything, "tok", "SN-1").Run(func(mock.Arguments) {
		select {
		case polled <- struct{}{}:
		default:
		}
	}).Return(fix(time.Minute, start), nil)

	require.NoError(t, h.service.Start())

	err := h.service.Start()
	assert.Error(t, err)
	assert.Equal(t, "watchdog service is already running", err.Error())

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run")
	}

	// The service is now sleeping for an hour; Stop must interrupt it
	stopped := make(chan error, 1)
	go func() { stopped <- h.service.Stop() }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the sleep")
	}

	err = h.service.Stop()
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not running"))
}

func TestWatchdogService_RunReportsFailedCycle(t *testing.T) {
	var logs bytes.Buffer
	h := newHarnessWithLogger([]models.Device{device1}, 1, zerolog.New(&logs))
	attempted := make(chan struct{}, 1)
	h.credentials.On("Token", mock.Anything).Run(func(mock.Arguments) {
		select {
		case attempted <- struct{}{}:
		default:
		}
	}).Return("", &incontrol.AuthError{StatusCode: 401, Err: errors.New("invalid_client")})

	require.NoError(t, h.service.Start())
	select {
	case <-attempted:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run")
	}
	require.NoError(t, h.service.Stop())

	// Stop waits for the loop to exit, so the buffer is no longer written to
	assert.Contains(t, logs.String(), `"message":"Poll cycle failed"`)
	assert.Contains(t, logs.String(), `"retry_in"`)
}

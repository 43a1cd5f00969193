package service_registry

import (
	"errors"
	"testing"

	"github.com/benmeehan/gps-watchdog/internal/utils"
	"github.com/benmeehan/gps-watchdog/tests/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string
}

func (f *fakeService) Start() error {
	*f.events = append(*f.events, "start "+f.name)
	return f.startErr
}

func (f *fakeService) Stop() error {
	*f.events = append(*f.events, "stop "+f.name)
	return f.stopErr
}

func TestServiceRegistry_StartStopOrder(t *testing.T) {
	var events []string
	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("a", &fakeService{name: "a", events: &events})
	sr.RegisterService("b", &fakeService{name: "b", events: &events})
	sr.RegisterService("a", &fakeService{name: "dup", events: &events})

	assert.Equal(t, []string{"a", "b"}, sr.Services())
	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestServiceRegistry_StartFailureRollsBack(t *testing.T) {
	var events []string
	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("a", &fakeService{name: "a", events: &events})
	sr.RegisterService("b", &fakeService{name: "b", events: &events, startErr: errors.New("boom")})
	sr.RegisterService("c", &fakeService{name: "c", events: &events})

	err := sr.StartServices()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, events)
}

func TestServiceRegistry_StopErrorsAreJoined(t *testing.T) {
	var events []string
	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("a", &fakeService{name: "a", events: &events, stopErr: errors.New("a failed")})
	sr.RegisterService("b", &fakeService{name: "b", events: &events, stopErr: errors.New("b failed")})

	err := sr.StopServices()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop a")
	assert.Contains(t, err.Error(), "failed to stop b")
}

func testDependencies() Dependencies {
	return Dependencies{
		Credentials: new(mocks.MockCredentialProvider),
		DeviceAPI:   new(mocks.MockDeviceAPI),
	}
}

func TestRegisterServices(t *testing.T) {
	t.Run("watchdog only", func(t *testing.T) {
		sr := NewServiceRegistry(zerolog.Nop())
		require.NoError(t, sr.RegisterServices(&utils.Config{}, testDependencies()))
		assert.Equal(t, []string{"watchdog"}, sr.Services())
	})

	t.Run("metrics enabled", func(t *testing.T) {
		config := &utils.Config{}
		config.Metrics.Enabled = true
		config.Metrics.ListenAddress = "127.0.0.1:0"
		deps := testDependencies()
		deps.Gatherer = prometheus.NewRegistry()

		sr := NewServiceRegistry(zerolog.Nop())
		require.NoError(t, sr.RegisterServices(config, deps))
		assert.Equal(t, []string{"metrics", "watchdog"}, sr.Services())
	})

	t.Run("metrics without gatherer", func(t *testing.T) {
		config := &utils.Config{}
		config.Metrics.Enabled = true

		sr := NewServiceRegistry(zerolog.Nop())
		err := sr.RegisterServices(config, testDependencies())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics")
		assert.Empty(t, sr.Services())
	})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/benmeehan/gps-watchdog/internal/metrics"
	"github.com/benmeehan/gps-watchdog/internal/service_registry"
	"github.com/benmeehan/gps-watchdog/internal/utils"
	"github.com/benmeehan/gps-watchdog/pkg/clock"
	"github.com/benmeehan/gps-watchdog/pkg/file"
	"github.com/benmeehan/gps-watchdog/pkg/incontrol"
	"github.com/benmeehan/gps-watchdog/pkg/mqtt"
	"github.com/benmeehan/gps-watchdog/pkg/notify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", constants.DefaultConfigPath, "Path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	flag.Parse()

	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	if err := utils.LoadDotEnv(*envFile, fileClient); err != nil {
		logger.Fatal().Err(err).Str("path", *envFile).Msg("Failed to load env file")
	}

	// Load configuration from file and environment
	config, err := utils.LoadConfig(*configPath, fileClient, os.LookupEnv)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger = newLogger(config)

	mapping, err := incontrol.ResolveMapping(config.API.MappingVersion, incontrol.Mapping{
		GPSPath:        config.API.GPSPath,
		RebootPath:     config.API.RebootPath,
		TimestampField: config.API.TimestampField,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve API mapping")
	}
	logger.Info().
		Str("gps_path", mapping.GPSPath).
		Str("reboot_path", mapping.RebootPath).
		Str("timestamp_field", mapping.TimestampField).
		Msg("Using API mapping")

	httpClient := &http.Client{Timeout: config.API.RequestTimeout}

	credentials := incontrol.NewClientCredentialsProvider(
		config.API.TokenURL,
		config.API.ClientID,
		config.API.ClientSecret,
		config.API.CacheToken,
		httpClient,
		logger.With().Str("component", "credentials").Logger(),
	)
	deviceAPI := incontrol.NewClient(
		config.API.BaseURL,
		config.API.OrgID,
		mapping,
		httpClient,
		logger.With().Str("component", "incontrol").Logger(),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	watchdogMetrics := metrics.New(registry)

	// Initialize notification sinks; an unreachable broker only disables that sink
	var sinks []notify.Notifier
	if config.Notifier.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(config.Notifier.WebhookURL, httpClient))
	}

	var mqttClient *mqtt.MqttService
	if config.Notifier.MQTT.Enabled {
		clientID := config.Notifier.MQTT.ClientID + "-" + uuid.New().String()
		mqttClient = mqtt.NewMqttService(fileClient)
		err := mqttClient.Initialize(mqtt.Options{
			Broker:         config.Notifier.MQTT.Broker,
			ClientID:       clientID,
			Username:       config.Notifier.MQTT.Username,
			Password:       config.Notifier.MQTT.Password,
			CACertificate:  config.Notifier.MQTT.CACertificate,
			ConnectTimeout: config.API.RequestTimeout,
		})
		if err != nil {
			logger.Error().Err(err).Str("broker", config.Notifier.MQTT.Broker).Msg("Failed to connect MQTT notifier, continuing without it")
			mqttClient = nil
		} else {
			logger.Info().Str("client_id", clientID).Str("topic", config.Notifier.MQTT.Topic).Msg("MQTT notifier connected")
			sinks = append(sinks, notify.NewMQTTNotifier(mqttClient, config.Notifier.MQTT.Topic,
				config.Notifier.MQTT.QOS, config.Notifier.MQTT.PublishTimeout))
		}
	}

	dispatcher := notify.NewDispatcher(logger.With().Str("component", "notifier").Logger(), sinks...)
	dispatcher.OnResult(watchdogMetrics.ObserveNotification)
	if !dispatcher.Enabled() {
		logger.Info().Msg("No notifier configured, notifications disabled")
	}

	serviceRegistry := service_registry.NewServiceRegistry(logger)
	err = serviceRegistry.RegisterServices(config, service_registry.Dependencies{
		Credentials: credentials,
		DeviceAPI:   deviceAPI,
		Alerts:      dispatcher,
		Metrics:     watchdogMetrics,
		Gatherer:    registry,
		Clock:       clock.NewRealClock(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Int("devices", len(config.Devices)).Msg("GPS watchdog started")

	notifyCtx, cancel := context.WithTimeout(context.Background(), config.API.RequestTimeout)
	dispatcher.Notify(notifyCtx, fmt.Sprintf("GPS watchdog started, monitoring %d devices.", len(config.Devices)))
	cancel()

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stopCh

	logger.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}

func newLogger(config *utils.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if config.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsService exposes the Prometheus registry over HTTP at /metrics.
type MetricsService struct {
	listenAddress string
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewMetricsService creates a MetricsService serving gatherer on listenAddress.
func NewMetricsService(listenAddress string, gatherer prometheus.Gatherer, logger zerolog.Logger) *MetricsService {
	return &MetricsService{
		listenAddress: listenAddress,
		gatherer:      gatherer,
		logger:        logger,
	}
}

// Start binds the listener and serves in a separate goroutine.
func (m *MetricsService) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		m.logger.Warn().Msg("MetricsService is already running")
		return errors.New("metrics service is already running")
	}

	listener, err := net.Listen("tcp", m.listenAddress)
	if err != nil {
		m.logger.Error().Err(err).Str("address", m.listenAddress).Msg("Failed to bind metrics listener")
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.listener = listener

	server := m.server
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	m.logger.Info().Str("address", listener.Addr().String()).Msg("MetricsService started")
	return nil
}

// Stop shuts the HTTP server down.
func (m *MetricsService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		m.logger.Warn().Msg("MetricsService is not running")
		return errors.New("metrics service is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.server.Shutdown(ctx)
	m.wg.Wait()

	m.server = nil
	m.listener = nil
	m.logger.Info().Msg("MetricsService stopped")
	return err
}

// Addr returns the bound address while running.
func (m *MetricsService) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

package metrics

import (
	"time"

	"github.com/benmeehan/gps-watchdog/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gps_watchdog"

// Outcome labels for device polls.
const (
	PollFresh    = "fresh"
	PollStale    = "stale"
	PollAPIError = "api_error"
)

// Result labels for reboots and notifications.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultCooldown = "cooldown"
)

// Metrics holds the watchdog's Prometheus collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	devicePolls   *prometheus.CounterVec
	reboots       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	deviceHealth  *prometheus.GaugeVec
}

// New registers the watchdog collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Poll cycles by result (success, auth_error)",
			},
			[]string{"result"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of a full poll cycle in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		devicePolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_polls_total",
				Help:      "Device polls by outcome",
			},
			[]string{"serial", "outcome"},
		),
		reboots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reboots_total",
				Help:      "Reboot decisions by result (success, failure, cooldown)",
			},
			[]string{"serial", "result"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification deliveries by sink and result",
			},
			[]string{"sink", "result"},
		),
		deviceHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "device_healthy",
				Help:      "1 when the device's last GPS fix was fresh, 0 when stale",
			},
			[]string{"serial", "name"},
		),
	}
}

// ObserveCycle records the end of a poll cycle.
func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// ObservePoll records the outcome of one device poll.
func (m *Metrics) ObservePoll(serial, outcome string) {
	m.devicePolls.WithLabelValues(serial, outcome).Inc()
}

// ObserveReboot records a reboot attempt or a cooldown skip.
func (m *Metrics) ObserveReboot(serial, result string) {
	m.reboots.WithLabelValues(serial, result).Inc()
}

// ObserveNotification records one delivery attempt; matches notify.ResultFunc.
func (m *Metrics) ObserveNotification(sink string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.notifications.WithLabelValues(sink, result).Inc()
}

// SetHealth publishes the current health of a device.
func (m *Metrics) SetHealth(serial, name string, health constants.HealthState) {
	value := 0.0
	if health == constants.HealthFresh {
		value = 1
	}
	m.deviceHealth.WithLabelValues(serial, name).Set(value)
}

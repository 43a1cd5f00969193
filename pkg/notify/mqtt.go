package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benmeehan/gps-watchdog/pkg/mqtt"
)

// MQTTNotifier publishes alerts as JSON to an MQTT topic.
type MQTTNotifier struct {
	client  mqtt.MQTTClient
	topic   string
	qos     byte
	timeout time.Duration
	now     func() time.Time
}

type mqttAlert struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMQTTNotifier creates an MQTTNotifier publishing on topic.
func NewMQTTNotifier(client mqtt.MQTTClient, topic string, qos int, timeout time.Duration) *MQTTNotifier {
	return &MQTTNotifier{
		client:  client,
		topic:   topic,
		qos:     byte(qos),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the sink name used in logs and metrics.
func (m *MQTTNotifier) Name() string {
	return "mqtt"
}

// Send publishes message and waits for the broker acknowledgement up to the timeout
// or until ctx is done.
func (m *MQTTNotifier) Send(ctx context.Context, message string) error {
	payload, err := json.Marshal(mqttAlert{Message: message, Timestamp: m.now()})
	if err != nil {
		return &NotifyError{Sink: m.Name(), Err: err}
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return &NotifyError{Sink: m.Name(), Err: errors.New("publish timed out")}
	case <-ctx.Done():
		return &NotifyError{Sink: m.Name(), Err: ctx.Err()}
	}

	if err := token.Error(); err != nil {
		return &NotifyError{Sink: m.Name(), Err: err}
	}
	return nil
}

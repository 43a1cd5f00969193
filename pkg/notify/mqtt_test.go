package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benmeehan/gps-watchdog/pkg/notify"
	"github.com/benmeehan/gps-watchdog/tests/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMQTTNotifier_Send_Success(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "fleet/alerts", byte(1), false, mock.MatchedBy(func(payload []byte) bool {
		var msg map[string]any
		return json.Unmarshal(payload, &msg) == nil && msg["message"] == "rebooting"
	})).Return(mocks.NewCompletedToken(nil))

	n := notify.NewMQTTNotifier(client, "fleet/alerts", 1, time.Second)

	require.NoError(t, n.Send(context.Background(), "rebooting"))
	client.AssertExpectations(t)
}

func TestMQTTNotifier_Send_PublishError(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(mocks.NewCompletedToken(errors.New("not connected")))

	n := notify.NewMQTTNotifier(client, "fleet/alerts", 0, time.Second)

	err := n.Send(context.Background(), "rebooting")
	var notifyErr *notify.NotifyError
	require.True(t, errors.As(err, &notifyErr))
	assert.Equal(t, "mqtt", notifyErr.Sink)
}

func TestMQTTNotifier_Send_Timeout(t *testing.T) {
	pending := new(mocks.MockToken)
	pending.On("Done").Return((<-chan struct{})(make(chan struct{})))

	client := new(mocks.MockMQTTClient)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pending)

	n := notify.NewMQTTNotifier(client, "fleet/alerts", 0, 20*time.Millisecond)

	err := n.Send(context.Background(), "rebooting")
	assert.ErrorContains(t, err, "timed out")
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Name() string {
	return "mock"
}

func (m *MockNotifier) Send(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// Messages returns every message passed to Send, in order.
func (m *MockNotifier) Messages() []string {
	var out []string
	for _, call := range m.Calls {
		if call.Method == "Send" {
			out = append(out, call.Arguments.String(1))
		}
	}
	return out
}

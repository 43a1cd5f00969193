package mocks

import (
	"context"

	"github.com/benmeehan/gps-watchdog/pkg/incontrol"
	"github.com/stretchr/testify/mock"
)

// MockCredentialProvider is a mock implementation of incontrol.CredentialProvider
type MockCredentialProvider struct {
	mock.Mock
}

func (m *MockCredentialProvider) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockDeviceAPI mocks both incontrol.GPSQuerier and incontrol.Rebooter
type MockDeviceAPI struct {
	mock.Mock
}

func (m *MockDeviceAPI) GetGPS(ctx context.Context, token, serial string) (*incontrol.GPSRecord, error) {
	args := m.Called(ctx, token, serial)
	record, _ := args.Get(0).(*incontrol.GPSRecord)
	return record, args.Error(1)
}

func (m *MockDeviceAPI) Reboot(ctx context.Context, token, serial string) error {
	args := m.Called(ctx, token, serial)
	return args.Error(0)
}

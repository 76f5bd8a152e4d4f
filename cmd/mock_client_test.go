package cmd

import (
	"context"

	"github.com/stretchr/testify/mock"

	"firestige.xyz/netraffic/internal/command"
	"firestige.xyz/netraffic/internal/traffic"
)

// MockClient implements ClientInterface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) AddListener(ctx context.Context, params command.ListenerAddParams) (*command.ListenerAddResult, error) {
	args := m.Called(ctx, params)
	res, _ := args.Get(0).(*command.ListenerAddResult)
	return res, args.Error(1)
}

func (m *MockClient) RemoveListener(ctx context.Context, rule string, wait bool) (*command.SignalResult, error) {
	args := m.Called(ctx, rule, wait)
	res, _ := args.Get(0).(*command.SignalResult)
	return res, args.Error(1)
}

func (m *MockClient) SuspendListener(ctx context.Context, rule string) (*command.SignalResult, error) {
	args := m.Called(ctx, rule)
	res, _ := args.Get(0).(*command.SignalResult)
	return res, args.Error(1)
}

func (m *MockClient) ResumeListener(ctx context.Context, rule string) (*command.SignalResult, error) {
	args := m.Called(ctx, rule)
	res, _ := args.Get(0).(*command.SignalResult)
	return res, args.Error(1)
}

func (m *MockClient) Listeners(ctx context.Context) ([]traffic.ListenerInfo, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]traffic.ListenerInfo)
	return res, args.Error(1)
}

func (m *MockClient) Stats(ctx context.Context, params command.StatsParams) (map[string]traffic.Snapshot, error) {
	args := m.Called(ctx, params)
	res, _ := args.Get(0).(map[string]traffic.Snapshot)
	return res, args.Error(1)
}

func (m *MockClient) Status(ctx context.Context) (*command.StatusResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*command.StatusResult)
	return res, args.Error(1)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) ConfigReload(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

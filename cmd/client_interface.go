package cmd

import (
	"context"
	"time"

	"firestige.xyz/netraffic/internal/command"
	"firestige.xyz/netraffic/internal/traffic"
)

// ClientInterface is the daemon API the control commands use.
type ClientInterface interface {
	AddListener(ctx context.Context, params command.ListenerAddParams) (*command.ListenerAddResult, error)
	RemoveListener(ctx context.Context, rule string, wait bool) (*command.SignalResult, error)
	SuspendListener(ctx context.Context, rule string) (*command.SignalResult, error)
	ResumeListener(ctx context.Context, rule string) (*command.SignalResult, error)
	Listeners(ctx context.Context) ([]traffic.ListenerInfo, error)
	Stats(ctx context.Context, params command.StatsParams) (map[string]traffic.Snapshot, error)
	Status(ctx context.Context) (*command.StatusResult, error)
	Shutdown(ctx context.Context) error
	ConfigReload(ctx context.Context) error
}

var _ ClientInterface = (*command.UDSClient)(nil)

var cli ClientInterface

// GetClient returns the injected client or a UDS client on --socket.
func GetClient() ClientInterface {
	if cli == nil {
		return command.NewUDSClient(socketPath, 10*time.Second)
	}
	return cli
}

// SetClient replaces the client, nil restores the UDS default.
func SetClient(c ClientInterface) {
	cli = c
}

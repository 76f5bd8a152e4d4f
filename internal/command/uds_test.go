package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netraffic/internal/traffic"
)

func startServer(t *testing.T, reg Registry) (*UDSServer, string) {
	t.Helper()
	// Keep the path short: unix socket paths are limited to ~108 bytes.
	dir, err := os.MkdirTemp("", "nt")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "ctl.sock")

	server := NewUDSServer(socketPath, NewCommandHandler(reg, nil))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-server.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return server, socketPath
}

func TestUDSServerClient_Integration(t *testing.T) {
	reg := new(mockRegistry)
	reg.On("AddListener", mock.Anything, traffic.NewFilter("any", "port 53")).Return(nil)
	reg.On("SuspendListener", "port 53").Return(true)
	reg.On("GetData").Return(map[string]traffic.Snapshot{"port 53": {Total: 164, Len: 90}})
	reg.On("Listeners").Return([]traffic.ListenerInfo{
		{Filter: traffic.NewFilter("any", "port 53"), State: traffic.StateSuspended},
	})

	_, socketPath := startServer(t, reg)
	client := NewUDSClient(socketPath, 5*time.Second)
	ctx := context.Background()

	t.Run("listener_add", func(t *testing.T) {
		res, err := client.AddListener(ctx, ListenerAddParams{Device: "any", Rule: "port 53"})
		require.NoError(t, err)
		assert.Equal(t, "started", res.Status)
	})

	t.Run("listener_suspend", func(t *testing.T) {
		res, err := client.SuspendListener(ctx, "port 53")
		require.NoError(t, err)
		assert.True(t, res.Delivered)
	})

	t.Run("listener_list", func(t *testing.T) {
		infos, err := client.Listeners(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, traffic.StateSuspended, infos[0].State)
	})

	t.Run("stats_get", func(t *testing.T) {
		stats, err := client.Stats(ctx, StatsParams{Rule: "port 53"})
		require.NoError(t, err)
		assert.Equal(t, uint64(164), stats["port 53"].Total)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
	})

	t.Run("rpc error", func(t *testing.T) {
		_, err := client.Stats(ctx, StatsParams{Rule: "icmp"})
		var info *ErrorInfo
		require.True(t, errors.As(err, &info))
		assert.Equal(t, ErrCodeUnknownRule, info.Code)
	})

	t.Run("unknown_method", func(t *testing.T) {
		resp, err := client.Call(ctx, "task_list", nil)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	})
}

func TestUDSServer_MalformedRequests(t *testing.T) {
	_, socketPath := startServer(t, new(mockRegistry))

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewScanner(conn)
	send := func(line string) JSONRPCResponse {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		require.True(t, reader.Scan())
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal(reader.Bytes(), &resp))
		return resp
	}

	resp := send("{not json")
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)

	resp = send(`{"jsonrpc":"1.0","method":"daemon_status","id":7}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, float64(7), resp.ID)
}

func TestUDSServer_RemovesSocketOnStop(t *testing.T) {
	server, socketPath := startServer(t, new(mockRegistry))

	_, err := os.Stat(socketPath)
	require.NoError(t, err)

	require.NoError(t, server.Stop())
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))

	// Second stop is a no-op.
	assert.NoError(t, server.Stop())
}

func TestUDSClient_ConnectionError(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second)

	_, err := client.Call(context.Background(), "daemon_status", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestNewUDSClient_DefaultTimeout(t *testing.T) {
	client := NewUDSClient("/tmp/x.sock", 0)
	assert.Equal(t, 10*time.Second, client.timeout)
}

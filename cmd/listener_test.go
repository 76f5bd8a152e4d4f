package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/command"
	"firestige.xyz/netraffic/internal/traffic"
)

func TestRunListenerAdd(t *testing.T) {
	params := command.ListenerAddParams{Device: "eth0", Rule: "tcp port 80", Direction: "in"}

	mockClient := new(MockClient)
	mockClient.On("AddListener", mock.Anything, params).
		Return(&command.ListenerAddResult{Rule: "tcp port 80", Device: "eth0", Status: "started"}, nil)

	var buf bytes.Buffer
	require.NoError(t, runListenerAdd(context.Background(), mockClient, &buf, params))
	assert.Equal(t, "✓ Listener \"tcp port 80\" on eth0 started\n", buf.String())
	mockClient.AssertExpectations(t)
}

func TestRunListenerAdd_Error(t *testing.T) {
	params := command.ListenerAddParams{Device: "eth0", Rule: "tcp port 80"}
	rpcErr := &command.ErrorInfo{Code: command.ErrCodeDuplicateRule, Message: "duplicate rule"}

	mockClient := new(MockClient)
	mockClient.On("AddListener", mock.Anything, params).Return(nil, rpcErr)

	err := runListenerAdd(context.Background(), mockClient, &bytes.Buffer{}, params)
	require.Error(t, err)

	var info *command.ErrorInfo
	require.ErrorAs(t, err, &info)
	assert.Equal(t, command.ErrCodeDuplicateRule, info.Code)
}

func TestRunListenerRemove(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("RemoveListener", mock.Anything, "udp", true).
		Return(&command.SignalResult{Rule: "udp", Signal: "stop", Delivered: true}, nil)
	mockClient.On("RemoveListener", mock.Anything, "gone", false).
		Return(&command.SignalResult{Rule: "gone", Signal: "stop", Delivered: false}, nil)

	var buf bytes.Buffer
	require.NoError(t, runListenerRemove(context.Background(), mockClient, &buf, "udp", true))
	assert.Contains(t, buf.String(), `stop sent to "udp"`)

	err := runListenerRemove(context.Background(), mockClient, &buf, "gone", false)
	assert.ErrorContains(t, err, `stop not delivered to "gone"`)
	mockClient.AssertExpectations(t)
}

func TestRunListenerSignal(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("SuspendListener", mock.Anything, "udp").
		Return(&command.SignalResult{Rule: "udp", Signal: "suspend", Delivered: true}, nil)
	mockClient.On("ResumeListener", mock.Anything, "udp").
		Return(nil, errors.New("timeout"))

	var buf bytes.Buffer
	require.NoError(t, runListenerSignal(context.Background(), mockClient.SuspendListener, &buf, "udp"))
	assert.Contains(t, buf.String(), `suspend sent to "udp"`)

	err := runListenerSignal(context.Background(), mockClient.ResumeListener, &buf, "udp")
	assert.ErrorContains(t, err, "timeout")
	mockClient.AssertExpectations(t)
}

func TestRunListenerList(t *testing.T) {
	infos := []traffic.ListenerInfo{
		{Filter: traffic.Filter{Device: "eth0", Rule: "port 443", Direction: capture.DirectionIn, ImmediateMode: true}, State: traffic.StateRunning},
		{Filter: traffic.Filter{Device: "lo", Rule: "udp", Direction: capture.DirectionInOut}, State: traffic.StateSuspended},
	}
	mockClient := new(MockClient)
	mockClient.On("Listeners", mock.Anything).Return(infos, nil)

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runListenerList(context.Background(), mockClient, &buf, "table"))
		out := buf.String()
		assert.Contains(t, out, "RULE")
		assert.Regexp(t, `port 443\s+eth0\s+in\s+running`, out)
		assert.Regexp(t, `udp\s+lo\s+inout\s+suspended`, out)
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runListenerList(context.Background(), mockClient, &buf, "json"))
		assert.Contains(t, buf.String(), `"direction": "in"`)
		assert.Contains(t, buf.String(), `"state": "suspended"`)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runListenerList(context.Background(), mockClient, &buf, "yaml"))
		assert.Contains(t, buf.String(), "rule: port 443")
		assert.Contains(t, buf.String(), "state: running")
	})
}

func TestListenerAddCmd_RequiresDevice(t *testing.T) {
	SetClient(new(MockClient))
	defer SetClient(nil)

	root := &cobra.Command{Use: "netraffic", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(listenerCmd)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"listener", "add", "tcp"})

	err := root.Execute()
	assert.ErrorContains(t, err, `required flag(s) "device" not set`)
}

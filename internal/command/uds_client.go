package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"firestige.xyz/netraffic/internal/traffic"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// rawResponse keeps the result undecoded until the caller picks a type.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Call sends a command and waits for response. Result holds a json.RawMessage.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var raw rawResponse
	if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", raw.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     respID,
		Result: raw.Result,
		Error:  raw.Error,
	}, nil
}

// call runs method and decodes a successful result into out.
// A JSON-RPC error is returned as *ErrorInfo.
func (c *UDSClient) call(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// AddListener starts a listener on the daemon.
func (c *UDSClient) AddListener(ctx context.Context, params ListenerAddParams) (*ListenerAddResult, error) {
	var res ListenerAddResult
	if err := c.call(ctx, "listener_add", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RemoveListener stops a listener; with wait it returns after the worker exited.
func (c *UDSClient) RemoveListener(ctx context.Context, rule string, wait bool) (*SignalResult, error) {
	var res SignalResult
	if err := c.call(ctx, "listener_remove", RuleParams{Rule: rule, Wait: wait}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SuspendListener pauses a listener.
func (c *UDSClient) SuspendListener(ctx context.Context, rule string) (*SignalResult, error) {
	var res SignalResult
	if err := c.call(ctx, "listener_suspend", RuleParams{Rule: rule}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResumeListener resumes a suspended listener.
func (c *UDSClient) ResumeListener(ctx context.Context, rule string) (*SignalResult, error) {
	var res SignalResult
	if err := c.call(ctx, "listener_resume", RuleParams{Rule: rule}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Listeners lists every registered listener.
func (c *UDSClient) Listeners(ctx context.Context) ([]traffic.ListenerInfo, error) {
	var res ListenersResult
	if err := c.call(ctx, "listener_list", nil, &res); err != nil {
		return nil, err
	}
	return res.Listeners, nil
}

// Stats returns the published snapshots, optionally for a single rule.
func (c *UDSClient) Stats(ctx context.Context, params StatsParams) (map[string]traffic.Snapshot, error) {
	var res StatsResult
	if err := c.call(ctx, "stats_get", params, &res); err != nil {
		return nil, err
	}
	return res.Stats, nil
}

// Status returns the daemon status.
func (c *UDSClient) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.call(ctx, "daemon_status", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.call(ctx, "daemon_shutdown", nil, nil)
}

// ConfigReload asks the daemon to reload its configuration.
func (c *UDSClient) ConfigReload(ctx context.Context) error {
	return c.call(ctx, "config_reload", nil, nil)
}

// Ping checks that the daemon answers on the socket.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}

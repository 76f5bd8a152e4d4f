// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/netraffic/internal/capture"
	"firestige.xyz/netraffic/internal/traffic"
)

// Registry is the part of the traffic registry exposed over the control plane.
type Registry interface {
	AddListener(ctx context.Context, f traffic.Filter) error
	RemoveListener(rule string) bool
	RemoveListenerAndWait(ctx context.Context, rule string) error
	SuspendListener(rule string) bool
	ResumeListener(rule string) bool
	GetData() map[string]traffic.Snapshot
	TryGetData() (map[string]traffic.Snapshot, bool)
	Listeners() []traffic.ListenerInfo
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	registry       Registry
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      int64  // Unix timestamp of daemon start for uptime calc
	removeTimeout  time.Duration
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(r Registry, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		registry:       r,
		configReloader: reloader,
		startTime:      time.Now().Unix(),
		removeTimeout:  5 * time.Second,
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "listener_add", "stats_get"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// Decode unmarshals the result into v.
func (r *Response) Decode(v interface{}) error {
	raw, ok := r.Result.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		raw = data
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error

	ErrCodeStartupFailed = -32001 // Listener could not be started
	ErrCodeDuplicateRule = -32002 // Rule already owned by a live listener
	ErrCodeUnknownRule   = -32003 // Rule never registered
	ErrCodeStoreBusy     = -32004 // Non-blocking read hit a publishing worker
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "listener_add":
		return h.handleListenerAdd(ctx, cmd)
	case "listener_remove":
		return h.handleListenerRemove(ctx, cmd)
	case "listener_suspend":
		return h.handleSignal(cmd, traffic.SignalSuspend, h.registry.SuspendListener)
	case "listener_resume":
		return h.handleSignal(cmd, traffic.SignalResume, h.registry.ResumeListener)
	case "listener_list":
		return h.handleListenerList(cmd)
	case "stats_get":
		return h.handleStatsGet(cmd)
	case "config_reload":
		return h.handleConfigReload(cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(cmd)
	case "daemon_status":
		return h.handleDaemonStatus(cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    code,
			Message: msg,
		},
	}
}

func decodeParams(cmd Command, v interface{}) *Response {
	if len(cmd.Params) == 0 {
		resp := errorResponse(cmd.ID, ErrCodeInvalidParams, "missing params")
		return &resp
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		return &resp
	}
	return nil
}

// ListenerAddParams represents parameters for listener_add command.
type ListenerAddParams struct {
	Device        string `json:"device"`
	Rule          string `json:"rule"`
	Direction     string `json:"direction,omitempty"`      // inout | in | out
	ImmediateMode *bool  `json:"immediate_mode,omitempty"` // nil = true
}

// Filter converts the params into a traffic filter.
func (p ListenerAddParams) Filter() (traffic.Filter, error) {
	f := traffic.NewFilter(p.Device, p.Rule)
	dir, err := capture.ParseDirection(p.Direction)
	if err != nil {
		return f, err
	}
	f.Direction = dir
	if p.ImmediateMode != nil {
		f.ImmediateMode = *p.ImmediateMode
	}
	return f, f.Validate()
}

// ListenerAddResult is the result of listener_add.
type ListenerAddResult struct {
	Rule   string `json:"rule"`
	Device string `json:"device"`
	Status string `json:"status"`
}

func (h *CommandHandler) handleListenerAdd(ctx context.Context, cmd Command) Response {
	var params ListenerAddParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	f, err := params.Filter()
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if err := h.registry.AddListener(ctx, f); err != nil {
		var se *traffic.StartupError
		switch {
		case errors.Is(err, traffic.ErrDuplicateRule):
			return errorResponse(cmd.ID, ErrCodeDuplicateRule, err.Error())
		case errors.As(err, &se):
			return errorResponse(cmd.ID, ErrCodeStartupFailed, err.Error())
		default:
			return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("add listener failed: %v", err))
		}
	}

	return Response{
		ID:     cmd.ID,
		Result: ListenerAddResult{Rule: f.Rule, Device: f.Device, Status: "started"},
	}
}

// RuleParams addresses a listener by rule.
type RuleParams struct {
	Rule string `json:"rule"`
	Wait bool   `json:"wait,omitempty"` // listener_remove: wait for the worker to exit
}

// SignalResult is the result of listener_remove/suspend/resume.
type SignalResult struct {
	Rule      string `json:"rule"`
	Signal    string `json:"signal"`
	Delivered bool   `json:"delivered"`
}

func (h *CommandHandler) handleListenerRemove(ctx context.Context, cmd Command) Response {
	var params RuleParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}

	if !params.Wait {
		return h.signalResult(cmd, params.Rule, traffic.SignalStop, h.registry.RemoveListener(params.Rule))
	}

	ctx, cancel := context.WithTimeout(ctx, h.removeTimeout)
	defer cancel()
	if err := h.registry.RemoveListenerAndWait(ctx, params.Rule); err != nil {
		if errors.Is(err, traffic.ErrUnknownRule) {
			return errorResponse(cmd.ID, ErrCodeUnknownRule, err.Error())
		}
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("remove listener failed: %v", err))
	}
	return h.signalResult(cmd, params.Rule, traffic.SignalStop, true)
}

func (h *CommandHandler) handleSignal(cmd Command, sig traffic.Signal, send func(string) bool) Response {
	var params RuleParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	return h.signalResult(cmd, params.Rule, sig, send(params.Rule))
}

func (h *CommandHandler) signalResult(cmd Command, rule string, sig traffic.Signal, delivered bool) Response {
	return Response{
		ID: cmd.ID,
		Result: SignalResult{
			Rule:      rule,
			Signal:    sig.String(),
			Delivered: delivered,
		},
	}
}

// ListenersResult is the result of listener_list.
type ListenersResult struct {
	Listeners []traffic.ListenerInfo `json:"listeners"`
}

func (h *CommandHandler) handleListenerList(cmd Command) Response {
	return Response{
		ID:     cmd.ID,
		Result: ListenersResult{Listeners: h.registry.Listeners()},
	}
}

// StatsParams represents parameters for stats_get command.
type StatsParams struct {
	Rule        string `json:"rule,omitempty"`        // empty = all rules
	NonBlocking bool   `json:"nonblocking,omitempty"` // fail instead of waiting on a publish
}

// StatsResult is the result of stats_get.
type StatsResult struct {
	Stats map[string]traffic.Snapshot `json:"stats"`
}

func (h *CommandHandler) handleStatsGet(cmd Command) Response {
	var params StatsParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	var data map[string]traffic.Snapshot
	if params.NonBlocking {
		var ok bool
		data, ok = h.registry.TryGetData()
		if !ok {
			return errorResponse(cmd.ID, ErrCodeStoreBusy, "stats store busy, retry")
		}
	} else {
		data = h.registry.GetData()
	}

	if params.Rule != "" {
		snap, ok := data[params.Rule]
		if !ok {
			return errorResponse(cmd.ID, ErrCodeUnknownRule, fmt.Sprintf("no stats for rule %q", params.Rule))
		}
		data = map[string]traffic.Snapshot{params.Rule: snap}
	}

	return Response{
		ID:     cmd.ID,
		Result: StatsResult{Stats: data},
	}
}

func (h *CommandHandler) handleConfigReload(cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not configured")
	}

	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// StatusResult is the result of daemon_status.
type StatusResult struct {
	Status    string         `json:"status"`
	PID       int            `json:"pid"`
	UptimeSec int64          `json:"uptime_sec"`
	Listeners map[string]int `json:"listeners"` // count by state
}

func (h *CommandHandler) handleDaemonStatus(cmd Command) Response {
	counts := map[string]int{}
	for _, info := range h.registry.Listeners() {
		counts[info.State.String()]++
	}

	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Status:    "running",
			PID:       os.Getpid(),
			UptimeSec: time.Now().Unix() - h.startTime,
			Listeners: counts,
		},
	}
}

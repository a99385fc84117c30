package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/poolbridge/internal/coordinator"
)

// Command names accepted on {prefix}/command/{channel}.
const (
	CommandSetMode     = "set_mode"
	CommandSetSetpoint = "set_setpoint"
	CommandSetEffect   = "set_effect"
	CommandSync        = "sync"
	CommandCancel      = "cancel"
)

// CommandMessage is sent by a home-automation client to operate one channel.
// Topic: {prefix}/command/{channel}
type CommandMessage struct {
	// ID correlates the command with its acknowledgements. Generated when empty.
	ID string `json:"id"`

	// Command is one of set_mode, set_setpoint, set_effect, sync or cancel.
	Command string `json:"command"`

	// Mode is a mode label or code, for set_mode.
	Mode string `json:"mode,omitempty"`

	// Value is the setpoint or effect name, for set_setpoint and set_effect.
	Value Value `json:"value,omitempty"`

	// WaitForExecution overrides the configured default for set_mode.
	WaitForExecution *bool `json:"wait_for_execution,omitempty"`
}

// Value is a command argument that may arrive as a JSON string or number.
type Value string

// UnmarshalJSON accepts "28", 28 and 28.5 alike.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value must be a string or number: %w", err)
	}
	*v = Value(n.String())
	return nil
}

// Float parses the value as a number.
func (v Value) Float() (float64, error) {
	return strconv.ParseFloat(string(v), 64)
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was accepted and is being carried out.
	AckAccepted AckStatus = "accepted"

	// AckCompleted indicates the channel reached the requested state.
	AckCompleted AckStatus = "completed"

	// AckFailed indicates the command could not be carried out.
	AckFailed AckStatus = "failed"

	// AckCancelled indicates the command was superseded or cancelled.
	AckCancelled AckStatus = "cancelled"

	// AckTimeout indicates the channel never confirmed the requested state.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/{channel}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`

	// Transition is the reconciliation request, for set_mode.
	Transition *coordinator.TransitionView `json:"transition,omitempty"`

	// ActionNumber is the cloud's receipt, for commands sent as one action.
	ActionNumber int `json:"action_number,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "UNKNOWN_MODE", "POOL_NOT_CONNECTED").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownChannel    = "UNKNOWN_CHANNEL"
	ErrCodeUnknownMode       = "UNKNOWN_MODE"
	ErrCodeUnsupported       = "UNSUPPORTED"
	ErrCodeNotReady          = "NOT_READY"
	ErrCodePoolNotConnected  = "POOL_NOT_CONNECTED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeThrottled         = "THROTTLED"
	ErrCodeNoTransition      = "NO_TRANSITION"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ActionMessage requests one raw cloud action, bypassing reconciliation.
// Topic: {prefix}/action
type ActionMessage struct {
	ID               string `json:"id"`
	ActionCode       int    `json:"action_code"`
	DeviceNumber     int    `json:"device_number"`
	Value            string `json:"value"`
	WaitForExecution bool   `json:"wait_for_execution"`
}

// ActionResult reports what happened to a raw action.
// Topic: {prefix}/action/result
type ActionResult struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       AckStatus `json:"status"`
	ActionNumber int       `json:"action_number,omitempty"`
	Error        *AckError `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates fresh observations are arriving.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the service runs but pool data may be stale.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnavailable indicates upstream reads are failing repeatedly.
	HealthUnavailable HealthStatus = "unavailable"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: {prefix}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Status            HealthStatus `json:"status"`
	Reason            string       `json:"reason,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
	Version           string       `json:"version"`
	UptimeSeconds     int64        `json:"uptime_seconds"`
	PoolConnected     bool         `json:"pool_connected"`
	Fresh             bool         `json:"fresh"`
	LastFetch         *time.Time   `json:"last_fetch,omitempty"`
	ActiveTransitions int          `json:"active_transitions"`
}

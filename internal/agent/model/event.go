package model

import "github.com/cloudwego/eino/schema"

// EventType enumerates the node lifecycle and content events.
type EventType string

const (
	EventNodeStart    EventType = "node_start"
	EventContent      EventType = "content"
	EventNodeComplete EventType = "node_complete"
	EventNodeError    EventType = "node_error"
)

// Terminal reports whether the event closes a node's event sequence.
func (t EventType) Terminal() bool {
	return t == EventNodeComplete || t == EventNodeError
}

// Diagnostic codes attached to terminal events.
const (
	DiagnosticExtractionFailed = "extraction_failed"
	DiagnosticStateRejected    = "state_rejected"
	DiagnosticOutputMissing    = "output_missing"
	DiagnosticOutputRejected   = "output_rejected"
)

// Diagnostic is a non-fatal problem observed while executing a node.
type Diagnostic struct {
	Code       string `json:"code"`
	VariableID string `json:"variable_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
}

// EventError describes why a node or turn failed.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one item of the ordered event stream of a turn.
type Event struct {
	ID          string         `json:"id,omitempty"`
	Type        EventType      `json:"type"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type,omitempty"`
	Content     string         `json:"content,omitempty"`
	Timestamp   int64          `json:"timestamp"` // Unix milliseconds
	Error       *EventError    `json:"error,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`

	// ToolCalls are requested by the model and surfaced, never executed.
	ToolCalls []schema.ToolCall `json:"tool_calls,omitempty"`
}

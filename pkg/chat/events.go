// Package chat implements the streaming chat orchestrator: it drives a
// generation engine behind a circuit breaker and bounded retries, keeps
// conversation history in the session store, and emits a flat stream of
// wire-ready events.
package chat

import "net/http"

// ErrorCode is the machine-readable code attached to terminal error events.
type ErrorCode string

const (
	// ErrCodeCircuitOpen means the generation backend's breaker rejected
	// the request before any call was made.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeAIUnavailable means the generation backend failed and all
	// attempts were consumed (or the failure was not retryable).
	ErrCodeAIUnavailable ErrorCode = "AI_SERVICE_UNAVAILABLE"
	// ErrCodeSessionStoreUnavailable is reported by health endpoints when
	// the session store cannot be reached. Chat requests never surface it.
	ErrCodeSessionStoreUnavailable ErrorCode = "SESSION_STORE_UNAVAILABLE"
	// ErrCodeInternal covers unexpected failures with details withheld.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatus maps an error code to its HTTP-equivalent status for callers
// exposing these events over a web boundary.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeCircuitOpen, ErrCodeAIUnavailable, ErrCodeSessionStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// EventType discriminates StreamEvent payloads on the wire.
type EventType string

const (
	EventTypeText       EventType = "text"
	EventTypeTool       EventType = "tool"
	EventTypeToolResult EventType = "tool_result"
	EventTypeStatus     EventType = "status"
	EventTypeError      EventType = "error"
	EventTypeDone       EventType = "done"
)

// StreamEvent is one element of a chat response stream. Exactly one
// terminal event (done or error) ends every sequence.
type StreamEvent struct {
	Type       EventType      `json:"type"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	ErrorCode  ErrorCode      `json:"error_code,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// IsTerminal reports whether the event ends its stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventTypeDone || e.Type == EventTypeError
}

// TextEvent carries a chunk of generated text.
func TextEvent(content string) StreamEvent {
	return StreamEvent{Type: EventTypeText, Content: content}
}

// ToolEvent reports the start of a tool invocation.
func ToolEvent(name string, input map[string]any) StreamEvent {
	return StreamEvent{Type: EventTypeTool, ToolName: name, ToolInput: input}
}

// ToolResultEvent carries a tool's output.
func ToolResultEvent(name, output string) StreamEvent {
	return StreamEvent{Type: EventTypeToolResult, ToolName: name, ToolOutput: output}
}

// StatusEvent carries an operational notice such as a retry announcement.
func StatusEvent(message string) StreamEvent {
	return StreamEvent{Type: EventTypeStatus, Content: message}
}

// ErrorEvent terminates a stream with a typed failure.
func ErrorEvent(code ErrorCode, message string, details map[string]any) StreamEvent {
	return StreamEvent{Type: EventTypeError, Content: message, ErrorCode: code, Details: details}
}

// DoneEvent terminates a stream cleanly.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventTypeDone}
}

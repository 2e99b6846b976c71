// Package llm defines the generation engine boundary: a provider-neutral
// client interface, conversation messages, and the streamed event union.
package llm

import (
	"context"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is an instruction message that frames the conversation.
	RoleSystem Role = "system"
	// RoleUser is a message from the human user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the engine.
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request carries a prompt together with the ordered conversation history.
// History is owned by the caller: it is overwritten before generation when a
// stored session is restored, and read back after generation to persist the
// updated conversation.
//
//nolint:govet // value semantics preferred over pointer indirection
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response is the result of a non-streaming completion.
type Response struct {
	Content    string
	StopReason string // "end_turn", "max_tokens", etc., provider-reported
}

// EventKind discriminates streamed generation events.
type EventKind int

const (
	// EventText carries an incremental chunk of response text.
	EventText EventKind = iota
	// EventToolUse reports that the engine started a tool invocation.
	EventToolUse
	// EventToolResult carries the output of a completed tool invocation.
	EventToolResult
	// EventDone marks the clean end of a generation turn.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one element of a streamed generation sequence. A stream ends with
// either a single EventDone or a single event carrying a non-nil Err; no
// events follow a terminal one.
//
//nolint:govet // logical field grouping preferred over alignment
type Event struct {
	Kind       EventKind
	Text       string         // EventText
	ToolName   string         // EventToolUse, EventToolResult
	ToolInput  map[string]any // EventToolUse
	ToolOutput string         // EventToolResult
	Err        error          // terminal: the stream failed
}

// Client is the interface all generation engine providers implement.
type Client interface {
	// Complete generates a full response synchronously.
	Complete(ctx context.Context, req Request) (Response, error)

	// Stream generates a response as a lazy, finite, non-restartable
	// sequence of events. The returned channel is closed after the
	// terminal event. An error return means the stream could not be
	// established and no events were produced.
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// ModelName returns the provider's model identifier.
	ModelName() string
}

// NewRequest creates a request with default generation parameters.
func NewRequest(messages []Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

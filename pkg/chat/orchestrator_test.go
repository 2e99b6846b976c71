package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runsheet/pkg/llm"
	"runsheet/pkg/llm/llmerrors"
	"runsheet/pkg/resilience/circuit"
	"runsheet/pkg/session"
	"runsheet/pkg/telemetry"
)

func helloEvents() []llm.Event {
	return []llm.Event{
		{Kind: llm.EventText, Text: "hello"},
		{Kind: llm.EventDone},
	}
}

func newTestGateway(t *testing.T) *session.Gateway {
	t.Helper()
	store := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	gw := session.NewGateway(store, time.Hour)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func newTestOrchestrator(t *testing.T, engine llm.Client, breaker *circuit.Breaker) (*Orchestrator, *session.Gateway) {
	t.Helper()
	gw := newTestGateway(t)
	cfg := Config{MaxRetries: 3, RetryDelay: time.Millisecond}
	return New(engine, breaker, gw, nil, cfg), gw
}

// collect drains a stream and checks the terminal-event invariant: the
// sequence ends with exactly one terminal event.
func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	require.NotEmpty(t, out)
	for i, ev := range out {
		assert.Equal(t, i == len(out)-1, ev.IsTerminal(),
			"event %d (%s)", i, ev.Type)
	}
	return out
}

func eventTypes(events []StreamEvent) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestStreamChatSuccess(t *testing.T) {
	engine := llm.NewMockStreamClient([][]llm.Event{helloEvents()}, nil)
	orch, gw := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))

	events := collect(t, orch.StreamChat(context.Background(), "sess-1", "hi", ModeChat))
	assert.Equal(t, []EventType{EventTypeText, EventTypeDone}, eventTypes(events))
	assert.Equal(t, "hello", events[0].Content)

	// The exchange is persisted with the mode-prefixed user turn.
	conv, err := gw.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "[Mode: CHAT] hi", conv.Messages[0].Content)
	assert.Equal(t, llm.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "hello", conv.Messages[1].Content)
}

func TestStreamChatHydratesHistory(t *testing.T) {
	engine := llm.NewMockStreamClient([][]llm.Event{helloEvents()}, nil)
	orch, gw := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))
	ctx := context.Background()

	prior := []llm.Message{
		llm.NewUserMessage("[Mode: CHAT] earlier"),
		llm.NewAssistantMessage("earlier answer"),
	}
	require.NoError(t, gw.Save(ctx, "sess-1", prior))

	collect(t, orch.StreamChat(ctx, "sess-1", "hi", ModeChat))

	conv, err := gw.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "earlier", conv.Messages[0].Content[len("[Mode: CHAT] "):])
}

// Three consecutive failures open the circuit; the next request is
// rejected up front without reaching the engine.
func TestStreamChatCircuitOpens(t *testing.T) {
	transient := llmerrors.New(llmerrors.ErrorTypeTransient, "connection closed")
	engine := llm.NewMockStreamClient(nil, []error{transient, transient, transient})
	breaker := circuit.New("llm", circuit.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		HalfOpenMaxCalls: 1,
	})
	orch, _ := newTestOrchestrator(t, engine, breaker)
	ctx := context.Background()

	events := collect(t, orch.StreamChat(ctx, "", "hi", ModeChat))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventTypeError, last.Type)
	assert.Equal(t, ErrCodeCircuitOpen, last.ErrorCode)
	assert.Equal(t, "llm", last.Details["circuit_name"])
	assert.Equal(t, 3, engine.Calls())
	assert.Equal(t, circuit.Open, breaker.State())

	// Fourth request fails fast; the engine is never invoked.
	events = collect(t, orch.StreamChat(ctx, "", "hi", ModeChat))
	require.Len(t, events, 1)
	assert.Equal(t, ErrCodeCircuitOpen, events[0].ErrorCode)
	assert.NotZero(t, events[0].Details["time_until_retry_seconds"])
	assert.Equal(t, 3, engine.Calls())
}

// Two transient failures then success: two retry notices, then the
// normal text and done events, and the session is persisted.
func TestStreamChatRetriesThenSucceeds(t *testing.T) {
	transient := llmerrors.New(llmerrors.ErrorTypeTransient, "timeout")
	engine := llm.NewMockStreamClient(
		[][]llm.Event{helloEvents()},
		[]error{transient, transient, nil},
	)
	orch, gw := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))
	ctx := context.Background()

	events := collect(t, orch.StreamChat(ctx, "sess-1", "hi", ModeChat))
	assert.Equal(t, []EventType{
		EventTypeStatus, EventTypeStatus, EventTypeText, EventTypeDone,
	}, eventTypes(events))
	assert.Equal(t, "retrying, attempt 2/3", events[0].Content)
	assert.Equal(t, "retrying, attempt 3/3", events[1].Content)
	assert.Equal(t, 3, engine.Calls())

	// A successful trial resets the breaker accounting.
	assert.Equal(t, 0, orch.breaker.FailureCount())

	conv, err := gw.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

// A permanent failure is never retried: one terminal error, one breaker
// failure.
func TestStreamChatPermanentErrorNoRetry(t *testing.T) {
	auth := llmerrors.New(llmerrors.ErrorTypeAuth, "invalid api key")
	engine := llm.NewMockStreamClient(nil, []error{auth})
	breaker := circuit.New("llm", circuit.DefaultConfig)
	orch, _ := newTestOrchestrator(t, engine, breaker)

	events := collect(t, orch.StreamChat(context.Background(), "", "hi", ModeChat))
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Equal(t, ErrCodeAIUnavailable, events[0].ErrorCode)
	assert.Contains(t, events[0].Content, "invalid api key")
	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, 1, breaker.FailureCount())
}

func TestStreamChatPermanentErrorTripsBreakerQuietly(t *testing.T) {
	auth := llmerrors.New(llmerrors.ErrorTypeAuth, "invalid api key")
	engine := llm.NewMockStreamClient(nil, []error{auth})
	breaker := circuit.New("llm", circuit.Config{FailureThreshold: 1})
	orch, _ := newTestOrchestrator(t, engine, breaker)

	events := collect(t, orch.StreamChat(context.Background(), "", "hi", ModeChat))
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeError, events[0].Type)
	assert.Equal(t, ErrCodeAIUnavailable, events[0].ErrorCode)
	assert.Equal(t, circuit.Open, breaker.State())
}

func TestStreamChatRetriesExhausted(t *testing.T) {
	transient := llmerrors.New(llmerrors.ErrorTypeRateLimit, "rate limited")
	engine := llm.NewMockStreamClient(nil, []error{transient, transient, transient})
	breaker := circuit.New("llm", circuit.Config{FailureThreshold: 10})
	orch, _ := newTestOrchestrator(t, engine, breaker)

	events := collect(t, orch.StreamChat(context.Background(), "", "hi", ModeChat))
	assert.Equal(t, []EventType{
		EventTypeStatus, EventTypeStatus, EventTypeError,
	}, eventTypes(events))
	assert.Equal(t, ErrCodeAIUnavailable, events[2].ErrorCode)
	assert.Equal(t, 3, engine.Calls())
}

// failingGetStore connects but errors on every read.
type failingGetStore struct {
	session.Store
}

func newFailingGetStore(t *testing.T) *failingGetStore {
	t.Helper()
	return &failingGetStore{Store: session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))}
}

func (f *failingGetStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, session.ErrUnavailable
}

// A session-store failure during hydrate degrades to an empty history;
// the caller still gets a clean exchange.
func TestStreamChatDegradesOnHydrateFailure(t *testing.T) {
	engine := llm.NewMockStreamClient([][]llm.Event{helloEvents()}, nil)
	gw := session.NewGateway(newFailingGetStore(t), time.Hour)
	t.Cleanup(func() { _ = gw.Close() })
	orch := New(engine, circuit.New("llm", circuit.DefaultConfig), gw, nil,
		Config{MaxRetries: 3, RetryDelay: time.Millisecond})

	events := collect(t, orch.StreamChat(context.Background(), "sess-1", "hi", ModeChat))
	assert.Equal(t, []EventType{EventTypeText, EventTypeDone}, eventTypes(events))
}

func TestStreamChatForwardsToolEvents(t *testing.T) {
	sequence := []llm.Event{
		{Kind: llm.EventText, Text: "let me check"},
		{Kind: llm.EventToolUse, ToolName: "lookup", ToolInput: map[string]any{"q": "weather"}},
		{Kind: llm.EventToolResult, ToolName: "lookup", ToolOutput: "sunny"},
		{Kind: llm.EventText, Text: " it is sunny"},
		{Kind: llm.EventDone},
	}
	engine := llm.NewMockStreamClient([][]llm.Event{sequence}, nil)
	orch, _ := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))

	events := collect(t, orch.StreamChat(context.Background(), "", "weather?", ModeAgent))
	assert.Equal(t, []EventType{
		EventTypeText, EventTypeTool, EventTypeToolResult, EventTypeText, EventTypeDone,
	}, eventTypes(events))
	assert.Equal(t, "lookup", events[1].ToolName)
	assert.Equal(t, map[string]any{"q": "weather"}, events[1].ToolInput)
	assert.Equal(t, "sunny", events[2].ToolOutput)
}

// A stream that fails mid-way after emitting text is retried; the
// consumer sees the partial output followed by a retry notice.
func TestStreamChatMidStreamFailureRetries(t *testing.T) {
	failing := []llm.Event{
		{Kind: llm.EventText, Text: "partial"},
		{Err: llmerrors.New(llmerrors.ErrorTypeTransient, "connection closed")},
	}
	engine := llm.NewMockStreamClient([][]llm.Event{failing, helloEvents()}, nil)
	orch, _ := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))

	events := collect(t, orch.StreamChat(context.Background(), "", "hi", ModeChat))
	assert.Equal(t, []EventType{
		EventTypeText, EventTypeStatus, EventTypeText, EventTypeDone,
	}, eventTypes(events))
	assert.Equal(t, 2, engine.Calls())
}

func TestChatFallback(t *testing.T) {
	engine := llm.NewMockClient([]llm.Response{{Content: "answer"}}, nil)
	orch, gw := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))
	ctx := context.Background()

	got, err := orch.ChatFallback(ctx, "sess-1", "question", ModeChat)
	require.NoError(t, err)
	assert.Equal(t, "answer", got)

	conv, err := gw.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestChatFallbackCircuitOpen(t *testing.T) {
	engine := llm.NewMockClient(nil, nil)
	breaker := circuit.New("llm", circuit.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	breaker.Record(false)
	orch, _ := newTestOrchestrator(t, engine, breaker)

	_, err := orch.ChatFallback(context.Background(), "", "hi", ModeChat)
	var cerr *circuit.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "llm", cerr.Name)
	assert.Equal(t, 0, engine.Calls())
}

func TestClearSession(t *testing.T) {
	engine := llm.NewMockStreamClient([][]llm.Event{helloEvents()}, nil)
	orch, gw := newTestOrchestrator(t, engine, circuit.New("llm", circuit.DefaultConfig))
	ctx := context.Background()

	collect(t, orch.StreamChat(ctx, "sess-1", "hi", ModeChat))
	require.NoError(t, orch.ClearSession(ctx, "sess-1"))

	conv, err := gw.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
}

func TestStreamEventWireFormat(t *testing.T) {
	marshal := func(ev StreamEvent) map[string]any {
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	m := marshal(TextEvent("hi"))
	assert.Equal(t, "text", m["type"])
	assert.Equal(t, "hi", m["content"])

	m = marshal(ToolEvent("lookup", map[string]any{"q": "x"}))
	assert.Equal(t, "tool", m["type"])
	assert.Equal(t, "lookup", m["tool_name"])
	assert.Equal(t, map[string]any{"q": "x"}, m["tool_input"])

	m = marshal(ToolResultEvent("lookup", "out"))
	assert.Equal(t, "tool_result", m["type"])
	assert.Equal(t, "out", m["tool_output"])

	m = marshal(StatusEvent("retrying, attempt 2/3"))
	assert.Equal(t, "status", m["type"])

	m = marshal(ErrorEvent(ErrCodeCircuitOpen, "open", map[string]any{"circuit_name": "llm"}))
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "CIRCUIT_OPEN", m["error_code"])

	m = marshal(DoneEvent())
	assert.Equal(t, map[string]any{"type": "done"}, m)
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	assert.Equal(t, 503, ErrCodeCircuitOpen.HTTPStatus())
	assert.Equal(t, 503, ErrCodeAIUnavailable.HTTPStatus())
	assert.Equal(t, 503, ErrCodeSessionStoreUnavailable.HTTPStatus())
	assert.Equal(t, 500, ErrCodeInternal.HTTPStatus())
}

func TestRecorderReceivesObservations(t *testing.T) {
	engine := llm.NewMockStreamClient([][]llm.Event{helloEvents()}, nil)
	gw := newTestGateway(t)
	rec := &captureRecorder{}
	orch := New(engine, circuit.New("llm", circuit.DefaultConfig), gw, rec,
		Config{MaxRetries: 3, RetryDelay: time.Millisecond})

	collect(t, orch.StreamChat(context.Background(), "", "hi", ModeChat))

	names := rec.names()
	assert.Contains(t, names, telemetry.MetricTimeToFirstTokenMs)
	assert.Contains(t, names, telemetry.MetricResponseTimeMs)
	assert.Contains(t, names, telemetry.MetricRequestsTotal)
}

type captureRecorder struct {
	recorded []string
}

func (c *captureRecorder) RecordMetric(name string, _ float64, _ map[string]string) {
	c.recorded = append(c.recorded, name)
}

func (c *captureRecorder) names() []string { return c.recorded }

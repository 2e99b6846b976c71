package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"runsheet/pkg/llm"
	"runsheet/pkg/llm/llmerrors"
	"runsheet/pkg/logx"
	"runsheet/pkg/resilience/circuit"
	"runsheet/pkg/session"
	"runsheet/pkg/telemetry"
)

// Mode selects how the inbound message is framed for the engine.
type Mode string

const (
	ModeChat  Mode = "CHAT"
	ModeAgent Mode = "AGENT"
)

// Prefix returns the routing prefix prepended to user messages.
func (m Mode) Prefix() string {
	return fmt.Sprintf("[Mode: %s] ", m)
}

// Config tunes the orchestrator's streaming attempt loop. The loop is
// deliberately separate from the retry executor: partial token output
// cannot be replayed, so the delay here grows linearly rather than
// exponentially.
type Config struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay" yaml:"retry_delay"`
	SystemPrompt string        `json:"system_prompt" yaml:"system_prompt"`
}

// DefaultConfig returns the standard attempt-loop settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Orchestrator drives streaming chat exchanges: it hydrates conversation
// history from the session store, guards the generation engine with a
// circuit breaker and a bounded attempt loop, and persists the updated
// history after a successful turn. Session-store failures never fail a
// request; only engine failures are surfaced.
type Orchestrator struct {
	engine   llm.Client
	breaker  *circuit.Breaker
	sessions *session.Gateway
	recorder telemetry.Recorder
	tokens   *telemetry.TokenCounter
	config   Config
	logger   *logx.Logger
}

// New creates an orchestrator. A nil recorder disables telemetry.
func New(engine llm.Client, breaker *circuit.Breaker, sessions *session.Gateway, recorder telemetry.Recorder, config Config) *Orchestrator {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultConfig().RetryDelay
	}
	if recorder == nil {
		recorder = telemetry.NopRecorder{}
	}

	counter, err := telemetry.NewTokenCounter(engine.ModelName())
	if err != nil {
		counter = nil
	}

	return &Orchestrator{
		engine:   engine,
		breaker:  breaker,
		sessions: sessions,
		recorder: recorder,
		tokens:   counter,
		config:   config,
		logger:   logx.NewLogger("chat"),
	}
}

// StreamChat runs one chat exchange and returns its event stream. The
// stream is finite, ends with exactly one terminal event, and is closed
// when the exchange finishes or ctx is cancelled.
func (o *Orchestrator) StreamChat(ctx context.Context, sessionID, message string, mode Mode) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		o.run(ctx, sessionID, message, mode, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, sessionID, message string, mode Mode, out chan<- StreamEvent) {
	history := o.hydrate(ctx, sessionID)

	if err := o.checkBreaker(); err != nil {
		o.recorder.RecordMetric(telemetry.MetricCircuitOpenTotal, 1,
			map[string]string{"breaker": o.breaker.Name()})
		o.emit(ctx, out, circuitOpenEvent(err))
		return
	}

	history = append(history, llm.NewUserMessage(mode.Prefix()+message))
	req := o.buildRequest(history)

	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		assistant, err := o.streamAttempt(ctx, req, out, mode)
		if err == nil {
			o.breaker.Record(true)
			history = append(history, llm.NewAssistantMessage(assistant))
			o.persist(ctx, sessionID, history)
			o.emit(ctx, out, DoneEvent())
			return
		}
		if ctx.Err() != nil {
			return
		}

		o.breaker.Record(false)
		retryable := llmerrors.IsRetryable(err)
		o.observeRequest(mode, "error", err)
		o.logger.Warn("generation attempt %d/%d failed (retryable=%t): %v",
			attempt, o.config.MaxRetries, retryable, err)

		if !retryable {
			o.emit(ctx, out, ErrorEvent(ErrCodeAIUnavailable,
				fmt.Sprintf("AI service error: %v", err), nil))
			return
		}
		if o.breaker.State() == circuit.Open {
			remaining, _ := o.breaker.TimeUntilRetry()
			o.emit(ctx, out, circuitOpenEvent(&circuit.Error{
				Name:           o.breaker.Name(),
				TimeUntilRetry: remaining,
			}))
			return
		}
		if attempt == o.config.MaxRetries {
			break
		}

		o.recorder.RecordMetric(telemetry.MetricRetriesTotal, 1, map[string]string{
			"model":  o.engine.ModelName(),
			"reason": llmerrors.TypeOf(err).String(),
		})
		o.emit(ctx, out, StatusEvent(
			fmt.Sprintf("retrying, attempt %d/%d", attempt+1, o.config.MaxRetries)))

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
		}
	}

	o.emit(ctx, out, ErrorEvent(ErrCodeAIUnavailable,
		"AI service unavailable after retries", nil))
}

// streamAttempt runs one engine call, forwarding events as they arrive.
// Returns the accumulated assistant text on clean end of stream.
func (o *Orchestrator) streamAttempt(ctx context.Context, req llm.Request, out chan<- StreamEvent, mode Mode) (string, error) {
	start := time.Now()
	firstToken := time.Time{}

	events, err := o.engine.Stream(ctx, req)
	if err != nil {
		o.observeResponseTime(mode, start, "error")
		return "", err
	}

	var assistant strings.Builder
	for ev := range events {
		if ev.Err != nil {
			o.observeResponseTime(mode, start, "error")
			if assistant.Len() > 0 {
				o.logger.Warn("stream failed after partial output (%d bytes)", assistant.Len())
			}
			return "", ev.Err
		}
		switch ev.Kind {
		case llm.EventText:
			if firstToken.IsZero() {
				firstToken = time.Now()
				o.recorder.RecordMetric(telemetry.MetricTimeToFirstTokenMs,
					float64(firstToken.Sub(start).Milliseconds()), map[string]string{
						"model": o.engine.ModelName(),
						"mode":  string(mode),
					})
			}
			assistant.WriteString(ev.Text)
			if !o.emit(ctx, out, TextEvent(ev.Text)) {
				return "", ctx.Err()
			}
		case llm.EventToolUse:
			if !o.emit(ctx, out, ToolEvent(ev.ToolName, ev.ToolInput)) {
				return "", ctx.Err()
			}
		case llm.EventToolResult:
			if !o.emit(ctx, out, ToolResultEvent(ev.ToolName, ev.ToolOutput)) {
				return "", ctx.Err()
			}
		case llm.EventDone:
			o.observeResponseTime(mode, start, "success")
			o.observeRequest(mode, "success", nil)
			o.observeTokens(req, assistant.String())
			return assistant.String(), nil
		}
	}

	// Channel closed without a done event: the engine gave up mid-stream.
	o.observeResponseTime(mode, start, "error")
	return "", llmerrors.New(llmerrors.ErrorTypeTransient, "stream ended without completion")
}

// ChatFallback runs one non-streaming exchange. It shares the hydrate,
// breaker, and persist steps with StreamChat but has no attempt loop: a
// single engine failure is surfaced directly.
func (o *Orchestrator) ChatFallback(ctx context.Context, sessionID, message string, mode Mode) (string, error) {
	history := o.hydrate(ctx, sessionID)
	history = append(history, llm.NewUserMessage(mode.Prefix()+message))
	req := o.buildRequest(history)

	var resp llm.Response
	start := time.Now()
	err := o.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.engine.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		o.observeResponseTime(mode, start, "error")
		o.observeRequest(mode, "error", err)
		if cerr, ok := circuitError(err); ok {
			o.recorder.RecordMetric(telemetry.MetricCircuitOpenTotal, 1,
				map[string]string{"breaker": o.breaker.Name()})
			return "", cerr
		}
		return "", fmt.Errorf("generation failed: %w", err)
	}

	o.observeResponseTime(mode, start, "success")
	o.observeRequest(mode, "success", nil)
	o.observeTokens(req, resp.Content)
	history = append(history, llm.NewAssistantMessage(resp.Content))
	o.persist(ctx, sessionID, history)
	return resp.Content, nil
}

// ClearSession drops the stored conversation for a session id.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	return o.sessions.Clear(ctx, sessionID)
}

// hydrate loads prior history best-effort. Store failures degrade to an
// empty conversation and are only logged.
func (o *Orchestrator) hydrate(ctx context.Context, sessionID string) []llm.Message {
	if sessionID == "" {
		return nil
	}
	conv, err := o.sessions.Load(ctx, sessionID)
	if err != nil {
		o.logger.Warn("session hydrate failed for %s, continuing without history: %v", sessionID, err)
		return nil
	}
	return conv.Messages
}

// persist saves the conversation best-effort. Store failures are logged,
// never surfaced.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, history []llm.Message) {
	if sessionID == "" {
		return
	}
	if err := o.sessions.Save(ctx, sessionID, history); err != nil {
		o.logger.Warn("session persist failed for %s: %v", sessionID, err)
	}
}

func (o *Orchestrator) buildRequest(history []llm.Message) llm.Request {
	var messages []llm.Message
	if o.config.SystemPrompt != "" {
		messages = append(messages, llm.NewSystemMessage(o.config.SystemPrompt))
	}
	messages = append(messages, history...)
	return llm.NewRequest(messages)
}

// checkBreaker is the pre-flight guard: it reads breaker state without
// consuming a half-open trial slot.
func (o *Orchestrator) checkBreaker() *circuit.Error {
	if err := o.breaker.Check(); err != nil {
		if cerr, ok := circuitError(err); ok {
			return cerr
		}
		return &circuit.Error{Name: o.breaker.Name()}
	}
	return nil
}

// emit forwards an event; returns false if ctx is done.
func (o *Orchestrator) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) observeResponseTime(mode Mode, start time.Time, status string) {
	o.recorder.RecordMetric(telemetry.MetricResponseTimeMs,
		float64(time.Since(start).Milliseconds()), map[string]string{
			"model":  o.engine.ModelName(),
			"mode":   string(mode),
			"status": status,
		})
}

func (o *Orchestrator) observeRequest(mode Mode, status string, err error) {
	errType := ""
	if err != nil {
		errType = llmerrors.TypeOf(err).String()
	}
	o.recorder.RecordMetric(telemetry.MetricRequestsTotal, 1, map[string]string{
		"model":      o.engine.ModelName(),
		"mode":       string(mode),
		"status":     status,
		"error_type": errType,
	})
}

func (o *Orchestrator) observeTokens(req llm.Request, completion string) {
	if o.tokens == nil {
		return
	}
	var prompt strings.Builder
	for _, msg := range req.Messages {
		prompt.WriteString(msg.Content)
	}
	model := o.engine.ModelName()
	o.recorder.RecordMetric(telemetry.MetricTokensTotal,
		float64(o.tokens.CountTokens(prompt.String())),
		map[string]string{"model": model, "type": "prompt"})
	o.recorder.RecordMetric(telemetry.MetricTokensTotal,
		float64(o.tokens.CountTokens(completion)),
		map[string]string{"model": model, "type": "completion"})
}

func circuitOpenEvent(err *circuit.Error) StreamEvent {
	details := map[string]any{"circuit_name": err.Name}
	if err.TimeUntilRetry > 0 {
		details["time_until_retry_seconds"] = int(err.TimeUntilRetry.Seconds())
	}
	return ErrorEvent(ErrCodeCircuitOpen, err.Error(), details)
}

func circuitError(err error) (*circuit.Error, bool) {
	var cerr *circuit.Error
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

// Package ollama implements the generation client for a local Ollama
// server via its official API package.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"runsheet/pkg/llm"
	"runsheet/pkg/llm/llmerrors"
)

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
}

// New creates an Ollama client. An unparseable host URL falls back to
// the local default.
func New(hostURL, model string) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string {
	return c.model
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	stream := false
	chatReq := c.buildRequest(req, &stream)

	var response api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}

	return llm.Response{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}, nil
}

// Stream implements llm.Client. The Ollama API delivers chunks through a
// callback; each one is forwarded as a text event.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	stream := true
	chatReq := c.buildRequest(req, &stream)

	ch := make(chan llm.Event, 16)
	go func() {
		defer close(ch)

		emit := func(ev llm.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !emit(llm.Event{Kind: llm.EventText, Text: resp.Message.Content}) {
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			emit(llm.Event{Err: classifyError(err)})
			return
		}
		emit(llm.Event{Kind: llm.EventDone})
	}()
	return ch, nil
}

func (c *Client) buildRequest(req llm.Request, stream *bool) *api.ChatRequest {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
}

// stopReason converts Ollama's done_reason to the provider-neutral form.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to structured error types. The
// local-server failure modes differ enough from hosted APIs to warrant
// their own checks before the generic classifier.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.New(llmerrors.ErrorTypeTransient,
			fmt.Sprintf("ollama server not reachable: %v", err))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.New(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("ollama model not found: %v", err))
	default:
		return llmerrors.Classify(err)
	}
}

var _ llm.Client = (*Client)(nil)

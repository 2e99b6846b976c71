// Package anthropic implements the generation client for Anthropic Claude
// via the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"runsheet/pkg/llm"
	"runsheet/pkg/llm/llmerrors"
)

// Client wraps the Anthropic API client to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude client for the given model.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string {
	return string(c.model)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	message, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}

	return llm.Response{
		Content:    content.String(),
		StopReason: string(message.StopReason),
	}, nil
}

// Stream implements llm.Client. Tool-use input JSON is accumulated across
// deltas and emitted as one event when its content block closes.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))

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

		var toolName string
		var toolJSON strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					toolName = block.Name
					toolJSON.Reset()
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						if !emit(llm.Event{Kind: llm.EventText, Text: delta.Text}) {
							return
						}
					}
				case anthropic.InputJSONDelta:
					toolJSON.WriteString(delta.PartialJSON)
				}
			case anthropic.ContentBlockStopEvent:
				if toolName != "" {
					var input map[string]any
					_ = json.Unmarshal([]byte(toolJSON.String()), &input)
					ok := emit(llm.Event{
						Kind:      llm.EventToolUse,
						ToolName:  toolName,
						ToolInput: input,
					})
					toolName = ""
					if !ok {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			emit(llm.Event{Err: llmerrors.Classify(err)})
			return
		}
		emit(llm.Event{Kind: llm.EventDone})
	}()
	return ch, nil
}

// buildParams converts a request to Anthropic message params, extracting
// system messages into the system parameter.
func (c *Client) buildParams(req llm.Request) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	var system strings.Builder

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system.WriteString(msg.Content)
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Text: system.String()}}
	}
	return params
}

var _ llm.Client = (*Client)(nil)

// Package openai implements the generation client for OpenAI-compatible
// chat completion APIs via the official SDK.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"runsheet/pkg/llm"
	"runsheet/pkg/llm/llmerrors"
)

// Client wraps the OpenAI API client to implement llm.Client. A custom
// base URL points it at any OpenAI-compatible endpoint.
type Client struct {
	client openai.Client
	model  string
}

// New creates an OpenAI client for the given model. baseURL may be empty.
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string {
	return c.model
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeTransient, "empty completion response")
	}
	choice := resp.Choices[0]
	return llm.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))

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

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !emit(llm.Event{Kind: llm.EventText, Text: content}) {
					return
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

func (c *Client) buildParams(req llm.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
		Temperature:         openai.Float(float64(req.Temperature)),
	}
}

var _ llm.Client = (*Client)(nil)

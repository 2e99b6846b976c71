// Package google implements the generation client for Gemini via the
// google.golang.org/genai SDK.
package google

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"runsheet/pkg/llm"
	"runsheet/pkg/llm/llmerrors"
)

// Client wraps the genai client to implement llm.Client.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini client for the given model.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string {
	return c.model
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	contents, config := c.convert(req)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}

	stopReason := ""
	if len(resp.Candidates) > 0 {
		stopReason = string(resp.Candidates[0].FinishReason)
	}
	return llm.Response{Content: resp.Text(), StopReason: stopReason}, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	contents, config := c.convert(req)

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

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
			if err != nil {
				emit(llm.Event{Err: llmerrors.Classify(err)})
				return
			}
			if text := resp.Text(); text != "" {
				if !emit(llm.Event{Kind: llm.EventText, Text: text}) {
					return
				}
			}
		}
		emit(llm.Event{Kind: llm.EventDone})
	}()
	return ch, nil
}

// convert maps a request to Gemini contents, extracting system messages
// into the system instruction.
func (c *Client) convert(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var system strings.Builder

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system.WriteString(msg.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system.Len() > 0 {
		config.SystemInstruction = genai.NewContentFromText(system.String(), genai.RoleUser)
	}
	return contents, config
}

var _ llm.Client = (*Client)(nil)

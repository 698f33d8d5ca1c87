// Package openai implements the LLM Completion Service contract
// (internal/completion) against OpenAI-compatible chat completion
// endpoints via sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pocketomega/loco/internal/completion"
	"github.com/pocketomega/loco/internal/conversation"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements completion.Service against an OpenAI-compatible API.
type Client struct {
	client *openailib.Client
	config *Config
}

// NewClient constructs a Client from config.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	clientConfig.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv builds a Client using NewConfigFromEnv.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

// Stream implements completion.Service. It submits req, merges streamed
// text deltas and tool-call fragments (by the provider's per-stream
// index), and returns the finalized Result once the stream ends. Retry
// with exponential backoff is delegated to completion.Retry; only the
// inner single-attempt call is classified here.
func (c *Client) Stream(ctx context.Context, req completion.Request, onEvent func(completion.Event)) (completion.Result, error) {
	var result completion.Result

	err := completion.Retry(ctx, func() error {
		r, err := c.streamOnce(ctx, req, onEvent)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return completion.Result{}, err
	}
	return result, nil
}

func (c *Client) streamOnce(ctx context.Context, req completion.Request, onEvent func(completion.Event)) (completion.Result, error) {
	openaiReq, err := c.buildRequest(req)
	if err != nil {
		return completion.Result{}, err
	}
	openaiReq.Stream = true
	openaiReq.StreamOptions = &openailib.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return completion.Result{}, classifyErr(err)
	}
	defer stream.Close()

	var textBuilder []byte
	fragments := make(map[int]*completion.ToolCallFragment)
	var fragmentOrder []int
	var usage conversation.UsageStats

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return completion.Result{}, classifyErr(err)
		}

		if chunk.Usage != nil {
			usage = conversation.UsageStats{
				Model:        c.config.Model,
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				Timestamp:    time.Now(),
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			textBuilder = append(textBuilder, delta.Content...)
			if onEvent != nil {
				onEvent(completion.Event{Kind: completion.EventTextDelta, Text: delta.Content})
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			f, ok := fragments[idx]
			if !ok {
				f = &completion.ToolCallFragment{Index: idx}
				fragments[idx] = f
				fragmentOrder = append(fragmentOrder, idx)
			}
			if tc.ID != "" {
				f.ID = tc.ID
			}
			if tc.Function.Name != "" {
				f.Name = tc.Function.Name
			}
			f.ArgumentText += tc.Function.Arguments

			if onEvent != nil {
				onEvent(completion.Event{Kind: completion.EventToolCallFragment, ToolCall: *f})
			}
		}
	}

	if onEvent != nil && usage.Model != "" {
		onEvent(completion.Event{Kind: completion.EventUsage, Usage: usage})
	}

	var toolCalls []conversation.ToolCallRecord
	for _, idx := range fragmentOrder {
		f := fragments[idx]
		args := json.RawMessage(f.ArgumentText)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		toolCalls = append(toolCalls, conversation.ToolCallRecord{
			ID:        f.ID,
			Name:      f.Name,
			Arguments: args,
		})
	}

	return completion.Result{
		Text:      string(textBuilder),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

func (c *Client) buildRequest(req completion.Request) (openailib.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return openailib.ChatCompletionRequest{}, fmt.Errorf("completion: no messages to send")
	}

	var openaiMsgs []openailib.ChatCompletionMessage
	if req.System != "" {
		openaiMsgs = append(openaiMsgs, openailib.ChatCompletionMessage{
			Role:    openailib.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		m := openailib.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == conversation.RoleTool {
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.ToolName
		}
		if msg.Role == conversation.RoleAssistant && len(msg.ToolCalls) > 0 {
			tcs := make([]openailib.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				tcs[i] = openailib.ToolCall{
					ID:   tc.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			m.ToolCalls = tcs
		}
		openaiMsgs = append(openaiMsgs, m)
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	openaiReq := openailib.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMsgs,
	}
	if c.config.Temperature != nil {
		openaiReq.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		openaiReq.MaxTokens = c.config.MaxTokens
	}

	if len(req.Tools) > 0 {
		tools := make([]openailib.Tool, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openailib.Tool{
				Type: openailib.ToolTypeFunction,
				Function: &openailib.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		openaiReq.Tools = tools
		openaiReq.ToolChoice = "auto"
	}

	return openaiReq, nil
}

// classifyErr wraps err in a *completion.ProviderError tagged with the
// failure class the retry policy needs. Network errors with no HTTP
// status (connection refused, DNS failure, timeout) classify as
// ConnectionFailed.
func classifyErr(err error) error {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &completion.ProviderError{Class: completion.FailureRateLimited, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &completion.ProviderError{Class: completion.FailureServiceUnavailable, Err: err}
		default:
			return &completion.ProviderError{Class: completion.FailureOther, Err: err}
		}
	}

	var reqErr *openailib.RequestError
	if errors.As(err, &reqErr) {
		return &completion.ProviderError{Class: completion.FailureConnectionFailed, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &completion.ProviderError{Class: completion.FailureOther, Err: err}
	}

	return &completion.ProviderError{Class: completion.FailureConnectionFailed, Err: err}
}

// GetName returns a human-readable provider identifier.
func (c *Client) GetName() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}

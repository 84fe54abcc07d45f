// Package openai implements llm.Client on top of the OpenAI Chat Completions
// API via github.com/openai/openai-go, one of the providers the engine can be
// configured to use (grounded on the teacher's features/model/openai
// adapter shape: a narrow ChatClient subset interface, NewFromAPIKey
// convenience constructor, tool encoding/response translation).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"n3n.dev/core/agent/llm"
	flowerrors "n3n.dev/core/flow/errors"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter, so
// tests can substitute a mock for the real client's Chat.Completions
// service.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements llm.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// Options configures a Client.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// New builds an OpenAI-backed llm.Client.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client,
// authenticated with apiKey via option.WithAPIKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: oc.Chat.Completions, DefaultModel: defaultModel})
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Text))
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(m.Text))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		params.Tools = tools
		if req.ForceTool != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ForceTool},
				},
			}
		}
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.Response{}, flowerrors.Transient("openai_complete_failed", "openai chat completion failed", err)
	}
	return translateResponse(resp), nil
}

// Stream reports that Chat Completions streaming is not wired for this
// adapter: the Intent Analyzer and Discovery Agent only need Complete.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Streamer, error) {
	return nil, errors.New("openai: streaming is not supported by this adapter")
}

func encodeTools(specs []llm.ToolSpec) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, s := range specs {
		var schema map[string]any
		if len(s.ParametersSchema) > 0 {
			if err := json.Unmarshal(s.ParametersSchema, &schema); err != nil {
				return nil, fmt.Errorf("openai: invalid tool schema for %q: %w", s.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) llm.Response {
	var out llm.Response
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Text = choice.Message.Content
		out.StopReason = string(choice.FinishReason)
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: tc.Function.Name, Arguments: args})
		}
	}
	out.Usage = llm.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	return out
}

// Package anthropic implements llm.Client on top of the Anthropic Claude
// Messages API, grounded on the teacher's features/model/anthropic adapter
// (MessagesClient subset interface, NewFromAPIKey convenience constructor,
// rate-limit error classification).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"n3n.dev/core/agent/llm"
	flowerrors "n3n.dev/core/flow/errors"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a mock for *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements llm.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// Options configures a Client.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// New builds an Anthropic-backed llm.Client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client,
// authenticated with apiKey via option.WithAPIKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return llm.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return llm.Response{}, flowerrors.RateLimited("anthropic_rate_limited", err.Error())
		}
		return llm.Response{}, flowerrors.Transient("anthropic_complete_failed", "anthropic messages.new failed", err)
	}
	return translateResponse(msg), nil
}

// Stream implements llm.Client. The adapter reuses Complete and replays the
// result as one text chunk (if any), one chunk per tool call, then stop,
// since the flow builder's intent/discovery paths only need the final
// structured result. It does not stream tokens from the provider.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Streamer, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &replayStreamer{resp: resp}, nil
}

func (c *Client) prepareRequest(req llm.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = m.Text
		case llm.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case llm.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
		if req.ForceTool != "" {
			params.ToolChoice = sdk.ToolChoiceParamOfTool(req.ForceTool)
		}
	}
	return &params, nil
}

func encodeTools(specs []llm.ToolSpec) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		var schema any
		if len(s.ParametersSchema) > 0 {
			if err := json.Unmarshal(s.ParametersSchema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool schema for %q: %w", s.Name, err)
			}
		}
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: schema,
		}, s.Name))
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) llm.Response {
	var resp llm.Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			var args map[string]any
			_ = json.Unmarshal(block.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{Name: block.Name, Arguments: args})
		}
	}
	resp.Usage = llm.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	resp.StopReason = string(msg.StopReason)
	return resp
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

// replayStreamer adapts a single Response into the Streamer interface: one
// text chunk (if any), one chunk per tool call, then stop.
type replayStreamer struct {
	resp   llm.Response
	idx    int
	closed bool
}

func (s *replayStreamer) Recv() (llm.Chunk, error) {
	if s.idx == 0 {
		s.idx++
		if s.resp.Text != "" {
			return llm.Chunk{Type: llm.ChunkText, Text: s.resp.Text}, nil
		}
	}
	if toolIdx := s.idx - 1; toolIdx < len(s.resp.ToolCalls) {
		s.idx++
		tc := s.resp.ToolCalls[toolIdx]
		return llm.Chunk{Type: llm.ChunkToolCall, ToolCall: &tc}, nil
	}
	if s.idx == len(s.resp.ToolCalls)+1 {
		s.idx++
		return llm.Chunk{Type: llm.ChunkStop, StopReason: s.resp.StopReason}, nil
	}
	return llm.Chunk{}, io.EOF
}

func (s *replayStreamer) Close() error {
	s.closed = true
	return nil
}

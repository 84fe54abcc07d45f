// Package bedrock implements llm.Client on top of the AWS Bedrock Converse
// API, grounded on the teacher's features/model/bedrock adapter (RuntimeClient
// subset interface, system/conversational message split, tool configuration
// encoding, response translation).
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"n3n.dev/core/agent/llm"
	flowerrors "n3n.dev/core/flow/errors"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs, matching *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements llm.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// Options configures a Client.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// New builds a Bedrock-backed llm.Client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{runtime: opts.Runtime, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Messages) == 0 {
		return llm.Response{}, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return llm.Response{}, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig := encodeTools(req.Tools, req.ForceTool); toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = float64(c.temperature)
	}
	if maxTokens > 0 || temp > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if maxTokens > 0 {
			cfg.MaxTokens = aws.Int32(int32(maxTokens))
		}
		if temp > 0 {
			cfg.Temperature = aws.Float32(float32(temp))
		}
		input.InferenceConfig = cfg
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.Response{}, flowerrors.Transient("bedrock_converse_failed", "bedrock converse failed", err)
	}
	return translateResponse(output), nil
}

// Stream reports that Bedrock ConverseStream is not wired for this adapter:
// Bedrock is reserved as a third provider option behind Anthropic/OpenAI and
// only needs to answer single-turn Complete calls for intent/discovery.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Streamer, error) {
	return nil, errors.New("bedrock: streaming is not supported by this adapter")
}

func encodeMessages(msgs []llm.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var out []brtypes.Message
	var system []brtypes.SystemContentBlock
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
		case llm.RoleUser:
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case llm.RoleAssistant:
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	return out, system, nil
}

func encodeTools(specs []llm.ToolSpec, forceTool string) *brtypes.ToolConfiguration {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, s := range specs {
		var schema map[string]any
		if len(s.ParametersSchema) > 0 {
			_ = json.Unmarshal(s.ParametersSchema, &schema)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(s.Name),
				Description: aws.String(s.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	cfg := &brtypes.ToolConfiguration{Tools: tools}
	if forceTool != "" {
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(forceTool)}}
	}
	return cfg
}

func translateResponse(output *bedrockruntime.ConverseOutput) llm.Response {
	var resp llm.Response
	msgOutput, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range msgOutput.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				var args map[string]any
				if raw, err := v.Value.Input.MarshalSmithyDocument(); err == nil {
					_ = json.Unmarshal(raw, &args)
				}
				resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{Name: aws.ToString(v.Value.Name), Arguments: args})
			}
		}
	}
	if output.Usage != nil {
		resp.Usage = llm.TokenUsage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp
}

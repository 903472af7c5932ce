package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
)

// ConverseClient is the subset of the Bedrock runtime client used by
// BedrockSampler, satisfied by *bedrockruntime.Client.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockSampler implements Sampler on top of the AWS Bedrock Converse API,
// demonstrating that the Sampler boundary is provider-agnostic: the turn
// driver never distinguishes an AnthropicSampler from a BedrockSampler.
type BedrockSampler struct {
	runtime      ConverseClient
	defaultModel string
	maxTokens    int32
	temperature  float32
}

// NewBedrockSampler builds a Sampler backed by the given Bedrock runtime
// client.
func NewBedrockSampler(runtime ConverseClient, defaultModel string, maxTokens int, temperature float64) (*BedrockSampler, error) {
	if runtime == nil {
		return nil, errors.New("model: bedrock runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("model: default model identifier is required")
	}
	return &BedrockSampler{
		runtime:      runtime,
		defaultModel: defaultModel,
		maxTokens:    int32(maxTokens),
		temperature:  float32(temperature),
	}, nil
}

// Sample implements Sampler.
func (b *BedrockSampler) Sample(ctx context.Context, req Request) (*Response, error) {
	input, err := b.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := b.runtime.Converse(ctx, input)
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("model: bedrock converse: %w", err)
	}
	return decodeConverseOutput(out), nil
}

func (b *BedrockSampler) encodeRequest(req Request) (*bedrockruntime.ConverseInput, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = b.defaultModel
	}

	messages, system, err := encodeBedrockMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
		System:   system,
	}

	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	temp := float32(req.Temperature)
	if temp == 0 {
		temp = b.temperature
	}
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(maxTokens)
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	input.InferenceConfig = cfg

	if tools := encodeBedrockTools(req.Tools); tools != nil {
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: tools}
	}
	return input, nil
}

func encodeBedrockMessages(msgs []Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	converted := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		if m.Role == RoleSystem {
			for _, p := range m.Parts {
				if t, ok := p.(TextPart); ok && t.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: t.Text})
				}
			}
			continue
		}

		var blocks []brtypes.ContentBlock
		for _, part := range m.Parts {
			switch v := part.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case ToolUsePart:
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(v.ID),
					Name:      aws.String(v.Name),
					Input:     lazyDocument(v.Input),
				}})
			case ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(v.ToolUseID),
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
					},
				}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case RoleUser:
			role = brtypes.ConversationRoleUser
		case RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("model: unsupported message role %q", m.Role)
		}
		converted = append(converted, brtypes.Message{Role: role, Content: blocks})
	}
	if len(converted) == 0 {
		return nil, nil, errors.New("model: at least one user/assistant message is required")
	}
	return converted, system, nil
}

func encodeBedrockTools(defs []ToolDefinition) []brtypes.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		out = append(out, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(schema)},
		}})
	}
	return out
}

func decodeConverseOutput(out *bedrockruntime.ConverseOutput) *Response {
	resp := &Response{}
	member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range member.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				resp.ToolCalls = append(resp.ToolCalls, ToolUseRequest{
					ID:    aws.ToString(v.Value.ToolUseId),
					Name:  aws.ToString(v.Value.Name),
					Input: decodeDocumentAsMap(v.Value.Input),
				})
			}
		}
	}
	resp.StopReason = string(out.StopReason)
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func decodeDocumentAsMap(doc document.Interface) map[string]any {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ThrottlingException"
	}
	return false
}

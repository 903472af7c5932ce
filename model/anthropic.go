package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient is the subset of the Anthropic SDK used by AnthropicSampler,
// satisfied by *sdk.MessageService so callers can substitute a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicSampler implements Sampler on top of the Anthropic Messages API.
type AnthropicSampler struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// NewAnthropicSampler builds a Sampler backed by the given Messages client.
func NewAnthropicSampler(msg MessagesClient, defaultModel string, maxTokens int, temperature float64) (*AnthropicSampler, error) {
	if msg == nil {
		return nil, errors.New("model: anthropic messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("model: default model identifier is required")
	}
	return &AnthropicSampler{msg: msg, defaultModel: defaultModel, maxTokens: maxTokens, temperature: temperature}, nil
}

// NewAnthropicSamplerFromAPIKey constructs a Sampler using the default
// Anthropic HTTP client configuration.
func NewAnthropicSamplerFromAPIKey(apiKey, defaultModel string, maxTokens int, temperature float64) (*AnthropicSampler, error) {
	if apiKey == "" {
		return nil, errors.New("model: anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicSampler(&client.Messages, defaultModel, maxTokens, temperature)
}

// Sample implements Sampler.
func (a *AnthropicSampler) Sample(ctx context.Context, req Request) (*Response, error) {
	params, err := a.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := a.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("model: anthropic messages.new: %w", err)
	}
	return decodeResponse(msg), nil
}

func (a *AnthropicSampler) encodeRequest(req Request) (*sdk.MessageNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens <= 0 {
		return nil, errors.New("model: max_tokens must be positive")
	}

	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	tools := encodeTools(req.Tools)

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	temp := req.Temperature
	if temp == 0 {
		temp = a.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	return params, nil
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m.Role == RoleSystem {
			for _, p := range m.Parts {
				if t, ok := p.(TextPart); ok && t.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: t.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case ToolUsePart:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			case ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("model: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("model: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var extra map[string]any
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &extra)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: extra}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func decodeResponse(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolUseRequest{
				ID:    block.ID,
				Name:  block.Name,
				Input: inputAsMap(block.Input),
			})
		}
	}
	u := msg.Usage
	resp.Usage = TokenUsage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  int(u.InputTokens + u.OutputTokens),
	}
	return resp
}

func inputAsMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

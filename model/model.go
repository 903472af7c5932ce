// Package model defines the opaque "model driver" capability boundary the
// turn driver samples against: Sampler abstracts over any concrete LLM
// backend so the turn algorithm (SPEC_FULL.md §4.1) never depends on a
// specific provider's wire format.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// Role is the conversational role of one Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one content block within a Message: TextPart, ToolUsePart, or
// ToolResultPart.
type Part interface{ isPart() }

// TextPart is a plain text content block.
type TextPart struct{ Text string }

func (TextPart) isPart() {}

// ToolUsePart records a tool invocation the assistant previously emitted,
// replayed back into the transcript on the next sampling round.
type ToolUsePart struct {
	ID    string
	Name  string
	Input map[string]any
}

func (ToolUsePart) isPart() {}

// ToolResultPart carries the outcome of a prior tool call back to the model.
type ToolResultPart struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultPart) isPart() {}

// Message is one turn of the accumulated transcript.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDefinition describes one tool the model may call, derived from the
// Compositor's namespaced tools/list.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolUseRequest is one tool call the model emitted in a sampling round.
type ToolUseRequest struct {
	ID    string
	Name  string
	Input map[string]any
}

// TokenUsage reports the sampling round's token accounting, when the
// backend provides it.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request is one sampling round's input: the accumulated transcript plus
// the tool namespace currently allowed.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is one sampling round's output: zero-or-more text parts and
// zero-or-more tool calls emitted in the same response.
type Response struct {
	Text       string
	ToolCalls  []ToolUseRequest
	StopReason string
	Usage      TokenUsage
}

// ErrRateLimited marks a transient, retriable sampling failure distinct
// from a fatal one; the turn driver's retry budget honors this marker.
var ErrRateLimited = errors.New("model: rate limited")

// Sampler is the opaque model driver capability: one synchronous sampling
// call per turn round, cancellable via ctx per the abort latch.
type Sampler interface {
	Sample(ctx context.Context, req Request) (*Response, error)
}

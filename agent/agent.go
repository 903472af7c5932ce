// Package agent implements the turn driver (SPEC_FULL.md §4.1): it drives a
// model.Sampler through a sequence of turns, dispatching every tool call
// through a Compositor, enforcing an abort latch, and supporting bootstrap
// synthetic tool calls issued before the model ever samples.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/model"
	"github.com/agentcore/runtime/toolerrors"
)

// Status is the coarse-grained lifecycle state of a run, matching
// SPEC_FULL.md §4.1's state machine:
// idle -> starting -> running -> (awaiting_approval <-> running)* -> (aborting ->)? (finished|failed) -> idle.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusStarting         Status = "starting"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusAborting         Status = "aborting"
	StatusFinished         Status = "finished"
	StatusFailed           Status = "failed"
)

// Compositor is the subset of compositor.Compositor the turn driver depends
// on, narrowed to an interface so tests can substitute a fake without
// constructing a real Cleanup Stack / Subscription Registry / Policy
// Middleware.
type Compositor interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, agentID ids.AgentID, callID ids.CallID, qualifiedName string, arguments map[string]any) (*mcp.CallToolResult, error)
}

// BootstrapCall is a synthetic tool call the driver issues before the first
// model sampling of a run, as if the model had emitted it. Its CallID is
// generated by the runtime rather than supplied by a model.
type BootstrapCall struct {
	Tool      string
	Arguments map[string]any
}

// Config bounds retry behavior for model-transient errors, per §4.1's
// failure semantics ("a small retry budget described by configuration
// recognized as {max_model_retries: int}").
type Config struct {
	MaxModelRetries int
	Bootstrap       []BootstrapCall
}

// Agent drives a single run at a time: send_prompt starts one, abort ends
// it early, close releases resources. SendPrompt checks the status under the
// Agent's own mutex, so a call made while a run is in flight returns ErrBusy
// instead of starting a second run.
type Agent struct {
	id         ids.AgentID
	sampler    model.Sampler
	compositor Compositor
	events     eventlog.Store
	logger     telemetry.Logger
	cfg        Config

	schemas *schemaValidator
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
	persist *eventlog.PersistenceHandler

	mu           sync.Mutex
	status       Status
	runID        ids.RunID
	turnID       ids.TurnID
	transcript   []model.Message
	bootstrapped bool

	abortFn context.CancelFunc
}

// Option configures optional Agent behavior beyond the required constructor
// arguments.
type Option func(*Agent)

// WithTracer wires a Tracer that spans every tool dispatch.
func WithTracer(t telemetry.Tracer) Option {
	return func(a *Agent) { a.tracer = t }
}

// WithMetrics wires a Metrics recorder for tool dispatch outcomes.
func WithMetrics(m telemetry.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithPersistenceHandler mirrors every appended event into a background
// persistence handler (§4.11's drain contract) in addition to the
// synchronous, authoritative append against events. Use this when events is
// a fast in-process log and a slower durable store should receive every
// event without the turn driver ever blocking on its I/O.
func WithPersistenceHandler(h *eventlog.PersistenceHandler) Option {
	return func(a *Agent) { a.persist = h }
}

// New constructs an idle Agent.
func New(id ids.AgentID, sampler model.Sampler, compositor Compositor, events eventlog.Store, logger telemetry.Logger, cfg Config, opts ...Option) *Agent {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	a := &Agent{
		id:         id,
		sampler:    sampler,
		compositor: compositor,
		events:     events,
		logger:     logger,
		cfg:        cfg,
		status:     StatusIdle,
		schemas:    newSchemaValidator(),
		tracer:     telemetry.NewNoopTracer(),
		metrics:    telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status returns the run's current lifecycle status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// RunID returns the identifier of the most recently started run, or "" if
// send_prompt has never been called.
func (a *Agent) RunID() ids.RunID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runID
}

func (a *Agent) appendEvent(ctx context.Context, typ eventlog.EventType, payload any) {
	if a.events == nil {
		return
	}
	if _, err := a.events.Append(ctx, a.runID, a.id, a.turnID, typ, payload); err != nil {
		a.logger.Warn(ctx, "agent: failed to append event", "agent_id", a.id, "run_id", a.runID, "type", typ, "error", err)
	}
	if a.persist != nil {
		a.persist.AppendAsync(ctx, a.runID, a.id, a.turnID, typ, payload)
	}
}

// normalizeArguments implements §4.1 step 5's "normalize arguments": if the
// model produced a JSON-encoded string, parse it into a map; if it already
// produced structured arguments, pass them through unchanged. A bare
// mapping is never something the model path emits directly for the raw
// wire value, so the only two shapes handled are string and map.
func normalizeArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		if v == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("agent: arguments are not valid JSON: %w", err)
		}
		return m, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("agent: unsupported arguments shape %T", raw)
	}
}

// toolErrorResult builds the ToolResultPart appended to the transcript when
// a tool call cannot be dispatched at all (validation failure, unknown
// tool, abort, policy denial).
func toolErrorResult(toolUseID string, err *toolerrors.ToolError) model.ToolResultPart {
	return model.ToolResultPart{ToolUseID: toolUseID, Content: err.Error(), IsError: true}
}

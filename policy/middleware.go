package policy

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/agentcore/runtime/approval"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/mcp"
)

// Forwarder executes the already-allowed call against its target mount.
type Forwarder func(ctx context.Context) (*mcp.CallToolResult, error)

// Middleware is the pre-dispatch gate in front of every tools/call. For
// every other method family (resources/*, tools/list, ...) it is
// transparent — callers simply never route those through Dispatch.
type Middleware struct {
	evaluator Evaluator
	mailbox   *approval.Mailbox
	logger    telemetry.Logger
	tracer    telemetry.Tracer
	metrics   telemetry.Metrics
}

// Option configures optional Middleware behavior beyond the required
// constructor arguments.
type Option func(*Middleware)

// WithTracer wires a Tracer that spans every Dispatch call.
func WithTracer(t telemetry.Tracer) Option {
	return func(m *Middleware) { m.tracer = t }
}

// WithMetrics wires a Metrics recorder for evaluator errors and denials.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

// New constructs a Middleware. mailbox may be nil only if the deployment
// never issues "ask" decisions; a real ask against a nil mailbox fails
// loudly rather than silently auto-denying.
func New(evaluator Evaluator, mailbox *approval.Mailbox, logger telemetry.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	m := &Middleware{
		evaluator: evaluator,
		mailbox:   mailbox,
		logger:    logger,
		tracer:    telemetry.NewNoopTracer(),
		metrics:   telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dispatch gates one tools/call. server/tool are the unqualified mount name
// and child tool name; the canonical tool key passed to the evaluator is
// "{server}_{tool}". forward is invoked at most once, only on a final allow.
func (m *Middleware) Dispatch(ctx context.Context, agentID ids.AgentID, callID ids.CallID, server, tool string, arguments map[string]any, forward Forwarder) (*mcp.CallToolResult, error) {
	toolKey := server + "_" + tool

	ctx, span := m.tracer.Start(ctx, "policy.dispatch")
	defer span.End()

	decision, err := m.evaluator.Decide(ctx, toolKey, arguments)
	if err != nil {
		m.metrics.IncCounter("policy.evaluator_error", 1, "tool", toolKey)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, &mcp.Error{
			Code:    mcp.CodePolicyEvaluatorError,
			Message: "policy evaluator error",
			Data:    map[string]any{"name": toolKey, "reason": err.Error()},
		}
	}

	switch decision.Kind {
	case Allow:
		return m.forwardRemapped(ctx, toolKey, forward)

	case DenyContinue:
		m.metrics.IncCounter("policy.denied", 1, "tool", toolKey, "kind", string(DenyContinue))
		span.SetStatus(codes.Error, "policy denied (continue)")
		return nil, deniedContinueError(decision, server, tool)

	case DenyAbort:
		m.metrics.IncCounter("policy.denied", 1, "tool", toolKey, "kind", string(DenyAbort))
		span.SetStatus(codes.Error, "policy denied (abort)")
		return nil, deniedAbortError(decision)

	case Ask:
		return m.dispatchAsk(ctx, agentID, callID, server, tool, toolKey, arguments, decision, forward)

	default:
		err := fmt.Errorf("unknown decision kind %q", decision.Kind)
		m.metrics.IncCounter("policy.evaluator_error", 1, "tool", toolKey)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, &mcp.Error{
			Code:    mcp.CodePolicyEvaluatorError,
			Message: "policy evaluator error",
			Data:    map[string]any{"name": toolKey, "reason": err.Error()},
		}
	}
}

func (m *Middleware) dispatchAsk(ctx context.Context, agentID ids.AgentID, callID ids.CallID, server, tool, toolKey string, arguments map[string]any, decision Decision, forward Forwarder) (*mcp.CallToolResult, error) {
	if m.mailbox == nil {
		return nil, errors.New("policy: decision is \"ask\" but no approval mailbox is configured")
	}

	req := approval.Request{
		CallID:    callID,
		AgentID:   agentID,
		Server:    server,
		Tool:      tool,
		Arguments: arguments,
	}
	resolution, err := m.mailbox.Ask(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("policy: approval wait: %w", err)
	}

	switch resolution {
	case approval.Approve:
		return m.forwardRemapped(ctx, toolKey, forward)
	case approval.DenyContinue:
		return nil, deniedContinueError(decision, server, tool)
	case approval.DenyAbort:
		return nil, deniedAbortError(decision)
	default:
		return nil, fmt.Errorf("policy: approval resolved with unknown resolution %q", resolution)
	}
}

// forwardRemapped executes forward and, if the downstream mount's own error
// response happens to use one of the codes reserved for this middleware,
// rewrites it to policy_backend_reserved_misuse so a misbehaving or
// impersonating child server can never forge a policy-layer error.
func (m *Middleware) forwardRemapped(ctx context.Context, toolKey string, forward Forwarder) (*mcp.CallToolResult, error) {
	result, err := forward(ctx)
	if err == nil {
		return result, nil
	}
	var rpcErr *mcp.Error
	if errors.As(err, &rpcErr) && isReservedCode(rpcErr.Code) {
		return nil, &mcp.Error{
			Code:    mcp.CodePolicyBackendReservedMisuse,
			Message: "policy backend reserved code misuse",
			Data:    map[string]any{"name": toolKey, "backend_code": rpcErr.Code},
		}
	}
	return result, err
}

func isReservedCode(code int) bool {
	switch code {
	case mcp.CodePolicyDenied, mcp.CodePolicyDeniedContinue, mcp.CodePolicyEvaluatorError:
		return true
	default:
		return false
	}
}

func deniedContinueError(decision Decision, server, tool string) *mcp.Error {
	return &mcp.Error{
		Code:    mcp.CodePolicyDeniedContinue,
		Message: "policy denied (continue)",
		Data: map[string]any{
			"decision": string(decision.Kind),
			"server":   server,
			"tool":     tool,
			"reason":   decision.Rationale,
		},
	}
}

func deniedAbortError(decision Decision) *mcp.Error {
	return &mcp.Error{
		Code:    mcp.CodePolicyDenied,
		Message: "policy denied (abort)",
		Data: map[string]any{
			"decision": string(decision.Kind),
			"reason":   decision.Rationale,
		},
	}
}

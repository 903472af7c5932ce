package agent

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/codes"

	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/model"
	"github.com/agentcore/runtime/toolerrors"
)

// dispatchToolCalls executes every model-emitted tool call in order,
// stopping dispatch (but still producing a result for every call) as soon
// as the abort latch trips. It returns the tool-result parts to append to
// the transcript and whether the run should terminate as aborted.
func (a *Agent) dispatchToolCalls(ctx context.Context, calls []model.ToolUseRequest) ([]model.Part, bool) {
	tools, err := a.compositor.ListTools(ctx)
	known := make(map[string]bool, len(tools))
	if err == nil {
		for _, t := range tools {
			known[t.Name] = true
		}
		a.schemas.refresh(tools)
	}

	seen := make(map[string]int, len(calls))
	parts := make([]model.Part, 0, len(calls))
	aborted := a.aborted()

	for _, call := range calls {
		callID := uniqueCallID(seen, call.ID)

		if aborted || a.aborted() {
			aborted = true
			a.appendEvent(ctx, eventlog.EventToolResult, map[string]any{"call_id": callID, "tool": call.Name, "outcome": "aborted"})
			parts = append(parts, toolErrorResult(call.ID, toolerrors.Aborted(callID)))
			continue
		}

		args, nerr := normalizeArguments(call.Input)
		if nerr != nil {
			terr := toolerrors.NewWithCause(toolerrors.KindValidation, "", nerr)
			a.appendEvent(ctx, eventlog.EventToolResult, map[string]any{"call_id": callID, "tool": call.Name, "outcome": "validation_error"})
			parts = append(parts, toolErrorResult(call.ID, terr))
			continue
		}

		if !known[call.Name] {
			terr := toolerrors.Errorf(toolerrors.KindValidation, "unknown tool %q", call.Name)
			a.appendEvent(ctx, eventlog.EventToolResult, map[string]any{"call_id": callID, "tool": call.Name, "outcome": "validation_error"})
			parts = append(parts, toolErrorResult(call.ID, terr))
			continue
		}

		if verr := a.schemas.validate(call.Name, args); verr != nil {
			terr := toolerrors.NewWithCause(toolerrors.KindValidation, "", verr)
			a.appendEvent(ctx, eventlog.EventToolResult, map[string]any{"call_id": callID, "tool": call.Name, "outcome": "validation_error"})
			parts = append(parts, toolErrorResult(call.ID, terr))
			continue
		}

		a.appendEvent(ctx, eventlog.EventToolCallIssued, map[string]any{"call_id": callID, "tool": call.Name, "original_call_id": call.ID})

		callCtx, span := a.tracer.Start(ctx, "agent.dispatch_tool_call")
		result, cerr := a.compositor.CallTool(callCtx, a.id, ids.CallID(callID), call.Name, args)
		outcome := "success"
		if cerr != nil {
			outcome = classifyDispatchError(cerr)
			if outcome == "policy_denied" {
				aborted = true
			}
			span.SetStatus(codes.Error, cerr.Error())
			span.RecordError(cerr)
		} else if result != nil && result.IsError {
			outcome = "tool_error"
			span.SetStatus(codes.Error, "tool returned an error result")
		}
		a.metrics.IncCounter("agent.tool_dispatch", 1, "tool", call.Name, "outcome", outcome)
		span.End()
		a.appendEvent(ctx, eventlog.EventToolResult, map[string]any{"call_id": callID, "tool": call.Name, "outcome": outcome})
		parts = append(parts, toolResultFromOutcome(call.ID, result, cerr))
	}

	return parts, aborted
}

// uniqueCallID disambiguates a model-produced duplicate call_id by
// suffixing; the original is preserved separately in events via the
// "original_call_id" field, never overwritten in the emitted data.
func uniqueCallID(seen map[string]int, original string) string {
	n := seen[original]
	seen[original] = n + 1
	if n == 0 {
		return original
	}
	return original + "#" + strconv.Itoa(n)
}

// classifyDispatchError maps a Compositor-returned error onto the §4.2
// outcome vocabulary so the turn driver knows whether to trip the abort
// latch (policy_denied) or simply surface the failure to the model as a
// tool result (everything else).
func classifyDispatchError(err error) string {
	var rpcErr *mcp.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case mcp.CodePolicyDenied:
			return "policy_denied"
		case mcp.CodePolicyDeniedContinue:
			return "policy_denied_continue"
		case mcp.CodePolicyEvaluatorError:
			return "policy_evaluator_error"
		case mcp.CodePolicyBackendReservedMisuse:
			return "policy_backend_reserved_misuse"
		}
	}
	return "tool_error"
}

// toolResultFromOutcome converts a Compositor dispatch outcome into the
// ToolResultPart appended to the transcript for the model to see.
func toolResultFromOutcome(toolUseID string, result *mcp.CallToolResult, err error) model.Part {
	if err != nil {
		return toolErrorResult(toolUseID, toolerrors.FromError(err))
	}
	if result == nil {
		return model.ToolResultPart{ToolUseID: toolUseID, Content: "", IsError: false}
	}
	return model.ToolResultPart{ToolUseID: toolUseID, Content: string(result.Content), IsError: result.IsError}
}

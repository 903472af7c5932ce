package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/model"
	"github.com/agentcore/runtime/toolerrors"
)

// ErrBusy is returned by SendPrompt when the run is not in a state that can
// accept a new prompt (precondition: status in {idle, finished, failed}).
var ErrBusy = errors.New("agent: run is not idle")

// started signals SendPrompt's caller once the first event of the new run
// (the user message) has been appended, matching §4.1's "returns once the
// run is observably started" contract without making the whole turn loop
// synchronous with the caller.
type started chan struct{}

// SendPrompt starts a new run with the given user-authored text. It returns
// once the run is observably started; the turn loop (model sampling, tool
// dispatch) continues asynchronously until the run reaches idle.
func (a *Agent) SendPrompt(ctx context.Context, text string) error {
	a.mu.Lock()
	switch a.status {
	case StatusIdle, StatusFinished, StatusFailed:
	default:
		a.mu.Unlock()
		return ErrBusy
	}

	a.status = StatusStarting
	a.runID = ids.NewRunID()
	a.turnID = ids.NewTurnID()
	a.transcript = []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: text}}}}
	a.bootstrapped = false

	runCtx, cancel := context.WithCancel(context.Background())
	a.abortFn = cancel
	a.status = StatusRunning
	a.mu.Unlock()

	ready := make(started)
	go a.runLoop(runCtx, ready)
	<-ready
	return nil
}

// Abort sets the abort latch and cancels any in-flight sampling or
// tool-call wait. It is idempotent: aborting an already-idle run is a
// no-op.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.abortFn
	if a.status == StatusRunning || a.status == StatusAwaitingApproval {
		a.status = StatusAborting
	}
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close waits for any in-flight run to reach quiescence (idle, finished, or
// failed) and never raises: callers that need aggregated teardown of the
// surrounding infrastructure (Compositor, Mailbox, Subscription Registry)
// do so via the Cleanup Stack at the Running Infrastructure layer (§4.8);
// this method only guarantees the turn loop itself has stopped touching
// shared state.
func (a *Agent) Close(ctx context.Context) error {
	a.Abort()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		a.mu.Lock()
		status := a.status
		a.mu.Unlock()
		if status == StatusIdle || status == StatusFinished || status == StatusFailed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) runLoop(ctx context.Context, ready started) {
	a.appendEvent(ctx, eventlog.EventModelMessageIn, map[string]any{"transcript_len": len(a.transcript)})
	close(ready)

	if err := a.runBootstrap(ctx); err != nil {
		a.finishFailed(ctx, err)
		return
	}

	retries := 0
	for {
		if a.aborted() {
			a.finishAborted(ctx)
			return
		}

		resp, err := a.sample(ctx)
		if err != nil {
			if a.aborted() {
				a.finishAborted(ctx)
				return
			}
			if errors.Is(err, model.ErrRateLimited) && retries < a.cfg.MaxModelRetries {
				retries++
				a.appendEvent(ctx, eventlog.EventError, map[string]any{"message": err.Error(), "retry": retries})
				continue
			}
			a.finishFailed(ctx, err)
			return
		}
		retries = 0

		assistantMsg := model.Message{Role: model.RoleAssistant, Parts: responseToParts(resp)}
		a.transcript = append(a.transcript, assistantMsg)
		a.appendEvent(ctx, eventlog.EventModelMessageOut, map[string]any{"text": resp.Text, "tool_calls": len(resp.ToolCalls), "stop_reason": resp.StopReason})

		if len(resp.ToolCalls) == 0 {
			a.finishTurn(ctx)
			return
		}

		results, aborted := a.dispatchToolCalls(ctx, resp.ToolCalls)
		a.transcript = append(a.transcript, model.Message{Role: model.RoleUser, Parts: results})
		if aborted {
			a.finishAborted(ctx)
			return
		}
	}
}

func (a *Agent) sample(ctx context.Context) (*model.Response, error) {
	tools, err := a.compositor.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: listing tools: %w", err)
	}
	return a.sampler.Sample(ctx, model.Request{Messages: a.transcript, Tools: toolDefs(tools)})
}

func toolDefs(tools []mcp.ToolDescriptor) []model.ToolDefinition {
	out := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, model.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

func responseToParts(resp *model.Response) []model.Part {
	var parts []model.Part
	if resp.Text != "" {
		parts = append(parts, model.TextPart{Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Input})
	}
	return parts
}

func (a *Agent) aborted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status == StatusAborting
}

func (a *Agent) finishTurn(ctx context.Context) {
	a.appendEvent(ctx, eventlog.EventTurnBoundary, map[string]any{})
	a.mu.Lock()
	a.status = StatusIdle
	a.mu.Unlock()
}

func (a *Agent) finishAborted(ctx context.Context) {
	a.appendEvent(ctx, eventlog.EventError, map[string]any{"message": "run aborted"})
	a.mu.Lock()
	a.status = StatusIdle
	a.mu.Unlock()
}

func (a *Agent) finishFailed(ctx context.Context, err error) {
	a.appendEvent(ctx, eventlog.EventError, map[string]any{"message": err.Error()})
	a.mu.Lock()
	a.status = StatusFailed
	a.mu.Unlock()
}

// runBootstrap dispatches the configured bootstrap calls, if any, before the
// run's first sampling iteration, synthesizing unique call_ids generated by
// the runtime rather than the model, and appends the resulting tool results
// to the transcript as if the model had emitted the calls.
func (a *Agent) runBootstrap(ctx context.Context) error {
	a.mu.Lock()
	already := a.bootstrapped
	a.bootstrapped = true
	a.mu.Unlock()
	if already || len(a.cfg.Bootstrap) == 0 {
		return nil
	}

	useParts := make([]model.Part, 0, len(a.cfg.Bootstrap))
	resultParts := make([]model.Part, 0, len(a.cfg.Bootstrap))
	for _, call := range a.cfg.Bootstrap {
		callID := ids.NewCallID()
		useParts = append(useParts, model.ToolUsePart{ID: string(callID), Name: call.Tool, Input: call.Arguments})

		if a.aborted() {
			resultParts = append(resultParts, toolErrorResult(string(callID), toolerrors.Aborted(string(callID))))
			continue
		}

		a.appendEvent(ctx, eventlog.EventToolCallIssued, map[string]any{"call_id": callID, "tool": call.Tool, "bootstrap": true})
		result, err := a.compositor.CallTool(ctx, a.id, callID, call.Tool, call.Arguments)
		resultParts = append(resultParts, toolResultFromOutcome(string(callID), result, err))
		a.appendEvent(ctx, eventlog.EventToolResult, map[string]any{"call_id": callID, "tool": call.Tool, "error": err != nil})
	}

	a.transcript = append(a.transcript,
		model.Message{Role: model.RoleAssistant, Parts: useParts},
		model.Message{Role: model.RoleUser, Parts: resultParts},
	)
	return nil
}

package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/agent"
	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/model"
)

type fakeCompositor struct {
	mu    sync.Mutex
	tools []mcp.ToolDescriptor
	calls []string

	callFn func(ctx context.Context, agentID ids.AgentID, callID ids.CallID, name string, args map[string]any) (*mcp.CallToolResult, error)
}

func (f *fakeCompositor) ListTools(context.Context) ([]mcp.ToolDescriptor, error) {
	return f.tools, nil
}

func (f *fakeCompositor) CallTool(ctx context.Context, agentID ids.AgentID, callID ids.CallID, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.callFn != nil {
		return f.callFn(ctx, agentID, callID, name, args)
	}
	return &mcp.CallToolResult{Content: json.RawMessage(`{"ok":true}`)}, nil
}

type scriptedSampler struct {
	mu        sync.Mutex
	responses []*model.Response
	errs      []error
	calls     int
}

func (s *scriptedSampler) Sample(context.Context, model.Request) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &model.Response{}, nil
}

func waitForStatus(t *testing.T, a *agent.Agent, want agent.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.Status() == want
	}, time.Second, time.Millisecond)
}

func TestSendPromptTerminalMessageFinishesTurn(t *testing.T) {
	sampler := &scriptedSampler{responses: []*model.Response{{Text: "hello there"}}}
	comp := &fakeCompositor{}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "hi"))
	waitForStatus(t, a, agent.StatusIdle)

	state, err := store.Snapshot(context.Background(), a.RunID())
	require.NoError(t, err)
	require.Equal(t, eventlog.PhaseFinished, state.Phase)
}

func TestSendPromptMirrorsEventsToPersistenceHandler(t *testing.T) {
	sampler := &scriptedSampler{responses: []*model.Response{{Text: "hello there"}}}
	comp := &fakeCompositor{}
	store := eventlog.NewMemStore(eventlog.Config{})
	durable := eventlog.NewMemStore(eventlog.Config{})
	persist := eventlog.NewPersistenceHandler(durable)
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{}, agent.WithPersistenceHandler(persist))

	require.NoError(t, a.SendPrompt(context.Background(), "hi"))
	waitForStatus(t, a, agent.StatusIdle)
	require.NoError(t, persist.Drain())

	state, err := durable.Snapshot(context.Background(), a.RunID())
	require.NoError(t, err)
	require.Equal(t, eventlog.PhaseFinished, state.Phase)
}

func TestSendPromptDispatchesToolCallsAndLoops(t *testing.T) {
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "weather_forecast", Input: map[string]any{"city": "nyc"}}}},
		{Text: "done"},
	}}
	comp := &fakeCompositor{tools: []mcp.ToolDescriptor{{Name: "weather_forecast"}}}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "weather?"))
	waitForStatus(t, a, agent.StatusIdle)

	comp.mu.Lock()
	require.Equal(t, []string{"weather_forecast"}, comp.calls)
	comp.mu.Unlock()
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters []string
}

func (r *recordingMetrics) IncCounter(name string, _ float64, _ ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, name)
}
func (r *recordingMetrics) RecordTimer(string, time.Duration, ...string) {}
func (r *recordingMetrics) RecordGauge(string, float64, ...string)       {}

func TestSendPromptRecordsToolDispatchMetric(t *testing.T) {
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "weather_forecast", Input: map[string]any{"city": "nyc"}}}},
		{Text: "done"},
	}}
	comp := &fakeCompositor{tools: []mcp.ToolDescriptor{{Name: "weather_forecast"}}}
	store := eventlog.NewMemStore(eventlog.Config{})
	metrics := &recordingMetrics{}
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{}, agent.WithMetrics(metrics))

	require.NoError(t, a.SendPrompt(context.Background(), "weather?"))
	waitForStatus(t, a, agent.StatusIdle)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Contains(t, metrics.counters, "agent.tool_dispatch")
}

func TestSendPromptRejectsUnknownTool(t *testing.T) {
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "ghost_tool"}}},
		{Text: "ok"},
	}}
	comp := &fakeCompositor{}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "do something"))
	waitForStatus(t, a, agent.StatusIdle)

	comp.mu.Lock()
	require.Empty(t, comp.calls)
	comp.mu.Unlock()
}

func TestSendPromptRejectedWhileRunning(t *testing.T) {
	block := make(chan struct{})
	sampler := &scriptedSampler{}
	comp := &fakeCompositor{
		callFn: func(context.Context, ids.AgentID, ids.CallID, string, map[string]any) (*mcp.CallToolResult, error) {
			<-block
			return &mcp.CallToolResult{}, nil
		},
		tools: []mcp.ToolDescriptor{{Name: "slow_tool"}},
	}
	sampler.responses = []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "slow_tool"}}},
	}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "go"))
	err := a.SendPrompt(context.Background(), "again")
	require.ErrorIs(t, err, agent.ErrBusy)
	close(block)
	waitForStatus(t, a, agent.StatusIdle)
}

func TestAbortDuringToolDispatchSynthesizesAbortedResults(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	comp := &fakeCompositor{
		tools: []mcp.ToolDescriptor{{Name: "slow_tool"}},
		callFn: func(ctx context.Context, _ ids.AgentID, _ ids.CallID, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
			entered <- struct{}{}
			<-release
			return &mcp.CallToolResult{}, nil
		},
	}
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "slow_tool"}, {ID: "call-2", Name: "slow_tool"}}},
	}}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "go"))
	<-entered
	a.Abort()
	close(release)

	waitForStatus(t, a, agent.StatusIdle)

	// Only call-1 reached the compositor; call-2 got a synthesized result.
	comp.mu.Lock()
	require.Equal(t, []string{"slow_tool"}, comp.calls)
	comp.mu.Unlock()

	seq, err := store.Events(context.Background(), a.RunID(), 0)
	require.NoError(t, err)
	abortedResults := 0
	seq(func(e eventlog.Event, _ error) bool {
		var p struct {
			Outcome string `json:"outcome"`
		}
		if e.Type == eventlog.EventToolResult && json.Unmarshal(e.Payload, &p) == nil && p.Outcome == "aborted" {
			abortedResults++
		}
		return true
	})
	require.Equal(t, 1, abortedResults)
}

func TestModelTransientErrorRetriedThenFails(t *testing.T) {
	sampler := &scriptedSampler{errs: []error{model.ErrRateLimited, model.ErrRateLimited, model.ErrRateLimited}}
	comp := &fakeCompositor{}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{MaxModelRetries: 2})

	require.NoError(t, a.SendPrompt(context.Background(), "hi"))
	waitForStatus(t, a, agent.StatusFailed)

	sampler.mu.Lock()
	calls := sampler.calls
	sampler.mu.Unlock()
	require.Equal(t, 3, calls)
}

func TestToolErrorNeverRetriedSurfacedToModel(t *testing.T) {
	comp := &fakeCompositor{
		tools: []mcp.ToolDescriptor{{Name: "flaky_tool"}},
		callFn: func(context.Context, ids.AgentID, ids.CallID, string, map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("boom")
		},
	}
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "flaky_tool"}}},
		{Text: "saw the failure"},
	}}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "go"))
	waitForStatus(t, a, agent.StatusIdle)

	comp.mu.Lock()
	require.Len(t, comp.calls, 1)
	comp.mu.Unlock()
}

func TestDuplicateCallIDsAreSuffixed(t *testing.T) {
	var idsMu sync.Mutex
	var callIDs []ids.CallID
	comp := &fakeCompositor{
		tools: []mcp.ToolDescriptor{{Name: "dup_tool"}},
		callFn: func(_ context.Context, _ ids.AgentID, callID ids.CallID, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
			idsMu.Lock()
			callIDs = append(callIDs, callID)
			idsMu.Unlock()
			return &mcp.CallToolResult{}, nil
		},
	}
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{
			{ID: "call-1", Name: "dup_tool"},
			{ID: "call-1", Name: "dup_tool"},
		}},
		{Text: "done"},
	}}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "go"))
	waitForStatus(t, a, agent.StatusIdle)

	comp.mu.Lock()
	require.Len(t, comp.calls, 2)
	comp.mu.Unlock()

	idsMu.Lock()
	require.Equal(t, []ids.CallID{"call-1", "call-1#1"}, callIDs)
	idsMu.Unlock()
}

func TestArgumentsFailingSchemaValidationAreRejectedBeforeDispatch(t *testing.T) {
	comp := &fakeCompositor{tools: []mcp.ToolDescriptor{{
		Name:        "weather_forecast",
		InputSchema: json.RawMessage(`{"type":"object","required":["city"],"properties":{"city":{"type":"string"}}}`),
	}}}
	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "weather_forecast", Input: map[string]any{"wrong_field": 1}}}},
		{Text: "ok"},
	}}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{})

	require.NoError(t, a.SendPrompt(context.Background(), "weather?"))
	waitForStatus(t, a, agent.StatusIdle)

	comp.mu.Lock()
	require.Empty(t, comp.calls)
	comp.mu.Unlock()
}

func TestBootstrapCallsDispatchBeforeFirstSampling(t *testing.T) {
	comp := &fakeCompositor{tools: []mcp.ToolDescriptor{{Name: "ping_tool"}}}
	sampler := &scriptedSampler{responses: []*model.Response{{Text: "hi"}}}
	store := eventlog.NewMemStore(eventlog.Config{})
	a := agent.New(ids.NewAgentID(), sampler, comp, store, nil, agent.Config{
		Bootstrap: []agent.BootstrapCall{{Tool: "ping_tool", Arguments: map[string]any{}}},
	})

	require.NoError(t, a.SendPrompt(context.Background(), "go"))
	waitForStatus(t, a, agent.StatusIdle)

	comp.mu.Lock()
	require.Equal(t, []string{"ping_tool"}, comp.calls)
	comp.mu.Unlock()
}

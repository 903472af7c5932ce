// Command agentcored wires the runtime's pieces together end to end: a
// Running Infrastructure behind the Agent Runtime Registry, fronted by the
// Token Router, driving one scripted turn (an allowed tool call followed by
// a final assistant message) so the whole allow -> tool-success path runs
// without any external policy backend or model provider configured.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"goa.design/clue/log"

	"github.com/agentcore/runtime/agent"
	"github.com/agentcore/runtime/eventlog"
	"github.com/agentcore/runtime/infra"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/model"
	"github.com/agentcore/runtime/policy"
	"github.com/agentcore/runtime/registry"
	"github.com/agentcore/runtime/token"
)

// scriptedSampler replays a fixed script of responses, standing in for a
// real Sampler the way the teacher's cmd/demo/main.go uses a stubPlanner
// that always returns a canned final response.
type scriptedSampler struct {
	responses []*model.Response
	calls     int
}

func (s *scriptedSampler) Sample(context.Context, model.Request) (*model.Response, error) {
	if s.calls >= len(s.responses) {
		return &model.Response{}, nil
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

// weatherSession is a stand-in child server mounted as "weather", exposing
// one tool. A real deployment mounts actual child MCP servers instead.
type weatherSession struct{}

func (weatherSession) ListTools(context.Context) ([]mcp.ToolDescriptor, error) {
	return []mcp.ToolDescriptor{{
		Name:        "forecast",
		Description: "Return a canned weather forecast for a city",
		InputSchema: json.RawMessage(`{"type":"object","required":["city"],"properties":{"city":{"type":"string"}}}`),
	}}, nil
}

func (weatherSession) CallTool(_ context.Context, tool string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if tool != "forecast" {
		return nil, fmt.Errorf("weather: unknown tool %q", tool)
	}
	payload, _ := json.Marshal(map[string]any{"city": arguments["city"], "forecast": "sunny"})
	return &mcp.CallToolResult{Content: payload}, nil
}

func (weatherSession) ListResources(context.Context) ([]mcp.Resource, error) { return nil, nil }
func (weatherSession) ReadResource(context.Context, string) (*mcp.ResourceContents, error) {
	return nil, fmt.Errorf("weather: no resources")
}
func (weatherSession) Subscribe(context.Context, string) error   { return nil }
func (weatherSession) Unsubscribe(context.Context, string) error { return nil }
func (weatherSession) OnResourceUpdated(mcp.NotificationHandler) {}
func (weatherSession) Close(context.Context) error               { return nil }

// allowEverything is a stub Evaluator standing in for a real sandboxed
// policy program; it always returns Allow so this demo exercises scenario
// S1 (allow -> tool success) without spawning a subprocess.
type allowEverything struct{}

func (allowEverything) Decide(context.Context, string, map[string]any) (policy.Decision, error) {
	return policy.Decision{Kind: policy.Allow}, nil
}

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	reg := registry.New(nil)
	agentID := ids.NewAgentID()
	events := eventlog.NewMemStore(eventlog.Config{MaxEventBytes: 64 * 1024})

	// durable mirrors events into a second store in the background so the
	// turn driver's hot path never blocks on it; a real deployment points
	// this at eventlog.NewMongoStore instead.
	durable := eventlog.NewMemStore(eventlog.Config{MaxEventBytes: 64 * 1024})
	persist := eventlog.NewPersistenceHandler(durable)

	sampler := &scriptedSampler{responses: []*model.Response{
		{ToolCalls: []model.ToolUseRequest{{ID: "call-1", Name: "weather_forecast", Input: map[string]any{"city": "Boston"}}}},
		{Text: "It's sunny in Boston."},
	}}

	inf, err := reg.Create(ctx, infra.Spec{
		AgentID:   agentID,
		Sampler:   sampler,
		Evaluator: allowEverything{},
		Events:    events,
		Persist:   persist,
		Logger:    telemetry.NewClueLogger(),
		Tracer:    telemetry.NewClueTracer("agentcored"),
		Metrics:   telemetry.NewClueMetrics("agentcored"),
		Mounts: []infra.MountSpec{
			{Name: "weather", Factory: func(context.Context) (mcp.ChildSession, error) { return weatherSession{}, nil }},
		},
	})
	if err != nil {
		stdlog.Fatalf("agentcored: starting infrastructure: %v", err)
	}
	defer func() {
		if err := reg.Delete(ctx, agentID); err != nil {
			stdlog.Printf("agentcored: closing infrastructure: %v", err)
		}
	}()

	if err := inf.Agent.SendPrompt(ctx, "What's the weather in Boston?"); err != nil {
		stdlog.Fatalf("agentcored: send_prompt: %v", err)
	}
	waitUntilIdle(inf.Agent)

	state, err := events.Snapshot(ctx, inf.Agent.RunID())
	if err != nil {
		stdlog.Fatalf("agentcored: snapshot: %v", err)
	}
	fmt.Printf("run %s finished with phase %s\n", state.RunID, state.Phase)

	demoTokenRouter(ctx, reg, agentID)
}

func waitUntilIdle(a *agent.Agent) {
	for a.Status() != agent.StatusIdle && a.Status() != agent.StatusFailed {
		time.Sleep(time.Millisecond)
	}
}

// demoTokenRouter wires a Token Router in front of the registry: a HUMAN
// token resolves to a placeholder management URL, an AGENT token routes by
// agent_id to whichever backend the caller's own transport layer exposes
// for that agent's Compositor (left to the caller; here a placeholder URL
// stands in for it since this demo mounts no real MCP HTTP transport).
func demoTokenRouter(ctx context.Context, reg *registry.Registry, agentID ids.AgentID) {
	table := token.NewMemTable()
	if err := table.Put(ctx, "human-demo-token", token.Human()); err != nil {
		stdlog.Fatalf("agentcored: registering human token: %v", err)
	}
	if err := table.Put(ctx, "agent-demo-token", token.Agent(string(agentID))); err != nil {
		stdlog.Fatalf("agentcored: registering agent token: %v", err)
	}

	resolver := func(_ context.Context, tok token.Token) (*url.URL, error) {
		switch tok.Kind() {
		case token.KindHuman:
			return url.Parse("http://127.0.0.1:0/management")
		case token.KindAgent:
			if _, err := reg.Get(ids.AgentID(tok.AgentID())); err != nil {
				return nil, err
			}
			return url.Parse("http://127.0.0.1:0/agent/" + tok.AgentID())
		default:
			return nil, fmt.Errorf("agentcored: unroutable token kind %q", tok.Kind())
		}
	}
	router := token.NewRouter(table, resolver, nil)

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	fmt.Printf("token router: request with no bearer token -> %d\n", rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer agent-demo-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	fmt.Printf("token router: request with agent-demo-token -> %d (resolved target, no live backend in this demo)\n", rec.Code)
}

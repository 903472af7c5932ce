package policy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/approval"
	"github.com/agentcore/runtime/internal/ids"
	"github.com/agentcore/runtime/mcp"
	"github.com/agentcore/runtime/policy"
)

type fixedEvaluator struct {
	decision policy.Decision
	err      error
}

func (f fixedEvaluator) Decide(context.Context, string, map[string]any) (policy.Decision, error) {
	return f.decision, f.err
}

func ok() (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []byte(`"done"`)}, nil
}

func TestDispatchAllowForwardsVerbatim(t *testing.T) {
	m := policy.New(fixedEvaluator{decision: policy.Decision{Kind: policy.Allow}}, nil, nil)
	called := false
	result, err := m.Dispatch(context.Background(), "agent-1", "call-1", "weather", "forecast", nil, func(context.Context) (*mcp.CallToolResult, error) {
		called = true
		return ok()
	})
	require.NoError(t, err)
	require.True(t, called)
	require.NotNil(t, result)
}

func TestDispatchDenyContinueNeverForwards(t *testing.T) {
	m := policy.New(fixedEvaluator{decision: policy.Decision{Kind: policy.DenyContinue, Rationale: "budget"}}, nil, nil)
	called := false
	_, err := m.Dispatch(context.Background(), "agent-1", "call-1", "weather", "forecast", nil, func(context.Context) (*mcp.CallToolResult, error) {
		called = true
		return ok()
	})
	require.False(t, called)
	var rpcErr *mcp.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, mcp.CodePolicyDeniedContinue, rpcErr.Code)
}

func TestDispatchDenyAbort(t *testing.T) {
	m := policy.New(fixedEvaluator{decision: policy.Decision{Kind: policy.DenyAbort}}, nil, nil)
	_, err := m.Dispatch(context.Background(), "agent-1", "call-1", "weather", "forecast", nil, func(context.Context) (*mcp.CallToolResult, error) {
		t.Fatal("must not forward")
		return nil, nil
	})
	var rpcErr *mcp.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, mcp.CodePolicyDenied, rpcErr.Code)
}

func TestDispatchEvaluatorErrorIsPolicyEvaluatorError(t *testing.T) {
	m := policy.New(fixedEvaluator{err: errors.New("sandbox timed out")}, nil, nil)
	_, err := m.Dispatch(context.Background(), "agent-1", "call-1", "weather", "forecast", nil, func(context.Context) (*mcp.CallToolResult, error) {
		t.Fatal("must not forward")
		return nil, nil
	})
	var rpcErr *mcp.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, mcp.CodePolicyEvaluatorError, rpcErr.Code)
}

func TestDispatchRemapsReservedCodeFromDownstream(t *testing.T) {
	m := policy.New(fixedEvaluator{decision: policy.Decision{Kind: policy.Allow}}, nil, nil)
	_, err := m.Dispatch(context.Background(), "agent-1", "call-1", "weather", "forecast", nil, func(context.Context) (*mcp.CallToolResult, error) {
		return nil, &mcp.Error{Code: mcp.CodePolicyDenied, Message: "an impersonating child server"}
	})
	var rpcErr *mcp.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, mcp.CodePolicyBackendReservedMisuse, rpcErr.Code)
}

func TestDispatchAskApproveForwards(t *testing.T) {
	mb := approval.New(nil)
	m := policy.New(fixedEvaluator{decision: policy.Decision{Kind: policy.Ask}}, mb, nil)

	resCh := make(chan error, 1)
	go func() {
		_, err := m.Dispatch(context.Background(), "agent-1", ids.CallID("call-1"), "weather", "forecast", nil, ok)
		resCh <- err
	}()

	require.Eventually(t, func() bool { return len(mb.ListPending()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, mb.Resolve(ids.CallID("call-1"), approval.Approve))

	select {
	case err := <-resCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return")
	}
}

func TestDispatchAskDenyAbortMapsToPolicyDenied(t *testing.T) {
	mb := approval.New(nil)
	m := policy.New(fixedEvaluator{decision: policy.Decision{Kind: policy.Ask}}, mb, nil)

	resCh := make(chan error, 1)
	go func() {
		_, err := m.Dispatch(context.Background(), "agent-1", ids.CallID("call-2"), "weather", "forecast", nil, ok)
		resCh <- err
	}()

	require.Eventually(t, func() bool { return len(mb.ListPending()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, mb.Resolve(ids.CallID("call-2"), approval.DenyAbort))

	select {
	case err := <-resCh:
		var rpcErr *mcp.Error
		require.ErrorAs(t, err, &rpcErr)
		require.Equal(t, mcp.CodePolicyDenied, rpcErr.Code)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return")
	}
}

type recordingMetrics struct {
	counters []string
}

func (r *recordingMetrics) IncCounter(name string, _ float64, _ ...string) {
	r.counters = append(r.counters, name)
}
func (r *recordingMetrics) RecordTimer(string, time.Duration, ...string) {}
func (r *recordingMetrics) RecordGauge(string, float64, ...string)       {}

func TestDispatchEvaluatorErrorIncrementsMetric(t *testing.T) {
	metrics := &recordingMetrics{}
	m := policy.New(fixedEvaluator{err: errors.New("sandbox timed out")}, nil, nil, policy.WithMetrics(metrics))
	_, err := m.Dispatch(context.Background(), "agent-1", "call-1", "weather", "forecast", nil, func(context.Context) (*mcp.CallToolResult, error) {
		t.Fatal("must not forward")
		return nil, nil
	})
	require.Error(t, err)
	require.Contains(t, metrics.counters, "policy.evaluator_error")
}

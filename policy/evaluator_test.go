package policy_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/policy"
)

type scriptedSandbox struct {
	gotEnv map[string]string
	output []byte
	err    error
}

func (s *scriptedSandbox) Run(_ context.Context, _ policy.EvaluatorConfig, env map[string]string) ([]byte, error) {
	s.gotEnv = env
	return s.output, s.err
}

func TestSandboxEvaluatorPassesInputAndSourceAsEnv(t *testing.T) {
	sb := &scriptedSandbox{output: []byte(`{"decision":"allow"}`)}
	ev := policy.NewSandboxEvaluator(sb, policy.EvaluatorConfig{TimeoutSecs: 5}, []byte("package main"), 0, 0, nil)

	decision, err := ev.Decide(context.Background(), "weather_forecast", map[string]any{"city": "nyc"})
	require.NoError(t, err)
	require.Equal(t, policy.Allow, decision.Kind)

	require.Equal(t, "package main", sb.gotEnv["POLICY_SRC"])
	var input struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal([]byte(sb.gotEnv["POLICY_INPUT"]), &input))
	require.Equal(t, "weather_forecast", input.Name)
	require.Equal(t, "nyc", input.Arguments["city"])
}

func TestSandboxEvaluatorRejectsUnknownDecision(t *testing.T) {
	sb := &scriptedSandbox{output: []byte(`{"decision":"maybe"}`)}
	ev := policy.NewSandboxEvaluator(sb, policy.EvaluatorConfig{}, nil, 0, 0, nil)

	_, err := ev.Decide(context.Background(), "weather_forecast", nil)
	require.Error(t, err)
}

func TestSandboxEvaluatorPropagatesRationale(t *testing.T) {
	sb := &scriptedSandbox{output: []byte(`{"decision":"deny_continue","rationale":"rate limited"}`)}
	ev := policy.NewSandboxEvaluator(sb, policy.EvaluatorConfig{}, nil, 0, 0, nil)

	decision, err := ev.Decide(context.Background(), "weather_forecast", nil)
	require.NoError(t, err)
	require.Equal(t, policy.DenyContinue, decision.Kind)
	require.Equal(t, "rate limited", decision.Rationale)
}

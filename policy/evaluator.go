package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/agentcore/runtime/internal/telemetry"
)

// SandboxEvaluator is the default Evaluator: it marshals {name, arguments}
// into POLICY_INPUT, launches the sandboxed decision program (POLICY_SRC
// carries the policy source so the program stays stateless across calls),
// and parses its stdout as {decision, rationale?}. Dispatch is rate-limited
// so a misbehaving policy program cannot starve the agent turn loop.
type SandboxEvaluator struct {
	sandbox Sandbox
	cfg     EvaluatorConfig
	source  []byte
	limiter *rate.Limiter
	logger  telemetry.Logger
}

// NewSandboxEvaluator constructs an Evaluator bound to one policy program
// source. limit/burst configure the token-bucket rate limit on Decide
// dispatch (it bounds the rate, not the number of concurrent calls); a zero
// limit disables throttling.
func NewSandboxEvaluator(sandbox Sandbox, cfg EvaluatorConfig, source []byte, limit rate.Limit, burst int, logger telemetry.Logger) *SandboxEvaluator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	var limiter *rate.Limiter
	if limit > 0 {
		limiter = rate.NewLimiter(limit, burst)
	}
	return &SandboxEvaluator{sandbox: sandbox, cfg: cfg, source: source, limiter: limiter, logger: logger}
}

// Decide implements Evaluator. One call per decision; no state is carried
// between invocations.
func (e *SandboxEvaluator) Decide(ctx context.Context, toolKey string, arguments map[string]any) (Decision, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Decision{}, fmt.Errorf("policy: rate limiter wait: %w", err)
		}
	}

	input, err := marshalInput(toolKey, arguments)
	if err != nil {
		return Decision{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.timeout())
	defer cancel()

	out, err := e.sandbox.Run(runCtx, e.cfg, map[string]string{
		"POLICY_INPUT": input,
		"POLICY_SRC":   string(e.source),
	})
	if err != nil {
		return Decision{}, err
	}

	var parsed evaluatorOutput
	if jsonErr := json.Unmarshal(out, &parsed); jsonErr != nil {
		return Decision{}, fmt.Errorf("policy: parsing evaluator output: %w", jsonErr)
	}
	if err := parsed.validate(); err != nil {
		return Decision{}, err
	}
	return Decision{Kind: parsed.Decision, Rationale: parsed.Rationale}, nil
}

// Package policy implements the per-call gate in front of every tools/call:
// the Policy Evaluator Client dispatches {name, arguments} to an opaque
// decision backend and the Middleware turns the resulting PolicyDecision
// into a dispatch, a JSON-RPC error, or a suspended approval wait.
package policy

import (
	"context"
	"time"
)

// DecisionKind is the four-way outcome a policy evaluation can produce.
type DecisionKind string

const (
	Allow        DecisionKind = "allow"
	DenyContinue DecisionKind = "deny_continue"
	DenyAbort    DecisionKind = "deny_abort"
	Ask          DecisionKind = "ask"
)

// Decision is the parsed {decision, rationale?} response from the policy
// backend's private decide tool.
type Decision struct {
	Kind      DecisionKind
	Rationale string
}

// Status is the lifecycle state of a stored Policy record. Invariant: at
// most one active policy per agent at any time; superseding a policy both
// activates the new and marks the old superseded atomically.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusRejected   Status = "rejected"
)

// Policy is one versioned policy program attached to an agent.
type Policy struct {
	Version int
	Source  []byte
	Status  Status
}

// Evaluator dispatches one {name, arguments} decision request and returns
// the parsed Decision. Implementations carry no state between calls: each
// Decide is independent, matching the spec's "one call per decision; no
// state carried between calls" contract.
type Evaluator interface {
	Decide(ctx context.Context, toolKey string, arguments map[string]any) (Decision, error)
}

// EvaluatorConfig carries the sandboxed program's resource envelope and is
// handed to Sandbox.Run on every Decide; TimeoutSecs also bounds each Decide
// (5s when unset). The decision payload itself travels in environment
// variables (POLICY_INPUT, POLICY_SRC), never through stdin, to avoid
// half-closed-stdin issues across VM-backed container engines; the config
// fields are not placed in the environment. ExecSandbox uses Image as its
// executable when Command is empty and does not apply MemoryLimit or CPULimit.
type EvaluatorConfig struct {
	Image       string
	TimeoutSecs int
	MemoryLimit string
	CPULimit    string
}

func (c EvaluatorConfig) timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Package token implements the Token Router (SPEC_FULL.md §4.10): the
// single MCP ingress that extracts a bearer token from an inbound
// connection, looks it up in a Table, and dispatches HUMAN tokens to the
// management server and AGENT tokens to the named agent's compositor.
package token

import "fmt"

// Kind distinguishes the two token variants. A Token's kind field is kept
// private and set only by the Human/Agent constructors so "AGENT without agent_id" stays
// unrepresentable — there is no exported zero-value Token that claims to be
// an AgentToken without one.
type Kind string

const (
	KindHuman Kind = "human"
	KindAgent Kind = "agent"
)

// Token is the tagged union {HumanToken | AgentToken{agent_id}}. Construct
// via Human or Agent; the zero value is intentionally invalid (empty Kind)
// so a caller who forgets to build one through a constructor fails fast at
// Validate rather than silently routing as a human token.
type Token struct {
	kind    Kind
	agentID string
}

// Human constructs a HUMAN token.
func Human() Token { return Token{kind: KindHuman} }

// Agent constructs an AGENT token scoped to agentID. agentID must be
// non-empty; Validate enforces this so "AGENT without agent_id" can never
// reach the router's dispatch step.
func Agent(agentID string) Token { return Token{kind: KindAgent, agentID: agentID} }

// Kind reports which variant this token is.
func (t Token) Kind() Kind { return t.kind }

// AgentID returns the bound agent_id. Only meaningful when Kind() ==
// KindAgent; callers must check Kind first.
func (t Token) AgentID() string { return t.agentID }

// Validate rejects the zero value and an AGENT token with no agent_id,
// the one invalid state the tagged union's constructors would otherwise
// still let a zero-value Token slip through as.
func (t Token) Validate() error {
	switch t.kind {
	case KindHuman:
		return nil
	case KindAgent:
		if t.agentID == "" {
			return fmt.Errorf("token: agent token missing agent_id")
		}
		return nil
	default:
		return fmt.Errorf("token: invalid or zero-value token")
	}
}

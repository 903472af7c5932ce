// Package ids defines the typed identifiers threaded through the runtime so
// that agent, run, and call identities cannot be cross-assigned at the
// type-system level. Persistence layers map these to plain strings only at
// the I/O boundary.
package ids

import "github.com/google/uuid"

// AgentID uniquely identifies an agent within the runtime registry.
type AgentID string

// RunID identifies a single execution (a prompt-and-its-reply span) within
// an agent's life.
type RunID string

// CallID identifies a single tool call within a run. Model-produced
// duplicates are disambiguated by suffixing before being used as a CallID.
type CallID string

// TurnID groups events produced during one conversational turn.
type TurnID string

// NewAgentID generates a fresh, globally unique agent identifier.
func NewAgentID() AgentID { return AgentID(uuid.NewString()) }

// NewRunID generates a fresh, globally unique run identifier.
func NewRunID() RunID { return RunID(uuid.NewString()) }

// NewCallID generates a fresh, globally unique call identifier. The runtime
// uses this for bootstrap tool calls, whose IDs must be locally generated
// rather than supplied by the model.
func NewCallID() CallID { return CallID(uuid.NewString()) }

// NewTurnID generates a fresh, globally unique turn identifier.
func NewTurnID() TurnID { return TurnID(uuid.NewString()) }

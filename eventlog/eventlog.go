// Package eventlog provides the append-only, per-run event log that backs
// run introspection and UI state reduction. Every observable thing a run
// does — a message to or from the model, a tool call, an approval request
// or decision, a reasoning fragment, a turn boundary, an error — is recorded
// as an Event with a monotonically increasing sequence number.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentcore/runtime/internal/ids"
)

// EventType identifies the kind of payload an Event carries.
type EventType string

const (
	// EventModelMessageIn records a message handed to the model; the turn
	// driver appends one when a run starts, carrying the transcript length.
	EventModelMessageIn EventType = "model_message_in"
	// EventModelMessageOut records the model's response to a sampling call.
	EventModelMessageOut EventType = "model_message_out"
	// EventToolCallIssued records a tool call as dispatched through the
	// Compositor, whether model-emitted or a bootstrap synthetic call.
	EventToolCallIssued EventType = "tool_call_issued"
	// EventToolResult records the outcome of a dispatched tool call:
	// success, policy denial, policy evaluator error, tool error, or abort.
	EventToolResult EventType = "tool_result"
	// EventApprovalRequested records an ApprovalRequest created for an
	// "ask" policy decision.
	EventApprovalRequested EventType = "approval_requested"
	// EventApprovalDecided records the resolution of an ApprovalRequest.
	EventApprovalDecided EventType = "approval_decided"
	// EventReasoningSnippet records an intermediate reasoning fragment
	// surfaced by the model, kept separate from the final message so UIs
	// can render it distinctly.
	EventReasoningSnippet EventType = "reasoning_snippet"
	// EventTurnBoundary marks the end of a turn: the model produced a
	// terminal assistant message with no further tool calls.
	EventTurnBoundary EventType = "turn_boundary"
	// EventError records a run-level failure: a model error, an abort, or
	// an exhausted retry budget.
	EventError EventType = "error"
)

// Event is a single immutable fact appended to a run's log. Store
// implementations assign Seq at append time; Seq is monotonically
// increasing within a RunID and is the only ordering guarantee the log
// makes — across runs or across URIs, no order is implied.
type Event struct {
	Seq       int64
	RunID     ids.RunID
	AgentID   ids.AgentID
	TurnID    ids.TurnID
	Type      EventType
	Payload   json.RawMessage
	Timestamp time.Time
}

// ErrPayloadTooLarge is returned by Append when a payload exceeds the
// configured max_event_bytes.
var ErrPayloadTooLarge = errors.New("eventlog: payload exceeds max_event_bytes")

// ErrNotFound is returned when a run has no recorded events.
var ErrNotFound = errors.New("eventlog: run not found")

// Config holds the bounded-payload-size setting recognized by Store
// implementations.
type Config struct {
	// MaxEventBytes bounds the size of a single event's Payload. Zero means
	// unbounded.
	MaxEventBytes int
}

func (c Config) checkSize(payload json.RawMessage) error {
	if c.MaxEventBytes > 0 && len(payload) > c.MaxEventBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(payload), c.MaxEventBytes)
	}
	return nil
}

// Store is the append-only event log for a single run namespace.
//
// events returns a lazy, finite, non-restartable sequence: each call opens a
// fresh view over whatever has been appended so far, iteration does not
// block waiting for future events, and the returned iterator cannot be
// rewound or reused after Append calls. This is expressed as an
// iter.Seq-style push function so callers can break out of a for-range
// early without the Store leaking resources.
type Store interface {
	// Append records a new event for runID, assigning it the next seq. It
	// returns ErrPayloadTooLarge if payload exceeds the configured limit.
	Append(ctx context.Context, runID ids.RunID, agentID ids.AgentID, turnID ids.TurnID, typ EventType, payload any) (Event, error)

	// Events returns a lazy sequence of events for runID with seq >
	// sinceSeq (sinceSeq == 0 returns the whole run). The sequence is
	// finite and reflects only what has been appended by the time the
	// call is made.
	Events(ctx context.Context, runID ids.RunID, sinceSeq int64) (func(yield func(Event, error) bool), error)

	// Snapshot reduces every event recorded for runID into a UIState. It
	// is deterministic: the same events in the same order always produce
	// the same snapshot.
	Snapshot(ctx context.Context, runID ids.RunID) (UIState, error)
}

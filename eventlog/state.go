package eventlog

import "encoding/json"

// RunPhase is the coarse phase a UIState reduction assigns to a run, loosely
// mirroring the Agent's state machine but expressed from the observer's
// point of view (an observer never sees "starting" as distinct from
// "running").
type RunPhase string

const (
	PhaseRunning         RunPhase = "running"
	PhaseAwaitingApproval RunPhase = "awaiting_approval"
	PhaseFinished        RunPhase = "finished"
	PhaseFailed          RunPhase = "failed"
)

// PendingApproval is the reduced view of an approval request that has not
// yet been decided.
type PendingApproval struct {
	CallID string
	Tool   string
}

// UIState is the deterministic reduction of a run's event sequence into
// whatever a UI needs to render current status without replaying the log
// itself.
type UIState struct {
	RunID             string
	Phase             RunPhase
	LastSeq           int64
	PendingApprovals  []PendingApproval
	ReasoningSnippets []string
	LastError         string
}

// Reduce folds a sequence of events into a UIState. It is pure and
// deterministic: the same events in the same order always produce the same
// result, which is what lets Snapshot be recomputed freely instead of
// cached.
func Reduce(runID string, events []Event) UIState {
	state := UIState{RunID: runID, Phase: PhaseRunning}
	pending := map[string]PendingApproval{}
	var order []string

	for _, e := range events {
		state.LastSeq = e.Seq
		switch e.Type {
		case EventApprovalRequested:
			var p struct {
				CallID string `json:"call_id"`
				Tool   string `json:"tool"`
			}
			_ = json.Unmarshal(e.Payload, &p)
			if _, ok := pending[p.CallID]; !ok {
				order = append(order, p.CallID)
			}
			pending[p.CallID] = PendingApproval{CallID: p.CallID, Tool: p.Tool}
			state.Phase = PhaseAwaitingApproval
		case EventApprovalDecided:
			var p struct {
				CallID string `json:"call_id"`
			}
			_ = json.Unmarshal(e.Payload, &p)
			delete(pending, p.CallID)
			if len(pending) == 0 {
				state.Phase = PhaseRunning
			}
		case EventReasoningSnippet:
			var p struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(e.Payload, &p)
			if p.Text != "" {
				state.ReasoningSnippets = append(state.ReasoningSnippets, p.Text)
			}
		case EventTurnBoundary:
			state.Phase = PhaseFinished
		case EventError:
			var p struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(e.Payload, &p)
			state.LastError = p.Message
			state.Phase = PhaseFailed
		}
	}

	for _, id := range order {
		if p, ok := pending[id]; ok {
			state.PendingApprovals = append(state.PendingApprovals, p)
		}
	}
	return state
}

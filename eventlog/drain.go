package eventlog

import (
	"context"
	"sync"

	"github.com/agentcore/runtime/internal/aggregate"
	"github.com/agentcore/runtime/internal/ids"
)

// PersistenceHandler appends events to a Store in the background so the
// turn driver never blocks a turn on log I/O. Every failed append is
// retained until Drain is called; a caller that discards a handler without
// draining it loses no information because the handler itself still holds
// the failure, but the failure will never be observed.
type PersistenceHandler struct {
	store Store

	mu       sync.Mutex
	wg       sync.WaitGroup
	failures []error
}

// NewPersistenceHandler wraps store with asynchronous append semantics.
func NewPersistenceHandler(store Store) *PersistenceHandler {
	return &PersistenceHandler{store: store}
}

// AppendAsync schedules an append and returns immediately. Its outcome is
// only observable through Drain.
func (h *PersistenceHandler) AppendAsync(ctx context.Context, runID ids.RunID, agentID ids.AgentID, turnID ids.TurnID, typ EventType, payload any) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.store.Append(ctx, runID, agentID, turnID, typ, payload); err != nil {
			h.mu.Lock()
			h.failures = append(h.failures, err)
			h.mu.Unlock()
		}
	}()
}

// Drain awaits every outstanding append scheduled via AppendAsync and
// returns an aggregate of any failures observed since the last Drain call.
// It never discards a failure: a task that completed before Drain was
// called but whose error had not yet been observed is still included.
func (h *PersistenceHandler) Drain() error {
	h.wg.Wait()

	h.mu.Lock()
	failures := h.failures
	h.failures = nil
	h.mu.Unlock()

	return aggregate.New(failures)
}

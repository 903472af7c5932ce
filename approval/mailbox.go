// Package approval implements the per-agent human-approval waiting protocol:
// a queue of pending ApprovalRequests and a cooperative rendezvous primitive
// waiters use to block until a human resolves a call flagged "ask" by
// policy. Resolution is at-most-once: the first resolve wins and every
// later attempt is a no-op.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/agentcore/runtime/internal/ids"
)

// Resolution is the human decision that ends an approval wait.
type Resolution string

const (
	Approve      Resolution = "approve"
	DenyContinue Resolution = "deny_continue"
	DenyAbort    Resolution = "deny_abort"
)

// Request captures everything needed to render and resolve a pending
// approval. Resolution and ResolvedAt stay nil/zero until resolve() commits
// an outcome; cancellation via abort never sets them, so audits can still
// show "unresolved by human".
type Request struct {
	CallID     ids.CallID
	AgentID    ids.AgentID
	Server     string
	Tool       string
	Arguments  map[string]any
	CreatedAt  time.Time
	Resolution *Resolution
	ResolvedAt time.Time
}

// UpdateNotifier is invoked whenever the pending list changes shape (a
// request is enqueued or resolved), so the compositor can broadcast a
// resource update on resource://agents/{agent_id}/approvals/pending.
type UpdateNotifier func()

type waiter struct {
	req      Request
	done     chan struct{}
	once     sync.Once
	resolved Resolution
}

// Mailbox is the per-agent queue of pending ApprovalRequests plus the
// synchronization primitive waiters suspend on.
type Mailbox struct {
	mu       sync.Mutex
	order    []ids.CallID
	waiters  map[ids.CallID]*waiter
	onUpdate UpdateNotifier
}

// New constructs an empty Mailbox. onUpdate may be nil.
func New(onUpdate UpdateNotifier) *Mailbox {
	if onUpdate == nil {
		onUpdate = func() {}
	}
	return &Mailbox{waiters: make(map[ids.CallID]*waiter), onUpdate: onUpdate}
}

// Ask appends request to the pending queue, broadcasts the update, and
// suspends until resolution: either a human Resolve call, or ctx being
// cancelled (the agent's abort latch tripping), in which case the wait
// returns DenyAbort locally without mutating the request's own resolution
// field. At most one Ask suspension is ever active per call_id.
func (m *Mailbox) Ask(ctx context.Context, req Request) (Resolution, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	w := &waiter{req: req, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.waiters[req.CallID]; exists {
		m.mu.Unlock()
		return "", errDuplicateWait(req.CallID)
	}
	m.waiters[req.CallID] = w
	m.order = append(m.order, req.CallID)
	m.mu.Unlock()
	m.onUpdate()

	select {
	case <-w.done:
		return w.resolved, nil
	case <-ctx.Done():
		return DenyAbort, nil
	}
}

// Resolve commits resolution for callID. Resolution is idempotent first-wins:
// the first call sets Request.Resolution/ResolvedAt and wakes the waiter;
// every subsequent call (even with a different resolution) is a no-op.
func (m *Mailbox) Resolve(callID ids.CallID, resolution Resolution) error {
	m.mu.Lock()
	w, ok := m.waiters[callID]
	m.mu.Unlock()
	if !ok {
		return errUnknownCall(callID)
	}

	fired := false
	w.once.Do(func() {
		fired = true
		w.resolved = resolution
		now := time.Now()
		m.mu.Lock()
		r := resolution
		w.req.Resolution = &r
		w.req.ResolvedAt = now
		m.mu.Unlock()
		close(w.done)
	})
	if fired {
		m.mu.Lock()
		m.removeFromOrder(callID)
		m.mu.Unlock()
		m.onUpdate()
	}
	return nil
}

// ListPending returns a snapshot of every request that has not yet been
// resolved by a human (abort-cancelled waits still count as pending, since
// their external resolution stays unset), in insertion (FIFO) order.
func (m *Mailbox) ListPending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.order))
	for _, id := range m.order {
		if w, ok := m.waiters[id]; ok {
			out = append(out, w.req)
		}
	}
	return out
}

func (m *Mailbox) removeFromOrder(callID ids.CallID) {
	for i, id := range m.order {
		if id == callID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

type mailboxError string

func (e mailboxError) Error() string { return string(e) }

func errDuplicateWait(callID ids.CallID) error {
	return mailboxError("approval: call " + string(callID) + " already has a pending wait")
}

func errUnknownCall(callID ids.CallID) error {
	return mailboxError("approval: unknown call " + string(callID))
}

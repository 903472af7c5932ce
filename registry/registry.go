// Package registry implements the Agent Runtime Registry (SPEC_FULL.md
// §4.9): a process-wide map from AgentID to its Running Infrastructure,
// serializing create/get/delete/list so no two goroutines can race to
// start or tear down the same agent's infrastructure.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentcore/runtime/agent"
	"github.com/agentcore/runtime/infra"
	"github.com/agentcore/runtime/internal/ids"
)

// ErrNotFound is returned by Get and Delete for an unknown agent_id.
var ErrNotFound = fmt.Errorf("registry: agent not found")

// ErrDuplicate is returned by Create when agent_id is already registered.
var ErrDuplicate = fmt.Errorf("registry: agent already registered")

// Starter constructs and starts one agent's Running Infrastructure. It is
// the seam tests substitute to avoid standing up real child sessions;
// infra.Start satisfies it directly.
type Starter func(ctx context.Context, spec infra.Spec) (*infra.Infra, error)

// Summary is one row of Registry.List: an agent_id and its current Agent
// status, snapshotted at call time.
type Summary struct {
	AgentID ids.AgentID
	Status  agent.Status
}

// Registry is the process-wide AgentID -> Running Infrastructure map.
// The zero value is not usable; construct with New.
type Registry struct {
	start Starter

	mu    sync.Mutex
	infra map[ids.AgentID]*infra.Infra
}

// New constructs an empty Registry. start defaults to infra.Start when nil.
func New(start Starter) *Registry {
	if start == nil {
		start = infra.Start
	}
	return &Registry{start: start, infra: make(map[ids.AgentID]*infra.Infra)}
}

// Create builds and starts spec's infrastructure and registers it under
// spec.AgentID. It holds the registry lock only around the map check and
// insert, not around the (potentially slow) Start call itself, so starting
// one agent never blocks Get/List/Delete for every other agent; a
// concurrent Create for the same agent_id still cannot race past the
// reservation below.
func (r *Registry) Create(ctx context.Context, spec infra.Spec) (*infra.Infra, error) {
	r.mu.Lock()
	if _, exists := r.infra[spec.AgentID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, spec.AgentID)
	}
	r.infra[spec.AgentID] = nil // reserve the slot
	r.mu.Unlock()

	inf, err := r.start(ctx, spec)
	if err != nil {
		r.mu.Lock()
		delete(r.infra, spec.AgentID)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.infra[spec.AgentID] = inf
	r.mu.Unlock()
	return inf, nil
}

// Get returns the running infrastructure for agentID, or ErrNotFound.
func (r *Registry) Get(agentID ids.AgentID) (*infra.Infra, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inf, ok := r.infra[agentID]
	if !ok || inf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	return inf, nil
}

// Delete removes agentID from the registry and closes its infrastructure,
// returning whatever aggregate error Close produces (§4.7). The entry is
// removed from the map before Close runs so a concurrent Get sees it gone
// immediately rather than racing the teardown.
func (r *Registry) Delete(ctx context.Context, agentID ids.AgentID) error {
	r.mu.Lock()
	inf, ok := r.infra[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	delete(r.infra, agentID)
	r.mu.Unlock()

	if inf == nil {
		return nil
	}
	return inf.Close(ctx)
}

// List returns a snapshot of every registered agent and its current
// status, sorted by agent_id for deterministic output.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	snapshot := make(map[ids.AgentID]*infra.Infra, len(r.infra))
	for id, inf := range r.infra {
		snapshot[id] = inf
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(snapshot))
	for id, inf := range snapshot {
		if inf == nil {
			continue
		}
		out = append(out, Summary{AgentID: id, Status: inf.Agent.Status()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

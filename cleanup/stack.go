// Package cleanup implements the single abstraction for ordered, total
// release of heterogeneous acquired resources (child processes, child MCP
// sessions, sidecars, containers, subscriptions). Every acquisition that can
// fail must register its cleanup entry only after success; the stack itself
// never stops releasing on the first failure, and reports every failure it
// observed.
package cleanup

import (
	"context"
	"sync"

	"github.com/agentcore/runtime/internal/aggregate"
)

// Entry is one scoped resource release action.
type Entry struct {
	// Release performs the teardown. It may be called with a context whose
	// deadline belongs to the enclosing close, not the original acquisition.
	Release func(ctx context.Context) error
	// Description documents the resource for diagnostics (e.g. "mcp mount:
	// runtime_exec", "policy evaluator sandbox").
	Description string
}

// Stack is a LIFO container of release actions. Close releases every entry
// in reverse-of-acquisition order even if earlier releases fail, and
// aggregates every failure into a single error. Close is idempotent.
type Stack struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

// New returns an empty, ready-to-use Stack.
func New() *Stack { return &Stack{} }

// Push records entry for release on Close. Push after Close does not queue
// the entry: the entry's resource was acquired after the scope began tearing
// down, which the caller must treat as a bug, but Push itself must never
// panic a shutdown path, so it silently releases the resource immediately
// instead (discarding any release error).
func (s *Stack) Push(ctx context.Context, entry Entry) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if entry.Release != nil {
			_ = entry.Release(ctx)
		}
		return
	}
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

// Close releases every pushed entry in LIFO order. No release is skipped
// because an earlier one failed. Release failures are aggregated into a
// single error enumerating every sub-failure; a clean teardown returns nil.
// Close is idempotent: subsequent calls release nothing and return nil.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	entries := s.entries
	s.entries = nil
	s.closed = true
	s.mu.Unlock()

	var failures []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Release == nil {
			continue
		}
		if err := e.Release(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	return aggregate.New(failures)
}

// Len reports the number of entries currently pushed (for diagnostics/tests).
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

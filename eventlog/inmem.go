package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentcore/runtime/internal/ids"
)

// MemStore is an in-memory Store, intended for tests and local development;
// it is not durable and loses all events on process restart.
type MemStore struct {
	cfg Config

	mu      sync.Mutex
	nextSeq map[ids.RunID]int64
	events  map[ids.RunID][]Event
}

// NewMemStore returns a ready-to-use in-memory event log.
func NewMemStore(cfg Config) *MemStore {
	return &MemStore{
		cfg:     cfg,
		nextSeq: make(map[ids.RunID]int64),
		events:  make(map[ids.RunID][]Event),
	}
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, runID ids.RunID, agentID ids.AgentID, turnID ids.TurnID, typ EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	if err := s.cfg.checkSize(raw); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[runID] + 1
	s.nextSeq[runID] = seq

	e := Event{
		Seq:       seq,
		RunID:     runID,
		AgentID:   agentID,
		TurnID:    turnID,
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	s.events[runID] = append(s.events[runID], e)
	return e, nil
}

// Events implements Store. The returned iterator is a snapshot taken at call
// time: events appended afterward are not observed by this iteration.
func (s *MemStore) Events(_ context.Context, runID ids.RunID, sinceSeq int64) (func(yield func(Event, error) bool), error) {
	s.mu.Lock()
	snapshot := append([]Event(nil), s.events[runID]...)
	s.mu.Unlock()

	return func(yield func(Event, error) bool) {
		for _, e := range snapshot {
			if e.Seq <= sinceSeq {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}, nil
}

// Snapshot implements Store.
func (s *MemStore) Snapshot(ctx context.Context, runID ids.RunID) (UIState, error) {
	var events []Event
	seq, err := s.Events(ctx, runID, 0)
	if err != nil {
		return UIState{}, err
	}
	seq(func(e Event, err error) bool {
		if err == nil {
			events = append(events, e)
		}
		return true
	})
	return Reduce(string(runID), events), nil
}

package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/zulandar/gavel/internal/court"
)

// MemoryStore keeps sessions in process memory. Each session has its own
// lock, so different sessions never contend. Sessions cross the store
// boundary only as clones.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memEntry
	bus      *Bus
	now      func() time.Time
}

type memEntry struct {
	mu sync.Mutex
	s  *court.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memEntry),
		bus:      NewBus(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) entry(id string) (*memEntry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, court.NotFoundf("session %s", id)
	}
	return e, nil
}

// mutate runs fn under the session lock and publishes its payloads before
// releasing it, so events of one session keep mutation order.
func (m *MemoryStore) mutate(id string, fn func(s *court.Session) ([]court.Payload, error)) (*court.Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	payloads, err := fn(e.s)
	if err != nil {
		return nil, err
	}
	m.bus.PublishAll(id, payloads)
	out := cloneSession(e.s)
	return &out, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, in CreateInput) (*court.Session, error) {
	s, payloads, err := newSession(in, m.now())
	if err != nil {
		return nil, err
	}
	e := &memEntry{s: s}
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	m.sessions[s.ID] = e
	m.mu.Unlock()

	m.bus.PublishAll(s.ID, payloads)
	out := cloneSession(s)
	return &out, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*court.Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := cloneSession(e.s)
	return &out, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter ListFilter) ([]court.Session, error) {
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []court.Session
	for _, e := range entries {
		e.mu.Lock()
		if filter.Status == "" || e.s.Status == filter.Status {
			c := cloneSession(e.s)
			c.Turns = nil
			out = append(out, c)
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b court.Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) StartSession(_ context.Context, id string) (*court.Session, error) {
	return m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		return applyStart(s, m.now())
	})
}

func (m *MemoryStore) SetPhase(_ context.Context, id string, phase court.Phase, durationMs *int64) (*court.Session, error) {
	return m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		return applySetPhase(s, phase, durationMs, m.now())
	})
}

func (m *MemoryStore) AddTurn(_ context.Context, in TurnInput) (*court.Turn, error) {
	var turn court.Turn
	_, err := m.mutate(in.SessionID, func(s *court.Session) ([]court.Payload, error) {
		t, payloads, err := applyTurn(s, in, m.now())
		turn = t
		return payloads, err
	})
	if err != nil {
		return nil, err
	}
	out := cloneTurn(turn)
	return &out, nil
}

func (m *MemoryStore) CastVote(_ context.Context, id string, voteType court.VoteType, choice string) (*court.Session, error) {
	return m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		return applyVote(s, voteType, choice)
	})
}

func (m *MemoryStore) RecordRecap(_ context.Context, id, turnID string) error {
	_, err := m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		known := slices.ContainsFunc(s.Turns, func(t court.Turn) bool { return t.ID == turnID })
		return applyRecap(s, turnID, known)
	})
	return err
}

func (m *MemoryStore) IncrementObjectionCount(_ context.Context, id string) (int, error) {
	var n int
	_, err := m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		count, payloads, err := applyObjection(s)
		n = count
		return payloads, err
	})
	return n, err
}

func (m *MemoryStore) RecordFinalRuling(_ context.Context, id string, ruling court.FinalRuling) (*court.Session, error) {
	return m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		return applyRuling(s, ruling, m.now())
	})
}

func (m *MemoryStore) CompleteSession(_ context.Context, id string) (*court.Session, error) {
	return m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		return applyComplete(s, m.now())
	})
}

func (m *MemoryStore) FailSession(_ context.Context, id, reason string) (*court.Session, error) {
	return m.mutate(id, func(s *court.Session) ([]court.Payload, error) {
		return applyFail(s, reason, m.now())
	})
}

// RecoverInterruptedSessions has nothing to recover: memory does not survive
// a restart.
func (m *MemoryStore) RecoverInterruptedSessions(context.Context) ([]string, error) {
	return []string{}, nil
}

func (m *MemoryStore) Subscribe(id string, h Handler) Unsubscribe {
	return m.bus.Subscribe(id, h)
}

// Lanes reports how many sessions the event bus is tracking.
func (m *MemoryStore) Lanes() int { return m.bus.Lanes() }

func (m *MemoryStore) Emit(id string, p court.Payload) error {
	evt, err := court.NewEvent(id, p)
	if err != nil {
		return err
	}
	m.bus.Publish(evt)
	return nil
}

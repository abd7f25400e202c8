package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]State
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]State)}
}

func (m *MemoryStore) GetState(_ context.Context, key Key) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	return copyState(state), nil
}

func (m *MemoryStore) SetState(_ context.Context, key Key, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[key] = copyState(state)
	return nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyState(s State) State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

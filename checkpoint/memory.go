package checkpoint

import (
	"context"
	"sync"

	"github.com/c360studio/agentflow/workflow"
)

// MemoryStore is an in-memory Store, used in tests and for workflows that
// opt out of durability entirely.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*workflow.WorkflowState
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*workflow.WorkflowState)}
}

func (s *MemoryStore) Save(_ context.Context, state *workflow.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.data[state.ThreadID] = &cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (*workflow.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.data[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *state
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, projectID string) ([]*workflow.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.WorkflowState
	for _, state := range s.data {
		if projectID != "" && state.ProjectID != projectID {
			continue
		}
		cp := *state
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

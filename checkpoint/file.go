package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360studio/agentflow/workflow"
)

// FileStore persists each thread's checkpoint as a single JSON document at
// {dir}/{threadId}.json, written via a write-temp-then-rename sequence so a
// crash mid-write never leaves a torn document behind.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore constructs a FileStore rooted at dir (conventionally
// ".agentflow/threads"), creating it if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) pathFor(threadID string) string {
	return filepath.Join(s.dir, threadID+".json")
}

func (s *FileStore) Save(_ context.Context, state *workflow.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	final := s.pathFor(state.ThreadID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("checkpoint: rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, threadID string) (*workflow.WorkflowState, error) {
	data, err := os.ReadFile(s.pathFor(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	var state workflow.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &state, nil
}

func (s *FileStore) List(_ context.Context, projectID string) ([]*workflow.WorkflowState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read dir: %w", err)
	}

	var out []*workflow.WorkflowState
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var state workflow.WorkflowState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if projectID != "" && state.ProjectID != projectID {
			continue
		}
		out = append(out, &state)
	}
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, threadID string) error {
	err := os.Remove(s.pathFor(threadID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

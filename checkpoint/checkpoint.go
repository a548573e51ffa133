// Package checkpoint implements the durable checkpoint store (C6): the
// single source of truth for a workflow thread's in-flight and completed
// execution state, letting the engine resume a thread after a process
// restart or a mid-run crash.
package checkpoint

import (
	"context"
	"errors"

	"github.com/c360studio/agentflow/workflow"
)

// ErrNotFound is returned by Load when no checkpoint exists for a thread.
var ErrNotFound = errors.New("checkpoint: thread not found")

// Store persists and retrieves WorkflowState. Save must be safe to call
// repeatedly for the same threadId (each call fully replaces the prior
// checkpoint) and must be atomic from the perspective of a concurrent
// Load: a reader never observes a partially written document.
type Store interface {
	Save(ctx context.Context, state *workflow.WorkflowState) error
	Load(ctx context.Context, threadID string) (*workflow.WorkflowState, error)
	List(ctx context.Context, projectID string) ([]*workflow.WorkflowState, error)
	Delete(ctx context.Context, threadID string) error
}

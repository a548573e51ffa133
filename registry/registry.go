// Package registry implements the workflow registry (C10): an in-memory
// index over the checkpoint store's persistent thread metadata, used for
// listing/querying threads without re-parsing a full WorkflowState, and
// for rendering a thread's step graph for visualization.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/workflow"
)

// ThreadSummary is the per-thread listing projection spec.md §4.10
// describes.
type ThreadSummary struct {
	ThreadID     string                         `json:"threadId"`
	ProjectID    string                         `json:"projectId,omitempty"`
	Status       workflow.Status                `json:"status"`
	StartedAt    time.Time                      `json:"startedAt"`
	LastUpdate   time.Time                      `json:"lastUpdate"`
	StepStatuses map[string]workflow.StepStatus `json:"stepStatuses"`
}

// Node is one step in a thread's graph rendering.
type Node struct {
	ID     string              `json:"id"`
	Type   workflow.StepType   `json:"type"`
	Role   string              `json:"role,omitempty"`
	Status workflow.StepStatus `json:"status"`
}

// Edge is a dependency edge: From must complete before To becomes eligible.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Execution describes where a thread currently stands in its graph.
type Execution struct {
	Path         []string       `json:"path"`
	CurrentNode  string         `json:"currentNode,omitempty"`
	Loops        map[string]int `json:"loops,omitempty"`
	ResumePoints []string       `json:"resumePoints,omitempty"`
}

// Graph is the full visualization payload for a single thread.
type Graph struct {
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Execution Execution `json:"execution"`
}

// Registry is the C10 in-memory thread index, backed by a checkpoint.Store
// as the durable source of truth.
type Registry struct {
	store  checkpoint.Store
	bus    *events.Bus
	logger *slog.Logger

	mu    sync.Mutex
	index map[string]*ThreadSummary
}

// New constructs a Registry over store. If bus is non-nil, Watch subscribes
// to it to keep the in-memory index warm as threads progress (New itself
// does not start Watch);
// List/Get still fall back to the store for any thread not yet observed
// (e.g. right after process start, or written by another process).
func New(store checkpoint.Store, bus *events.Bus, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		bus:    bus,
		logger: slog.Default(),
		index:  make(map[string]*ThreadSummary),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func (r *Registry) lock()   { r.mu.Lock() }
func (r *Registry) unlock() { r.mu.Unlock() }

// Watch runs in a background goroutine, refreshing the in-memory index
// whenever any thread publishes an event, until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) {
	if r.bus == nil {
		return
	}
	ch, unsubscribe := r.bus.Subscribe("")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.refresh(ctx, evt.ThreadID)
		}
	}
}

func (r *Registry) refresh(ctx context.Context, threadID string) {
	state, err := r.store.Load(ctx, threadID)
	if err != nil {
		r.logger.Warn("registry: failed to refresh thread index entry", "threadId", threadID, "error", err)
		return
	}
	r.put(summarize(state))
}

func (r *Registry) put(s *ThreadSummary) {
	r.lock()
	r.index[s.ThreadID] = s
	r.unlock()
}

func summarize(state *workflow.WorkflowState) *ThreadSummary {
	statuses := make(map[string]workflow.StepStatus, len(state.StepStatus))
	for id, s := range state.StepStatus {
		statuses[id] = s
	}
	return &ThreadSummary{
		ThreadID:     state.ThreadID,
		ProjectID:    state.ProjectID,
		Status:       state.Status,
		StartedAt:    state.CreatedAt,
		LastUpdate:   state.UpdatedAt,
		StepStatuses: statuses,
	}
}

// Get returns a single thread's summary, consulting the in-memory index
// first and falling back to the checkpoint store on a miss.
func (r *Registry) Get(ctx context.Context, threadID string) (*ThreadSummary, error) {
	r.lock()
	s, ok := r.index[threadID]
	r.unlock()
	if ok {
		return s, nil
	}

	state, err := r.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	summary := summarize(state)
	r.put(summary)
	return summary, nil
}

// List returns every thread's summary for projectID (all projects if
// projectID is empty), sourced directly from the checkpoint store so the
// result is always complete even for threads the index hasn't observed an
// event for yet.
func (r *Registry) List(ctx context.Context, projectID string) ([]*ThreadSummary, error) {
	states, err := r.store.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("registry: list threads: %w", err)
	}

	summaries := make([]*ThreadSummary, 0, len(states))
	for _, state := range states {
		s := summarize(state)
		r.put(s)
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Delete removes a thread's checkpoint (cascading to C6) and evicts it
// from the in-memory index.
func (r *Registry) Delete(ctx context.Context, threadID string) error {
	if err := r.store.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("registry: delete thread %s: %w", threadID, err)
	}
	r.lock()
	delete(r.index, threadID)
	r.unlock()
	return nil
}

// Graph renders threadID's step definition and current execution state as
// a visualization payload per spec.md §4.10.
func (r *Registry) Graph(ctx context.Context, threadID string) (*Graph, error) {
	state, err := r.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	g := &Graph{Execution: Execution{Loops: map[string]int{}}}
	for id, n := range state.CurrentIteration {
		g.Execution.Loops[id] = n
	}

	for _, step := range state.Definition {
		g.Nodes = append(g.Nodes, Node{
			ID:     step.ID,
			Type:   step.Type,
			Role:   step.Role,
			Status: state.StepStatus[step.ID],
		})
		for _, dep := range step.Deps {
			g.Edges = append(g.Edges, Edge{From: dep, To: step.ID})
		}
		for _, child := range step.ParallelSteps {
			g.Edges = append(g.Edges, Edge{From: step.ID, To: child})
		}
		if step.LoopBody != "" {
			g.Edges = append(g.Edges, Edge{From: step.ID, To: step.LoopBody})
		}
		if step.TrueBranch != "" {
			g.Edges = append(g.Edges, Edge{From: step.ID, To: step.TrueBranch})
		}
		if step.FalseBranch != "" {
			g.Edges = append(g.Edges, Edge{From: step.ID, To: step.FalseBranch})
		}
	}

	g.Execution.Path = executedPath(state)
	g.Execution.CurrentNode = currentNode(state)
	g.Execution.ResumePoints = resumePoints(state)

	return g, nil
}

// executedPath lists step ids that have reached success or failed status
// (skipped and blocked steps are left out), in definition order — a simple approximation of "what ran,"
// since the engine doesn't separately record a chronological trace.
func executedPath(state *workflow.WorkflowState) []string {
	var path []string
	for _, step := range state.Definition {
		switch state.StepStatus[step.ID] {
		case workflow.StepSuccess, workflow.StepFailed:
			path = append(path, step.ID)
		}
	}
	return path
}

// currentNode reports the single step id still actively running or
// awaiting approval, if any.
func currentNode(state *workflow.WorkflowState) string {
	for _, step := range state.Definition {
		switch state.StepStatus[step.ID] {
		case workflow.StepRunning, workflow.StepAwaitingApproval:
			return step.ID
		}
	}
	return ""
}

// resumePoints lists step ids a re-invoke with the same threadId would
// pick back up from: anything still pending or awaiting approval, which the
// next Run re-evaluates (pending steps against their dependencies, awaiting
// steps against the approval store).
func resumePoints(state *workflow.WorkflowState) []string {
	var points []string
	for _, step := range state.Definition {
		switch state.StepStatus[step.ID] {
		case workflow.StepPending, workflow.StepAwaitingApproval:
			points = append(points, step.ID)
		}
	}
	return points
}

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/orchestrator"
	"github.com/c360studio/agentflow/workflow"
)

type fakeActivity struct {
	mu     sync.Mutex
	active map[string]bool
}

func (f *fakeActivity) IsActive(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[threadID]
}

type fakeInvoker struct {
	mu       sync.Mutex
	calls    []string
	err      error
	onInvoke func(req orchestrator.Request)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.ThreadID)
	f.mu.Unlock()
	if f.onInvoke != nil {
		f.onInvoke(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{ThreadID: req.ThreadID, Status: workflow.StatusCompleted}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func staleState(threadID string, age time.Duration) *workflow.WorkflowState {
	steps := []*workflow.WorkflowStep{{ID: "a", Type: workflow.StepTypeMock, Role: "worker"}}
	state := workflow.NewWorkflowState(threadID, "proj1", steps)
	state.Status = workflow.StatusRunning
	state.LastHeartbeat = time.Now().Add(-age)
	return state
}

func TestMonitor_ResumesStaleInactiveThread(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 200*time.Second)
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{}
	m := New(store, act, inv, WithStaleAfter(120*time.Second))
	m.Register("t1")

	m.scanOnce(context.Background())

	if inv.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", inv.callCount())
	}
}

func TestMonitor_SkipsActiveThread(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 200*time.Second)
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{"t1": true}}
	inv := &fakeInvoker{}
	m := New(store, act, inv, WithStaleAfter(120*time.Second))
	m.Register("t1")

	m.scanOnce(context.Background())

	if inv.callCount() != 0 {
		t.Fatalf("calls = %d, want 0 for an active thread", inv.callCount())
	}
}

func TestMonitor_SkipsFreshHeartbeat(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 5*time.Second)
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{}
	m := New(store, act, inv, WithStaleAfter(120*time.Second))
	m.Register("t1")

	m.scanOnce(context.Background())

	if inv.callCount() != 0 {
		t.Fatalf("calls = %d, want 0 for a fresh heartbeat", inv.callCount())
	}
}

func TestMonitor_GivesUpAfterMaxAttempts(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 200*time.Second)
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{err: errors.New("invoke failed")}
	m := New(store, act, inv, WithStaleAfter(120*time.Second), WithMaxAttempts(2))
	m.Register("t1")

	m.scanOnce(context.Background())
	m.scanOnce(context.Background())
	m.scanOnce(context.Background())

	if inv.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (bounded by maxAttempts)", inv.callCount())
	}
	stats := m.Stats()
	if stats.ResumesGivenUp != 1 {
		t.Fatalf("ResumesGivenUp = %d, want 1", stats.ResumesGivenUp)
	}
	if stats.TrackedThreads != 0 {
		t.Fatalf("TrackedThreads = %d, want 0 after giving up", stats.TrackedThreads)
	}
}

func TestMonitor_ResetsHeartbeatOnFailedResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 200*time.Second)
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{err: errors.New("invoke failed")}
	m := New(store, act, inv, WithStaleAfter(120*time.Second), WithMaxAttempts(3))
	m.Register("t1")

	m.scanOnce(context.Background())

	reloaded, err := store.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Since(reloaded.LastHeartbeat) > 5*time.Second {
		t.Fatalf("expected heartbeat reset close to now, got %v ago", time.Since(reloaded.LastHeartbeat))
	}
}

func TestMonitor_DeregistersTerminalThread(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 200*time.Second)
	state.Status = workflow.StatusCompleted
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{}
	m := New(store, act, inv, WithStaleAfter(120*time.Second))
	m.Register("t1")

	m.scanOnce(context.Background())

	if inv.callCount() != 0 {
		t.Fatalf("calls = %d, want 0 for an already-terminal thread", inv.callCount())
	}
	if m.Stats().TrackedThreads != 0 {
		t.Fatal("expected terminal thread to be deregistered")
	}
}

func TestMonitor_RegisterDeregisterIdempotent(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{}
	m := New(store, act, inv)

	m.Register("t1")
	m.Register("t1")
	if m.Stats().TrackedThreads != 1 {
		t.Fatalf("TrackedThreads = %d, want 1", m.Stats().TrackedThreads)
	}
	m.Deregister("t1")
	m.Deregister("t1")
	if m.Stats().TrackedThreads != 0 {
		t.Fatalf("TrackedThreads = %d, want 0", m.Stats().TrackedThreads)
	}
}

func TestMonitor_StartStopScanLoop(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state := staleState("t1", 200*time.Second)
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	act := &fakeActivity{active: map[string]bool{}}
	inv := &fakeInvoker{}
	m := New(store, act, inv, WithStaleAfter(120*time.Second), WithScanInterval(10*time.Millisecond))
	m.Register("t1")

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	for inv.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scan loop to resume the stale thread")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

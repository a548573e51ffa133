package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/c360studio/agentflow/approval"
	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/executor"
	"github.com/c360studio/agentflow/workflow"
)

func newTestEngine(t *testing.T, mock *executor.MockExecutor, opts ...Option) (*Engine, checkpoint.Store, *events.Bus) {
	t.Helper()
	reg := executor.NewRegistry()
	reg.Register(mock)
	reg.Register(executor.NewConditionalExecutor())
	reg.Register(executor.NewParallelExecutor())
	reg.Register(executor.NewLoopExecutor(nil))

	store := checkpoint.NewMemoryStore()
	bus := events.NewBus()
	e := NewEngine(reg, store, bus, opts...)
	return e, store, bus
}

func mockStep(id string, deps ...string) *workflow.WorkflowStep {
	return &workflow.WorkflowStep{ID: id, Type: workflow.StepTypeMock, Role: "worker", Task: "do " + id, Deps: deps}
}

func TestEngine_SequentialChainCompletes(t *testing.T) {
	mock := executor.NewMockExecutor()
	e, _, _ := newTestEngine(t, mock)

	steps := []*workflow.WorkflowStep{
		mockStep("a"),
		mockStep("b", "a"),
		mockStep("c", "b"),
	}
	state := workflow.NewWorkflowState("t1", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s, want completed", out.Status)
	}
	for _, id := range []string{"a", "b", "c"} {
		if out.StepStatus[id] != workflow.StepSuccess {
			t.Errorf("step %s status = %s, want success", id, out.StepStatus[id])
		}
	}
}

func TestEngine_DependencyFailurePropagatesToBlocked(t *testing.T) {
	mock := &executor.MockExecutor{
		Patterns: []executor.MockPattern{
			{Contains: "do a", Status: workflow.StepFailed, Response: "boom"},
		},
		DefaultResponse: "ok",
		DefaultVerdict:  workflow.StepSuccess,
	}
	e, _, _ := newTestEngine(t, mock)

	steps := []*workflow.WorkflowStep{
		mockStep("a"),
		mockStep("b", "a"),
		mockStep("c"),
	}
	state := workflow.NewWorkflowState("t2", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.StepStatus["a"] != workflow.StepFailed {
		t.Fatalf("step a = %s, want failed", out.StepStatus["a"])
	}
	if out.StepStatus["b"] != workflow.StepBlocked {
		t.Fatalf("step b = %s, want blocked", out.StepStatus["b"])
	}
	if out.StepStatus["c"] != workflow.StepSuccess {
		t.Fatalf("step c = %s, want success", out.StepStatus["c"])
	}
	if out.Status != workflow.StatusPartial {
		t.Fatalf("overall status = %s, want partial", out.Status)
	}
}

func TestEngine_AllFailedYieldsStatusFailed(t *testing.T) {
	mock := &executor.MockExecutor{DefaultResponse: "boom", DefaultVerdict: workflow.StepFailed}
	e, _, _ := newTestEngine(t, mock)

	steps := []*workflow.WorkflowStep{mockStep("a")}
	state := workflow.NewWorkflowState("t3", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != workflow.StatusFailed {
		t.Fatalf("overall status = %s, want failed", out.Status)
	}
}

func TestEngine_StructuredConditionalSkipsFalseBranch(t *testing.T) {
	mock := executor.NewMockExecutor()
	e, _, _ := newTestEngine(t, mock)

	cond := json.RawMessage(`{"version":"2.0","rootGroup":{"combinator":"AND","rules":[
		{"leftValue":{"stepId":"a","field":"status"},"operation":"equals","rightValue":{"type":"string","value":"success"},"dataType":"string"}
	]}}`)
	steps := []*workflow.WorkflowStep{
		mockStep("a"),
		{ID: "branch", Type: workflow.StepTypeConditional, Deps: []string{"a"}, Condition: cond, TrueBranch: "t", FalseBranch: "f"},
		mockStep("t", "branch"),
		mockStep("f", "branch"),
	}
	state := workflow.NewWorkflowState("t4", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.StepStatus["t"] != workflow.StepSuccess {
		t.Errorf("true branch = %s, want success", out.StepStatus["t"])
	}
	if out.StepStatus["f"] != workflow.StepSkipped {
		t.Errorf("false branch = %s, want skipped", out.StepStatus["f"])
	}
	if out.Status != workflow.StatusCompleted {
		t.Fatalf("overall status = %s, want completed", out.Status)
	}
}

func TestEngine_ParallelFanOutFanIn(t *testing.T) {
	mock := executor.NewMockExecutor()
	e, _, _ := newTestEngine(t, mock)

	steps := []*workflow.WorkflowStep{
		{ID: "fan", Type: workflow.StepTypeParallel, ParallelSteps: []string{"x", "y", "z"}},
		mockStep("x"),
		mockStep("y"),
		mockStep("z"),
		mockStep("join", "fan"),
	}
	state := workflow.NewWorkflowState("t5", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, id := range []string{"x", "y", "z", "fan", "join"} {
		if out.StepStatus[id] != workflow.StepSuccess {
			t.Errorf("step %s = %s, want success", id, out.StepStatus[id])
		}
	}
	if out.Status != workflow.StatusCompleted {
		t.Fatalf("overall status = %s, want completed", out.Status)
	}
}

func TestEngine_LoopForRunsToCompletion(t *testing.T) {
	mock := executor.NewMockExecutor()
	e, _, _ := newTestEngine(t, mock)

	steps := []*workflow.WorkflowStep{
		{ID: "loop", Type: workflow.StepTypeLoop, LoopType: workflow.LoopTypeFor, MaxIterations: 3, LoopBody: "body"},
		mockStep("body"),
	}
	state := workflow.NewWorkflowState("t6", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.StepStatus["loop"] != workflow.StepSuccess {
		t.Fatalf("loop status = %s, want success", out.StepStatus["loop"])
	}
	if out.Status != workflow.StatusCompleted {
		t.Fatalf("overall status = %s, want completed", out.Status)
	}
}

func TestEngine_HumanApprovalSuspendsThenResumes(t *testing.T) {
	mock := executor.NewMockExecutor()
	reg := executor.NewRegistry()
	reg.Register(mock)

	store := checkpoint.NewMemoryStore()
	bus := events.NewBus()

	approvalStore := approval.NewMemoryStore()
	orch := approval.NewOrchestrator(approvalStore, bus)
	reg.Register(executor.NewHumanExecutor(orch))

	e := NewEngine(reg, store, bus, WithApprovals(orch))

	steps := []*workflow.WorkflowStep{
		{ID: "ask", Type: workflow.StepTypeHuman, Role: "reviewer", InteractionType: workflow.InteractionApproval,
			Prompt: "approve?", TimeoutBehavior: workflow.TimeoutFail, TimeoutSeconds: 3600},
		mockStep("after", "ask"),
	}
	state := workflow.NewWorkflowState("t7", "p1", steps)

	out, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != workflow.StatusSuspended {
		t.Fatalf("status = %s, want suspended", out.Status)
	}
	if out.StepStatus["ask"] != workflow.StepAwaitingApproval {
		t.Fatalf("ask status = %s, want awaiting_approval", out.StepStatus["ask"])
	}

	approvalID := out.SessionIDs["ask"]
	if approvalID == "" {
		t.Fatal("expected an approval id recorded in SessionIDs")
	}
	if _, err := orch.Decide(context.Background(), approvalID, approval.Decision{Approve: true, Decider: "alice"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	// Simulate resuming from a persisted checkpoint after the decision
	// arrived while the engine process was not running.
	reloaded, err := store.Load(context.Background(), "t7")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out2, err := e.Run(context.Background(), reloaded)
	if err != nil {
		t.Fatalf("Run resume: %v", err)
	}
	if out2.StepStatus["ask"] != workflow.StepSuccess {
		t.Fatalf("ask status after resume = %s, want success", out2.StepStatus["ask"])
	}
	if out2.StepStatus["after"] != workflow.StepSuccess {
		t.Fatalf("after status = %s, want success", out2.StepStatus["after"])
	}
	if out2.Status != workflow.StatusCompleted {
		t.Fatalf("overall status = %s, want completed", out2.Status)
	}
}

func TestEngine_ContextCancellationAborts(t *testing.T) {
	mock := &executor.MockExecutor{DefaultResponse: "ok", DefaultVerdict: workflow.StepSuccess}
	mock.Patterns = []executor.MockPattern{
		{Contains: "do a", Response: "ok", Status: workflow.StepSuccess},
	}
	e, _, _ := newTestEngine(t, mock)

	steps := []*workflow.WorkflowStep{mockStep("a")}
	state := workflow.NewWorkflowState("t8", "p1", steps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.Run(ctx, state)
	if err == nil {
		t.Fatal("expected context.Canceled error")
	}
	if out.Status != workflow.StatusAborted {
		t.Fatalf("status = %s, want aborted", out.Status)
	}
}

func TestEngine_CheckpointedBeforeEventPublished(t *testing.T) {
	mock := executor.NewMockExecutor()
	e, store, bus := newTestEngine(t, mock)

	sub, unsubscribe := bus.Subscribe("t9")
	defer unsubscribe()

	steps := []*workflow.WorkflowStep{mockStep("a")}
	state := workflow.NewWorkflowState("t9", "p1", steps)

	if _, err := e.Run(context.Background(), state); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	saved, err := store.Load(context.Background(), "t9")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.StepStatus["a"] != workflow.StepSuccess {
		t.Fatalf("checkpointed status = %s, want success", saved.StepStatus["a"])
	}
}

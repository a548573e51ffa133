// Package engine implements the workflow executor (C7): the scheduler
// that topologically walks a thread's step DAG, dispatches ready steps to
// the step executor registry (C1), enforces dependency/failure
// propagation, persists every status transition before announcing it, and
// reports a final thread status.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/executor"
	"github.com/c360studio/agentflow/template"
	"github.com/c360studio/agentflow/workflow"
)

// DefaultMaxConcurrency bounds how many independent DAG nodes the engine
// launches at once within a single Run call.
const DefaultMaxConcurrency = 8

// ApprovalGetter is the subset of *approval.Orchestrator the engine needs
// to check whether a suspended human step's approval has resolved since
// the last Run. Kept as a narrow interface to avoid an import cycle
// (approval does not depend on engine, but engine only needs this one
// method from it).
type ApprovalGetter interface {
	Get(ctx context.Context, approvalID string) (*workflow.Approval, error)
}

// Engine drives execution of workflow threads.
type Engine struct {
	registry       *executor.Registry
	store          checkpoint.Store
	bus            *events.Bus
	approvals      ApprovalGetter
	logger         *slog.Logger
	maxConcurrency int

	threadLocks   map[string]*sync.Mutex
	threadLocksMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxConcurrency overrides DefaultMaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithApprovals wires the approval lookup used to resume suspended human
// steps.
func WithApprovals(approvals ApprovalGetter) Option {
	return func(e *Engine) { e.approvals = approvals }
}

// NewEngine constructs an Engine.
func NewEngine(registry *executor.Registry, store checkpoint.Store, bus *events.Bus, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		store:          store,
		bus:            bus,
		logger:         slog.Default(),
		maxConcurrency: DefaultMaxConcurrency,
		threadLocks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(threadID string) *sync.Mutex {
	e.threadLocksMu.Lock()
	defer e.threadLocksMu.Unlock()
	l, ok := e.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		e.threadLocks[threadID] = l
	}
	return l
}

// IsActive reports whether a Run call currently holds threadID's lock —
// i.e. the engine is actively scheduling that thread right now. The
// monitor (C9) uses this to avoid re-invoking a thread that is merely
// slow rather than stalled: a thread with no in-progress Run and a stale
// heartbeat is the one worth resuming.
func (e *Engine) IsActive(threadID string) bool {
	e.threadLocksMu.Lock()
	l, ok := e.threadLocks[threadID]
	e.threadLocksMu.Unlock()
	if !ok {
		return false
	}
	if l.TryLock() {
		l.Unlock()
		return false
	}
	return true
}

// run is the mutable execution context for one Run call: the shared
// WorkflowState plus bookkeeping protected by mu, since multiple ready
// steps may complete concurrently within a single round.
type run struct {
	threadID  string
	state     *workflow.WorkflowState
	byID      map[string]*workflow.WorkflowStep
	owned     map[string]bool // step ids driven only via Runner (parallel children, loop bodies)
	projectID string
	mu        sync.Mutex
}

// Run advances state as far as it can go in one invocation: it launches
// every step whose dependencies are satisfied, repeating in rounds until
// no further progress is possible, then returns the updated state with a
// terminal or suspended overall Status. A single thread is never run
// concurrently with itself — concurrent Run calls for the same ThreadID
// serialize on an internal per-thread lock.
func (e *Engine) Run(ctx context.Context, state *workflow.WorkflowState) (*workflow.WorkflowState, error) {
	lock := e.lockFor(state.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	if err := workflow.ValidateGraph(state.Definition); err != nil {
		return nil, fmt.Errorf("engine: invalid workflow graph: %w", err)
	}

	r := &run{
		threadID:  state.ThreadID,
		state:     state,
		byID:      indexSteps(state.Definition),
		owned:     ownedSubSteps(state.Definition),
		projectID: state.ProjectID,
	}

	firstRun := allPending(state)
	if firstRun {
		e.publish(r, events.WorkflowStarted, nil)
	}

	if err := e.resumeApprovals(ctx, r); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			e.abort(r)
			if err := e.checkpointNow(context.Background(), r); err != nil {
				e.logger.Error("engine: checkpoint on abort failed", "threadId", r.threadID, "error", err)
			}
			e.announceTerminal(r)
			return r.state, ctx.Err()
		default:
		}

		progressed, err := e.stepRound(ctx, r)
		if err != nil {
			return nil, err
		}
		if !progressed {
			break
		}
	}

	e.finalize(r)
	if err := e.checkpointNow(ctx, r); err != nil {
		return r.state, err
	}
	e.announceTerminal(r)

	return r.state, nil
}

// resumeApprovals re-checks every step awaiting approval against the
// approval store, in case the decision arrived while the engine's
// process was not running.
func (e *Engine) resumeApprovals(ctx context.Context, r *run) error {
	if e.approvals == nil {
		return nil
	}
	for stepID, status := range r.state.StepStatus {
		if status != workflow.StepAwaitingApproval {
			continue
		}
		approvalID := r.state.SessionIDs[stepID]
		if approvalID == "" {
			continue
		}
		a, err := e.approvals.Get(ctx, approvalID)
		if err != nil {
			return fmt.Errorf("engine: check approval for step %s: %w", stepID, err)
		}
		if a == nil || !a.Status.IsTerminal() {
			continue
		}
		res := executor.ResumeDecision(a)
		e.commitResult(r, stepID, res)
	}
	return nil
}

// stepRound computes every step newly resolvable this round (either
// launchable or newly blocked by a failed dependency) and runs the
// launchable ones concurrently, bounded by maxConcurrency. Returns false
// once no step changed state, meaning the thread is either finished or
// suspended (blocked waiting on a human decision).
func (e *Engine) stepRound(ctx context.Context, r *run) (bool, error) {
	var toRun []*workflow.WorkflowStep

	r.mu.Lock()
	for _, step := range r.state.Definition {
		if r.owned[step.ID] {
			continue
		}
		if status := r.state.StepStatus[step.ID]; status != "" && status != workflow.StepPending {
			continue
		}
		depsTerminal, anyFailed := depState(r, step.Deps)
		if !depsTerminal {
			continue
		}
		if anyFailed {
			r.state.StepStatus[step.ID] = workflow.StepBlocked
			continue
		}
		toRun = append(toRun, step)
	}
	r.mu.Unlock()

	if len(toRun) == 0 {
		return false, nil
	}

	sem := make(chan struct{}, e.maxConcurrency)
	var wg sync.WaitGroup
	errs := make([]error, len(toRun))

	for i, step := range toRun {
		i, step := i, step
		r.mu.Lock()
		r.state.StepStatus[step.ID] = workflow.StepRunning
		r.mu.Unlock()
		e.publish(r, events.WorkflowStepStarted, map[string]string{"stepId": step.ID})

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := e.runStep(ctx, r, step.ID)
			if err != nil {
				errs[i] = err
				return
			}
			e.commitResult(r, step.ID, res)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// runStep resolves templates and invokes the registry for a single step.
// engineRunner (helpers.go) wraps it to implement executor.Runner, so
// control executors (parallel, loop) can call back into the engine for
// their child steps.
func (e *Engine) runStep(ctx context.Context, r *run, stepID string) (executor.Result, error) {
	r.mu.Lock()
	step, ok := r.byID[stepID]
	attempt := 1
	if prior, ok := r.state.CurrentIteration[stepID]; ok {
		attempt = prior + 1
	}
	sessionID := r.state.SessionIDs[stepID]
	outputs := template.Outputs{
		StepOutputs: cloneMap(r.state.StepOutputs),
		StepStatus:  stringStatusMap(r.state.StepStatus),
	}
	r.mu.Unlock()
	if !ok {
		return executor.Result{}, fmt.Errorf("engine: unknown step %q", stepID)
	}

	req := executor.Request{
		ThreadID:   r.threadID,
		ProjectID:  r.projectID,
		Step:       step,
		Attempt:    attempt,
		SessionID:  sessionID,
		Outputs:    outputs,
		TplContext: template.Context{ThreadID: r.threadID, ProjectID: r.projectID, Timestamp: time.Now()},
		AllSteps:   r.state.Definition,
	}

	spanCtx, endSpan := startStepSpan(ctx, r.threadID, stepID, attempt)
	res, err := e.registry.Execute(spanCtx, req, &engineRunner{e: e, r: r})
	endSpan(err)
	if err != nil {
		return executor.Result{}, fmt.Errorf("engine: execute step %s: %w", stepID, err)
	}

	r.mu.Lock()
	r.state.CurrentIteration[stepID] = attempt
	r.mu.Unlock()

	return res, nil
}

// commitResult applies an executor's Result to shared state: recording
// output/status/session id, propagating conditional skips, persisting a
// checkpoint, and announcing the transition — all before returning, per
// the durability invariant that every transition is saved before it is
// observed.
func (e *Engine) commitResult(r *run, stepID string, res executor.Result) {
	r.mu.Lock()
	r.state.StepOutputs[stepID] = res.Output
	if res.Status != "" {
		r.state.StepStatus[stepID] = res.Status
	}
	if res.SessionID != "" {
		r.state.SessionIDs[stepID] = res.SessionID
	}
	for _, skipID := range res.SkipIDs {
		if !r.state.StepStatus[skipID].IsTerminal() {
			r.state.StepStatus[skipID] = workflow.StepSkipped
			r.state.StepOutputs[skipID] = ""
		}
	}
	r.state.LastHeartbeat = time.Now()
	r.mu.Unlock()

	if err := e.checkpointNow(context.Background(), r); err != nil {
		e.logger.Error("engine: checkpoint failed", "threadId", r.threadID, "stepId", stepID, "error", err)
	}

	evtType := events.WorkflowStepComplete
	if res.Status == workflow.StepFailed {
		evtType = events.WorkflowStepFailed
	}
	e.publish(r, evtType, map[string]string{"stepId": stepID, "status": string(res.Status)})
	recordStepCompletion(string(res.Status))
}

func (e *Engine) checkpointNow(ctx context.Context, r *run) error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	return e.store.Save(ctx, state)
}

// abort marks the run aborted and returns any step still in-flight (running,
// or with no status yet) to pending, leaving terminal steps as they are, so
// the state persisted before exit lets a later Run of the same thread
// continue from the last terminal step.
func (e *Engine) abort(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.state.Definition {
		switch r.state.StepStatus[s.ID] {
		case workflow.StepRunning, "":
			r.state.StepStatus[s.ID] = workflow.StepPending
		}
	}
	r.state.Status = workflow.StatusAborted
}

func (e *Engine) finalize(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.AllTerminal() {
		r.state.Status = overallStatus(r.state)
		return
	}

	if hasAwaitingApproval(r.state) {
		r.state.Status = workflow.StatusSuspended
		return
	}

	r.state.Status = workflow.StatusPartial
}

func (e *Engine) announceTerminal(r *run) {
	switch r.state.Status {
	case workflow.StatusCompleted:
		e.publish(r, events.WorkflowCompleted, nil)
	case workflow.StatusSuspended:
		e.publish(r, events.WorkflowSuspended, nil)
	case workflow.StatusAborted:
		e.publish(r, events.WorkflowAborted, nil)
	}
}

func (e *Engine) publish(r *run, evtType events.Type, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Event: evtType, ThreadID: r.threadID, Payload: payload})
}

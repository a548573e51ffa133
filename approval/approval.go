// Package approval implements the approval orchestrator (C5): the sole
// owner of Approval records. The workflow engine holds only approvalId
// references and never mutates an Approval directly.
package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/workflow"
	"github.com/google/uuid"
)

const (
	defaultTimeoutSeconds = 3600
	minTimeoutSeconds     = 60
	maxTimeoutSeconds     = 86400
)

// CreateRequest carries the fields a caller supplies to create an
// approval; Status, RequestedAt, and ExpiresAt are computed by Create.
type CreateRequest struct {
	ThreadID        string
	StepID          string
	ProjectID       string
	Prompt          string
	RiskLevel       workflow.RiskLevel
	TimeoutSeconds  int
	TimeoutBehavior workflow.TimeoutBehavior
	ContextData     map[string]any
}

// Decision carries the fields a caller supplies to resolve an approval.
type Decision struct {
	Approve bool
	Decider string
	Comment string
}

// ListFilters narrows a List call.
type ListFilters struct {
	ProjectID string
	Status    []workflow.ApprovalStatus
	RiskLevel workflow.RiskLevel
	Search    string
}

// Page requests a slice of a filtered, deterministically ordered result
// set (newest RequestedAt first).
type Page struct {
	Number   int // 1-indexed; 0 behaves as 1
	PageSize int // 0 behaves as a reasonably sized default
}

// ListResult is the paginated response from List.
type ListResult struct {
	Approvals []*workflow.Approval
	Total     int
}

// Store persists Approval records. Implementations must make Save an
// atomic full-record replace.
type Store interface {
	Save(ctx context.Context, a *workflow.Approval) error
	Load(ctx context.Context, approvalID string) (*workflow.Approval, error)
	List(ctx context.Context) ([]*workflow.Approval, error)
	Delete(ctx context.Context, approvalID string) error
}

// NotificationSink is notified on every approval lifecycle transition, so
// an operator UI or chat integration can alert a human. Sinks are best
// effort: a Notify error is logged, never propagated.
type NotificationSink interface {
	Notify(ctx context.Context, a *workflow.Approval, event events.Type) error
}

// Orchestrator is the C5 implementation.
type Orchestrator struct {
	store Store
	bus   *events.Bus
	sinks []NotificationSink

	// locks serializes decide/cancel calls per approvalId so two
	// concurrent callers racing to resolve the same approval can never
	// both win.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	defaultTimeoutSeconds int
	now                   func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotificationSink registers a sink to be notified on every
// create/resolve/expire transition.
func WithNotificationSink(sink NotificationSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sink) }
}

// WithDefaultTimeout overrides the expiry applied to a CreateRequest that
// doesn't set its own TimeoutSeconds (config.ApprovalsConfig.DefaultTimeout
// feeds this). Clamped the same as any other timeout at Create time.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.defaultTimeoutSeconds = int(d.Seconds()) }
}

// NewOrchestrator constructs a C5 orchestrator backed by store, publishing
// lifecycle events onto bus.
func NewOrchestrator(store Store, bus *events.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:                 store,
		bus:                   bus,
		locks:                 make(map[string]*sync.Mutex),
		defaultTimeoutSeconds: defaultTimeoutSeconds,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lockFor(approvalID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[approvalID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[approvalID] = l
	}
	return l
}

// Create starts a new pending approval and emits approval:created.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*workflow.Approval, error) {
	timeout := req.TimeoutSeconds
	if timeout == 0 {
		timeout = o.defaultTimeoutSeconds
	}
	if timeout < minTimeoutSeconds {
		timeout = minTimeoutSeconds
	}
	if timeout > maxTimeoutSeconds {
		timeout = maxTimeoutSeconds
	}

	now := o.now().UTC()
	a := &workflow.Approval{
		ApprovalID:      uuid.NewString(),
		ThreadID:        req.ThreadID,
		StepID:          req.StepID,
		ProjectID:       req.ProjectID,
		Prompt:          req.Prompt,
		RiskLevel:       req.RiskLevel,
		RequestedAt:     now,
		ExpiresAt:       now.Add(time.Duration(timeout) * time.Second),
		Status:          workflow.ApprovalPending,
		TimeoutBehavior: req.TimeoutBehavior,
		ContextData:     req.ContextData,
	}

	if err := o.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: save: %w", err)
	}

	o.publish(a, events.ApprovalCreated)
	o.notify(ctx, a, events.ApprovalCreated)

	return a, nil
}

// Decide resolves a pending approval. Concurrent Decide calls for the same
// approvalId are serialized; the first to acquire the lock wins and the
// rest fail with AlreadyResolvedError.
func (o *Orchestrator) Decide(ctx context.Context, approvalID string, d Decision) (*workflow.Approval, error) {
	lock := o.lockFor(approvalID)
	lock.Lock()
	defer lock.Unlock()

	a, err := o.store.Load(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("approval: %s not found", approvalID)
	}

	target := workflow.ApprovalRejected
	if d.Approve {
		target = workflow.ApprovalApproved
	}
	if !a.CanTransitionTo(target) {
		return nil, &workflow.AlreadyResolvedError{ApprovalID: approvalID, Status: a.Status}
	}

	now := o.now().UTC()
	a.Status = target
	a.ResolvedBy = d.Decider
	a.ResolvedAt = &now
	a.DecisionComment = d.Comment

	if err := o.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: save: %w", err)
	}

	o.publish(a, events.ApprovalResolved)
	o.notify(ctx, a, events.ApprovalResolved)

	return a, nil
}

// Cancel withdraws a pending approval. Fails if the approval is not
// pending.
func (o *Orchestrator) Cancel(ctx context.Context, approvalID, by string) (*workflow.Approval, error) {
	lock := o.lockFor(approvalID)
	lock.Lock()
	defer lock.Unlock()

	a, err := o.store.Load(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("approval: %s not found", approvalID)
	}
	if !a.CanTransitionTo(workflow.ApprovalCancelled) {
		return nil, &workflow.AlreadyResolvedError{ApprovalID: approvalID, Status: a.Status}
	}

	now := o.now().UTC()
	a.Status = workflow.ApprovalCancelled
	a.ResolvedBy = by
	a.ResolvedAt = &now

	if err := o.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: save: %w", err)
	}
	return a, nil
}

// Assign records who an approval has been routed to, without resolving it.
func (o *Orchestrator) Assign(ctx context.Context, approvalID, assignee string) (*workflow.Approval, error) {
	lock := o.lockFor(approvalID)
	lock.Lock()
	defer lock.Unlock()

	a, err := o.store.Load(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("approval: %s not found", approvalID)
	}
	if a.Status != workflow.ApprovalPending {
		return nil, &workflow.AlreadyResolvedError{ApprovalID: approvalID, Status: a.Status}
	}

	a.AssignedTo = assignee
	if err := o.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("approval: save: %w", err)
	}
	return a, nil
}

// List applies filters and pagination over the store's full set.
func (o *Orchestrator) List(ctx context.Context, filters ListFilters, page Page) (ListResult, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return ListResult{}, err
	}

	var matched []*workflow.Approval
	for _, a := range all {
		if filters.ProjectID != "" && a.ProjectID != filters.ProjectID {
			continue
		}
		if filters.RiskLevel != "" && a.RiskLevel != filters.RiskLevel {
			continue
		}
		if len(filters.Status) > 0 && !containsStatus(filters.Status, a.Status) {
			continue
		}
		if filters.Search != "" && !containsFold(a.Prompt, filters.Search) {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].RequestedAt.After(matched[j].RequestedAt)
	})

	total := len(matched)
	pageSize := page.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	pageNum := page.Number
	if pageNum <= 0 {
		pageNum = 1
	}

	start := (pageNum - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return ListResult{Approvals: matched[start:end], Total: total}, nil
}

// Get returns a single approval by id.
func (o *Orchestrator) Get(ctx context.Context, approvalID string) (*workflow.Approval, error) {
	return o.store.Load(ctx, approvalID)
}

// ExpiredResolution describes what happened to a swept approval, for the
// caller (C7 loop / scheduler) to act on the shielded step.
type ExpiredResolution struct {
	Approval      *workflow.Approval
	FailStep      bool // true if timeoutBehavior=fail
	AutoApproved  bool // true if timeoutBehavior=auto-approve
}

// ProcessExpired is an idempotent sweep: every pending approval past its
// expiresAt is marked expired (or auto-approved, per its timeoutBehavior).
// `infinite` approvals are skipped entirely.
func (o *Orchestrator) ProcessExpired(ctx context.Context) ([]ExpiredResolution, error) {
	all, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	var resolved []ExpiredResolution

	for _, a := range all {
		if a.Status != workflow.ApprovalPending {
			continue
		}
		if a.TimeoutBehavior == workflow.TimeoutInfinite {
			continue
		}
		if now.Before(a.ExpiresAt) {
			continue
		}

		lock := o.lockFor(a.ApprovalID)
		lock.Lock()
		// Re-load under lock in case a concurrent Decide beat the sweep.
		fresh, err := o.store.Load(ctx, a.ApprovalID)
		if err != nil || fresh == nil || fresh.Status != workflow.ApprovalPending {
			lock.Unlock()
			continue
		}

		resolution := ExpiredResolution{Approval: fresh}
		fresh.Status = workflow.ApprovalExpired
		fresh.ResolvedAt = &now

		switch fresh.TimeoutBehavior {
		case workflow.TimeoutAutoApprove:
			fresh.Status = workflow.ApprovalApproved
			resolution.AutoApproved = true
		default: // TimeoutFail and unset both fail the waiting step
			resolution.FailStep = true
		}

		saveErr := o.store.Save(ctx, fresh)
		lock.Unlock()
		if saveErr != nil {
			return resolved, fmt.Errorf("approval: save expired %s: %w", fresh.ApprovalID, saveErr)
		}

		o.publish(fresh, events.ApprovalExpired)
		o.notify(ctx, fresh, events.ApprovalExpired)
		resolved = append(resolved, resolution)
	}

	return resolved, nil
}

func (o *Orchestrator) publish(a *workflow.Approval, evtType events.Type) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Event: evtType, ThreadID: a.ThreadID, Payload: a})
}

func (o *Orchestrator) notify(ctx context.Context, a *workflow.Approval, evtType events.Type) {
	for _, sink := range o.sinks {
		_ = sink.Notify(ctx, a, evtType)
	}
}

func containsStatus(set []workflow.ApprovalStatus, s workflow.ApprovalStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Package monitor implements the workflow monitor (C9): a heartbeat
// watchdog that detects threads whose engine run has stalled and triggers
// a resume through the orchestrator (C8).
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/orchestrator"
)

// DefaultScanInterval is how often the monitor sweeps registered threads.
const DefaultScanInterval = 30 * time.Second

// DefaultStaleAfter is how long a thread may go without a heartbeat update
// before the monitor considers it stalled.
const DefaultStaleAfter = 120 * time.Second

// DefaultMaxAttempts bounds how many times the monitor will try to resume
// the same thread before giving up on it.
const DefaultMaxAttempts = 3

// ActivityChecker reports whether the engine currently holds a thread's
// run lock — i.e. whether a Run call is genuinely in flight for it, as
// opposed to merely registered and stale.
type ActivityChecker interface {
	IsActive(threadID string) bool
}

// Invoker is the subset of *orchestrator.Orchestrator the monitor needs to
// resume a stalled thread. Kept as a narrow interface so tests can supply
// a fake without constructing a full Orchestrator.
type Invoker interface {
	Invoke(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

type trackedThread struct {
	attempts int
}

// Monitor is the C9 heartbeat watchdog.
type Monitor struct {
	store   checkpoint.Store
	engine  ActivityChecker
	invoker Invoker
	logger  *slog.Logger

	scanInterval time.Duration
	staleAfter   time.Duration
	maxAttempts  int

	mu      sync.Mutex
	threads map[string]*trackedThread

	running   bool
	cancel    context.CancelFunc
	runningMu sync.Mutex

	scansPerformed atomic.Int64
	resumesTried   atomic.Int64
	resumesGivenUp atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithScanInterval overrides DefaultScanInterval.
func WithScanInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.scanInterval = d
		}
	}
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// New constructs a Monitor. engine and invoker are typically the same
// *engine.Engine / *orchestrator.Orchestrator pair the caller wires
// together via Orchestrator.SetMonitor after construction.
func New(store checkpoint.Store, engine ActivityChecker, invoker Invoker, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		engine:       engine,
		invoker:      invoker,
		logger:       slog.Default(),
		scanInterval: DefaultScanInterval,
		staleAfter:   DefaultStaleAfter,
		maxAttempts:  DefaultMaxAttempts,
		threads:      make(map[string]*trackedThread),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register starts tracking threadID for staleness. Implements
// orchestrator.MonitorRegistrar.
func (m *Monitor) Register(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		m.threads[threadID] = &trackedThread{}
	}
}

// Deregister stops tracking threadID. Implements
// orchestrator.MonitorRegistrar.
func (m *Monitor) Deregister(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
}

// Start begins the scan loop in a background goroutine. It returns
// immediately; call Stop (or cancel ctx) to end the loop.
func (m *Monitor) Start(ctx context.Context) {
	m.runningMu.Lock()
	if m.running {
		m.runningMu.Unlock()
		return
	}
	m.running = true
	subCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.runningMu.Unlock()

	go m.scanLoop(subCtx)
}

// Stop ends the scan loop started by Start.
func (m *Monitor) Stop() {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

func (m *Monitor) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanOnce(ctx)
		}
	}
}

// scanOnce sweeps every registered thread once, resuming any that have
// gone stale, per spec.md §4.8: now-lastHeartbeat > staleAfter AND the
// engine reports the thread inactive.
func (m *Monitor) scanOnce(ctx context.Context) {
	m.scansPerformed.Add(1)

	m.mu.Lock()
	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.checkThread(ctx, id)
	}
}

func (m *Monitor) checkThread(ctx context.Context, threadID string) {
	if m.engine.IsActive(threadID) {
		return
	}

	state, err := m.store.Load(ctx, threadID)
	if err != nil {
		m.logger.Warn("monitor: failed to load thread for staleness check", "threadId", threadID, "error", err)
		return
	}
	if state.Status.IsTerminal() {
		m.Deregister(threadID)
		return
	}
	if time.Since(state.LastHeartbeat) <= m.staleAfter {
		return
	}

	m.mu.Lock()
	t, ok := m.threads[threadID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if t.attempts >= m.maxAttempts {
		m.mu.Unlock()
		m.logger.Error("monitor: giving up on stalled thread", "threadId", threadID, "attempts", t.attempts)
		m.resumesGivenUp.Add(1)
		m.Deregister(threadID)
		return
	}
	t.attempts++
	attempt := t.attempts
	m.mu.Unlock()

	m.logger.Warn("monitor: resuming stalled thread", "threadId", threadID, "attempt", attempt, "lastHeartbeat", state.LastHeartbeat)
	m.resumesTried.Add(1)

	_, err = m.invoker.Invoke(ctx, orchestrator.Request{
		Steps:     state.Definition,
		ProjectID: state.ProjectID,
		ThreadID:  threadID,
	})
	if err != nil {
		m.logger.Error("monitor: resume attempt failed", "threadId", threadID, "attempt", attempt, "error", err)
		// Reset the heartbeat so the thread isn't immediately re-flagged as
		// stale before the next scan interval has a chance to pass —
		// spec.md §4.8: "resetting the heartbeat on recovery failure lets
		// a later attempt retry."
		m.resetHeartbeat(ctx, threadID)
		return
	}

	m.logger.Info("monitor: resume succeeded", "threadId", threadID, "attempt", attempt)
}

// resetHeartbeat touches LastHeartbeat on the stored state without
// otherwise altering it, so the next scan doesn't immediately re-trigger.
func (m *Monitor) resetHeartbeat(ctx context.Context, threadID string) {
	state, err := m.store.Load(ctx, threadID)
	if err != nil {
		m.logger.Warn("monitor: failed to reload thread to reset heartbeat", "threadId", threadID, "error", err)
		return
	}
	state.LastHeartbeat = time.Now().UTC()
	if err := m.store.Save(ctx, state); err != nil {
		m.logger.Warn("monitor: failed to persist reset heartbeat", "threadId", threadID, "error", err)
	}
}

// Stats reports cumulative scan/resume counters, exposed by the
// processor's /metrics endpoint.
type Stats struct {
	ScansPerformed int64
	ResumesTried   int64
	ResumesGivenUp int64
	TrackedThreads int
}

// Stats returns a snapshot of the monitor's counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	tracked := len(m.threads)
	m.mu.Unlock()
	return Stats{
		ScansPerformed: m.scansPerformed.Load(),
		ResumesTried:   m.resumesTried.Load(),
		ResumesGivenUp: m.resumesGivenUp.Load(),
		TrackedThreads: tracked,
	}
}

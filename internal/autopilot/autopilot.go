// Package autopilot implements the persistent scheduling engine that
// turns repository events into planned, sandboxed, committed and
// pushed work. Stages communicate only through the durable store; the
// in-memory trace index is a projection rebuilt on restart.
package autopilot

import (
	"context"
	"sync"
	"time"

	"github.com/endorhq/rover/internal/autopilot/store"
	"github.com/endorhq/rover/internal/config"
	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// snapshotInterval is how often the trace index is persisted between
// stage activity.
const snapshotInterval = 30 * time.Second

// Deps carries the adapter implementations the autopilot drives.
type Deps struct {
	Store  *store.Store
	Traces store.TraceStore

	// Agent is the full-strength agent (planner, clarifications);
	// FastAgent serves small structured decisions. FastModel, when
	// non-empty, overrides the fast agent's default model.
	Agent     core.Agent
	FastAgent core.Agent
	FastModel string

	Git     core.GitClient
	Hosting core.HostingClient
	Events  core.EventSource
	Tasks   core.TaskManager
	Sandbox core.SandboxFactory

	// MonitorWake, when set, triggers an early workflow tick on
	// sandbox filesystem activity.
	MonitorWake <-chan struct{}
}

// PollerView is the poller's observable state.
type PollerView struct {
	LastPoll          time.Time `json:"lastPoll,omitzero"`
	LastFetchCount    int       `json:"lastFetchCount"`
	LastRelevantCount int       `json:"lastRelevantCount"`
	LastNewCount      int       `json:"lastNewCount"`
}

// StatusView is the full observable state of the autopilot.
type StatusView struct {
	Running      bool            `json:"running"`
	StartedAt    time.Time       `json:"startedAt,omitzero"`
	Poller       PollerView      `json:"poller"`
	Stages       []StageStatus   `json:"stages"`
	PendingCount int             `json:"pendingCount"`
	TraceCount   int             `json:"traceCount"`
}

// Autopilot owns the stage table, the trace index and the snapshot
// loop.
type Autopilot struct {
	cfg    *config.Config
	deps   Deps
	logger *logging.Logger

	store *store.Store
	index *TraceIndex
	sched *Scheduler

	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu      sync.Mutex
	running bool
	poller  PollerView
}

// New wires the autopilot from config and adapters.
func New(cfg *config.Config, deps Deps, logger *logging.Logger) *Autopilot {
	a := &Autopilot{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "autopilot"),
		store:  deps.Store,
		index:  NewTraceIndex(),
		done:   make(chan struct{}),
	}
	a.sched = NewScheduler(a.store, a.logger, a.stageTable())
	return a
}

// stageTable builds the stage specs. Stages start staggered so their
// ticks interleave instead of bunching on the same instant.
func (a *Autopilot) stageTable() []StageSpec {
	ap := a.cfg.Autopilot
	step := ap.StaggerStep

	return []StageSpec{
		{
			Name:         "poller",
			InitialDelay: 0,
			Period:       ap.PollInterval,
			Tick:         a.pollTick,
		},
		{
			Name:         "coordinator",
			Action:       core.ActionCoordinate,
			InitialDelay: 1 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Process:      a.coordinateProcess,
		},
		{
			Name:         "planner",
			Action:       core.ActionPlan,
			InitialDelay: 2 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Process:      a.planProcess,
		},
		{
			Name:         "workflow",
			Action:       core.ActionWorkflow,
			InitialDelay: 3 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Monitor:      a.workflowMonitor,
			Select:       a.workflowSelect,
			Process:      a.workflowProcess,
			Wake:         a.deps.MonitorWake,
		},
		{
			Name:         "committer",
			Action:       core.ActionCommit,
			InitialDelay: 4 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Process:      a.commitProcess,
		},
		{
			Name:         "resolver",
			Action:       core.ActionResolve,
			InitialDelay: 5 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Select:       a.resolveSelect,
			Process:      a.resolveProcess,
		},
		{
			Name:         "push",
			Action:       core.ActionPush,
			InitialDelay: 6 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Process:      a.pushProcess,
		},
		{
			Name:         "notify",
			Action:       core.ActionNotify,
			InitialDelay: 7 * step,
			Period:       ap.TickInterval,
			MaxParallel:  ap.MaxParallel,
			Process:      a.notifyProcess,
		},
	}
}

// Start ensures the store, recovers in-memory state from disk and
// launches the stage loops. It returns once everything is running.
func (a *Autopilot) Start(ctx context.Context) error {
	if err := a.store.Ensure(); err != nil {
		return err
	}
	if err := a.recover(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.mu.Lock()
	a.running = true
	a.startedAt = time.Now().UTC()
	a.mu.Unlock()

	a.sched.Start(ctx)

	go a.snapshotLoop(ctx)
	go a.watchFatal(ctx)

	a.logger.Info("autopilot started",
		"poll_interval", a.cfg.Autopilot.PollInterval,
		"tick_interval", a.cfg.Autopilot.TickInterval,
		"max_running_tasks", a.cfg.Autopilot.MaxRunningTasks,
	)
	return nil
}

// recover restores the trace index: adopt the persisted snapshot when
// present, then reconstruct any trace the pending queue references
// that the snapshot does not cover.
func (a *Autopilot) recover() error {
	if snapshot, err := a.deps.Traces.LoadTraces(); err != nil {
		a.logger.Warn("trace snapshot unreadable; reconstructing from spans", "error", err)
	} else if len(snapshot) > 0 {
		a.index.Restore(snapshot)
	}

	pending, err := a.store.GetPending("")
	if err != nil {
		return err
	}
	if err := a.index.Reconstruct(a.store, pending); err != nil {
		return err
	}
	a.logger.Info("state recovered", "pending", len(pending), "traces", len(a.index.TraceIDs()))
	return nil
}

// Stop cancels the stage loops, waits for them and writes a final
// trace snapshot.
func (a *Autopilot) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	a.sched.Wait()
	close(a.done)

	if err := a.deps.Traces.SaveTraces(a.index.Snapshot()); err != nil {
		a.logger.Warn("final trace snapshot failed", "error", err)
	}
	a.logger.Info("autopilot stopped")
}

// Done is closed after Stop has fully torn the autopilot down.
func (a *Autopilot) Done() <-chan struct{} {
	return a.done
}

// Status returns the observable state for the status command and the
// web API.
func (a *Autopilot) Status() StatusView {
	a.mu.Lock()
	view := StatusView{
		Running:   a.running,
		StartedAt: a.startedAt,
		Poller:    a.poller,
	}
	a.mu.Unlock()

	view.Stages = a.sched.Status()
	if pending, err := a.store.GetPending(""); err == nil {
		view.PendingCount = len(pending)
	}
	view.TraceCount = len(a.index.TraceIDs())
	return view
}

// Traces exposes the trace index to the web layer.
func (a *Autopilot) Traces() *TraceIndex {
	return a.index
}

func (a *Autopilot) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.deps.Traces.SaveTraces(a.index.Snapshot()); err != nil {
				a.logger.Warn("trace snapshot failed", "error", err)
			}
		}
	}
}

// watchFatal shuts the autopilot down on the first system-fatal error.
func (a *Autopilot) watchFatal(ctx context.Context) {
	select {
	case <-ctx.Done():
	case err := <-a.sched.Fatal():
		a.logger.Error("system-fatal error; shutting down", "error", err)
		go a.Stop()
	}
}
